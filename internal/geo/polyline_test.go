package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolyline(t *testing.T) {
	ls, err := ParsePolyline("[[11.5,48.1],[11.6,48.2],[11.7,48.1]]")
	require.NoError(t, err)

	seq := ls.Coordinates()
	require.Equal(t, 3, seq.Length())
	assert.Equal(t, 11.5, seq.GetXY(0).X)
	assert.Equal(t, 48.1, seq.GetXY(0).Y)
	assert.Equal(t, 11.7, seq.GetXY(2).X)
}

func TestParsePolyline_Rejects(t *testing.T) {
	tests := map[string]struct {
		input    string
		sentinel bool
	}{
		"not json":        {"not valid json", false},
		"single point":    {"[[11,48]]", true},
		"missing lat":     {"[[11],[11,48]]", true},
		"extra ordinate":  {"[[11,48,500],[11,48]]", true},
		"latitude beyond": {"[[11,91],[11,48]]", true},
		"repeated point":  {"[[11,48],[11,48],[11,48]]", true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolyline(tt.input)
			require.Error(t, err)
			if tt.sentinel {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
			}
		})
	}
}
