package config

import (
	"fmt"
	"net"
	"strconv"
)

// Overrides are command-line values layered over a loaded profile.
// Nil or empty fields leave the profile untouched.
type Overrides struct {
	Laps         *int
	TickSec      *float64
	PaceSec      *float64
	Seed         *int64
	Failures     *bool
	MQTTEndpoint string
	MQTTTopic    string
	OutputDir    string
	OriginLat    *float64
	OriginLon    *float64
}

// Apply copies the overrides into c and re-validates it. An MQTT endpoint
// enables publishing.
func (c *Config) Apply(o Overrides) error {
	if o.Laps != nil {
		c.Laps = *o.Laps
	}
	if o.TickSec != nil {
		// pace follows tick unless pace was overridden too
		if o.PaceSec == nil && c.PaceSec == c.TickSec {
			c.PaceSec = *o.TickSec
		}
		c.TickSec = *o.TickSec
	}
	if o.PaceSec != nil {
		c.PaceSec = *o.PaceSec
	}
	if o.Seed != nil {
		c.Seed = *o.Seed
	}
	if o.Failures != nil {
		c.Failures = *o.Failures
	}
	if o.MQTTEndpoint != "" {
		host, portStr, err := net.SplitHostPort(o.MQTTEndpoint)
		if err != nil {
			return fmt.Errorf("%w: mqtt endpoint %q: %v", ErrInvalid, o.MQTTEndpoint, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%w: mqtt port %q: %v", ErrInvalid, portStr, err)
		}
		c.MQTT.Enabled = true
		c.MQTT.Host = host
		c.MQTT.Port = port
	}
	if o.MQTTTopic != "" {
		c.MQTT.Topic = o.MQTTTopic
	}
	if o.OutputDir != "" {
		c.Output.Dir = o.OutputDir
	}
	if o.OriginLat != nil {
		c.Track.OriginLat = *o.OriginLat
	}
	if o.OriginLon != nil {
		c.Track.OriginLon = *o.OriginLon
	}
	return c.Validate()
}
