package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingField is returned when a required profile key is absent.
var ErrMissingField = errors.New("missing required config field")

// ErrInvalid is returned when a profile value is out of range.
var ErrInvalid = errors.New("invalid config value")

// EnvPrefix is the prefix for environment overrides, e.g. UVTWIN_TICK_SEC.
const EnvPrefix = "UVTWIN"

// requiredKeys must be present in the profile; there are no defaults for them.
var requiredKeys = []string{
	"model",
	"temp_max_C",
	"brake_wear_threshold",
	"soc_min_pct",
	"lap_length_m",
	"tick_sec",
}

// MQTTConfig holds live telemetry broker settings.
type MQTTConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Topic    string `json:"topic" mapstructure:"topic"`
	ClientID string `json:"clientId" mapstructure:"clientId"`
}

// Endpoint returns the broker URL understood by the MQTT client.
func (m MQTTConfig) Endpoint() string {
	return fmt.Sprintf("tcp://%s", net.JoinHostPort(m.Host, strconv.Itoa(m.Port)))
}

// KafkaConfig holds the optional Kafka event stream settings.
type KafkaConfig struct {
	Enabled bool     `json:"enabled" mapstructure:"enabled"`
	Brokers []string `json:"brokers" mapstructure:"brokers"`
	Topic   string   `json:"topic" mapstructure:"topic"`
}

// WebsocketConfig holds the optional WebSocket event stream settings.
type WebsocketConfig struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	URL        string        `json:"url" mapstructure:"url"`
	Secret     string        `json:"secret" mapstructure:"secret"`
	AckTimeout time.Duration `json:"ackTimeout" mapstructure:"ackTimeout"`
}

// BrakingZone is a span of the lap, as fractions in [0,1], where the driver brakes.
type BrakingZone struct {
	Start float64 `json:"start" mapstructure:"start"`
	End   float64 `json:"end" mapstructure:"end"`
}

// TrackConfig anchors the synthetic circuit on the globe.
type TrackConfig struct {
	OriginLat float64 `json:"origin_lat" mapstructure:"origin_lat"`
	OriginLon float64 `json:"origin_lon" mapstructure:"origin_lon"`
	// Polyline optionally replaces the generated oval: "[[lon,lat],...]".
	Polyline string `json:"polyline" mapstructure:"polyline"`
}

// OutputConfig holds the CSV log location.
type OutputConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// StorageConfig selects the optional relational tick store.
type StorageConfig struct {
	Type      string       `json:"type" mapstructure:"type"`
	SQLite    SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	BatchSize int          `json:"batchSize" mapstructure:"batchSize"`
	MaxQueued int          `json:"maxQueued" mapstructure:"maxQueued"`
}

// SQLiteConfig holds the sqlite storage file path.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// RedisConfig holds the latest-state cache settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// GraylogConfig holds GELF log shipping settings.
type GraylogConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// RetryConfig bounds persistence retries before a record is dropped.
type RetryConfig struct {
	Attempts int           `json:"attempts" mapstructure:"attempts"`
	Backoff  time.Duration `json:"backoff" mapstructure:"backoff"`
}

// Config is the vehicle profile plus runtime settings. It is loaded once and
// treated as read-only afterwards.
type Config struct {
	Model              string  `json:"model" mapstructure:"model"`
	AmbientC           float64 `json:"ambient_C" mapstructure:"ambient_C"`
	TempMaxC           float64 `json:"temp_max_C" mapstructure:"temp_max_C"`
	BrakeWearThreshold float64 `json:"brake_wear_threshold" mapstructure:"brake_wear_threshold"`
	SOCMinPct          float64 `json:"soc_min_pct" mapstructure:"soc_min_pct"`
	LapLengthM         float64 `json:"lap_length_m" mapstructure:"lap_length_m"`
	TickSec            float64 `json:"tick_sec" mapstructure:"tick_sec"`

	MaxSpeedKph          float64 `json:"max_speed_kph" mapstructure:"max_speed_kph"`
	MaxAccelMps2         float64 `json:"max_accel_mps2" mapstructure:"max_accel_mps2"`
	MaxBrakeMps2         float64 `json:"max_brake_mps2" mapstructure:"max_brake_mps2"`
	DragCoeff            float64 `json:"drag_coeff" mapstructure:"drag_coeff"`
	BrakeTempMaxPhysical float64 `json:"brake_temp_max_physical_C" mapstructure:"brake_temp_max_physical_C"`
	CoolRateCPerS        float64 `json:"cool_rate_C_per_s" mapstructure:"cool_rate_C_per_s"`
	HeatRateCPerS        float64 `json:"heat_rate_C_per_s" mapstructure:"heat_rate_C_per_s"`
	SOCDrainPctPerS      float64 `json:"soc_drain_pct_per_s" mapstructure:"soc_drain_pct_per_s"`
	PadWearRatePerS      float64 `json:"pad_wear_rate_per_s" mapstructure:"pad_wear_rate_per_s"`
	TireWearRatePerS     float64 `json:"tire_wear_rate_per_s" mapstructure:"tire_wear_rate_per_s"`

	FailureProb    float64       `json:"failure_prob" mapstructure:"failure_prob"`
	Failures       bool          `json:"failures" mapstructure:"failures"`
	SOCFloorPct    float64       `json:"soc_floor_pct" mapstructure:"soc_floor_pct"`
	PadFloor       float64       `json:"pad_floor" mapstructure:"pad_floor"`
	TireWearLimit  float64       `json:"tire_wear_limit" mapstructure:"tire_wear_limit"`
	TireWearWarn   float64       `json:"tire_wear_warn" mapstructure:"tire_wear_warn"`
	Laps           int           `json:"laps" mapstructure:"laps"`
	PaceSec        float64       `json:"pace_sec" mapstructure:"pace_sec"`
	Seed           int64         `json:"seed" mapstructure:"seed"`
	MinTicksPerLap int           `json:"min_ticks_per_lap" mapstructure:"min_ticks_per_lap"`
	BrakingZones   []BrakingZone `json:"braking_zones" mapstructure:"braking_zones"`

	LogLevel string `json:"logLevel" mapstructure:"logLevel"`
	LogsDir  string `json:"logsDir" mapstructure:"logsDir"`

	Track     TrackConfig     `json:"track" mapstructure:"track"`
	Output    OutputConfig    `json:"output" mapstructure:"output"`
	MQTT      MQTTConfig      `json:"mqtt" mapstructure:"mqtt"`
	Kafka     KafkaConfig     `json:"kafka" mapstructure:"kafka"`
	Websocket WebsocketConfig `json:"websocket" mapstructure:"websocket"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	DB        DBConfig        `json:"db" mapstructure:"db"`
	Influx    InfluxConfig    `json:"influx" mapstructure:"influx"`
	Redis     RedisConfig     `json:"redis" mapstructure:"redis"`
	Graylog   GraylogConfig   `json:"graylog" mapstructure:"graylog"`
	OTel      OTelConfig      `json:"otel" mapstructure:"otel"`
	Retry     RetryConfig     `json:"retry" mapstructure:"retry"`
}

// setDefaults registers documented defaults for every optional key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("ambient_C", 20.0)
	v.SetDefault("max_speed_kph", 240.0)
	v.SetDefault("max_accel_mps2", 4.0)
	v.SetDefault("max_brake_mps2", 7.0)
	v.SetDefault("drag_coeff", 0.00175)
	v.SetDefault("brake_temp_max_physical_C", 650.0)
	v.SetDefault("cool_rate_C_per_s", 1.25)
	v.SetDefault("heat_rate_C_per_s", 8.0)
	v.SetDefault("soc_drain_pct_per_s", 0.015)
	v.SetDefault("pad_wear_rate_per_s", 0.00075)
	v.SetDefault("tire_wear_rate_per_s", 0.0005)

	v.SetDefault("failure_prob", 0.002)
	v.SetDefault("failures", false)
	v.SetDefault("soc_floor_pct", 3.0)
	v.SetDefault("pad_floor", 0.05)
	v.SetDefault("tire_wear_limit", 0.95)
	v.SetDefault("tire_wear_warn", 0.8)
	v.SetDefault("laps", 10)
	v.SetDefault("seed", 0)
	v.SetDefault("min_ticks_per_lap", 10)

	v.SetDefault("logLevel", "info")
	v.SetDefault("logsDir", "./logs")

	v.SetDefault("track.origin_lat", 37.42198)
	v.SetDefault("track.origin_lon", -122.08400)
	v.SetDefault("output.dir", "./data")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.topic", "uvtwin/telemetry")
	v.SetDefault("mqtt.clientId", "uvtwin-sim")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "uvtwin.telemetry")

	v.SetDefault("websocket.enabled", false)
	v.SetDefault("websocket.url", "ws://localhost:5000/api/telemetry")
	v.SetDefault("websocket.secret", "")
	v.SetDefault("websocket.ackTimeout", "10s")

	v.SetDefault("storage.type", "none")
	v.SetDefault("storage.sqlite.path", "./data/telemetry.db")
	v.SetDefault("storage.batchSize", 200)
	v.SetDefault("storage.maxQueued", 20000)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.username", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.database", "uvtwin")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.host", "localhost")
	v.SetDefault("influx.port", "8086")
	v.SetDefault("influx.protocol", "http")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "uvtwin")
	v.SetDefault("influx.bucket", "telemetry")
	v.SetDefault("influx.backupPath", "./data/influx_backup.lp.gz")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("graylog.enabled", false)
	v.SetDefault("graylog.address", "localhost:12201")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.serviceName", "uvtwin-sim")
	v.SetDefault("otel.batchTimeout", "5s")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", "50ms")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("error loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the JSON vehicle profile at path, applies defaults and
// UVTWIN_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if !v.IsSet("pace_sec") {
		cfg.PaceSec = cfg.TickSec
	}
	if len(cfg.BrakingZones) == 0 {
		cfg.BrakingZones = DefaultBrakingZones()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultBrakingZones are the three heavy braking spans of the reference circuit.
func DefaultBrakingZones() []BrakingZone {
	return []BrakingZone{
		{Start: 0.178, End: 0.244},
		{Start: 0.489, End: 0.556},
		{Start: 0.800, End: 0.867},
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(strings.TrimSpace(c.Model) != "", "model must not be empty")
	check(c.TickSec > 0, "tick_sec must be > 0 (got %v)", c.TickSec)
	check(c.LapLengthM > 0, "lap_length_m must be > 0 (got %v)", c.LapLengthM)
	check(c.TempMaxC > c.AmbientC, "temp_max_C (%v) must exceed ambient_C (%v)", c.TempMaxC, c.AmbientC)
	check(c.BrakeTempMaxPhysical > c.TempMaxC, "brake_temp_max_physical_C (%v) must exceed temp_max_C (%v)", c.BrakeTempMaxPhysical, c.TempMaxC)
	check(c.BrakeWearThreshold > 0 && c.BrakeWearThreshold < 1, "brake_wear_threshold must be in (0,1) (got %v)", c.BrakeWearThreshold)
	check(c.SOCMinPct > 0 && c.SOCMinPct < 100, "soc_min_pct must be in (0,100) (got %v)", c.SOCMinPct)
	check(c.MaxSpeedKph > 0, "max_speed_kph must be > 0")
	check(c.MaxAccelMps2 > 0, "max_accel_mps2 must be > 0")
	check(c.MaxBrakeMps2 > 0, "max_brake_mps2 must be > 0")
	check(c.DragCoeff >= 0, "drag_coeff must be >= 0")
	check(c.CoolRateCPerS >= 0 && c.HeatRateCPerS >= 0, "cooling and heating rates must be >= 0")
	check(c.SOCDrainPctPerS >= 0, "soc_drain_pct_per_s must be >= 0")
	check(c.PadWearRatePerS >= 0 && c.TireWearRatePerS >= 0, "wear rates must be >= 0")
	check(c.FailureProb >= 0 && c.FailureProb <= 1, "failure_prob must be in [0,1] (got %v)", c.FailureProb)
	check(c.SOCFloorPct >= 0 && c.SOCFloorPct < 100, "soc_floor_pct must be in [0,100)")
	check(c.PadFloor >= 0 && c.PadFloor < 1, "pad_floor must be in [0,1)")
	check(c.TireWearLimit > 0 && c.TireWearLimit <= 1, "tire_wear_limit must be in (0,1]")
	check(c.TireWearWarn > 0 && c.TireWearWarn < 1, "tire_wear_warn must be in (0,1)")
	check(c.Laps >= 0, "laps must be >= 0")
	check(c.Retry.Attempts >= 1, "retry.attempts must be >= 1")

	// One tick at top speed must not cover a whole lap, otherwise a single
	// tick could roll over more than once.
	if c.TickSec > 0 && c.LapLengthM > 0 {
		maxStep := c.MaxSpeedKph / 3.6 * c.TickSec
		check(maxStep < c.LapLengthM, "lap_length_m (%v) must exceed one tick at max speed (%.1f m)", c.LapLengthM, maxStep)
	}
	for i, z := range c.BrakingZones {
		check(z.Start >= 0 && z.End <= 1 && z.Start < z.End, "braking_zones[%d] must satisfy 0 <= start < end <= 1", i)
	}
	for name, val := range map[string]float64{
		"ambient_C": c.AmbientC, "temp_max_C": c.TempMaxC, "lap_length_m": c.LapLengthM, "tick_sec": c.TickSec,
	} {
		check(!math.IsNaN(val) && !math.IsInf(val, 0), "%s must be finite", name)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Tick returns the simulated step as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickSec * float64(time.Second))
}

// Pace returns the real-time sleep between ticks; zero or negative disables it.
func (c *Config) Pace() time.Duration {
	if c.PaceSec <= 0 {
		return 0
	}
	return time.Duration(c.PaceSec * float64(time.Second))
}

// Reference returns a validated profile for a generic EV on a 5.3 km circuit
// with every optional key at its default.
func Reference() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("model", "reference_ev")
	v.Set("temp_max_C", 400.0)
	v.Set("brake_wear_threshold", 0.3)
	v.Set("soc_min_pct", 15.0)
	v.Set("lap_length_m", 5300.0)
	v.Set("tick_sec", 0.2)
	v.Set("pace_sec", 0.0)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("reference config: %v", err))
	}
	cfg.BrakingZones = DefaultBrakingZones()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("reference config: %v", err))
	}
	return &cfg
}
