package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/units"
)

type Config struct {
	GPSD   GPSDConfig   `yaml:"gpsd"`
	Units  UnitsConfig  `yaml:"units"`
	Raw    RawConfig    `yaml:"raw"`
	Record RecordConfig `yaml:"record"`
	Replay ReplayConfig `yaml:"replay"`
	Web    WebConfig    `yaml:"web"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	UDP    UDPConfig    `yaml:"udp"`
}

type GPSDConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	// Device limits published reads to one device path. Empty means all.
	Device      string        `yaml:"device"`
	Mode        string        `yaml:"mode"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// ReconnectDelay is how long the runtime waits before dialing again
	// after a session fails. Zero disables reconnecting.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type UnitsConfig struct {
	Position string `yaml:"position"`
	Track    string `yaml:"track"`
	Altitude string `yaml:"altitude"`
	Distance string `yaml:"distance"`
	Speed    string `yaml:"speed"`
}

type RawConfig struct {
	// Mode is the watch mode of the raw viewer session: none, json, nmea, hex.
	Mode     string `yaml:"mode"`
	MaxLines int    `yaml:"max_lines"`
	SavePath string `yaml:"save_path"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Listen string  `yaml:"listen"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	_ = DefaultAndValidate(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg, err := decode(b)
	if err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func decode(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		var te *yaml.TypeError
		if errors.As(err, &te) && unknownFieldsOnly(te) {
			fields := make([]string, 0, len(te.Errors))
			for _, e := range te.Errors {
				fields = append(fields, stripLinePrefix(e))
			}
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(fields, "; "))
		}
		return Config{}, err
	}
	return cfg, nil
}

// stripLinePrefix drops yaml.v3's "line N: " position prefix.
func stripLinePrefix(msg string) string {
	if strings.HasPrefix(msg, "line ") {
		if i := strings.Index(msg, ": "); i >= 0 {
			return msg[i+2:]
		}
	}
	return msg
}

func unknownFieldsOnly(te *yaml.TypeError) bool {
	if len(te.Errors) == 0 {
		return false
	}
	for _, e := range te.Errors {
		if !strings.Contains(e, "not found in type") {
			return false
		}
	}
	return true
}

// DefaultAndValidate fills unset fields with defaults and rejects invalid
// combinations.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.GPSD.Host = strings.TrimSpace(cfg.GPSD.Host)
	if cfg.GPSD.Host == "" {
		cfg.GPSD.Host = gpsd.DefaultHost
	}
	cfg.GPSD.Port = strings.TrimSpace(cfg.GPSD.Port)
	if cfg.GPSD.Port == "" {
		cfg.GPSD.Port = gpsd.DefaultPort
	}
	if p, err := strconv.Atoi(cfg.GPSD.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("gpsd.port must be in [1,65535]")
	}
	cfg.GPSD.Device = strings.TrimSpace(cfg.GPSD.Device)
	if cfg.GPSD.Mode == "" {
		cfg.GPSD.Mode = "json"
	}
	if _, err := gpsd.ParseStreamMode(cfg.GPSD.Mode); err != nil {
		return fmt.Errorf("gpsd.mode: %w", err)
	}
	if cfg.GPSD.DialTimeout <= 0 {
		cfg.GPSD.DialTimeout = 2 * time.Second
	}
	if cfg.GPSD.ReconnectDelay < 0 {
		return fmt.Errorf("gpsd.reconnect_delay must be >= 0")
	}

	if cfg.Units.Position == "" {
		cfg.Units.Position = string(units.DegreesMinutesSeconds)
	}
	if cfg.Units.Track == "" {
		cfg.Units.Track = string(units.Degrees)
	}
	if cfg.Units.Altitude == "" {
		cfg.Units.Altitude = string(units.Metre)
	}
	if cfg.Units.Distance == "" {
		cfg.Units.Distance = string(units.Kilometre)
	}
	if cfg.Units.Speed == "" {
		cfg.Units.Speed = string(units.KPH)
	}
	if !units.Angle(cfg.Units.Position).Valid() {
		return fmt.Errorf("units.position must be one of dms, dm, deg, grad, rad")
	}
	if !units.Angle(cfg.Units.Track).Valid() {
		return fmt.Errorf("units.track must be one of dms, dm, deg, grad, rad")
	}
	if !units.Altitude(cfg.Units.Altitude).Valid() {
		return fmt.Errorf("units.altitude must be one of m, ft")
	}
	if !units.Distance(cfg.Units.Distance).Valid() {
		return fmt.Errorf("units.distance must be one of km, sm, nm")
	}
	if !units.Speed(cfg.Units.Speed).Valid() {
		return fmt.Errorf("units.speed must be one of m/s, km/h, mi/h, kt")
	}

	if cfg.Raw.Mode == "" {
		cfg.Raw.Mode = "none"
	}
	if _, err := gpsd.ParseStreamMode(cfg.Raw.Mode); err != nil {
		return fmt.Errorf("raw.mode: %w", err)
	}
	if cfg.Raw.MaxLines <= 0 {
		cfg.Raw.MaxLines = 2000
	}

	if cfg.Record.Enable && strings.TrimSpace(cfg.Record.Path) == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}

	if cfg.Replay.Enable {
		if strings.TrimSpace(cfg.Replay.Path) == "" {
			return fmt.Errorf("replay.path is required when replay.enable is true")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}
	if cfg.Replay.Listen == "" {
		cfg.Replay.Listen = "127.0.0.1:2948"
	}
	if _, _, err := net.SplitHostPort(cfg.Replay.Listen); err != nil {
		return fmt.Errorf("replay.listen: %w", err)
	}
	if cfg.Record.Enable && cfg.Replay.Enable {
		return fmt.Errorf("record and replay cannot both be enabled")
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gpsc-ng"
	}
	cfg.MQTT.TopicPrefix = strings.TrimRight(strings.TrimSpace(cfg.MQTT.TopicPrefix), "/")
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "gpsc"
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if cfg.UDP.Enable && strings.TrimSpace(cfg.UDP.Dest) == "" {
		return fmt.Errorf("udp.dest is required when udp.enable is true")
	}

	return nil
}

// Save validates cfg and writes it to path atomically.
func Save(path string, cfg Config) error {
	if err := DefaultAndValidate(&cfg); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	// Temp file in the same directory so os.Rename is atomic.
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
