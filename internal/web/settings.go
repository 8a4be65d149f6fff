package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gpsc-ng/internal/config"
)

type SettingsPayload struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Device   string `json:"device"`
	Mode     string `json:"mode"`
	RawMode  string `json:"raw_mode"`
	Position string `json:"position_unit"`
	Track    string `json:"track_unit"`
	Altitude string `json:"altitude_unit"`
	Distance string `json:"distance_unit"`
	Speed    string `json:"speed_unit"`
}

// SettingsPayloadIn is the strict POST schema.
//
// All fields are required (no partial updates). Device may be empty to
// watch every device.
type SettingsPayloadIn struct {
	Host     *string `json:"host"`
	Port     *string `json:"port"`
	Device   *string `json:"device"`
	Mode     *string `json:"mode"`
	RawMode  *string `json:"raw_mode"`
	Position *string `json:"position_unit"`
	Track    *string `json:"track_unit"`
	Altitude *string `json:"altitude_unit"`
	Distance *string `json:"distance_unit"`
	Speed    *string `json:"speed_unit"`
}

var settingsPostKeys = []string{
	"host",
	"port",
	"device",
	"mode",
	"raw_mode",
	"position_unit",
	"track_unit",
	"altitude_unit",
	"distance_unit",
	"speed_unit",
}

func decodeSettingsPayloadInStrict(body []byte) (SettingsPayloadIn, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	// First pass: stream tokens to enforce strict object rules and detect duplicate keys.
	allowed := make(map[string]struct{}, len(settingsPostKeys))
	for _, k := range settingsPostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(settingsPostKeys))

	tok, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected object")
	}

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		key, ok := kt.(string)
		if !ok {
			return SettingsPayloadIn{}, errors.New("invalid json: expected string key")
		}
		if _, ok := allowed[key]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}

	end, err := dec.Token()
	if err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	delim, ok = end.(json.Delim)
	if !ok || delim != '}' {
		return SettingsPayloadIn{}, errors.New("invalid json: expected end of object")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}

	for _, k := range settingsPostKeys {
		if _, ok := seen[k]; !ok {
			return SettingsPayloadIn{}, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	// Second pass: decode into the typed struct.
	var out SettingsPayloadIn
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return SettingsPayloadIn{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := dec2.Decode(&struct{}{}); err != io.EOF {
		return SettingsPayloadIn{}, errors.New("invalid json: trailing data")
	}

	return out, nil
}

func configToSettingsPayload(cfg config.Config) SettingsPayload {
	return SettingsPayload{
		Host:     cfg.GPSD.Host,
		Port:     cfg.GPSD.Port,
		Device:   cfg.GPSD.Device,
		Mode:     cfg.GPSD.Mode,
		RawMode:  cfg.Raw.Mode,
		Position: cfg.Units.Position,
		Track:    cfg.Units.Track,
		Altitude: cfg.Units.Altitude,
		Distance: cfg.Units.Distance,
		Speed:    cfg.Units.Speed,
	}
}

func validateSettingsPayloadIn(p SettingsPayloadIn) error {
	required := []struct {
		name  string
		value *string
	}{
		{"host", p.Host},
		{"port", p.Port},
		{"mode", p.Mode},
		{"raw_mode", p.RawMode},
		{"position_unit", p.Position},
		{"track_unit", p.Track},
		{"altitude_unit", p.Altitude},
		{"distance_unit", p.Distance},
		{"speed_unit", p.Speed},
	}
	for _, f := range required {
		if f.value == nil {
			return fmt.Errorf("%s is required", f.name)
		}
		if strings.TrimSpace(*f.value) == "" {
			return fmt.Errorf("%s must be non-empty", f.name)
		}
	}
	if p.Device == nil {
		return errors.New("device is required")
	}
	return nil
}

func applySettingsPayload(cfg *config.Config, p SettingsPayloadIn) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validateSettingsPayloadIn(p); err != nil {
		return err
	}

	cfg.GPSD.Host = strings.TrimSpace(*p.Host)
	cfg.GPSD.Port = strings.TrimSpace(*p.Port)
	cfg.GPSD.Device = strings.TrimSpace(*p.Device)
	cfg.GPSD.Mode = strings.ToLower(strings.TrimSpace(*p.Mode))
	cfg.Raw.Mode = strings.ToLower(strings.TrimSpace(*p.RawMode))
	cfg.Units.Position = strings.TrimSpace(*p.Position)
	cfg.Units.Track = strings.TrimSpace(*p.Track)
	cfg.Units.Altitude = strings.TrimSpace(*p.Altitude)
	cfg.Units.Distance = strings.TrimSpace(*p.Distance)
	cfg.Units.Speed = strings.TrimSpace(*p.Speed)
	return nil
}

type SettingsStore struct {
	ConfigPath string
	// Apply, when set, is called after validation and before saving. If it
	// fails the config is not saved. It reconnects the client with the new
	// target and mode.
	Apply func(cfg config.Config) error
}

func (s SettingsStore) load() (config.Config, error) {
	return config.LoadOrDefault(s.ConfigPath)
}

func (s SettingsStore) save(cfg config.Config) error {
	return config.Save(s.ConfigPath, cfg)
}

func (s SettingsStore) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "settings not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			cfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, configToSettingsPayload(cfg))
			return

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}

			// Small config payload; cap to prevent unbounded reads.
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			p, err := decodeSettingsPayloadInStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			oldCfg, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}

			cfg := oldCfg
			if err := applySettingsPayload(&cfg, p); err != nil {
				http.Error(w, fmt.Sprintf("invalid settings: %v", err), http.StatusBadRequest)
				return
			}
			if err := config.DefaultAndValidate(&cfg); err != nil {
				http.Error(w, fmt.Sprintf("invalid config: %v", err), http.StatusBadRequest)
				return
			}

			if s.Apply != nil {
				if err := s.Apply(cfg); err != nil {
					http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
					return
				}
			}

			if err := s.save(cfg); err != nil {
				// Best-effort rollback to keep runtime consistent with disk.
				if s.Apply != nil {
					_ = s.Apply(oldCfg)
				}
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}

			writeJSON(w, configToSettingsPayload(cfg))
			return
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
	})

	return mux
}
