// Package config loads the smoker's startup configuration once, the way
// the teacher's services/config loads a device's embedded JSON: decode
// with github.com/andreyvit/tinyjson, then apply documented clamps to
// anything out of range rather than failing the whole load.
package config

import (
	"fmt"
	"os"

	"github.com/andreyvit/tinyjson"
	"github.com/sirupsen/logrus"

	"github.com/pitctl/pitctl/internal/pid"
	"github.com/pitctl/pitctl/internal/units"
	"github.com/pitctl/pitctl/x/mathx"
)

// Fan holds the fan-side configuration block.
type Fan struct {
	MinSpeed        uint8 `json:"minSpeed"`
	MaxSpeed        uint8 `json:"maxSpeed"`
	MaxStartupSpeed uint8 `json:"maxStartupSpeed"`
	OnAbove         uint8 `json:"onAbove"`
	Reverse         bool  `json:"reverse"`
}

// Servo holds the damper-servo configuration block.
type Servo struct {
	MinPosition uint8 `json:"minPosition"`
	MaxPosition uint8 `json:"maxPosition"`
}

// Lid holds lid-open detection thresholds.
type Lid struct {
	LidOpenOffsetPct int `json:"lidOpenOffset"`
	LidOpenDurationS int `json:"lidOpenDuration"`
}

// Config is the full startup document, read once by the orchestrator.
type Config struct {
	Units    string       `json:"units"` // "F" or "C"
	PID      pid.PidGains `json:"PID"`
	Fan      Fan          `json:"fan"`
	Servo    Servo        `json:"servo"`
	SetPoint float32      `json:"setPoint"`
	Lid      Lid          `json:"lid"`
}

// Default returns the documented defaults (PidGains default
// {2.5, 0.0035, 6.0}, active floor clamp range, etc.) before a file is
// applied on top.
func Default() Config {
	return Config{
		Units: "F",
		PID:   pid.DefaultGains(),
		Fan: Fan{
			MinSpeed:        30,
			MaxSpeed:        100,
			MaxStartupSpeed: 100,
			OnAbove:         10,
		},
		Servo: Servo{MinPosition: 0, MaxPosition: 100},
		SetPoint: 225,
		Lid: Lid{
			LidOpenOffsetPct: 0,
			LidOpenDurationS: 90,
		},
	}
}

// Load reads path, decodes it with tinyjson, and merges it over Default().
// Every out-of-range value is clamped to its documented bound with a
// warning logged rather than rejecting the whole config (spec's "Bad
// config value" policy).
func Load(path string, log *logrus.Entry) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return cfg, fmt.Errorf("config %q is not a JSON object", path)
	}

	applyTop(&cfg, m, log)
	clamp(&cfg, log)
	return cfg, nil
}

func applyTop(cfg *Config, m map[string]any, log *logrus.Entry) {
	if v, ok := m["units"].(string); ok && (v == "F" || v == "C") {
		cfg.Units = v
	} else if ok {
		logWarn(log, "units must be F or C, keeping default", "value", v)
	}
	if v, ok := m["setPoint"].(float64); ok {
		cfg.SetPoint = float32(v)
	}
	if p, ok := m["PID"].(map[string]any); ok {
		if v, ok := numField(p, "P"); ok {
			cfg.PID.P = v
		}
		if v, ok := numField(p, "I"); ok {
			cfg.PID.I = v
		}
		if v, ok := numField(p, "D"); ok {
			cfg.PID.D = v
		}
	}
	if f, ok := m["fan"].(map[string]any); ok {
		if v, ok := intField(f, "minSpeed"); ok {
			cfg.Fan.MinSpeed = uint8(v)
		}
		if v, ok := intField(f, "maxSpeed"); ok {
			cfg.Fan.MaxSpeed = uint8(v)
		}
		if v, ok := intField(f, "maxStartupSpeed"); ok {
			cfg.Fan.MaxStartupSpeed = uint8(v)
		}
		if v, ok := intField(f, "onAbove"); ok {
			cfg.Fan.OnAbove = uint8(v)
		}
		if v, ok := f["reverse"].(bool); ok {
			cfg.Fan.Reverse = v
		}
	}
	if s, ok := m["servo"].(map[string]any); ok {
		if v, ok := intField(s, "minPosition"); ok {
			cfg.Servo.MinPosition = uint8(v)
		}
		if v, ok := intField(s, "maxPosition"); ok {
			cfg.Servo.MaxPosition = uint8(v)
		}
	}
	if l, ok := m["lid"].(map[string]any); ok {
		if v, ok := intField(l, "lidOpenOffset"); ok {
			cfg.Lid.LidOpenOffsetPct = v
		}
		if v, ok := intField(l, "lidOpenDuration"); ok {
			cfg.Lid.LidOpenDurationS = v
		}
	}
}

func numField(m map[string]any, key string) (float32, bool) {
	v, ok := m[key].(float64)
	return float32(v), ok
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key].(float64)
	return int(v), ok
}

// clamp enforces every documented range, logging a warning for each
// value it had to adjust (spec §3 invariants, §7 "Bad config value").
func clamp(cfg *Config, log *logrus.Entry) {
	clampU8(&cfg.Fan.OnAbove, 0, 99, "fan.onAbove", log)
	clampU8(&cfg.Fan.MinSpeed, 0, 100, "fan.minSpeed", log)
	clampU8(&cfg.Fan.MaxSpeed, 0, 100, "fan.maxSpeed", log)
	clampU8(&cfg.Fan.MaxStartupSpeed, 0, 100, "fan.maxStartupSpeed", log)
	clampU8(&cfg.Servo.MinPosition, 0, 100, "servo.minPosition", log)
	clampU8(&cfg.Servo.MaxPosition, 0, 100, "servo.maxPosition", log)
	if cfg.Lid.LidOpenDurationS < 30 {
		logWarn(log, "lid.lidOpenDuration below 30s minimum, clamping", "value", cfg.Lid.LidOpenDurationS)
		cfg.Lid.LidOpenDurationS = 30
	}
	clampedOffset := mathx.Clamp(cfg.Lid.LidOpenOffsetPct, 0, 100)
	if clampedOffset != cfg.Lid.LidOpenOffsetPct {
		logWarn(log, "lid.lidOpenOffset out of range, clamping", "value", cfg.Lid.LidOpenOffsetPct)
		cfg.Lid.LidOpenOffsetPct = clampedOffset
	}
}

func clampU8(v *uint8, lo, hi uint8, field string, log *logrus.Entry) {
	c := mathx.Clamp(*v, lo, hi)
	if c != *v {
		logWarn(log, "config value out of range, clamping", "field", field, "value", *v, "clamped", c)
		*v = c
	}
}

func logWarn(log *logrus.Entry, msg string, kv ...any) {
	if log == nil {
		return
	}
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			fields[k] = kv[i+1]
		}
	}
	log.WithFields(fields).Warn(msg)
}

// UnitTag returns the units.TempUnit for cfg.Units.
func (c Config) UnitTag() units.TempUnit {
	if c.Units == "C" {
		return units.Celsius
	}
	return units.Fahrenheit
}

// PidSettings converts the loaded document into the pid package's
// construction-time Settings, the only place config's JSON shape and
// the controller's internal types meet.
func (c Config) PidSettings() pid.Settings {
	return pid.Settings{
		Gains: c.PID,
		Fan: pid.FanSettings{
			MinSpeed:        c.Fan.MinSpeed,
			MaxSpeed:        c.Fan.MaxSpeed,
			MaxStartupSpeed: c.Fan.MaxStartupSpeed,
			OnAbove:         c.Fan.OnAbove,
			Reverse:         c.Fan.Reverse,
		},
		Servo: pid.ServoSettings{
			MinPosition: c.Servo.MinPosition,
			MaxPosition: c.Servo.MaxPosition,
		},
		Lid: pid.LidSettings{
			OpenOffsetPct: c.Lid.LidOpenOffsetPct,
			OpenDurationS: c.Lid.LidOpenDurationS,
		},
		SetPoint: c.SetPoint,
		Unit:     c.UnitTag(),
	}
}
