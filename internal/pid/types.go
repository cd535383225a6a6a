// Package pid implements the closed-loop pit controller: a dual-rate PID
// loop with a Startup/Recovery/Normal/Manual/Off mode state machine, fan
// and servo output conditioning, and lid-open detection. The structure —
// an explicit Mode enum driving a single per-tick Tick call, with config
// injected once at construction — follows the teacher's services/hal
// worker: state carried in the struct, no goroutine-owned timers beyond
// the ticks the orchestrator drives in.
package pid

import (
	"time"

	"github.com/pitctl/pitctl/internal/units"
)

// Mode is the controller's operating mode. Ordinal values matter: they
// are published on the bus as part of StatusSnapshot.
type Mode uint8

const (
	ModeStartup Mode = iota
	ModeRecovery
	ModeNormal
	ModeManual
	ModeOff
)

// IsAutomatic reports whether mode is one of the PID-driven modes
// (Startup, Recovery, Normal). Expressed as explicit membership rather
// than `m <= ModeNormal` so a future reordering of the enum can't
// silently break the automatic/manual split.
func (m Mode) IsAutomatic() bool {
	switch m {
	case ModeStartup, ModeRecovery, ModeNormal:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	switch m {
	case ModeStartup:
		return "startup"
	case ModeRecovery:
		return "recovery"
	case ModeNormal:
		return "normal"
	case ModeManual:
		return "manual"
	case ModeOff:
		return "off"
	default:
		return "unknown"
	}
}

// PidGains holds the three PID coefficients. Defaults are {2.5, 0.0035, 6.0}.
type PidGains struct {
	P float32 `json:"P"`
	I float32 `json:"I"`
	D float32 `json:"D"`
}

// DefaultGains returns the documented default PID coefficients.
func DefaultGains() PidGains {
	return PidGains{P: 2.5, I: 0.0035, D: 6.0}
}

// FanSettings bounds fan output once PID has produced a raw percentage.
type FanSettings struct {
	MinSpeed        uint8
	MaxSpeed        uint8
	MaxStartupSpeed uint8
	OnAbove         uint8
	Reverse         bool
}

// ServoSettings bounds damper servo output.
type ServoSettings struct {
	MinPosition uint8
	MaxPosition uint8
}

// LidSettings configures lid-open detection and the Recovery countdown.
type LidSettings struct {
	OpenOffsetPct int
	OpenDurationS int
}

// Settings is the full set of tunables the controller needs at
// construction time, gathered from internal/config.Config.
type Settings struct {
	Gains    PidGains
	Fan      FanSettings
	Servo    ServoSettings
	Lid      LidSettings
	SetPoint float32
	Unit     units.TempUnit
}

// The spec's OutputEvent{type: Fan|Servo, value} is realized as the two
// Sink methods (Fan, Servo) rather than a tagged struct: Go's method
// dispatch already gives the "exactly one of two kinds" guarantee a
// sum type would, and the ordering invariant (fan before servo before
// status) is clearer as call order than as a value to inspect.

// ConnectedProbeState is the controller's view of one currently
// connected probe, keyed by MAC address. It is created on the probe's
// first reading, mutated only by UpdateProbe, and removed by
// RemoveProbe.
type ConnectedProbeState struct {
	LastTimestamp time.Time
	Ambient       float32
}

// PidState is the controller's PID working state. SetSetPoint and
// SetMode reset Output and all three terms to zero; the heavy tick's
// forced-zero output (no temperature, lid open) clears only Output and
// leaves the terms as they were.
type PidState struct {
	PTerm      float32
	ITerm      float32
	DTerm      float32
	Output     float32 // 0..100
	OutputEMA  float32
	TempEMA    *float32 // nil until a fused reading has been seen
	CurrentTemp *float32
}

// StatusSnapshot is the retained status published on the bus for
// display/telemetry consumers; it carries more detail than OutputEvent
// since it's meant for humans, not the motor driver.
type StatusSnapshot struct {
	Mode          Mode
	SetPoint      float32
	FusedTemp     float32
	Unit          units.TempUnit
	FanSpeed      uint8
	ServoPos      uint8
	LidOpen       bool
	ProbeCount    int
	ErrorIntegral float32
	TickMillis    int64
}
