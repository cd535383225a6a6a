package pid

import (
	"sync"
	"time"

	"github.com/pitctl/pitctl/internal/fusion"
	"github.com/pitctl/pitctl/internal/probe"
	"github.com/pitctl/pitctl/internal/units"
	"github.com/pitctl/pitctl/x/mathx"
	"github.com/pitctl/pitctl/x/ramp"
)

// Timing constants from the clock model: the controller is ticked at
// DoWorkPeriod and runs its full PID/mode/output pass once every
// HeavyPeriod, four sub-ticks later.
const (
	DoWorkPeriod = 250 * time.Millisecond
	HeavyPeriod  = time.Second

	tempEMAAlpha   = 2.0 / (1.0 + 60.0)
	outputEMAAlpha = 2.0 / (1.0 + 240.0)

	mixedLambda = 0.4

	srtpWindow   = 10 * HeavyPeriod
	srtpSubTicks = int(srtpWindow / DoWorkPeriod)

	ServoMinThresh  = 5
	ServoMaxHoldoff = 10
)

// Sink receives the controller's per-tick outputs. Fan and Status are
// called once per heavy tick (Fan may also be called from an
// intermediate sub-tick while a long-PWM window is mid-toggle); Servo
// is called only when the hold-off window allows an emission. A
// caller that implements all three satisfies both the motor driver and
// the display sink with one adapter each.
type Sink interface {
	Fan(pct uint8)
	Servo(pct uint8)
	Status(s StatusSnapshot)
}

// Controller is the discrete-time pit controller: PID loop, mode state
// machine, and fan/servo output conditioning. All state mutation
// happens through its exported methods and Tick, matching the single
// controller-task model described for the system: every exported
// method takes mu, so calls are serialized (the orchestrator drives it
// from one goroutine).
type Controller struct {
	mu sync.Mutex

	gains    PidGains
	fan      FanSettings
	servo    ServoSettings
	lid      LidSettings
	setPoint float32
	unit     units.TempUnit

	mode  Mode
	state PidState

	probes    map[probe.MacAddr]ConnectedProbeState
	fusedTemp *float32

	lidCountdownActive    bool
	lidCountdownRemaining float64 // seconds

	lastHeavyTick time.Time
	tickPrimed    bool

	prevMappedFan uint8 // pre-long-PWM mapped fan value, for boost edge detection
	srtp          srtpState

	servoPos     uint8
	servoHoldoff int
}

// srtpState holds the long-PWM (SRTP) sub-period scheduler for the
// current heavy tick's mapped fan speed, built on x/ramp's duty window.
type srtpState struct {
	active bool
	window ramp.Window
}

// NewController constructs a Controller in Startup mode with s applied.
func NewController(s Settings) *Controller {
	c := &Controller{
		gains:    s.Gains,
		fan:      s.Fan,
		servo:    s.Servo,
		lid:      s.Lid,
		setPoint: s.SetPoint,
		unit:     s.Unit,
		mode:     ModeStartup,
		probes:   map[probe.MacAddr]ConnectedProbeState{},
	}
	return c
}

// SetSetPoint forces Mode=Startup, zeroes output, and clears the lid
// timer.
func (c *Controller) SetSetPoint(t float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setPoint = t
	c.resetToStartupLocked()
}

// SetMode directly sets the mode; it also zeroes output and clears the
// lid timer, matching set_point's reset behavior.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	c.zeroOutputLocked()
	c.clearLidTimerLocked()
}

// SetPidOutput enters Manual mode with output clamped to [0,100].
func (c *Controller) SetPidOutput(v float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = ModeManual
	c.state.Output = mathx.Clamp(v, 0, 100)
}

func (c *Controller) resetToStartupLocked() {
	c.mode = ModeStartup
	c.zeroOutputLocked()
	c.clearLidTimerLocked()
}

func (c *Controller) zeroOutputLocked() {
	c.state.Output = 0
	c.state.PTerm, c.state.ITerm, c.state.DTerm = 0, 0, 0
}

func (c *Controller) clearLidTimerLocked() {
	c.lidCountdownActive = false
	c.lidCountdownRemaining = 0
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Output returns the current PID output percentage.
func (c *Controller) Output() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Output
}

// --- configuration setters, all clamped to their documented range ---

func (c *Controller) SetFanMaxSpeed(v uint8) {
	c.mu.Lock()
	c.fan.MaxSpeed = mathx.Clamp(v, 0, 100)
	c.mu.Unlock()
}

func (c *Controller) SetFanMaxStartupSpeed(v uint8) {
	c.mu.Lock()
	c.fan.MaxStartupSpeed = mathx.Clamp(v, 0, 100)
	c.mu.Unlock()
}

// SetFanActiveFloor clamps to [0,99] per the divide-by-zero guard
// invariant on the fan mapping.
func (c *Controller) SetFanActiveFloor(v uint8) {
	c.mu.Lock()
	c.fan.OnAbove = mathx.Clamp(v, 0, 99)
	c.mu.Unlock()
}

func (c *Controller) SetFanMinSpeed(v uint8) {
	c.mu.Lock()
	c.fan.MinSpeed = mathx.Clamp(v, 0, 100)
	c.mu.Unlock()
}

func (c *Controller) SetServoMinPos(v uint8) {
	c.mu.Lock()
	c.servo.MinPosition = mathx.Clamp(v, 0, 100)
	c.mu.Unlock()
}

func (c *Controller) SetServoMaxPos(v uint8) {
	c.mu.Lock()
	c.servo.MaxPosition = mathx.Clamp(v, 0, 100)
	c.mu.Unlock()
}

func (c *Controller) SetLidOpenOffset(pct int) {
	c.mu.Lock()
	c.lid.OpenOffsetPct = mathx.Clamp(pct, 0, 100)
	c.mu.Unlock()
}

// SetLidOpenDuration clamps to the documented 30s minimum auto-resume.
func (c *Controller) SetLidOpenDuration(seconds int) {
	c.mu.Lock()
	if seconds < 30 {
		seconds = 30
	}
	c.lid.OpenDurationS = seconds
	c.mu.Unlock()
}

func (c *Controller) SetGains(g PidGains) {
	c.mu.Lock()
	c.gains = g
	c.mu.Unlock()
}

// --- probe updates ---

// UpdateProbe folds reading into the connected-probe map and
// recomputes the fused pit temperature. A unit change from what the
// controller currently tracks resets TempEMA to nil so the next D-term
// evaluation does not see a spurious unit-conversion step.
func (c *Controller) UpdateProbe(reading probe.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reading.Unit != c.unit {
		c.unit = reading.Unit
		c.state.TempEMA = nil
	}

	c.probes[reading.Address] = ConnectedProbeState{
		LastTimestamp: reading.Timestamp,
		Ambient:       reading.Ambient,
	}
	c.recomputeFusedLocked()
}

// RemoveProbe drops a disconnected probe from the connected-probe map
// and recomputes the fused temperature.
func (c *Controller) RemoveProbe(mac probe.MacAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.probes, mac)
	c.recomputeFusedLocked()
}

func (c *Controller) recomputeFusedLocked() {
	ambients := make([]float32, 0, len(c.probes))
	for _, p := range c.probes {
		ambients = append(ambients, p.Ambient)
	}
	v, ok := fusion.Fuse(ambients)
	if !ok {
		c.fusedTemp = nil
		return
	}
	c.fusedTemp = &v
}

// --- tick ---

// Tick advances the controller by one DoWorkPeriod sub-tick, invoking
// the full heavy-tick pass once HeavyPeriod has elapsed since the last
// one. now should be a monotonic clock reading (time.Now() on a
// Linux host is monotonic-backed).
func (c *Controller) Tick(now time.Time, sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tickPrimed {
		c.lastHeavyTick = now
		c.tickPrimed = true
		c.doHeavyTick(now, sink)
		return
	}

	if now.Sub(c.lastHeavyTick) >= HeavyPeriod {
		c.lastHeavyTick = now
		c.doHeavyTick(now, sink)
		return
	}

	c.doLightTick(sink)
}

func (c *Controller) doHeavyTick(now time.Time, sink Sink) {
	lidOpen := c.lidCountdownActive

	// 1. Temperature EMA.
	if c.fusedTemp != nil {
		c.state.CurrentTemp = c.fusedTemp
		if c.state.TempEMA == nil {
			v := *c.fusedTemp
			c.state.TempEMA = &v
		} else {
			v := *c.state.TempEMA + tempEMAAlpha*(*c.fusedTemp-*c.state.TempEMA)
			c.state.TempEMA = &v
		}
	} else {
		c.state.CurrentTemp = nil
	}

	// 2. PID computation (automatic modes only).
	if c.mode.IsAutomatic() {
		if c.state.CurrentTemp == nil || lidOpen {
			c.state.Output = 0
		} else {
			c.computePID()
		}
	}

	// 3. Mode transitions. Manual and Off are only left via explicit
	// API calls, so the machine only runs while already automatic.
	if c.mode.IsAutomatic() {
		c.evaluateModeTransitions()
	}

	// 4. Output EMA.
	c.state.OutputEMA += outputEMAAlpha * (c.state.Output - c.state.OutputEMA)

	// 5. Commit fan, then servo, then status.
	fanPct := c.commitFan()
	sink.Fan(fanPct)

	servoPct, emit := c.computeServo()
	if emit {
		sink.Servo(servoPct)
	}

	sink.Status(StatusSnapshot{
		Mode:          c.mode,
		SetPoint:      c.setPoint,
		FusedTemp:     c.currentTempOrZero(),
		Unit:          c.unit,
		FanSpeed:      fanPct,
		ServoPos:      c.servoPos,
		LidOpen:       c.lidCountdownActive,
		ProbeCount:    len(c.probes),
		ErrorIntegral: c.state.ITerm,
		TickMillis:    now.UnixMilli(),
	})
}

func (c *Controller) currentTempOrZero() float32 {
	if c.state.CurrentTemp == nil {
		return 0
	}
	return *c.state.CurrentTemp
}

// computePID implements the P/I/D computation in automatic modes,
// including the P<0 mixed-error-and-measurement variant.
func (c *Controller) computePID() {
	current := *c.state.CurrentTemp
	e := c.setPoint - current
	prevOutput := c.state.Output

	var p float32
	if c.gains.P >= 0 {
		p = c.gains.P * e
	} else {
		p = c.gains.P * (-mixedLambda*c.setPoint + current)
	}

	setPointReached := c.mode != ModeStartup
	iMax := float32(c.fan.MaxStartupSpeed)
	if setPointReached {
		iMax = 100
	}
	// The clamp bound is extended for the P<0 mixed variant; the
	// integrate-guard test below uses the base iMax, not this extended
	// bound, per the documented anti-windup rule.
	iMaxClamp := iMax
	if c.gains.P < 0 {
		iMaxClamp += (mixedLambda - 1) * c.gains.P * c.setPoint
	}

	i := c.state.ITerm
	if (e < 0 && prevOutput > 0) || (e > 0 && prevOutput < iMax) {
		i += c.gains.I * e
	}
	i = mathx.Clamp(i, 0, iMaxClamp)

	var d float32
	if c.state.TempEMA != nil {
		d = c.gains.D * (*c.state.TempEMA - current)
	}

	c.state.PTerm, c.state.ITerm, c.state.DTerm = p, i, d
	c.state.Output = mathx.Clamp(p+i+d, 0, 100)
}

// evaluateModeTransitions applies the three mode-machine rules in the
// documented order.
func (c *Controller) evaluateModeTransitions() {
	current := c.state.CurrentTemp
	errNonPositive := current != nil && (c.setPoint-*current) <= 0

	elapsedSinceLidOpen := float64(c.lid.OpenDurationS)
	if c.lidCountdownActive {
		elapsedSinceLidOpen = float64(c.lid.OpenDurationS) - c.lidCountdownRemaining
	}

	switch {
	case errNonPositive && elapsedSinceLidOpen >= 30:
		if c.mode == ModeStartup {
			c.state.ITerm /= 2
		}
		c.mode = ModeNormal
		c.clearLidTimerLocked()

	case c.lidCountdownActive:
		c.lidCountdownRemaining--
		if c.lidCountdownRemaining <= 0 {
			c.clearLidTimerLocked()
		}

	case c.lid.OpenOffsetPct > 0 && c.mode == ModeNormal && current != nil && c.setPoint > 0 &&
		(c.setPoint-*current)/c.setPoint >= float32(c.lid.OpenOffsetPct)/100 &&
		c.state.OutputEMA < 90:
		c.mode = ModeRecovery
		c.lidCountdownActive = true
		// The source's lid_open_offset*1000ms timer is a unit
		// mismatch against the percentage it's documented as; use
		// lid_open_duration for the actual countdown length.
		c.lidCountdownRemaining = float64(c.lid.OpenDurationS)
	}
}

// commitFan applies active-floor clamping, long-PWM duty cycling, and
// boost-on-rising-edge, returning the fan percentage to commit this
// heavy tick.
func (c *Controller) commitFan() uint8 {
	currentMax := c.fan.MaxSpeed
	if c.mode == ModeStartup {
		currentMax = c.fan.MaxStartupSpeed
	}

	mapped := uint8(0)
	if c.state.Output >= float32(c.fan.OnAbove) {
		mapped = uint8(mathx.MapF32(c.state.Output, float32(c.fan.OnAbove), 100, 0, float32(currentMax)))
	}

	boosting := c.prevMappedFan == 0 && mapped > 0
	c.prevMappedFan = mapped

	if boosting {
		c.srtp = srtpState{}
		return 100
	}

	if mapped > 0 && mapped < c.fan.MinSpeed {
		onDuration := srtpWindow * time.Duration(mapped) / time.Duration(c.fan.MinSpeed)
		if !c.srtp.active {
			c.srtp.active = true
			c.srtp.window = ramp.NewWindow(srtpWindow, onDuration)
		} else {
			// Stay on the same window phase; only the duty target
			// may have moved since the mapped speed can change
			// tick to tick. The heavy tick itself is one of the
			// four DoWorkPeriod sub-ticks in the window, so it
			// must advance just like doLightTick does.
			c.srtp.window.OnDuration = onDuration
			c.srtp.window.Advance(DoWorkPeriod)
		}
		if c.srtp.window.On {
			return c.fan.MinSpeed
		}
		return 0
	}

	c.srtp = srtpState{}
	return mapped
}

// doLightTick advances the long-PWM window by one sub-tick and, if the
// duty state flips within this sub-tick, emits a single fan update.
// Boost is a one-tick effect fully handled in commitFan, so it needs
// no light-tick follow-up beyond letting the next heavy tick settle.
func (c *Controller) doLightTick(sink Sink) {
	if !c.srtp.active {
		return
	}
	if c.srtp.window.Advance(DoWorkPeriod) {
		if c.srtp.window.On {
			sink.Fan(c.fan.MinSpeed)
		} else {
			sink.Fan(0)
		}
	}
}

// computeServo maps PID output into the configured servo range and
// applies the dead-band hold-off, returning the position to use for
// status reporting and whether an emission to the motor driver should
// occur this tick.
func (c *Controller) computeServo() (pct uint8, emit bool) {
	mapped := uint8(mathx.MapF32(c.state.Output, 0, 100, float32(c.servo.MinPosition), float32(c.servo.MaxPosition)))

	delta := int(mapped) - int(c.servoPos)
	if delta < 0 {
		delta = -delta
	}

	if delta > ServoMinThresh {
		c.servoPos = mapped
		c.servoHoldoff = 0
		return mapped, true
	}

	c.servoHoldoff++
	if c.servoHoldoff > ServoMaxHoldoff {
		c.servoPos = mapped
		c.servoHoldoff = 0
		return mapped, true
	}
	return c.servoPos, false
}
