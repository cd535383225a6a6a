// Package motor adapts the conditioned fan/servo percentages the pit
// controller emits into PWM duty cycles on a PCA9685 I2C PWM
// controller, the way periph.io/x/periph's pca9685 driver frames the
// same chip for LED channels. Not-ready reads retry on a fixed
// schedule before surfacing a fatal initialization error, matching the
// documented motor-driver failure policy.
package motor

import (
	"time"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/physic"

	"github.com/pitctl/pitctl/internal/errcode"
	"github.com/pitctl/pitctl/x/mathx"
)

const (
	// I2CAddr is the PCA9685's default bus address.
	I2CAddr uint16 = 0x40

	pwmFreq = 50 * physic.Hertz

	fanChannel    = 0
	damperChannel = 1

	// Servo pulse widths in microseconds for 0%/100% open, matching
	// the documented 500-2500us mapping.
	servoPulseMinUs = 500
	servoPulseMaxUs = 2500

	initRetries      = 5
	initRetryBackoff = 100 * time.Millisecond
)

// Driver is the fan/damper actuator surface the pit controller drives.
type Driver interface {
	SetFan(speedPct uint8, reversed bool) error
	SetDamper(positionPct uint8) error
	Initialized() bool
}

// pwmChip is the narrow surface Driver needs from the PCA9685, the
// same split the teacher's HAL abstracts hardware behind (I2CBusFactory)
// so tests can run without a real I2C bus.
type pwmChip interface {
	SetPwmFreq(freq physic.Frequency) error
	SetPwm(channel int, on, off uint16) error
	SetFullOff(channel int) error
	SetFullOn(channel int) error
}

// PCA9685Driver is the production Driver, backed by a real or fake
// PCA9685 over I2C.
type PCA9685Driver struct {
	chip        pwmChip
	ready       bool
	lastFanPct  uint8
	lastDamper  uint8
}

// NewPCA9685Driver constructs a driver over bus at I2CAddr and attempts
// initialization immediately, returning a fatal errcode.InitTimeout if
// the chip never becomes ready within the retry budget.
func NewPCA9685Driver(bus i2c.Bus) (*PCA9685Driver, error) {
	chip, err := newPCA9685(bus, I2CAddr)
	if err != nil {
		return nil, &errcode.E{C: errcode.NotInitialized, Op: "NewPCA9685Driver", Err: err}
	}
	d := &PCA9685Driver{chip: chip}
	if err := d.initWithRetry(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PCA9685Driver) initWithRetry() error {
	var lastErr error
	for i := 0; i < initRetries; i++ {
		if err := d.chip.SetPwmFreq(pwmFreq); err == nil {
			d.ready = true
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(initRetryBackoff)
	}
	return &errcode.E{C: errcode.InitTimeout, Op: "initWithRetry", Err: lastErr}
}

// Initialized reports whether the chip has completed setup.
func (d *PCA9685Driver) Initialized() bool { return d.ready }

// SetFan sets fan duty 0-100%. 0 is a literal stop (SetFullOff); a
// driver not yet ready retries up to 5 times at 100ms before raising a
// fatal initialization-timeout error, per the documented failure
// policy for a motor driver not ready at boot.
func (d *PCA9685Driver) SetFan(speedPct uint8, reversed bool) error {
	speedPct = mathx.Clamp(speedPct, 0, 100)
	if !d.ready {
		if err := d.initWithRetry(); err != nil {
			return err
		}
	}
	d.lastFanPct = speedPct

	if speedPct == 0 {
		return d.chip.SetFullOff(fanChannel)
	}
	effective := speedPct
	if reversed {
		effective = 100 - speedPct
	}
	on, off := dutyFromPct(effective)
	return d.chip.SetPwm(fanChannel, on, off)
}

// SetDamper sets the intake damper position 0-100% (0=closed,
// 100=open), internally mapped to a 500-2500us servo pulse width.
func (d *PCA9685Driver) SetDamper(positionPct uint8) error {
	positionPct = mathx.Clamp(positionPct, 0, 100)
	if !d.ready {
		if err := d.initWithRetry(); err != nil {
			return err
		}
	}
	d.lastDamper = positionPct

	pulseUs := mathx.MapF32(float32(positionPct), 0, 100, servoPulseMinUs, servoPulseMaxUs)
	on, off := dutyFromPulseUs(pulseUs)
	return d.chip.SetPwm(damperChannel, on, off)
}

// dutyFromPct converts a 0-100 percentage into PCA9685 on/off tick
// counts over its fixed 4096-tick PWM period.
func dutyFromPct(pct uint8) (on, off uint16) {
	ticks := uint16(float32(pct) / 100 * 4095)
	return 0, ticks
}

// dutyFromPulseUs converts a pulse width in microseconds, at the fixed
// 50Hz pwmFreq (20000us period), into PCA9685 on/off tick counts.
func dutyFromPulseUs(pulseUs float32) (on, off uint16) {
	const periodUs = 20000
	ticks := uint16(pulseUs / periodUs * 4096)
	return 0, ticks
}
