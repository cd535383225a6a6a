package motor

import (
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/experimental/devices/pca9685"
)

// pca9685Chip adapts periph.io/x/periph's pca9685.Dev (which speaks
// gpio.Duty) to the pwmChip interface used above.
type pca9685Chip struct {
	dev *pca9685.Dev
}

func newPCA9685(bus i2c.Bus, addr uint16) (*pca9685Chip, error) {
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		return nil, err
	}
	return &pca9685Chip{dev: dev}, nil
}

func (c *pca9685Chip) SetPwmFreq(freq physic.Frequency) error {
	return c.dev.SetPwmFreq(freq)
}

func (c *pca9685Chip) SetPwm(channel int, on, off uint16) error {
	return c.dev.SetPwm(channel, gpio.Duty(on), gpio.Duty(off))
}

func (c *pca9685Chip) SetFullOff(channel int) error {
	return c.dev.SetFullOff(channel)
}

func (c *pca9685Chip) SetFullOn(channel int) error {
	return c.dev.SetFullOn(channel)
}
