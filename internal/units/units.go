// Package units carries the one tagged value the whole pipeline threads
// through: which temperature scale a reading or set point is expressed in.
package units

// TempUnit tags a temperature value. probe.Reading, pid.Settings, and
// pid.StatusSnapshot all carry one so a unit change can be detected at the
// point a new reading arrives (see pid.Controller.UpdateProbe).
type TempUnit uint8

const (
	Fahrenheit TempUnit = iota
	Celsius
)

func (u TempUnit) String() string {
	if u == Celsius {
		return "C"
	}
	return "F"
}

// CelsiusToFahrenheit and FahrenheitToCelsius convert a single value;
// they are the only unit arithmetic the core performs (conversion detail
// beyond that is treated as an external collaborator per the spec).
func CelsiusToFahrenheit(c float32) float32 { return c*9.0/5.0 + 32.0 }

func FahrenheitToCelsius(f float32) float32 { return (f - 32.0) * 5.0 / 9.0 }

// Convert converts v expressed in from-unit into to-unit.
func Convert(v float32, from, to TempUnit) float32 {
	if from == to {
		return v
	}
	if from == Celsius && to == Fahrenheit {
		return CelsiusToFahrenheit(v)
	}
	return FahrenheitToCelsius(v)
}
