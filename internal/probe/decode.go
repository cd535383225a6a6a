package probe

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pitctl/pitctl/internal/errcode"
	"github.com/pitctl/pitctl/internal/units"
)

// decodeTemp turns the 6-byte little-endian u16 triple from the
// temperature characteristic into (tip, ambient) Celsius. The ambient
// correction folds the "tip rise above ambient" compensation the probe
// firmware itself doesn't apply.
func decodeTemp(b []byte) (tipC, ambientC float32, err error) {
	if len(b) < 6 {
		return 0, 0, &errcode.E{C: errcode.DecodeFailed, Op: "decodeTemp"}
	}
	tipRaw := binary.LittleEndian.Uint16(b[0:2])
	ra := binary.LittleEndian.Uint16(b[2:4])
	oa := binary.LittleEndian.Uint16(b[4:6])

	capped := oa
	if capped > 48 {
		capped = 48
	}
	delta := int32(ra) - int32(capped)
	if delta < 0 {
		delta = 0
	}
	ambientRaw := uint32(tipRaw) + uint32(delta)*16*589/1487

	tipC = rawToCelsius(tipRaw)
	ambientC = rawToCelsius(uint16(ambientRaw))
	return tipC, ambientC, nil
}

func rawToCelsius(raw uint16) float32 {
	return (float32(raw) + 8) / 16
}

// decodeBattery turns the 2-byte little-endian u16 battery
// characteristic into a clamped 0..100 percentage.
func decodeBattery(b []byte) (uint8, error) {
	if len(b) < 2 {
		return 0, &errcode.E{C: errcode.DecodeFailed, Op: "decodeBattery"}
	}
	raw := binary.LittleEndian.Uint16(b[0:2])
	pct := uint32(raw) * 10
	if pct > 100 {
		pct = 100
	}
	return uint8(pct), nil
}

// decodeFirmware splits the Device Information firmware string on its
// first underscore: left is the firmware version, right is the
// probe's 1-based index.
func decodeFirmware(s string) (firmware string, probeIndex uint8, err error) {
	idx := strings.IndexByte(s, '_')
	if idx < 0 {
		return "", 0, &errcode.E{C: errcode.DecodeFailed, Op: "decodeFirmware"}
	}
	firmware = s[:idx]
	n, perr := strconv.Atoi(s[idx+1:])
	if perr != nil || n < 1 || n > 4 {
		return "", 0, &errcode.E{C: errcode.DecodeFailed, Op: "decodeFirmware", Err: perr}
	}
	return firmware, uint8(n), nil
}

// toReading converts Celsius decodes into the configured display unit.
// The caller fills in Timestamp.
func toReading(addr MacAddr, probeIndex uint8, firmware string, tipC, ambientC float32, batteryPct uint8, unit units.TempUnit) Reading {
	tip := units.Convert(tipC, units.Celsius, unit)
	ambient := units.Convert(ambientC, units.Celsius, unit)
	return Reading{
		Address:    addr,
		ProbeIndex: probeIndex,
		Tip:        tip,
		Ambient:    ambient,
		Unit:       unit,
		BatteryPct: batteryPct,
		Firmware:   firmware,
	}
}
