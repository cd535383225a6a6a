// Package probe discovers BLE temperature probes by vendor OUI, holds a
// connection per probe, polls their temperature/battery characteristics
// at roughly 1 Hz, and reports normalized readings and disconnects on a
// channel. The split trigger/collect scheduling and the supervisory
// restart-on-failure-threshold pattern are carried over from the
// teacher's services/hal worker and service loop, generalized from I2C
// polling to BLE GATT reads.
package probe

import (
	"time"

	"github.com/pitctl/pitctl/internal/units"
)

// MacAddr is a colon-separated, upper-case BLE MAC address, e.g.
// "B8:1F:5E:AA:BB:CC".
type MacAddr string

// OUI returns the three leading octets of the address.
func (m MacAddr) OUI() string {
	if len(m) < 8 {
		return ""
	}
	return string(m[:8])
}

// VendorOUI is the only manufacturer prefix eligible for connection
// (Apption Labs).
const VendorOUI = "B8:1F:5E"

// State is a probe's connection lifecycle stage.
type State uint8

const (
	StateDiscovered State = iota
	StateConnecting
	StateInitialized
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Reading is an immutable, normalized sample from one probe.
type Reading struct {
	Address    MacAddr
	ProbeIndex uint8 // 1..4
	Tip        float32
	Ambient    float32
	Unit       units.TempUnit
	BatteryPct uint8 // 0..100
	Timestamp  time.Time
	Firmware   string
}

// EventKind tags what happened to a probe.
type EventKind uint8

const (
	EventConnect EventKind = iota
	EventConnectFailed
	EventUpdate
	EventDisconnect
)

// Event is what the manager publishes for the orchestrator to consume.
// Address is set on every event; Reading is meaningful only for
// EventUpdate — this mirrors the teacher's tagged Result{Sample,Err} pattern
// rather than separate channels per event type, so a single consumer
// can multiplex without races.
type Event struct {
	Kind    EventKind
	Address MacAddr
	Reading Reading
}
