package probe

import (
	"context"
	"time"

	"github.com/pitctl/pitctl/internal/units"
)

// PollPeriod is the target per-probe poll cadence (~1 Hz).
const PollPeriod = time.Second

// runPoller drives one probe's steady-state poll cycle once it has
// reached StateStreaming, once per PollPeriod, until ctx is cancelled
// or a disconnect-class error is observed. It is the GATT-read
// analogue of the teacher's measureWorker collect loop: a per-target
// timer, with individual read errors routed to that probe's own fate
// (Disconnect) rather than aborting the scheduler or propagating to
// the controller task.
//
// unitOf is sampled at the start of every cycle so a live unit change
// takes effect on the next reading without restarting the probe.
//
// runPoller owns the EventDisconnect emission for the read-error exit
// path and reports emitted=true when it has already done so, so the
// caller (connectAndStream) knows not to send a second one; on the
// ctx-cancelled exit path (the manager tearing the probe down) it
// reports emitted=false and leaves that emission to the caller.
func runPoller(ctx context.Context, addr MacAddr, probeIndex uint8, firmware string, link GattLink, unitOf func() units.TempUnit, out chan<- Event) (emitted bool) {
	ticker := time.NewTicker(PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			tempBytes, err := link.ReadTemperature(ctx)
			if err != nil {
				out <- Event{Kind: EventDisconnect, Address: addr}
				return true
			}
			battBytes, err := link.ReadBattery(ctx)
			if err != nil {
				out <- Event{Kind: EventDisconnect, Address: addr}
				return true
			}

			tipC, ambientC, err := decodeTemp(tempBytes)
			if err != nil {
				out <- Event{Kind: EventDisconnect, Address: addr}
				return true
			}
			batteryPct, err := decodeBattery(battBytes)
			if err != nil {
				out <- Event{Kind: EventDisconnect, Address: addr}
				return true
			}

			reading := toReading(addr, probeIndex, firmware, tipC, ambientC, batteryPct, unitOf())
			reading.Timestamp = time.Now()
			out <- Event{Kind: EventUpdate, Address: addr, Reading: reading}
		}
	}
}
