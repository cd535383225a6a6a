package display

import (
	"github.com/pitctl/pitctl/internal/bus"
	"github.com/pitctl/pitctl/internal/pid"
)

// statusTopic is the retained topic a framebuffer or touchscreen
// process would read from; this module treats such a consumer as
// external (out of scope), but still needs to hand it a snapshot the
// teacher's way: a retained bus message rather than a direct callback.
var statusTopic = bus.T("status", "pit")

// BusSink publishes every StatusSnapshot as a retained message so a
// late-attaching consumer (a framebuffer renderer, a debug CLI) can
// read the latest snapshot immediately via Connection.Retained instead
// of waiting for the next tick.
type BusSink struct {
	conn *bus.Connection
}

// NewBusSink wraps conn, used under the owning connection's ID for
// publishes.
func NewBusSink(conn *bus.Connection) *BusSink {
	return &BusSink{conn: conn}
}

func (s *BusSink) Update(snap pid.StatusSnapshot) {
	s.conn.Publish(s.conn.NewMessage(statusTopic, snap, true))
}

// MultiSink fans a snapshot out to every wrapped Sink, in order. Used
// to drive both the bus (for external consumers) and a LogSink (for
// local visibility) from one controller wiring.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Update(snap pid.StatusSnapshot) {
	for _, s := range m.sinks {
		s.Update(snap)
	}
}
