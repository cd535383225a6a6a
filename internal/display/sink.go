// Package display renders StatusSnapshot values to whatever shows the
// pit operator live state. Framebuffer rendering, fonts, and charts are
// treated as external collaborators; this package only defines the
// consumption contract and a structured-logging adapter that doubles
// as a reference implementation and a test/headless fallback.
package display

import (
	"github.com/sirupsen/logrus"

	"github.com/pitctl/pitctl/internal/pid"
)

// Sink is the status consumer the orchestrator wires the controller
// to. A framebuffer UI would implement this against its own render
// loop; LogSink below satisfies it with structured log lines.
type Sink interface {
	Update(s pid.StatusSnapshot)
}

// LogSink logs every status snapshot at Info level via logrus, mirroring
// the teacher's structured-field logging convention everywhere else in
// this module. cmd/pitctl always wires it alongside BusSink.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink constructs a LogSink. A nil log silently drops updates.
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Update(snap pid.StatusSnapshot) {
	if s.log == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		"mode":        snap.Mode.String(),
		"set_point":   snap.SetPoint,
		"pit_temp":    snap.FusedTemp,
		"unit":        snap.Unit.String(),
		"fan_pct":     snap.FanSpeed,
		"servo_pct":   snap.ServoPos,
		"lid_open":    snap.LidOpen,
		"num_probes":  snap.ProbeCount,
		"i_term":      snap.ErrorIntegral,
	}).Info("status")
}
