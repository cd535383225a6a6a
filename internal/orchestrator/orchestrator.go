// Package orchestrator owns the Probe Manager, the Pit Controller, the
// motor driver, and the display sink, and wires probe events into the
// controller and controller outputs into the motor/display, the way
// the teacher's main.go sequences its services' Start/Stop calls
// against a shared context rather than letting each service manage its
// own lifecycle independently.
package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pitctl/pitctl/internal/display"
	"github.com/pitctl/pitctl/internal/motor"
	"github.com/pitctl/pitctl/internal/pid"
	"github.com/pitctl/pitctl/internal/probe"
)

// Orchestrator is the top-level object the entry point constructs and
// runs until the context is cancelled.
type Orchestrator struct {
	probes      *probe.Manager
	controller  *pid.Controller
	motorDrv    motor.Driver
	displaySink display.Sink
	log         *logrus.Entry
}

// New wires the given components together without starting anything.
func New(probes *probe.Manager, controller *pid.Controller, motorDrv motor.Driver, displaySink display.Sink, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		probes:      probes,
		controller:  controller,
		motorDrv:    motorDrv,
		displaySink: displaySink,
		log:         log,
	}
}

// controllerSink adapts pid.Sink onto the motor driver and display
// sink, so the controller package stays free of both dependencies.
type controllerSink struct {
	motorDrv    motor.Driver
	displaySink display.Sink
	log         *logrus.Entry
}

func (s *controllerSink) Fan(pct uint8) {
	if err := s.motorDrv.SetFan(pct, false); err != nil && s.log != nil {
		s.log.WithError(err).Error("set_fan failed")
	}
}

func (s *controllerSink) Servo(pct uint8) {
	if err := s.motorDrv.SetDamper(pct); err != nil && s.log != nil {
		s.log.WithError(err).Error("set_damper failed")
	}
}

func (s *controllerSink) Status(snap pid.StatusSnapshot) {
	s.displaySink.Update(snap)
}

// Run starts the Probe Manager, drives the controller's 250ms tick,
// and routes probe events into the controller until ctx is cancelled,
// then performs the ordered shutdown: fan to 0, probe manager stopped
// and destroyed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.probes.Start(ctx); err != nil {
		return err
	}

	sink := &controllerSink{motorDrv: o.motorDrv, displaySink: o.displaySink, log: o.log}

	ticker := time.NewTicker(pid.DoWorkPeriod)
	defer ticker.Stop()

	events := o.probes.Events()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil

		case ev := <-events:
			switch ev.Kind {
			case probe.EventUpdate:
				o.controller.UpdateProbe(ev.Reading)
			case probe.EventDisconnect:
				o.controller.RemoveProbe(ev.Address)
			case probe.EventConnect, probe.EventConnectFailed:
				if o.log != nil {
					o.log.WithField("address", ev.Address).Debug("probe event")
				}
			}

		case now := <-ticker.C:
			o.controller.Tick(now, sink)
		}
	}
}

// shutdown forces the fan off, then stops and destroys the probe
// manager, matching the documented termination sequence.
func (o *Orchestrator) shutdown() {
	if err := o.motorDrv.SetFan(0, false); err != nil && o.log != nil {
		o.log.WithError(err).Error("shutdown: set_fan(0) failed")
	}
	o.probes.Stop()
	o.probes.Destroy()
}
