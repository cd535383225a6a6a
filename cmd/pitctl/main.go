// Command pitctl is the smoker pit controller's process entry point: it
// loads configuration, wires the probe manager, pit controller, motor
// driver, and display sink together through the Orchestrator, and runs
// until a termination signal triggers the documented ordered shutdown.
// The overall shape — acquire hardware, start services, select on a
// cancellable context — follows the teacher's main.go bus/service
// bootstrap, adapted from a TinyGo MCU image to a single Linux process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"

	"github.com/pitctl/pitctl/internal/bus"
	"github.com/pitctl/pitctl/internal/config"
	"github.com/pitctl/pitctl/internal/display"
	"github.com/pitctl/pitctl/internal/motor"
	"github.com/pitctl/pitctl/internal/orchestrator"
	"github.com/pitctl/pitctl/internal/pid"
	"github.com/pitctl/pitctl/internal/probe"
	"github.com/pitctl/pitctl/internal/units"
)

func main() {
	configPath := flag.String("config", "", "path to JSON configuration file")
	i2cBus := flag.String("i2c", "", "I2C bus to use for the PCA9685 (empty = first available)")
	selftest := flag.Bool("selftest", false, "sweep fan/damper 0->100->0 without the control loop, then exit")
	flag.Parse()

	log := newLogger()

	if _, err := host.Init(); err != nil {
		log.WithError(err).Fatal("periph host init failed")
	}

	i2cDev, err := i2creg.Open(*i2cBus)
	if err != nil {
		log.WithError(err).Fatal("open i2c bus failed")
	}
	defer i2cDev.Close()

	motorDrv, err := motor.NewPCA9685Driver(i2cDev)
	if err != nil {
		log.WithError(err).Fatal("motor driver init failed")
	}

	if *selftest {
		runSelftest(log, motorDrv)
		return
	}

	cfg, err := config.Load(*configPath, log.WithField("component", "config"))
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	controller := pid.NewController(cfg.PidSettings())

	probeAdapter := probe.NewDefaultAdapter()
	probeMgr := probe.NewManager(probeAdapter, func() units.TempUnit { return cfg.UnitTag() }, log.WithField("component", "probe"))

	msgBus := bus.NewBus()
	displayConn := msgBus.NewConnection("display")
	statusSink := display.NewMultiSink(
		display.NewBusSink(displayConn),
		display.NewLogSink(log.WithField("component", "display")),
	)

	orch := orchestrator.New(probeMgr, controller, motorDrv, statusSink, log.WithField("component", "orchestrator"))

	log.WithFields(logrus.Fields{
		"set_point": cfg.SetPoint,
		"units":     cfg.Units,
	}).Info("pitctl starting")

	if err := orch.Run(ctx); err != nil {
		log.WithError(err).Fatal("orchestrator exited with error")
	}
	log.Info("pitctl stopped")
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("app", "pitctl")
}

// runSelftest drives the motor driver through a fixed fan/damper sweep,
// independent of the control loop, so wiring can be validated before a
// cook the way the teacher's cmd/boardtest exercises power rails before
// field deployment.
func runSelftest(log *logrus.Entry, drv motor.Driver) {
	log.Info("selftest: sweeping fan and damper 0 -> 100 -> 0")
	steps := []uint8{0, 25, 50, 75, 100, 75, 50, 25, 0}
	for _, pct := range steps {
		if err := drv.SetFan(pct, false); err != nil {
			log.WithError(err).WithField("pct", pct).Error("selftest: set_fan failed")
		}
		if err := drv.SetDamper(pct); err != nil {
			log.WithError(err).WithField("pct", pct).Error("selftest: set_damper failed")
		}
		log.WithField("pct", pct).Info("selftest: step")
		time.Sleep(500 * time.Millisecond)
	}
	log.Info("selftest: complete")
}
