package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pitctl/pitctl/internal/pid"
	"github.com/pitctl/pitctl/internal/probe"
	"github.com/pitctl/pitctl/internal/units"
)

// fakeAdapter drives probe.Manager without any real BLE stack.
type fakeAdapter struct{ ctxDone <-chan struct{} }

func (a *fakeAdapter) Enable() error { return nil }
func (a *fakeAdapter) Scan(ctx context.Context, onDiscover func(probe.MacAddr)) error {
	<-ctx.Done()
	return nil
}
func (a *fakeAdapter) StopScan() error { return nil }
func (a *fakeAdapter) Connect(ctx context.Context, addr probe.MacAddr, timeout time.Duration) (probe.GattLink, error) {
	return nil, context.DeadlineExceeded
}

type fakeMotor struct {
	mu       sync.Mutex
	fanCalls []uint8
}

func (m *fakeMotor) SetFan(pct uint8, reversed bool) error {
	m.mu.Lock()
	m.fanCalls = append(m.fanCalls, pct)
	m.mu.Unlock()
	return nil
}
func (m *fakeMotor) SetDamper(pct uint8) error { return nil }
func (m *fakeMotor) Initialized() bool         { return true }

type fakeDisplay struct {
	mu    sync.Mutex
	count int
}

func (d *fakeDisplay) Update(s pid.StatusSnapshot) {
	d.mu.Lock()
	d.count++
	d.mu.Unlock()
}

func TestOrchestrator_ShutdownForcesFanZero(t *testing.T) {
	mgr := probe.NewManager(&fakeAdapter{}, func() units.TempUnit { return units.Fahrenheit }, nil)
	ctrl := pid.NewController(pid.Settings{
		Gains:    pid.PidGains{P: 2.5, I: 0.0035, D: 6},
		Fan:      pid.FanSettings{MinSpeed: 30, MaxSpeed: 100, MaxStartupSpeed: 100, OnAbove: 10},
		Servo:    pid.ServoSettings{MinPosition: 0, MaxPosition: 100},
		Lid:      pid.LidSettings{OpenOffsetPct: 0, OpenDurationS: 90},
		SetPoint: 225,
		Unit:     units.Fahrenheit,
	})
	motorDrv := &fakeMotor{}
	displaySink := &fakeDisplay{}

	o := New(mgr, ctrl, motorDrv, displaySink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	motorDrv.mu.Lock()
	defer motorDrv.mu.Unlock()
	if len(motorDrv.fanCalls) == 0 || motorDrv.fanCalls[len(motorDrv.fanCalls)-1] != 0 {
		t.Fatalf("fanCalls = %v, want last call to be 0 on shutdown", motorDrv.fanCalls)
	}
}

func TestOrchestrator_TicksDriveStatusUpdates(t *testing.T) {
	mgr := probe.NewManager(&fakeAdapter{}, func() units.TempUnit { return units.Fahrenheit }, nil)
	ctrl := pid.NewController(pid.Settings{
		Gains:    pid.PidGains{P: 2.5, I: 0.0035, D: 6},
		Fan:      pid.FanSettings{MinSpeed: 30, MaxSpeed: 100, MaxStartupSpeed: 100, OnAbove: 10},
		Servo:    pid.ServoSettings{MinPosition: 0, MaxPosition: 100},
		Lid:      pid.LidSettings{OpenOffsetPct: 0, OpenDurationS: 90},
		SetPoint: 225,
		Unit:     units.Fahrenheit,
	})
	motorDrv := &fakeMotor{}
	displaySink := &fakeDisplay{}
	o := New(mgr, ctrl, motorDrv, displaySink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	time.Sleep(1200 * time.Millisecond)
	cancel()
	<-done

	displaySink.mu.Lock()
	defer displaySink.mu.Unlock()
	if displaySink.count == 0 {
		t.Fatal("expected at least one status update from the tick loop")
	}
}
