package probe

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pitctl/pitctl/internal/units"
)

// MaxConnectionFailures is the cumulative ConnectFailed count (reset
// only when a restart is triggered) above which the manager schedules a
// restart of itself.
const MaxConnectionFailures = 10

// SupervisoryPeriod is the discovery/health-check tick rate.
const SupervisoryPeriod = time.Second

// Manager discovers, connects, and polls every eligible probe, and
// restarts its own discovery loop when the connection failure rate
// gets too high. It is the BLE analogue of the teacher's hal.service:
// one supervisory loop owning a map of live workers, fed by a single
// events channel so the controller task never touches probe state
// directly.
type Manager struct {
	adapter Adapter
	log     *logrus.Entry
	unit    func() units.TempUnit

	events chan Event

	mu          sync.Mutex
	blacklist   map[MacAddr]bool
	tracked     map[MacAddr]*trackedProbe
	failures    int
	running     bool
	cancelScan  context.CancelFunc
	restartChan chan struct{}
}

type trackedProbe struct {
	state  State
	cancel context.CancelFunc
}

// NewManager constructs a Manager. unit is called once per poll cycle
// so a live unit change is picked up without restarting probes.
func NewManager(adapter Adapter, unit func() units.TempUnit, log *logrus.Entry) *Manager {
	return &Manager{
		adapter:     adapter,
		log:         log,
		unit:        unit,
		events:      make(chan Event, 32),
		blacklist:   map[MacAddr]bool{},
		tracked:     map[MacAddr]*trackedProbe{},
		restartChan: make(chan struct{}, 1),
	}
}

// Events returns the channel the orchestrator reads probe events from.
func (m *Manager) Events() <-chan Event { return m.events }

// Start acquires the adapter, begins discovery, and schedules the
// supervisory tick. Safe to call again after Stop.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.adapter.Enable(); err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelScan = cancel
	m.running = true
	m.mu.Unlock()

	go func() {
		_ = m.adapter.Scan(scanCtx, func(addr MacAddr) {
			m.onDiscover(ctx, addr)
		})
	}()

	go m.superviseLoop(ctx)
	return nil
}

// Stop halts discovery; already-connected probes keep streaming until
// they naturally disconnect.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelScan != nil {
		m.cancelScan()
		m.cancelScan = nil
	}
	m.running = false
}

// Restart stops, waits one supervisory tick, then starts again. The
// in-memory set of already-connected probes is untouched.
func (m *Manager) Restart(ctx context.Context) {
	m.Stop()
	go func() {
		time.Sleep(SupervisoryPeriod)
		_ = m.Start(ctx)
	}()
}

// Destroy releases adapter resources. The manager is not usable after.
func (m *Manager) Destroy() {
	m.Stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tp := range m.tracked {
		tp.cancel()
	}
	m.tracked = map[MacAddr]*trackedProbe{}
}

// Blacklist and Whitelist mutate the skip-list consulted on every
// discovery pass. Calling Blacklist(x) then Whitelist(x) leaves
// membership unchanged.
func (m *Manager) Blacklist(mac MacAddr) {
	m.mu.Lock()
	m.blacklist[mac] = true
	m.mu.Unlock()
}

func (m *Manager) Whitelist(mac MacAddr) {
	m.mu.Lock()
	delete(m.blacklist, mac)
	m.mu.Unlock()
}

func (m *Manager) isBlacklisted(mac MacAddr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklist[mac]
}

func eligible(mac MacAddr) bool {
	return mac.OUI() == VendorOUI
}

func (m *Manager) onDiscover(ctx context.Context, addr MacAddr) {
	if !eligible(addr) || m.isBlacklisted(addr) {
		return
	}
	m.mu.Lock()
	if _, ok := m.tracked[addr]; ok {
		m.mu.Unlock()
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)
	m.tracked[addr] = &trackedProbe{state: StateConnecting, cancel: cancel}
	m.mu.Unlock()

	go m.connectAndStream(probeCtx, addr)
}

// connectAndStream runs the full per-probe connection protocol and, on
// success, the steady-state poller, until probeCtx is cancelled or the
// probe disconnects.
func (m *Manager) connectAndStream(probeCtx context.Context, addr MacAddr) {
	link, err := m.adapter.Connect(probeCtx, addr, ConnectTimeout)
	if err != nil {
		m.recordConnectFailure(addr)
		m.events <- Event{Kind: EventConnectFailed, Address: addr}
		return
	}

	firmware, probeIndex, err := m.readIdentity(probeCtx, link)
	if err != nil {
		m.recordConnectFailure(addr)
		m.events <- Event{Kind: EventConnectFailed, Address: addr}
		_ = link.Disconnect()
		return
	}

	m.setState(addr, StateInitialized)
	m.events <- Event{Kind: EventConnect, Address: addr}
	m.setState(addr, StateStreaming)

	alreadyEmitted := runPoller(probeCtx, addr, probeIndex, firmware, link, m.unit, m.events)

	m.setState(addr, StateDisconnected)
	if !alreadyEmitted {
		m.events <- Event{Kind: EventDisconnect, Address: addr}
	}
	m.untrack(addr)
	_ = link.Disconnect()
}

func (m *Manager) readIdentity(ctx context.Context, link GattLink) (firmware string, probeIndex uint8, err error) {
	raw, err := link.ReadFirmware(ctx)
	if err != nil {
		return "", 0, err
	}
	return decodeFirmware(raw)
}

func (m *Manager) setState(addr MacAddr, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp, ok := m.tracked[addr]; ok {
		tp.state = s
	}
}

func (m *Manager) untrack(addr MacAddr) {
	m.mu.Lock()
	delete(m.tracked, addr)
	m.mu.Unlock()
}

func (m *Manager) recordConnectFailure(addr MacAddr) {
	m.mu.Lock()
	m.failures++
	over := m.failures > MaxConnectionFailures
	delete(m.tracked, addr)
	m.mu.Unlock()
	if over {
		select {
		case m.restartChan <- struct{}{}:
		default:
		}
	}
}

// superviseLoop watches for the connection-failure threshold being
// crossed and schedules a restart one tick later, resetting the
// counter the way the spec requires.
func (m *Manager) superviseLoop(ctx context.Context) {
	ticker := time.NewTicker(SupervisoryPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.restartChan:
			m.mu.Lock()
			m.failures = 0
			m.mu.Unlock()
			if m.log != nil {
				m.log.Warn("probe manager restarting after connection failure threshold")
			}
			m.Restart(ctx)
		}
	}
}
