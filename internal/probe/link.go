package probe

import (
	"context"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/pitctl/pitctl/internal/errcode"
)

// ConnectTimeout is how long a probe has to become addressable before
// a connection attempt is abandoned.
const ConnectTimeout = 12 * time.Second

var (
	vendorServiceUUID  = bluetooth.MustParseUUID("a75cc7fc-c956-488f-ac2a-2dbc08b63a04")
	tempCharUUID       = bluetooth.MustParseUUID("7edda774-045e-4bbf-909b-45d1991a2876")
	batteryCharUUID    = bluetooth.MustParseUUID("2adb4877-68d8-4884-bd3c-d83853bf27b8")
	deviceInfoSvcUUID  = bluetooth.MustParseUUID("0000180a-0000-1000-8000-00805f9b34fb")
	firmwareCharUUID   = bluetooth.MustParseUUID("00002a26-0000-1000-8000-00805f9b34fb")
)

// GattLink is the narrow surface the manager and poller need from a
// connected BLE device, abstracted the way the teacher's halcore.I2CBusFactory
// abstracts an I2C bus: a real implementation wraps
// tinygo.org/x/bluetooth, a fake drives tests without hardware.
type GattLink interface {
	ReadFirmware(ctx context.Context) (string, error)
	ReadTemperature(ctx context.Context) ([]byte, error)
	ReadBattery(ctx context.Context) ([]byte, error)
	Disconnect() error
}

// Adapter is the narrow surface the manager needs from a BLE central
// adapter: enable, scan, and connect-with-timeout.
type Adapter interface {
	Enable() error
	Scan(ctx context.Context, onDiscover func(addr MacAddr)) error
	StopScan() error
	Connect(ctx context.Context, addr MacAddr, timeout time.Duration) (GattLink, error)
}

// btAdapter is the production Adapter backed by tinygo.org/x/bluetooth's
// BlueZ-over-dbus central role, the same package carsonmcdonald's probe
// monitor uses for advertisement scanning; this module additionally
// drives the GATT connect/discover/read path scanning alone doesn't need.
type btAdapter struct {
	adapter *bluetooth.Adapter
}

// NewDefaultAdapter wraps bluetooth.DefaultAdapter.
func NewDefaultAdapter() Adapter {
	return &btAdapter{adapter: bluetooth.DefaultAdapter}
}

func (a *btAdapter) Enable() error {
	return a.adapter.Enable()
}

func (a *btAdapter) Scan(ctx context.Context, onDiscover func(addr MacAddr)) error {
	go func() {
		<-ctx.Done()
		_ = a.adapter.StopScan()
	}()
	return a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		onDiscover(MacAddr(result.Address.String()))
	})
}

func (a *btAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *btAdapter) Connect(ctx context.Context, addr MacAddr, timeout time.Duration) (GattLink, error) {
	mac, err := bluetooth.ParseMAC(string(addr))
	if err != nil {
		return nil, &errcode.E{C: errcode.ConnectTimeout, Op: "Connect", Err: err}
	}
	bleAddr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := a.adapter.Connect(bleAddr, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	select {
	case <-cctx.Done():
		return nil, &errcode.E{C: errcode.ConnectTimeout, Op: "Connect"}
	case r := <-ch:
		if r.err != nil {
			return nil, &errcode.E{C: errcode.ConnectTimeout, Op: "Connect", Err: r.err}
		}
		return newBtGattLink(r.dev), nil
	}
}

// btGattLink wraps a connected bluetooth.Device, resolving the vendor
// and device-info services/characteristics once and caching them for
// subsequent reads.
type btGattLink struct {
	dev      bluetooth.Device
	firmware *bluetooth.DeviceCharacteristic
	temp     *bluetooth.DeviceCharacteristic
	battery  *bluetooth.DeviceCharacteristic
}

func newBtGattLink(dev bluetooth.Device) *btGattLink {
	return &btGattLink{dev: dev}
}

func (l *btGattLink) discover() error {
	if l.firmware == nil {
		svcs, err := l.dev.DiscoverServices([]bluetooth.UUID{deviceInfoSvcUUID})
		if err != nil || len(svcs) == 0 {
			return &errcode.E{C: errcode.AdapterFailure, Op: "DiscoverServices(deviceInfo)", Err: err}
		}
		chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{firmwareCharUUID})
		if err != nil || len(chars) == 0 {
			return &errcode.E{C: errcode.AdapterFailure, Op: "DiscoverCharacteristics(firmware)", Err: err}
		}
		l.firmware = &chars[0]
	}
	if l.temp == nil || l.battery == nil {
		svcs, err := l.dev.DiscoverServices([]bluetooth.UUID{vendorServiceUUID})
		if err != nil || len(svcs) == 0 {
			return &errcode.E{C: errcode.AdapterFailure, Op: "DiscoverServices(vendor)", Err: err}
		}
		chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{tempCharUUID, batteryCharUUID})
		if err != nil || len(chars) < 2 {
			return &errcode.E{C: errcode.AdapterFailure, Op: "DiscoverCharacteristics(vendor)", Err: err}
		}
		for i := range chars {
			switch chars[i].UUID() {
			case tempCharUUID:
				l.temp = &chars[i]
			case batteryCharUUID:
				l.battery = &chars[i]
			}
		}
		if l.temp == nil || l.battery == nil {
			return &errcode.E{C: errcode.AdapterFailure, Op: "DiscoverCharacteristics(vendor)"}
		}
	}
	return nil
}

func (l *btGattLink) ReadFirmware(ctx context.Context) (string, error) {
	if err := l.discover(); err != nil {
		return "", err
	}
	buf := make([]byte, 32)
	n, err := l.firmware.Read(buf)
	if err != nil {
		return "", &errcode.E{C: errcode.Disconnected, Op: "ReadFirmware", Err: err}
	}
	return string(buf[:n]), nil
}

func (l *btGattLink) ReadTemperature(ctx context.Context) ([]byte, error) {
	if err := l.discover(); err != nil {
		return nil, err
	}
	buf := make([]byte, 6)
	n, err := l.temp.Read(buf)
	if err != nil {
		return nil, &errcode.E{C: errcode.Disconnected, Op: "ReadTemperature", Err: err}
	}
	return buf[:n], nil
}

func (l *btGattLink) ReadBattery(ctx context.Context) ([]byte, error) {
	if err := l.discover(); err != nil {
		return nil, err
	}
	buf := make([]byte, 2)
	n, err := l.battery.Read(buf)
	if err != nil {
		return nil, &errcode.E{C: errcode.Disconnected, Op: "ReadBattery", Err: err}
	}
	return buf[:n], nil
}

func (l *btGattLink) Disconnect() error {
	return l.dev.Disconnect()
}
