package motor

import (
	"errors"
	"testing"

	"periph.io/x/periph/conn/physic"
)

// fakeChip is a pwmChip test double, grounded on the teacher's HostI2C
// pattern of recording the last call instead of talking to hardware.
type fakeChip struct {
	freqErr      error
	freqCalls    int
	fullOffCalls []int
	fullOnCalls  []int
	pwmCalls     []struct{ channel int; on, off uint16 }
}

func (f *fakeChip) SetPwmFreq(freq physic.Frequency) error {
	f.freqCalls++
	return f.freqErr
}

func (f *fakeChip) SetPwm(channel int, on, off uint16) error {
	f.pwmCalls = append(f.pwmCalls, struct {
		channel int
		on, off uint16
	}{channel, on, off})
	return nil
}

func (f *fakeChip) SetFullOff(channel int) error {
	f.fullOffCalls = append(f.fullOffCalls, channel)
	return nil
}

func (f *fakeChip) SetFullOn(channel int) error {
	f.fullOnCalls = append(f.fullOnCalls, channel)
	return nil
}

func newTestDriver(chip pwmChip) *PCA9685Driver {
	d := &PCA9685Driver{chip: chip}
	_ = d.initWithRetry()
	return d
}

func TestDriver_SetFanZeroIsFullOff(t *testing.T) {
	chip := &fakeChip{}
	d := newTestDriver(chip)

	if err := d.SetFan(0, false); err != nil {
		t.Fatalf("SetFan: %v", err)
	}
	if len(chip.fullOffCalls) != 1 || chip.fullOffCalls[0] != fanChannel {
		t.Fatalf("fullOffCalls = %v, want one call on channel %d", chip.fullOffCalls, fanChannel)
	}
}

func TestDriver_SetFanNonZeroUsesPwm(t *testing.T) {
	chip := &fakeChip{}
	d := newTestDriver(chip)

	if err := d.SetFan(50, false); err != nil {
		t.Fatalf("SetFan: %v", err)
	}
	if len(chip.pwmCalls) != 1 || chip.pwmCalls[0].channel != fanChannel {
		t.Fatalf("pwmCalls = %v, want one call on channel %d", chip.pwmCalls, fanChannel)
	}
}

func TestDriver_SetFanReversedInvertsDuty(t *testing.T) {
	forward := &fakeChip{}
	fd := newTestDriver(forward)
	_ = fd.SetFan(30, false)

	reversed := &fakeChip{}
	rd := newTestDriver(reversed)
	_ = rd.SetFan(30, true)

	if forward.pwmCalls[0].off == reversed.pwmCalls[0].off {
		t.Fatalf("expected reversed duty to differ from forward duty, both = %v", forward.pwmCalls[0].off)
	}
}

func TestDriver_SetDamperMapsToPulseRange(t *testing.T) {
	chip := &fakeChip{}
	d := newTestDriver(chip)

	if err := d.SetDamper(0); err != nil {
		t.Fatalf("SetDamper: %v", err)
	}
	if err := d.SetDamper(100); err != nil {
		t.Fatalf("SetDamper: %v", err)
	}
	if len(chip.pwmCalls) != 2 {
		t.Fatalf("pwmCalls = %d, want 2", len(chip.pwmCalls))
	}
	if chip.pwmCalls[1].off <= chip.pwmCalls[0].off {
		t.Fatalf("100%% open duty (%d) should exceed 0%% duty (%d)", chip.pwmCalls[1].off, chip.pwmCalls[0].off)
	}
}

func TestDriver_NotReadyRetriesThenFatal(t *testing.T) {
	chip := &fakeChip{freqErr: errors.New("not ready")}
	d := &PCA9685Driver{chip: chip}

	err := d.SetFan(50, false)
	if err == nil {
		t.Fatal("expected fatal init-timeout error")
	}
	if chip.freqCalls != initRetries {
		t.Fatalf("freqCalls = %d, want %d retries", chip.freqCalls, initRetries)
	}
}

func TestDriver_Initialized(t *testing.T) {
	chip := &fakeChip{}
	d := newTestDriver(chip)
	if !d.Initialized() {
		t.Fatal("expected Initialized() true after successful init")
	}
}
