package probe

import (
	"encoding/binary"
	"testing"
)

func u16le(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func tempBytes(tipRaw, ra, oa uint16) []byte {
	b := make([]byte, 6)
	copy(b[0:2], u16le(tipRaw))
	copy(b[2:4], u16le(ra))
	copy(b[4:6], u16le(oa))
	return b
}

func TestDecodeTemp_Idempotent(t *testing.T) {
	b := tempBytes(1600, 800, 40)
	tip1, amb1, err := decodeTemp(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tip2, amb2, err := decodeTemp(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tip1 != tip2 || amb1 != amb2 {
		t.Fatalf("decode not idempotent: (%v,%v) != (%v,%v)", tip1, amb1, tip2, amb2)
	}
}

func TestDecodeTemp_TooShort(t *testing.T) {
	_, _, err := decodeTemp([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDecodeTemp_AmbientCorrection(t *testing.T) {
	// oa < 48, so capped = oa = 40: delta = max(0, 800-40) = 760.
	// ambientRaw = 1600 + 760*16*589/1487 = 1600 + 7162240/1487 = 1600+4816 = 6416 (integer division)
	tipC, ambC, err := decodeTemp(tempBytes(1600, 800, 40))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantTip := rawToCelsius(1600)
	if tipC != wantTip {
		t.Errorf("tipC = %v, want %v", tipC, wantTip)
	}
	if ambC <= tipC {
		t.Errorf("ambient correction should raise ambient above tip-only reading when ra > oa: got %v <= %v", ambC, tipC)
	}
}

func TestDecodeBattery_ClampsAbove100(t *testing.T) {
	pct, err := decodeBattery(u16le(15)) // 15*10 = 150 -> clamp 100
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 100 {
		t.Errorf("battery = %d, want 100", pct)
	}
}

func TestDecodeBattery_Normal(t *testing.T) {
	pct, err := decodeBattery(u16le(8)) // 8*10 = 80
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 80 {
		t.Errorf("battery = %d, want 80", pct)
	}
}

func TestDecodeFirmware(t *testing.T) {
	fw, idx, err := decodeFirmware("1.4.2_3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fw != "1.4.2" || idx != 3 {
		t.Errorf("got (%q, %d), want (\"1.4.2\", 3)", fw, idx)
	}
}

func TestDecodeFirmware_NoUnderscore(t *testing.T) {
	_, _, err := decodeFirmware("badformat")
	if err == nil {
		t.Fatal("expected error for missing separator")
	}
}

func TestDecodeFirmware_OutOfRangeIndex(t *testing.T) {
	_, _, err := decodeFirmware("1.0_9")
	if err == nil {
		t.Fatal("expected error for out-of-range probe index")
	}
}
