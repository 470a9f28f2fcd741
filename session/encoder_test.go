package session

import (
	"testing"
	"time"
)

func TestEncodeDecodeSnapshot(t *testing.T) {
	in := &Snapshot{
		SessionID:      "sid-1",
		UserID:         "user-1",
		Active:         true,
		LastActivityAt: time.UnixMilli(1700000000123),
		ExpiresAt:      time.UnixMilli(1700000900123),
	}
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID != in.SessionID || out.UserID != in.UserID || !out.Active {
		t.Fatalf("mismatch: %+v", out)
	}
	if !out.ExpiresAt.Equal(in.ExpiresAt) || !out.LastActivityAt.Equal(in.LastActivityAt) {
		t.Fatalf("timestamps mismatch: %+v", out)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	raw, _ := Encode(&Snapshot{SessionID: "s", UserID: "u"})
	raw[0] = CurrentSchemaVersion + 1
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected version error")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	raw, _ := Encode(&Snapshot{SessionID: "s", UserID: "u"})
	if _, err := Decode(append(raw, 0)); err == nil {
		t.Fatal("expected trailing bytes error")
	}
}

// FuzzSnapshotDecode feeds arbitrary bytes to the decoder. It must never panic.
func FuzzSnapshotDecode(f *testing.F) {
	raw, err := Encode(&Snapshot{SessionID: "sid-fuzz", UserID: "user", Active: true, ExpiresAt: time.UnixMilli(1700003600000)})
	if err == nil {
		f.Add(raw)
		f.Add(raw[:len(raw)/2])
	}
	f.Add([]byte{})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{255, 255, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		snap, err := Decode(data)
		if err == nil && snap == nil {
			t.Fatal("nil snapshot without error")
		}
	})
}
