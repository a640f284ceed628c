package scan

import (
	"encoding/hex"
	"testing"
	"time"
)

func TestParseFrame(t *testing.T) {
	payload := "4c000215e2c56db5dffb48d2b060d0f5a71096e000010064c5"
	line := `{"payload":"` + payload + `","rssi":-67,"timestamp":"2026-08-25T10:00:00Z"}`
	frame, err := ParseFrame([]byte(line), "test")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want, _ := hex.DecodeString(payload)
	if len(frame.Payload) != len(want) {
		t.Fatalf("payload length: %d", len(frame.Payload))
	}
	if frame.RSSI != -67 {
		t.Fatalf("rssi: %d", frame.RSSI)
	}
	expected := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if !frame.Timestamp.Equal(expected) {
		t.Fatalf("timestamp: %s", frame.Timestamp)
	}
	if frame.Source != "test" {
		t.Fatalf("source: %s", frame.Source)
	}
}

func TestParseFrameDefaultsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	frame, err := ParseFrame([]byte(`{"payload":"4c00","rssi":-50}`), "test")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if frame.Timestamp.Before(before.Add(-time.Second)) {
		t.Fatalf("missing timestamp not defaulted to now")
	}
}

func TestParseFrameRejectsGarbage(t *testing.T) {
	cases := []string{
		`not json`,
		`{"rssi":-50}`,
		`{"payload":"zz","rssi":-50}`,
		`{"payload":"","rssi":-50}`,
	}
	for _, line := range cases {
		if _, err := ParseFrame([]byte(line), "test"); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}
