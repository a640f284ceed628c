package advert

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"beaconwatch/internal/model"
)

var testUUID = uuid.MustParse("e2c56db5-dffb-48d2-b060-d0f5a71096e0")

func testPayload(t *testing.T) []byte {
	t.Helper()
	return Encode(model.Identity{UUID: testUUID, Major: 1, Minor: 100}, -59)
}

func TestDecodeWellFormed(t *testing.T) {
	ts := time.Now().UTC()
	sighting, ok := Decode(testPayload(t), -67, ts)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if sighting.Identity.UUID != testUUID {
		t.Fatalf("uuid: %s", sighting.Identity.UUID)
	}
	if sighting.Identity.Major != 1 || sighting.Identity.Minor != 100 {
		t.Fatalf("major/minor: %d/%d", sighting.Identity.Major, sighting.Identity.Minor)
	}
	if sighting.TxPower != -59 {
		t.Fatalf("tx power: %d", sighting.TxPower)
	}
	if sighting.RSSI != -67 {
		t.Fatalf("rssi: %d", sighting.RSSI)
	}
	if !sighting.Timestamp.Equal(ts) {
		t.Fatalf("timestamp not preserved")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good := testPayload(t)
	cases := map[string][]byte{
		"empty":         {},
		"truncated":     good[:24],
		"oversized":     append(append([]byte{}, good...), 0x00),
		"wrong company": append([]byte{0x4C, 0x01}, good[2:]...),
		"wrong type":    append([]byte{0x4C, 0x00, 0x03}, good[3:]...),
		"wrong length":  append([]byte{0x4C, 0x00, 0x02, 0x14}, good[4:]...),
	}
	for name, payload := range cases {
		if _, ok := Decode(payload, -60, time.Now()); ok {
			t.Fatalf("%s: expected decode to fail", name)
		}
	}
}

func TestDistanceMonotonicWithWeakerSignal(t *testing.T) {
	const txPower = -59
	prev := -1.0
	for rssi := -40; rssi >= -100; rssi-- {
		d := Distance(rssi, txPower)
		if d < 0 {
			t.Fatalf("negative distance at rssi %d", rssi)
		}
		if d < prev {
			t.Fatalf("distance decreased at rssi %d: %f < %f", rssi, d, prev)
		}
		prev = d
	}
}

func TestDistanceNearFieldBranch(t *testing.T) {
	// Stronger signal than the calibrated power means sub-meter range.
	d := Distance(-40, -59)
	if d <= 0 || d >= 1 {
		t.Fatalf("expected sub-meter distance, got %f", d)
	}
}

func TestDistanceDegenerateSamples(t *testing.T) {
	if d := Distance(0, -59); d != 0 {
		t.Fatalf("zero rssi: %f", d)
	}
	if d := Distance(-60, 0); d != 0 {
		t.Fatalf("zero tx power: %f", d)
	}
}
