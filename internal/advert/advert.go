package advert

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"beaconwatch/internal/model"
)

// Proximity beacon manufacturer record: company id 0x004C (little
// endian on the wire), record type 0x02, payload length 0x15, then
// 16-byte UUID, big-endian major and minor, and a signed one-byte
// calibrated transmit power.
const (
	recordLen = 25

	companyLo  = 0x4C
	companyHi  = 0x00
	recordType = 0x02
	dataLen    = 0x15
)

// Decode parses one raw advertisement payload. The frame is matched
// against the exact record layout; anything else returns ok=false and is
// dropped by the caller. No partial decoding is attempted, so unrelated
// manufacturer records cannot be misread as beacons.
func Decode(payload []byte, rssi int, ts time.Time) (model.Sighting, bool) {
	if len(payload) != recordLen {
		return model.Sighting{}, false
	}
	if payload[0] != companyLo || payload[1] != companyHi ||
		payload[2] != recordType || payload[3] != dataLen {
		return model.Sighting{}, false
	}
	var u uuid.UUID
	copy(u[:], payload[4:20])
	return model.Sighting{
		Identity: model.Identity{
			UUID:  u,
			Major: binary.BigEndian.Uint16(payload[20:22]),
			Minor: binary.BigEndian.Uint16(payload[22:24]),
		},
		RSSI:      rssi,
		TxPower:   int(int8(payload[24])),
		Timestamp: ts,
	}, true
}

// Encode builds the wire record for an identity. Used by tests and by
// feed simulators.
func Encode(id model.Identity, txPower int) []byte {
	out := make([]byte, recordLen)
	out[0] = companyLo
	out[1] = companyHi
	out[2] = recordType
	out[3] = dataLen
	copy(out[4:20], id.UUID[:])
	binary.BigEndian.PutUint16(out[20:22], id.Major)
	binary.BigEndian.PutUint16(out[22:24], id.Minor)
	out[24] = byte(int8(txPower))
	return out
}
