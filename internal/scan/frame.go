package scan

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Gateways post frames as JSON lines/messages:
//
//	{"payload":"4c000215...","rssi":-67,"timestamp":"2026-08-25T10:00:00Z"}
//
// payload is the hex-encoded manufacturer record. timestamp is optional;
// a missing or unparseable one is replaced with the receive time, since
// gateway clocks are not trusted further than that.
type wireFrame struct {
	Payload   string `json:"payload"`
	RSSI      int    `json:"rssi"`
	Timestamp string `json:"timestamp"`
}

// ParseFrame decodes one gateway message. Errors here mean a malformed
// message, which callers drop without surfacing further.
func ParseFrame(data []byte, source string) (RawFrame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return RawFrame{}, err
	}
	payload := strings.TrimSpace(wf.Payload)
	if payload == "" {
		return RawFrame{}, errors.New("frame payload is empty")
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return RawFrame{}, err
	}
	ts := time.Now().UTC()
	if wf.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, wf.Timestamp); err == nil {
			ts = parsed.UTC()
		} else if parsed, err := time.Parse(time.RFC3339, wf.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}
	return RawFrame{
		Payload:   raw,
		RSSI:      wf.RSSI,
		Timestamp: ts,
		Source:    source,
	}, nil
}
