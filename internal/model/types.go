package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identity names a beacon. Two sightings belong to the same beacon iff
// all three fields are equal. The struct is comparable and is used as a
// map key by the tracker.
type Identity struct {
	UUID  uuid.UUID `json:"uuid"`
	Major uint16    `json:"major"`
	Minor uint16    `json:"minor"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%d/%d", id.UUID, id.Major, id.Minor)
}

// Sighting is one decoded advertisement frame. Ephemeral, one per
// received radio frame.
type Sighting struct {
	Identity  Identity  `json:"identity"`
	RSSI      int       `json:"rssi"`
	TxPower   int       `json:"tx_power"`
	Timestamp time.Time `json:"timestamp"`
}

// BeaconSnapshot is an immutable copy of a tracked beacon, as returned
// by the tracker's snapshot query and carried in discovery notifications.
type BeaconSnapshot struct {
	Identity  Identity  `json:"identity"`
	RSSI      int       `json:"rssi"`
	Distance  float64   `json:"distance_m"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type ZoneState string

const (
	ZoneUnknown ZoneState = "unknown"
	ZoneOutside ZoneState = "outside"
	ZoneInside  ZoneState = "inside"
)

type EventKind string

const (
	EventEnter EventKind = "enter"
	EventExit  EventKind = "exit"
	EventDwell EventKind = "dwell"
)

// ZoneEvent describes one zone transition.
type ZoneEvent struct {
	Kind      EventKind `json:"kind"`
	ZoneID    string    `json:"zone_id"`
	ZoneName  string    `json:"zone_name"`
	Identity  Identity  `json:"identity"`
	Distance  float64   `json:"distance_m"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneStatus is the monitor's runtime view of one zone.
type ZoneStatus struct {
	ZoneID     string    `json:"zone_id"`
	State      ZoneState `json:"state"`
	Matched    *Identity `json:"matched,omitempty"`
	Distance   float64   `json:"distance_m"`
	EnteredAt  time.Time `json:"entered_at,omitzero"`
	LastUpdate time.Time `json:"last_update,omitzero"`
}
