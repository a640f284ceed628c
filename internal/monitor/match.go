package monitor

import (
	"github.com/google/uuid"

	"beaconwatch/internal/config"
	"beaconwatch/internal/model"
)

// pattern is a zone's compiled identity filter: UUID is required,
// major/minor are wildcards when nil.
type pattern struct {
	uuid  uuid.UUID
	major *uint16
	minor *uint16
}

func compilePattern(cfg config.ZoneConfig) (pattern, error) {
	u, err := uuid.Parse(cfg.UUID)
	if err != nil {
		return pattern{}, err
	}
	return pattern{uuid: u, major: cfg.Major, minor: cfg.Minor}, nil
}

func (p pattern) equal(o pattern) bool {
	if p.uuid != o.uuid {
		return false
	}
	return eqWildcard(p.major, o.major) && eqWildcard(p.minor, o.minor)
}

func eqWildcard(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (p pattern) matches(id model.Identity) bool {
	if id.UUID != p.uuid {
		return false
	}
	if p.major != nil && *p.major != id.Major {
		return false
	}
	if p.minor != nil && *p.minor != id.Minor {
		return false
	}
	return true
}

// bestMatch picks the zone's driver from a snapshot: nearest smoothed
// distance wins. Equal distances resolve by identity order so repeated
// evaluations over the same snapshot are deterministic.
func bestMatch(p pattern, snapshot []model.BeaconSnapshot) (model.BeaconSnapshot, bool) {
	var best model.BeaconSnapshot
	found := false
	for _, b := range snapshot {
		if !p.matches(b.Identity) {
			continue
		}
		if !found || b.Distance < best.Distance {
			best = b
			found = true
		}
	}
	return best, found
}
