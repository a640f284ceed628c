package advert

import "math"

// Distance converts an RSSI sample and the beacon's calibrated transmit
// power into a meter estimate using the standard path-loss ratio model.
// The estimate has large variance at short range; callers smooth it with
// a per-beacon filter before comparing against thresholds.
func Distance(rssi, txPower int) float64 {
	if rssi >= 0 || txPower >= 0 {
		// Degenerate sample; both values are negative dBm in practice.
		return 0
	}
	ratio := float64(rssi) / float64(txPower)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return 0.89976*math.Pow(ratio, 7.7095) + 0.111
}
