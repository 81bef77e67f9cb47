package es

import "time"

// Elasticsearch echoes timestamps back in RFC3339 with variable
// sub-second precision.
func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}
