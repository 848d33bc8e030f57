package store

import "time"

// nowUTC centralizes the clock source the engines stamp rows with, so a
// future swap to an injectable clock (for deterministic tests) touches one
// place.
func nowUTC() time.Time {
	return time.Now().UTC()
}
