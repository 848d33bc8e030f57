package store

// CompatibleSchema reports whether a stored schema version remains usable
// under the currently running extractor's schema version. Minor bumps are
// backward-compatible (additive fields); a major mismatch invalidates the
// stored row and forces full reprocessing (spec §7, §9).
func CompatibleSchema(stored, current SchemaVersion) bool {
	return stored.Major == current.Major
}
