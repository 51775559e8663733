package geocache

import "errors"

var (
	// The cached text is not a valid JSON object.
	ErrParse = errors.New("cached value is not valid JSON")
	// The decoded mapping does not contain a usable address.adminLevels mapping.
	ErrStructure = errors.New("cached value has an unexpected structure")
	// The decoded mapping could not populate a Result.
	ErrReconstruction = errors.New("cached value cannot be reconstructed as a result")
	// Two admin levels of a result share a level number and cannot both be
	// keyed by it.
	ErrDuplicateAdminLevel = errors.New("duplicate admin level")
	// The backing store failed to read, write or flush.
	ErrStore = errors.New("cache store failure")
)
