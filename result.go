package geocache

// Result is the outcome of geocoding a single query with a single provider.
// A nil Address means the provider did not return a location; the reason, if
// any, is in ExceptionMessage.
type Result struct {
	ProviderName     string
	Query            string
	ExceptionMessage string
	Address          *Address
}

// Address holds the location details returned by a provider. Optional string
// members use "" for absent values.
type Address struct {
	Coordinates  *Coordinates
	Bounds       *Bounds
	StreetNumber string
	StreetName   string
	Locality     string
	PostalCode   string
	SubLocality  string
	AdminLevels  AdminLevels
	Country      string
	CountryCode  string
	Timezone     string
}

// Coordinates is a WGS84 point in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Bounds is the bounding box of an address, in decimal degrees.
type Bounds struct {
	South float64
	West  float64
	North float64
	East  float64
}

// AdminLevel is one level of administrative division, e.g. a state (1) or a
// county (2).
type AdminLevel struct {
	Level int
	Name  string
	Code  string
}

// AdminLevels holds at most one entry per Level. Decoded values are ordered
// by Level; build them in that order for a round trip to compare equal.
type AdminLevels []AdminLevel

// Returns the first level number that appears more than once.
func (a AdminLevels) duplicate() (int, bool) {
	seen := make(map[int]struct{}, len(a))
	for _, adminLevel := range a {
		if _, ok := seen[adminLevel.Level]; ok {
			return adminLevel.Level, true
		}
		seen[adminLevel.Level] = struct{}{}
	}
	return 0, false
}

// Get returns the admin level with the given level number.
func (a AdminLevels) Get(level int) (AdminLevel, bool) {
	for _, adminLevel := range a {
		if adminLevel.Level == level {
			return adminLevel, true
		}
	}
	return AdminLevel{}, false
}

// Returns the coordinates of the address, or nil.
func (r *Result) Coordinates() *Coordinates {
	if r == nil || r.Address == nil {
		return nil
	}
	return r.Address.Coordinates
}

// Returns the bounding box of the address, or nil.
func (r *Result) Bounds() *Bounds {
	if r == nil || r.Address == nil {
		return nil
	}
	return r.Address.Bounds
}

// Returns the latitude, or 0 when the result has no coordinates.
func (r *Result) Latitude() float64 {
	if c := r.Coordinates(); c != nil {
		return c.Latitude
	}
	return 0
}

// Returns the longitude, or 0 when the result has no coordinates.
func (r *Result) Longitude() float64 {
	if c := r.Coordinates(); c != nil {
		return c.Longitude
	}
	return 0
}
