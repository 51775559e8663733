package geocache

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Wire names of the cached JSON document.
const (
	providerNameMember     = "providerName"
	queryMember            = "query"
	exceptionMessageMember = "exceptionMessage"
	coordinatesMember      = "coordinates"
	latitudeMember         = "latitude"
	longitudeMember        = "longitude"
	addressMember          = "address"
	boundsMember           = "bounds"
	southMember            = "south"
	westMember             = "west"
	northMember            = "north"
	eastMember             = "east"
	streetNumberMember     = "streetNumber"
	streetNameMember       = "streetName"
	localityMember         = "locality"
	postalCodeMember       = "postalCode"
	subLocalityMember      = "subLocality"
	adminLevelsMember      = "adminLevels"
	levelMember            = "level"
	nameMember             = "name"
	codeMember             = "code"
	countryMember          = "country"
	countryCodeMember      = "countryCode"
	timezoneMember         = "timezone"
)

// EncodeToMapping converts the result to the generic mapping that is stored
// as JSON. A nil Address is written as an empty address so that the document
// always carries address.adminLevels.
//
// Decoding normalises what it reads back: an Address with no members becomes
// a nil Address, empty AdminLevels become nil, and AdminLevels come back
// ordered by Level. Admin levels are keyed by level number, so a repeated
// level keeps only its last entry here; EncodeToText rejects that case.
func EncodeToMapping(r *Result) map[string]any {
	address := r.Address
	if address == nil {
		address = &Address{}
	}
	var coordinates, latitude, longitude any
	if c := address.Coordinates; c != nil {
		coordinates = []any{c.Latitude, c.Longitude}
		latitude = c.Latitude
		longitude = c.Longitude
	}
	return map[string]any{
		providerNameMember:     r.ProviderName,
		queryMember:            r.Query,
		exceptionMessageMember: r.ExceptionMessage,
		coordinatesMember:      coordinates,
		latitudeMember:         latitude,
		longitudeMember:        longitude,
		addressMember:          encodeAddress(address),
	}
}

func encodeAddress(a *Address) map[string]any {
	var latitude, longitude, bounds any
	if c := a.Coordinates; c != nil {
		latitude = c.Latitude
		longitude = c.Longitude
	}
	if b := a.Bounds; b != nil {
		bounds = map[string]any{
			southMember: b.South,
			westMember:  b.West,
			northMember: b.North,
			eastMember:  b.East,
		}
	}
	adminLevels := make(map[string]any, len(a.AdminLevels))
	for _, adminLevel := range a.AdminLevels {
		adminLevels[strconv.Itoa(adminLevel.Level)] = map[string]any{
			levelMember: adminLevel.Level,
			nameMember:  nullable(adminLevel.Name),
			codeMember:  nullable(adminLevel.Code),
		}
	}
	return map[string]any{
		latitudeMember:     latitude,
		longitudeMember:    longitude,
		boundsMember:       bounds,
		streetNumberMember: nullable(a.StreetNumber),
		streetNameMember:   nullable(a.StreetName),
		localityMember:     nullable(a.Locality),
		postalCodeMember:   nullable(a.PostalCode),
		subLocalityMember:  nullable(a.SubLocality),
		adminLevelsMember:  adminLevels,
		countryMember:      nullable(a.Country),
		countryCodeMember:  nullable(a.CountryCode),
		timezoneMember:     nullable(a.Timezone),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EncodeToText returns the JSON document stored for the result. It fails
// with ErrDuplicateAdminLevel when two admin levels share a level number.
func EncodeToText(r *Result) (string, error) {
	if r.Address != nil {
		if level, ok := r.Address.AdminLevels.duplicate(); ok {
			return "", fmt.Errorf("%w %d in result for %q", ErrDuplicateAdminLevel, level, r.Query)
		}
	}
	data, err := json.Marshal(EncodeToMapping(r))
	if err != nil {
		return "", fmt.Errorf("failed to encode result for %q: %w", r.Query, err)
	}
	return string(data), nil
}

// DecodeFromText parses a cached JSON document into a generic mapping and
// copies every address.adminLevels key into the level member of its entry.
// The key is authoritative; a level member already present is overwritten.
func DecodeFromText(text string) (map[string]any, error) {
	var document any
	if err := json.Unmarshal([]byte(text), &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	mapping, ok := document.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is %T, not an object", ErrParse, document)
	}
	address, ok := mapping[addressMember].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is missing or not an object", ErrStructure, addressMember)
	}
	var adminLevels map[string]any
	switch value := address[adminLevelsMember].(type) {
	case map[string]any:
		adminLevels = value
	case []any:
		// An empty collection may have been written as a JSON array.
		if len(value) != 0 {
			return nil, fmt.Errorf("%w: %s.%s is a non-empty array", ErrStructure, addressMember, adminLevelsMember)
		}
		adminLevels = map[string]any{}
		address[adminLevelsMember] = adminLevels
	default:
		return nil, fmt.Errorf("%w: %s.%s is missing or not an object", ErrStructure, addressMember, adminLevelsMember)
	}
	for key, value := range adminLevels {
		entry, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: admin level %q is not an object", ErrStructure, key)
		}
		level, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: admin level key %q is not a number", ErrStructure, key)
		}
		entry[levelMember] = level
	}
	return mapping, nil
}

// ResultFromMapping rebuilds a Result from a mapping produced by
// DecodeFromText. Missing and null members leave the zero value; members of
// the wrong type fail with ErrReconstruction.
func ResultFromMapping(mapping map[string]any) (*Result, error) {
	var err error
	r := &Result{}
	if r.ProviderName, err = stringMember(mapping, providerNameMember); err != nil {
		return nil, err
	}
	if r.Query, err = stringMember(mapping, queryMember); err != nil {
		return nil, err
	}
	if r.ExceptionMessage, err = stringMember(mapping, exceptionMessageMember); err != nil {
		return nil, err
	}
	addressMapping, err := mappingMember(mapping, addressMember)
	if err != nil {
		return nil, err
	}
	if addressMapping == nil {
		return r, nil
	}
	address, err := addressFromMapping(addressMapping)
	if err != nil {
		return nil, err
	}
	if address.Coordinates == nil {
		if address.Coordinates, err = topLevelCoordinates(mapping); err != nil {
			return nil, err
		}
	}
	if !address.isZero() {
		r.Address = address
	}
	return r, nil
}

// DecodeResult decodes a cached JSON document straight into a Result.
func DecodeResult(text string) (*Result, error) {
	mapping, err := DecodeFromText(text)
	if err != nil {
		return nil, err
	}
	return ResultFromMapping(mapping)
}

func addressFromMapping(mapping map[string]any) (*Address, error) {
	var err error
	a := &Address{}
	if a.Coordinates, err = coordinatesFromMembers(mapping); err != nil {
		return nil, err
	}
	boundsMapping, err := mappingMember(mapping, boundsMember)
	if err != nil {
		return nil, err
	}
	if boundsMapping != nil {
		b := &Bounds{}
		for _, member := range []struct {
			name   string
			target *float64
		}{
			{southMember, &b.South},
			{westMember, &b.West},
			{northMember, &b.North},
			{eastMember, &b.East},
		} {
			value, ok, err := floatMember(boundsMapping, member.name)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is missing", ErrReconstruction, boundsMember, member.name)
			}
			*member.target = value
		}
		a.Bounds = b
	}
	for _, member := range []struct {
		name   string
		target *string
	}{
		{streetNumberMember, &a.StreetNumber},
		{streetNameMember, &a.StreetName},
		{localityMember, &a.Locality},
		{postalCodeMember, &a.PostalCode},
		{subLocalityMember, &a.SubLocality},
		{countryMember, &a.Country},
		{countryCodeMember, &a.CountryCode},
		{timezoneMember, &a.Timezone},
	} {
		if *member.target, err = stringMember(mapping, member.name); err != nil {
			return nil, err
		}
	}
	if a.AdminLevels, err = adminLevelsFromMapping(mapping); err != nil {
		return nil, err
	}
	return a, nil
}

func adminLevelsFromMapping(mapping map[string]any) (AdminLevels, error) {
	levelsMapping, err := mappingMember(mapping, adminLevelsMember)
	if err != nil {
		// Tolerate the empty array form when called without DecodeFromText.
		if values, ok := mapping[adminLevelsMember].([]any); ok && len(values) == 0 {
			return nil, nil
		}
		return nil, err
	}
	if len(levelsMapping) == 0 {
		return nil, nil
	}
	adminLevels := make(AdminLevels, 0, len(levelsMapping))
	for key, value := range levelsMapping {
		entry, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: admin level %q is %T, not an object", ErrReconstruction, key, value)
		}
		level, ok, err := intMember(entry, levelMember)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: admin level %q has no level", ErrReconstruction, key)
		}
		adminLevel := AdminLevel{Level: level}
		if adminLevel.Name, err = stringMember(entry, nameMember); err != nil {
			return nil, err
		}
		if adminLevel.Code, err = stringMember(entry, codeMember); err != nil {
			return nil, err
		}
		adminLevels = append(adminLevels, adminLevel)
	}
	sort.Slice(adminLevels, func(i, j int) bool {
		return adminLevels[i].Level < adminLevels[j].Level
	})
	return adminLevels, nil
}

// The address coordinates are authoritative; the top-level copies are only
// consulted when the address has none.
func topLevelCoordinates(mapping map[string]any) (*Coordinates, error) {
	switch value := mapping[coordinatesMember].(type) {
	case nil:
		return coordinatesFromMembers(mapping)
	case []any:
		if len(value) != 2 {
			return nil, fmt.Errorf("%w: %s has %d elements, expected 2", ErrReconstruction, coordinatesMember, len(value))
		}
		latitude, err := toFloat(coordinatesMember, value[0])
		if err != nil {
			return nil, err
		}
		longitude, err := toFloat(coordinatesMember, value[1])
		if err != nil {
			return nil, err
		}
		return &Coordinates{Latitude: latitude, Longitude: longitude}, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, not an array", ErrReconstruction, coordinatesMember, value)
	}
}

func coordinatesFromMembers(mapping map[string]any) (*Coordinates, error) {
	latitude, hasLatitude, err := floatMember(mapping, latitudeMember)
	if err != nil {
		return nil, err
	}
	longitude, hasLongitude, err := floatMember(mapping, longitudeMember)
	if err != nil {
		return nil, err
	}
	if !hasLatitude || !hasLongitude {
		return nil, nil
	}
	return &Coordinates{Latitude: latitude, Longitude: longitude}, nil
}

func (a *Address) isZero() bool {
	return a.Coordinates == nil &&
		a.Bounds == nil &&
		a.StreetNumber == "" &&
		a.StreetName == "" &&
		a.Locality == "" &&
		a.PostalCode == "" &&
		a.SubLocality == "" &&
		len(a.AdminLevels) == 0 &&
		a.Country == "" &&
		a.CountryCode == "" &&
		a.Timezone == ""
}

func stringMember(mapping map[string]any, name string) (string, error) {
	switch value := mapping[name].(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	default:
		return "", fmt.Errorf("%w: %s is %T, not a string", ErrReconstruction, name, value)
	}
}

func mappingMember(mapping map[string]any, name string) (map[string]any, error) {
	switch value := mapping[name].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return value, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T, not an object", ErrReconstruction, name, value)
	}
}

func floatMember(mapping map[string]any, name string) (float64, bool, error) {
	value, ok := mapping[name]
	if !ok || value == nil {
		return 0, false, nil
	}
	f, err := toFloat(name, value)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

func intMember(mapping map[string]any, name string) (int, bool, error) {
	switch value := mapping[name].(type) {
	case nil:
		return 0, false, nil
	case int:
		return value, true, nil
	case float64:
		if value != math.Trunc(value) {
			return 0, false, fmt.Errorf("%w: %s is %v, not an integer", ErrReconstruction, name, value)
		}
		return int(value), true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s is %T, not a number", ErrReconstruction, name, value)
	}
}

func toFloat(name string, value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, not a number", ErrReconstruction, name, value)
	}
}
