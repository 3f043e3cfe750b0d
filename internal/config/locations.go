package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"worldtime-display/internal/worldclock"
)

// LocationsFile is the YAML document named by CLOCK_LOCATIONS_FILE:
//
//	reference_utc_offset: -6
//	locations:
//	  - name: Austin
//	    zone: America/Chicago
//	    home: true
//	  - name: London
//	    zone: Europe/London
//	    offset: 6
//	    strategy: timezone
type LocationsFile struct {
	// ReferenceUTCOffset overrides CLOCK_REFERENCE_UTC_OFFSET when present.
	ReferenceUTCOffset *int
	Locations          []worldclock.LocationSpec
}

type locationsDocument struct {
	ReferenceUTCOffset *int             `yaml:"reference_utc_offset"`
	Locations          []locationRecord `yaml:"locations"`
}

type locationRecord struct {
	Name     string `yaml:"name"`
	Zone     string `yaml:"zone"`
	Home     bool   `yaml:"home"`
	Offset   int    `yaml:"offset"`
	Strategy string `yaml:"strategy"`
}

// ParseLocations decodes a locations document. Records without a strategy
// use defaultStrategy. Unknown keys and duplicate names are rejected; the
// remaining rules (exactly one home, home offset) are enforced by
// worldclock.New.
func ParseLocations(raw []byte, defaultStrategy worldclock.Strategy) (LocationsFile, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)

	var doc locationsDocument
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return LocationsFile{}, errors.New("config: locations file is empty")
		}
		return LocationsFile{}, fmt.Errorf("config: parse locations file: %w", err)
	}
	if len(doc.Locations) == 0 {
		return LocationsFile{}, errors.New("config: locations file lists no locations")
	}

	specs := make([]worldclock.LocationSpec, 0, len(doc.Locations))
	seen := make(map[string]struct{}, len(doc.Locations))
	for i, rec := range doc.Locations {
		name := strings.TrimSpace(rec.Name)
		if name == "" {
			return LocationsFile{}, fmt.Errorf("config: location %d has no name", i)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return LocationsFile{}, fmt.Errorf("config: duplicate location name %q", name)
		}
		seen[key] = struct{}{}

		strategy := defaultStrategy
		if rec.Strategy != "" {
			parsed, err := worldclock.ParseStrategy(rec.Strategy)
			if err != nil {
				return LocationsFile{}, fmt.Errorf("config: location %q: %w", name, err)
			}
			strategy = parsed
		}

		specs = append(specs, worldclock.LocationSpec{
			Name:        name,
			Zone:        strings.TrimSpace(rec.Zone),
			Reference:   rec.Home,
			Strategy:    strategy,
			OffsetHours: rec.Offset,
		})
	}

	return LocationsFile{ReferenceUTCOffset: doc.ReferenceUTCOffset, Locations: specs}, nil
}
