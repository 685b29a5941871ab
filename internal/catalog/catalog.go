// Package catalog validates new securities and supplies the default
// projection and curve steepness for a sport and position.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Supported sports.
const (
	SportNFL = "NFL"
	SportMLB = "MLB"
	SportNBA = "NBA"
)

// DefaultSport is used when a listing does not name one.
const DefaultSport = SportNFL

// positionRegex matches roster position codes: QB, WR, 1B, SS, C ...
var positionRegex = regexp.MustCompile(`^[A-Z0-9]{1,3}$`)

var (
	ErrInvalidSport    = errors.New("catalog: unsupported sport")
	ErrInvalidPosition = errors.New("catalog: invalid position")
	ErrInvalidName     = errors.New("catalog: name is required")
	ErrInvalidPricing  = errors.New("catalog: projection and k must not be negative")
)

type defaults struct {
	projected string
	k         string
}

var sportDefaults = map[string]defaults{
	SportNFL: {"180", "0.0023"},
	SportMLB: {"160", "0.0021"},
	SportNBA: {"175", "0.0022"},
}

var positionDefaults = map[string]map[string]defaults{
	SportNFL: {
		"QB": {"290", "0.0021"},
		"RB": {"210", "0.0025"},
		"WR": {"195", "0.0024"},
		"TE": {"150", "0.0022"},
	},
	SportMLB: {
		"SP": {"185", "0.0020"},
		"RP": {"135", "0.0023"},
		"C":  {"130", "0.0022"},
		"1B": {"155", "0.0021"},
		"2B": {"150", "0.0021"},
		"3B": {"155", "0.0021"},
		"SS": {"160", "0.0021"},
		"OF": {"165", "0.0021"},
		"DH": {"150", "0.0021"},
	},
	SportNBA: {
		"PG": {"190", "0.0022"},
		"SG": {"185", "0.0022"},
		"SF": {"185", "0.0022"},
		"PF": {"190", "0.0022"},
		"C":  {"195", "0.0021"},
	},
}

// Listing describes a security to be created. Zero ProjectedPoints or K
// are filled from the sport/position defaults.
type Listing struct {
	Sport           string          `json:"sport"`
	Name            string          `json:"name"`
	Team            string          `json:"team"`
	Position        string          `json:"position"`
	ProjectedPoints decimal.Decimal `json:"projected_points"`
	K               decimal.Decimal `json:"k"`
}

// NormalizeSport upper-cases and validates a sport code. Empty selects
// DefaultSport.
func NormalizeSport(sport string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(sport))
	if s == "" {
		return DefaultSport, nil
	}
	if _, ok := sportDefaults[s]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidSport, sport)
	}
	return s, nil
}

// NormalizePosition upper-cases and validates a position code.
func NormalizePosition(position string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(position))
	if !positionRegex.MatchString(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPosition, position)
	}
	return p, nil
}

// Defaults returns the default projection and k for a sport and position,
// falling back to the sport-wide values for unknown positions.
func Defaults(sport, position string) (projected, k decimal.Decimal) {
	def, ok := positionDefaults[sport][position]
	if !ok {
		def, ok = sportDefaults[sport]
		if !ok {
			def = sportDefaults[DefaultSport]
		}
	}
	return decimal.RequireFromString(def.projected), decimal.RequireFromString(def.k)
}

// Resolve validates a listing and fills in default pricing.
func Resolve(l Listing) (Listing, error) {
	sport, err := NormalizeSport(l.Sport)
	if err != nil {
		return Listing{}, err
	}
	position, err := NormalizePosition(l.Position)
	if err != nil {
		return Listing{}, err
	}
	name := strings.Join(strings.Fields(l.Name), " ")
	if name == "" {
		return Listing{}, ErrInvalidName
	}
	if l.ProjectedPoints.IsNegative() || l.K.IsNegative() {
		return Listing{}, ErrInvalidPricing
	}

	projected, k := Defaults(sport, position)
	if !l.ProjectedPoints.IsZero() {
		projected = l.ProjectedPoints
	}
	if !l.K.IsZero() {
		k = l.K
	}

	return Listing{
		Sport:           sport,
		Name:            name,
		Team:            strings.ToUpper(strings.TrimSpace(l.Team)),
		Position:        position,
		ProjectedPoints: projected,
		K:               k,
	}, nil
}
