// Package location validates and normalizes the free-form location strings
// accepted for alerts and monitored sessions.
//
// Accepted forms:
//   - decimal degrees "lat,lon" (optional whitespace after the comma), lat in
//     [-90,90] and lon in [-180,180]
//   - US zip with country, e.g. "10001 US"
//   - UK postcode district, e.g. "SW1"
//   - a plain alphabetic city name, e.g. "new york"
package location

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidLocation is returned for strings matching none of the accepted forms.
var ErrInvalidLocation = errors.New("location must be in one of these formats: decimal degrees (e.g., '42.3478, -71.0466'), US zip code (e.g., '10001 US'), UK postcode (e.g., 'SW1'), or city name")

var (
	decimalDegreeRe = regexp.MustCompile(`^-?\d+(\.\d+)?,\s*-?\d+(\.\d+)?$`)
	usZipRe         = regexp.MustCompile(`^\d{5}\s+[A-Z]{2}$`)
	ukPostcodeRe    = regexp.MustCompile(`^[A-Z]{1,2}\d{1,2}[A-Z]?$`)
	cityRe          = regexp.MustCompile(`^[a-zA-Z\s]+$`)
)

// Validate returns ErrInvalidLocation unless s is an accepted location.
func Validate(s string) error {
	if lat, lon, ok := Coordinates(s); ok {
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return ErrInvalidLocation
		}
		return nil
	}
	if usZipRe.MatchString(s) || ukPostcodeRe.MatchString(s) || cityRe.MatchString(s) {
		return nil
	}
	return ErrInvalidLocation
}

// Coordinates parses a decimal-degree pair. ok is false for any other form;
// range is not checked.
func Coordinates(s string) (lat, lon float64, ok bool) {
	if !decimalDegreeRe.MatchString(s) {
		return 0, 0, false
	}
	parts := strings.SplitN(s, ",", 2)
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// Canonicalize rewrites decimal-degree locations to four decimal places
// joined by ", ". Other forms are returned unchanged.
func Canonicalize(s string) string {
	lat, lon, ok := Coordinates(s)
	if !ok {
		return s
	}
	return strconv.FormatFloat(lat, 'f', 4, 64) + ", " + strconv.FormatFloat(lon, 'f', 4, 64)
}
