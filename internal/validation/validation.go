package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrLabelTooLong is returned when a site label exceeds the maximum length.
var ErrLabelTooLong = errors.New("site label too long")

// ErrLabelInvalidChars is returned when a site label contains disallowed characters.
var ErrLabelInvalidChars = errors.New("site label contains invalid characters")

// ErrCoordinateMalformed is returned when a latitude or longitude does not parse.
var ErrCoordinateMalformed = errors.New("coordinate is not a number")

// ErrLatitudeOutOfRange is returned when latitude is outside [-90, 90].
var ErrLatitudeOutOfRange = errors.New("latitude out of range")

// ErrLongitudeOutOfRange is returned when longitude is outside [-180, 180].
var ErrLongitudeOutOfRange = errors.New("longitude out of range")

// ErrCoordinatePairIncomplete is returned when only one of lat/lon is supplied.
var ErrCoordinatePairIncomplete = errors.New("latitude and longitude must be supplied together")

const maxLabelRunes = 64

// ValidateLabel trims the input and restricts it to letters (Unicode), digits,
// space, comma, apostrophe, hyphen. An empty label is valid; the service layer
// substitutes the default site name. Returns the trimmed string or an error
// suitable for 400 INVALID_LOCATION responses.
func ValidateLabel(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) > maxLabelRunes {
		return "", ErrLabelTooLong
	}
	for _, c := range r {
		if !isAllowedLabelRune(c) {
			return "", ErrLabelInvalidChars
		}
	}
	return s, nil
}

// ParseCoordinates parses optional lat/lon query values. Both empty returns
// (nil, nil, nil): the caller falls back to default coordinates. Supplying
// only one of the pair is an error, as is a value outside the valid range.
func ParseCoordinates(latStr, lonStr string) (*float64, *float64, error) {
	latStr = strings.TrimSpace(latStr)
	lonStr = strings.TrimSpace(lonStr)
	if latStr == "" && lonStr == "" {
		return nil, nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, nil, ErrCoordinatePairIncomplete
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, nil, ErrCoordinateMalformed
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, nil, ErrCoordinateMalformed
	}
	if lat < -90 || lat > 90 {
		return nil, nil, ErrLatitudeOutOfRange
	}
	if lon < -180 || lon > 180 {
		return nil, nil, ErrLongitudeOutOfRange
	}
	return &lat, &lon, nil
}

// isAllowedLabelRune returns true for letters (Unicode), digits, space, comma,
// apostrophe, hyphen.
func isAllowedLabelRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '\'', '-':
		return true
	}
	return false
}
