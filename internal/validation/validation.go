package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxLocationRunes bounds a configured location name.
const MaxLocationRunes = 100

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

// ValidateLocation trims the input, enforces maxLen (in runes) and restricts
// it to letters (Unicode), digits, space and , - . ' ( ).
// Case is preserved: the name is the location's identity in metric labels.
func ValidateLocation(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '(', ')':
		return true
	}
	return false
}

// CleanLocations splits a comma-separated list, trims entries, drops empty
// ones and removes exact duplicates keeping the first occurrence. Every
// remaining entry must pass ValidateLocation.
//
// Commas separate entries, so a name like "Paris, France" must be given as
// a list element (YAML or repeated flag) rather than in the joined form.
func CleanLocations(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		name := strings.TrimSpace(item)
		if name == "" {
			continue
		}
		valid, err := ValidateLocation(name, MaxLocationRunes)
		if err != nil {
			return nil, &LocationError{Name: name, Err: err}
		}
		if _, dup := seen[valid]; dup {
			continue
		}
		seen[valid] = struct{}{}
		out = append(out, valid)
	}
	return out, nil
}

// SplitLocations splits a comma-separated location list without validating it.
func SplitLocations(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// LocationError names the offending entry of a location list.
type LocationError struct {
	Name string
	Err  error
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("location %q: %v", e.Name, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }
