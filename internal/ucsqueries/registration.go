package ucsqueries

import (
	"regexp"
	"strings"
)

var registrationPattern = regexp.MustCompile(`^([A-Z]{1,2})([0-9A-Z]{1,4})`)

// FormatRegistration normalizes a glider registration scraped from a
// flight-info page: US registrations (starting with 'N') are left as-is,
// already-hyphenated registrations are left as-is, and everything else is
// split into a 1-2 letter country prefix and a 1-4 alphanumeric suffix
// joined by a hyphen. Inputs that don't match the expected shape are
// returned unchanged so a human can fix them later.
func FormatRegistration(input string) string {
	if input == "" {
		return input
	}

	if strings.HasPrefix(input, "N") {
		return input
	}

	noSpaces := strings.Join(strings.Fields(input), "")
	noSpaces = strings.ReplaceAll(noSpaces, " ", "")

	if strings.Contains(noSpaces, "-") {
		return noSpaces
	}

	m := registrationPattern.FindStringSubmatch(noSpaces)
	if m == nil {
		return input
	}
	return m[1] + "-" + m[2]
}
