package schemas

import (
	"regexp"
	"strconv"
	"strings"
)

// versionPattern matches the dotted quad Chrome and chromedriver report,
// e.g. "139.0.7258.66".
var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+\.\d+`)

// ExtractVersion pulls the first full version string out of arbitrary text,
// such as the output of "google-chrome --version". Returns "" when no
// version is present.
func ExtractVersion(text string) string {
	return versionPattern.FindString(text)
}

// MajorVersion returns the leading numeric component of a dotted version
// string, or 0 when the string is malformed.
func MajorVersion(version string) int {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return major
}
