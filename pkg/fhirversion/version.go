// Package fhirversion resolves the FHIR specification version addressed by an
// incoming request path. The server supports multiple FHIR versions through a
// version-agnostic resource layer; this package only decides which version a
// request targets and which resource it addresses.
package fhirversion

import "strings"

// Version identifies a supported FHIR specification version.
type Version string

const (
	R5  Version = "r5"
	R4B Version = "r4b"
)

// DefaultVersion is used when the request path carries no version segment.
const DefaultVersion = R5

// semver maps each supported version to its published major.minor.patch
// number, echoed back in the X-FHIR-Version response header.
var semver = map[Version]string{
	R5:  "5.0.0",
	R4B: "4.3.0",
}

// Header is the response header carrying the resolved FHIR version.
const Header = "X-FHIR-Version"

// Parse returns the Version for a path segment such as "r5" or "R4B".
// The comparison is case-insensitive.
func Parse(segment string) (Version, bool) {
	switch Version(strings.ToLower(segment)) {
	case R5:
		return R5, true
	case R4B:
		return R4B, true
	}
	return "", false
}

// Semver returns the major.minor.patch string for a version, or "" when the
// version is unknown.
func (v Version) Semver() string {
	return semver[v]
}

// Valid reports whether v is a supported version code.
func (v Version) Valid() bool {
	_, ok := semver[v]
	return ok
}
