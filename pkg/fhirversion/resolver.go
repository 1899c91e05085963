package fhirversion

import "strings"

// Resolved describes the outcome of resolving a request path.
type Resolved struct {
	Version Version
	// Explicit is true when the path carried a version segment.
	Explicit bool
	// ResourceType is the first remaining path segment, if any.
	ResourceType string
	// ResourceID is the second remaining path segment, if any. Reserved
	// segments beginning with "_" or "$" are not treated as resource ids.
	ResourceID string
	// Rest holds the remaining path segments after type and id.
	Rest []string
	// UnknownVersion holds a leading segment that is shaped like a version
	// code but names no supported release, for example "r4". Callers reject
	// the request rather than treating the segment as a resource type.
	UnknownVersion string
}

// ResolvePath splits a request path (already stripped of the /fhir mount
// prefix) into its version, resource type, resource id, and trailing
// segments. An absent version segment resolves to DefaultVersion.
//
// ResolvePath never fails: an unrecognized leading segment is treated as a
// resource type under the default version, except a version-shaped segment
// for an unsupported release, which is surfaced via UnknownVersion. Callers
// reject unknown resource types against the registry.
func ResolvePath(path string) Resolved {
	segments := splitPath(path)

	r := Resolved{Version: DefaultVersion}
	if len(segments) > 0 {
		if v, ok := Parse(segments[0]); ok {
			r.Version = v
			r.Explicit = true
			segments = segments[1:]
		} else if looksLikeVersion(segments[0]) {
			r.UnknownVersion = segments[0]
			segments = segments[1:]
		}
	}

	if len(segments) > 0 {
		r.ResourceType = segments[0]
		segments = segments[1:]
	}

	if len(segments) > 0 && !isReserved(segments[0]) {
		r.ResourceID = segments[0]
		segments = segments[1:]
	}

	r.Rest = segments
	return r
}

// looksLikeVersion reports whether a segment is shaped like a FHIR release
// code: a leading r or R followed by a digit. No resource type matches that
// shape, so it is safe to claim the segment for version handling.
func looksLikeVersion(segment string) bool {
	if len(segment) < 2 {
		return false
	}
	if segment[0] != 'r' && segment[0] != 'R' {
		return false
	}
	return segment[1] >= '0' && segment[1] <= '9'
}

// isReserved reports whether a path segment is a FHIR control segment
// (_history, _search, $operation, ...) rather than a resource id.
func isReserved(segment string) bool {
	return strings.HasPrefix(segment, "_") || strings.HasPrefix(segment, "$")
}

func splitPath(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
