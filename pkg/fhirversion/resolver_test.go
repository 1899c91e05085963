package fhirversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		segment string
		want    Version
		ok      bool
	}{
		{"r5", R5, true},
		{"R5", R5, true},
		{"r4b", R4B, true},
		{"R4B", R4B, true},
		{"r4", "", false},
		{"", "", false},
		{"Patient", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.segment, func(t *testing.T) {
			got, ok := Parse(tt.segment)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want Resolved
	}{
		{
			name: "explicit version with type and id",
			path: "/r5/Patient/123",
			want: Resolved{Version: R5, Explicit: true, ResourceType: "Patient", ResourceID: "123", Rest: []string{}},
		},
		{
			name: "default version",
			path: "/Patient/123",
			want: Resolved{Version: R5, ResourceType: "Patient", ResourceID: "123", Rest: []string{}},
		},
		{
			name: "r4b history",
			path: "/r4b/Observation/abc/_history/2",
			want: Resolved{Version: R4B, Explicit: true, ResourceType: "Observation", ResourceID: "abc", Rest: []string{"_history", "2"}},
		},
		{
			name: "type-level search control segment is not an id",
			path: "/Patient/_search",
			want: Resolved{Version: R5, ResourceType: "Patient", Rest: []string{"_search"}},
		},
		{
			name: "type-level operation is not an id",
			path: "/r5/Patient/$validate",
			want: Resolved{Version: R5, Explicit: true, ResourceType: "Patient", Rest: []string{"$validate"}},
		},
		{
			name: "type only",
			path: "/Patient",
			want: Resolved{Version: R5, ResourceType: "Patient", Rest: []string{}},
		},
		{
			name: "empty path",
			path: "/",
			want: Resolved{Version: R5, Rest: []string{}},
		},
		{
			name: "unsupported release code is not a resource type",
			path: "/r4/Patient/123",
			want: Resolved{Version: R5, ResourceType: "Patient", ResourceID: "123", Rest: []string{}, UnknownVersion: "r4"},
		},
		{
			name: "unsupported release code uppercase",
			path: "/R3/Patient",
			want: Resolved{Version: R5, ResourceType: "Patient", Rest: []string{}, UnknownVersion: "R3"},
		},
		{
			name: "resource type starting with R is not version-shaped",
			path: "/RelatedPerson/rp1",
			want: Resolved{Version: R5, ResourceType: "RelatedPerson", ResourceID: "rp1", Rest: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolvePath(tt.path)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSemver(t *testing.T) {
	require.Equal(t, "5.0.0", R5.Semver())
	require.Equal(t, "4.3.0", R4B.Semver())
	require.Empty(t, Version("r4").Semver())
	require.True(t, R5.Valid())
	require.False(t, Version("r4").Valid())
}
