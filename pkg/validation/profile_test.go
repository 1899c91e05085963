package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
)

// fakeValidator returns canned issues for every profile.
type fakeValidator struct {
	issues []outcome.Issue
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, resource []byte, version fhirversion.Version, profileURL string) []outcome.Issue {
	f.calls++
	return f.issues
}

func profiledResource() *registry.ResourceConfig {
	return &registry.ResourceConfig{
		Type: "Patient",
		Profiles: []registry.ProfileRequirement{
			{URL: "http://example.org/StructureDefinition/core-patient", Required: true},
			{URL: "http://example.org/StructureDefinition/optional", Required: false},
		},
	}
}

func TestCheckNilValidatorIsNoop(t *testing.T) {
	checker := NewProfileChecker(ProfileConfig{Enabled: true, Strict: true}, nil, nil)
	err := checker.Check(context.Background(), profiledResource(), []byte(`{}`), fhirversion.R5)
	assert.NoError(t, err)
}

func TestCheckOnlyRequiredProfiles(t *testing.T) {
	fake := &fakeValidator{}
	checker := NewProfileChecker(ProfileConfig{Enabled: true, Strict: true}, fake, nil)

	err := checker.Check(context.Background(), profiledResource(), []byte(`{}`), fhirversion.R5)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestCheckStrictFailsOnErrorIssues(t *testing.T) {
	fake := &fakeValidator{issues: []outcome.Issue{
		{Severity: "error", Code: "invariant", Diagnostics: "name required"},
		{Severity: "warning", Code: "informational", Diagnostics: "consider an identifier"},
	}}
	checker := NewProfileChecker(ProfileConfig{Enabled: true, Strict: true}, fake, nil)

	err := checker.Check(context.Background(), profiledResource(), []byte(`{}`), fhirversion.R5)
	require.Error(t, err)
	assert.Equal(t, outcome.KindInvalid, outcome.KindOf(err))

	var oe *outcome.Error
	require.ErrorAs(t, err, &oe)
	// Warnings never fail the request, only error-severity issues carry over.
	assert.Len(t, oe.Issues, 1)
}

func TestCheckLenientLogsAndContinues(t *testing.T) {
	fake := &fakeValidator{issues: []outcome.Issue{
		{Severity: "error", Code: "invariant", Diagnostics: "name required"},
	}}
	checker := NewProfileChecker(ProfileConfig{Enabled: true, Strict: false}, fake, nil)

	err := checker.Check(context.Background(), profiledResource(), []byte(`{}`), fhirversion.R5)
	assert.NoError(t, err)
}

func TestCheckDisabled(t *testing.T) {
	fake := &fakeValidator{issues: []outcome.Issue{{Severity: "error"}}}
	checker := NewProfileChecker(ProfileConfig{Enabled: false, Strict: true}, fake, nil)

	err := checker.Check(context.Background(), profiledResource(), []byte(`{}`), fhirversion.R5)
	assert.NoError(t, err)
	assert.Zero(t, fake.calls)
}

func TestProfileConfigFromEnv(t *testing.T) {
	t.Setenv("PROFILE_VALIDATOR_ENABLED", "false")
	cfg := ProfileConfigFromEnv()
	assert.False(t, cfg.Enabled)

	t.Setenv("PROFILE_VALIDATOR_ENABLED", "true")
	cfg = ProfileConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Strict)
}
