// Package validation covers the two request-time validation concerns:
// profile validation against required StructureDefinitions (delegated to a
// pluggable ProfileValidator) and search-parameter policy enforcement.
package validation

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
)

// ProfileValidator validates a parsed resource against a StructureDefinition.
// Implementations wrap a full conformance validator; the gateway only
// consumes the issue list.
type ProfileValidator interface {
	Validate(ctx context.Context, resource []byte, version fhirversion.Version, profileURL string) []outcome.Issue
}

// ProfileConfig controls how profile validation failures are handled.
type ProfileConfig struct {
	// Enabled turns profile validation on. Read from
	// PROFILE_VALIDATOR_ENABLED (default true).
	Enabled bool
	// Strict fails the request on any error-severity issue. Lenient mode
	// logs issues and proceeds.
	Strict bool
}

// ProfileConfigFromEnv builds a ProfileConfig from the environment.
func ProfileConfigFromEnv() ProfileConfig {
	enabled := true
	if v := os.Getenv("PROFILE_VALIDATOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			enabled = b
		}
	}
	return ProfileConfig{Enabled: enabled, Strict: true}
}

// ProfileChecker runs a resource through its required profiles per the
// resource configuration.
type ProfileChecker struct {
	cfg       ProfileConfig
	validator ProfileValidator
	logger    *slog.Logger
}

// NewProfileChecker creates a ProfileChecker. A nil validator disables
// checking regardless of config.
func NewProfileChecker(cfg ProfileConfig, validator ProfileValidator, logger *slog.Logger) *ProfileChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileChecker{cfg: cfg, validator: validator, logger: logger}
}

// Check validates a resource against each required profile of its resource
// configuration. In strict mode any error-severity issue fails with
// KindInvalid; in lenient mode issues are logged and the resource proceeds.
func (c *ProfileChecker) Check(ctx context.Context, rc *registry.ResourceConfig, resource []byte, version fhirversion.Version) error {
	if !c.cfg.Enabled || c.validator == nil {
		return nil
	}

	var failures []outcome.Issue
	for _, prof := range rc.Profiles {
		if !prof.Required {
			continue
		}
		issues := c.validator.Validate(ctx, resource, version, prof.URL)
		for _, issue := range issues {
			if issue.Severity == "error" || issue.Severity == "fatal" {
				failures = append(failures, issue)
			}
		}
	}

	if len(failures) == 0 {
		return nil
	}

	if !c.cfg.Strict {
		c.logger.Warn("profile validation issues (lenient mode, continuing)",
			"resourceType", rc.Type, "issues", len(failures))
		return nil
	}

	return outcome.WithIssues(outcome.KindInvalid, failures)
}
