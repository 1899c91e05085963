package validation

import (
	"log/slog"
	"net/url"

	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
)

// alwaysAllowed are parameters the gateway interprets itself; they bypass
// the per-resource policy regardless of mode or listing.
var alwaysAllowed = map[string]bool{
	"_count":  true,
	"_offset": true,
	"_id":     true,
	"_source": true,
}

// SearchParamValidator enforces the per-resource search-parameter policy.
type SearchParamValidator struct {
	logger *slog.Logger
}

// NewSearchParamValidator creates a SearchParamValidator.
func NewSearchParamValidator(logger *slog.Logger) *SearchParamValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchParamValidator{logger: logger}
}

// Filter checks query parameters against the resource's policy. Paging and
// gateway-interpreted parameters always pass. With FailOnUnknown, a
// disallowed parameter fails with KindBadRequest; otherwise disallowed
// parameters are logged and dropped from the returned set.
func (v *SearchParamValidator) Filter(rc *registry.ResourceConfig, params url.Values) (url.Values, error) {
	policy := rc.SearchParams
	if policy == nil {
		return params, nil
	}

	listed := make(map[string]bool, len(policy.Common)+len(policy.Params))
	for _, p := range policy.Common {
		listed[p] = true
	}
	for _, p := range policy.Params {
		listed[p] = true
	}

	out := make(url.Values, len(params))
	for name, values := range params {
		if alwaysAllowed[name] {
			out[name] = values
			continue
		}

		allowed := listed[name]
		if policy.Mode == registry.SearchParamDenylist {
			allowed = !listed[name]
		}

		if allowed {
			out[name] = values
			continue
		}

		if policy.FailOnUnknown {
			return nil, outcome.New(outcome.KindBadRequest,
				"search parameter %q is not allowed for %s", name, rc.Type)
		}
		v.logger.Debug("dropping disallowed search parameter",
			"resourceType", rc.Type, "param", name)
	}

	return out, nil
}
