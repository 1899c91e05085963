package pipeline

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
)

// serveMetadata renders the CapabilityStatement for the addressed version,
// listing each enabled resource type that supports it together with its
// configured interactions.
func (h *Handler) serveMetadata(w http.ResponseWriter, version fhirversion.Version) {
	resources := make([]map[string]any, 0)
	for _, name := range h.reg.Types() {
		rc, ok := h.reg.Get(name)
		if !ok || !rc.IsEnabled() || !rc.SupportsVersion(version) {
			continue
		}
		interactions := make([]map[string]string, 0, len(rc.Interactions))
		for _, i := range rc.Interactions {
			interactions = append(interactions, map[string]string{"code": string(i)})
		}
		resources = append(resources, map[string]any{
			"type":        name,
			"interaction": interactions,
		})
	}

	statement := map[string]any{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  version.Semver(),
		"format":       []string{"application/fhir+json"},
		"rest": []map[string]any{{
			"mode":     "server",
			"resource": resources,
		}},
	}

	body, err := json.Marshal(statement)
	if err != nil {
		h.writeError(w, outcome.New(outcome.KindInternal, "marshal capability statement: %v", err))
		return
	}
	h.writeRaw(w, http.StatusOK, body)
}
