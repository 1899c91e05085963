package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
)

// History returns a history bundle listing every version of a resource in
// descending version order. Version 1 is tagged POST, later versions PUT,
// and the current tombstone DELETE with no content.
func (s *Service) History(ctx context.Context, resourceType string, version fhirversion.Version, id string, baseURL string) ([]byte, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.config(resourceType, version, registry.InteractionHistory); err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	recs, err := backend.FindAllVersionsDesc(ctx, tenant, resourceType, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, outcome.New(outcome.KindNotFound, "%s/%s not found", resourceType, id)
	}

	resourceURL := fmt.Sprintf("%s/%s/%s", baseURL, resourceType, id)
	entries := make([]conformance.HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entry := conformance.HistoryEntry{
			ResourceURL: resourceURL,
			ETag:        ETag(rec.VersionID),
			LastUpdated: rec.LastUpdated.Format(time.RFC3339Nano),
		}
		switch {
		case rec.IsDeleted:
			entry.Method = "DELETE"
			entry.Status = "204 No Content"
			// Tombstones reveal the deletion, not the content.
		case rec.VersionID == 1:
			entry.Method = "POST"
			entry.Status = "201 Created"
			entry.Resource = json.RawMessage(rec.Content)
		default:
			entry.Method = "PUT"
			entry.Status = "200 OK"
			entry.Resource = json.RawMessage(rec.Content)
		}
		entries = append(entries, entry)
	}

	return s.engine.BuildHistoryBundle(conformance.HistoryBundleConfig{
		BaseURL: baseURL,
		Total:   len(entries),
		Entries: entries,
		Links: []conformance.LinkConfig{
			{Relation: "self", URL: resourceURL + "/_history"},
		},
	})
}
