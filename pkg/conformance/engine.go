package conformance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
)

// LinkConfig is one navigation link in a bundle.
type LinkConfig struct {
	Relation string
	URL      string
}

// SearchBundleConfig configures a searchset bundle.
type SearchBundleConfig struct {
	BaseURL   string
	Total     int
	Resources []json.RawMessage
	Links     []LinkConfig
}

// HistoryEntry is one version entry in a history bundle.
type HistoryEntry struct {
	Resource    json.RawMessage // nil for tombstones
	ResourceURL string
	Method      string // POST, PUT, or DELETE
	ETag        string
	LastUpdated string
	Status      string
}

// HistoryBundleConfig configures a history bundle.
type HistoryBundleConfig struct {
	BaseURL string
	Total   int
	Entries []HistoryEntry
	Links   []LinkConfig
}

// Engine is the standards-conformance surface the gateway delegates to.
// The default engine covers the envelope operations the gateway itself
// needs; a full conformance library can be swapped in behind the same
// interface.
type Engine interface {
	// ParseResource decodes and envelope-validates a resource body.
	ParseResource(data []byte) (*Document, error)

	// BuildSearchBundle assembles a searchset bundle.
	BuildSearchBundle(cfg SearchBundleConfig) ([]byte, error)

	// BuildHistoryBundle assembles a history bundle.
	BuildHistoryBundle(cfg HistoryBundleConfig) ([]byte, error)

	// InvokeOperation runs an extended operation ($validate, ...) against a
	// resource type and optional instance.
	InvokeOperation(ctx context.Context, req OperationRequest) ([]byte, error)
}

// OperationRequest describes an extended-operation invocation.
type OperationRequest struct {
	Code         string
	Version      fhirversion.Version
	ResourceType string
	ResourceID   string
	Body         []byte
	Params       url.Values
}

// DefaultEngine is the built-in envelope-level engine.
type DefaultEngine struct{}

// NewDefaultEngine returns the built-in engine.
func NewDefaultEngine() *DefaultEngine {
	return &DefaultEngine{}
}

// ParseResource implements Engine.
func (e *DefaultEngine) ParseResource(data []byte) (*Document, error) {
	return ParseDocument(data)
}

// BuildSearchBundle implements Engine.
func (e *DefaultEngine) BuildSearchBundle(cfg SearchBundleConfig) ([]byte, error) {
	entries := make([]map[string]any, 0, len(cfg.Resources))
	for _, res := range cfg.Resources {
		entry := map[string]any{
			"resource": res,
			"search":   map[string]any{"mode": "match"},
		}
		if full := fullURL(cfg.BaseURL, res); full != "" {
			entry["fullUrl"] = full
		}
		entries = append(entries, entry)
	}

	bundle := map[string]any{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        cfg.Total,
		"link":         linkEntries(cfg.Links),
		"entry":        entries,
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal searchset bundle: %w", err)
	}
	return data, nil
}

// BuildHistoryBundle implements Engine.
func (e *DefaultEngine) BuildHistoryBundle(cfg HistoryBundleConfig) ([]byte, error) {
	entries := make([]map[string]any, 0, len(cfg.Entries))
	for _, he := range cfg.Entries {
		response := map[string]any{
			"status":       he.Status,
			"etag":         he.ETag,
			"lastModified": he.LastUpdated,
		}
		entry := map[string]any{
			"fullUrl": he.ResourceURL,
			"request": map[string]any{
				"method": he.Method,
				"url":    he.ResourceURL,
			},
			"response": response,
		}
		// Tombstones carry no resource content.
		if he.Resource != nil {
			entry["resource"] = he.Resource
		}
		entries = append(entries, entry)
	}

	bundle := map[string]any{
		"resourceType": "Bundle",
		"type":         "history",
		"total":        cfg.Total,
		"link":         linkEntries(cfg.Links),
		"entry":        entries,
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal history bundle: %w", err)
	}
	return data, nil
}

// InvokeOperation implements Engine. The built-in engine supports $validate
// at envelope level; everything else is NotSupported.
func (e *DefaultEngine) InvokeOperation(ctx context.Context, req OperationRequest) ([]byte, error) {
	switch req.Code {
	case "validate":
		if _, err := ParseDocument(req.Body); err != nil {
			return nil, err
		}
		return []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"information","code":"informational","diagnostics":"validation succeeded"}]}`), nil
	default:
		return nil, outcome.New(outcome.KindNotSupported, "operation $%s is not supported", req.Code)
	}
}

func linkEntries(links []LinkConfig) []map[string]string {
	out := make([]map[string]string, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]string{"relation": l.Relation, "url": l.URL})
	}
	return out
}

// fullURL derives the entry fullUrl from the resource's type and id.
func fullURL(baseURL string, res json.RawMessage) string {
	var envelope struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(res, &envelope); err != nil {
		return ""
	}
	if envelope.ResourceType == "" || envelope.ID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", baseURL, envelope.ResourceType, envelope.ID)
}
