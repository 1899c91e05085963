// Package conformance provides the version-agnostic resource layer the
// gateway operates on. Resources are handled as structured documents keyed
// by their resourceType discriminator; all FHIR-model-specific work
// (canonical parsing, $validate, $everything) is delegated to an Engine.
package conformance

import (
	"encoding/json"
	"fmt"

	"github.com/openmedrec/fhirgate/pkg/outcome"
)

// Document is an opaque structured FHIR resource. The gateway only touches
// the envelope fields it owns: resourceType, id, and meta.
type Document struct {
	fields map[string]any
}

// ParseDocument decodes a JSON body into a Document. The body must be a
// JSON object with a non-empty string resourceType.
func ParseDocument(data []byte) (*Document, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, outcome.New(outcome.KindStructure, "body is not a JSON object: %v", err)
	}

	rt, ok := fields["resourceType"].(string)
	if !ok || rt == "" {
		return nil, outcome.New(outcome.KindRequired, "resourceType is required")
	}

	return &Document{fields: fields}, nil
}

// ResourceType returns the resourceType discriminator.
func (d *Document) ResourceType() string {
	rt, _ := d.fields["resourceType"].(string)
	return rt
}

// ID returns the logical id, or "" when absent.
func (d *Document) ID() string {
	id, _ := d.fields["id"].(string)
	return id
}

// SetID sets the logical id.
func (d *Document) SetID(id string) {
	d.fields["id"] = id
}

// SetMeta sets meta.versionId and meta.lastUpdated, preserving any other
// meta fields the client supplied.
func (d *Document) SetMeta(versionID string, lastUpdated string) {
	meta, _ := d.fields["meta"].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["versionId"] = versionID
	meta["lastUpdated"] = lastUpdated
	d.fields["meta"] = meta
}

// Source returns meta.source, or "" when absent.
func (d *Document) Source() string {
	meta, _ := d.fields["meta"].(map[string]any)
	src, _ := meta["source"].(string)
	return src
}

// MarshalJSON serializes the document.
func (d *Document) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(d.fields)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// Bytes serializes the document, panicking only on unmarshalable values
// which cannot occur for documents produced by ParseDocument.
func (d *Document) Bytes() []byte {
	data, _ := json.Marshal(d.fields)
	return data
}
