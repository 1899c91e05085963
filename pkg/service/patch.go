package service

import (
	"context"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
)

// JSONPatchContentType identifies an RFC 6902 patch document.
const JSONPatchContentType = "application/json-patch+json"

// Patch applies a structural patch to the current content and proceeds as
// an update. RFC 6902 JSON Patch bodies are selected by content type;
// anything else is treated as an RFC 7386 merge patch.
func (s *Service) Patch(ctx context.Context, resourceType string, version fhirversion.Version, id string, patchBody []byte, contentType string, ifMatch string) (*Result, error) {
	if _, err := s.config(resourceType, version, registry.InteractionPatch); err != nil {
		return nil, err
	}

	// The read enforces existence and tombstone semantics before patching.
	current, err := s.Read(ctx, resourceType, version, id)
	if err != nil {
		return nil, err
	}

	patched, err := applyPatch(current.Resource, patchBody, contentType)
	if err != nil {
		return nil, err
	}

	return s.Update(ctx, resourceType, version, id, patched, ifMatch)
}

func applyPatch(target, patchBody []byte, contentType string) ([]byte, error) {
	if contentType == JSONPatchContentType {
		patch, err := jsonpatch.DecodePatch(patchBody)
		if err != nil {
			return nil, outcome.New(outcome.KindInvalid, "malformed JSON patch: %v", err)
		}
		patched, err := patch.Apply(target)
		if err != nil {
			return nil, outcome.New(outcome.KindInvalid, "patch failed to apply: %v", err)
		}
		return patched, nil
	}

	patched, err := jsonpatch.MergePatch(target, patchBody)
	if err != nil {
		return nil, outcome.New(outcome.KindInvalid, "merge patch failed to apply: %v", err)
	}
	return patched, nil
}
