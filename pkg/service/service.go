// Package service owns resource semantics: versioning, optimistic
// concurrency, soft delete, history and search bundle assembly. It surfaces
// error kinds, never HTTP status codes, and reads the tenant id from the
// ambient request context.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/storage"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
	"github.com/openmedrec/fhirgate/pkg/validation"
)

// Result is the outcome of a successful resource operation.
type Result struct {
	Resource    []byte
	VersionID   int
	LastUpdated time.Time
	// Created distinguishes create (and update-as-create) from update.
	Created bool
}

// Options tunes service behavior.
type Options struct {
	// UpdatesAsCreate lets PUT create a resource under a client-chosen id.
	UpdatesAsCreate bool
}

// Service implements the eight resource operations over the storage router.
type Service struct {
	router       *storage.Router
	reg          *registry.Registry
	engine       conformance.Engine
	profiles     *validation.ProfileChecker
	searchParams *validation.SearchParamValidator
	opts         Options
	logger       *slog.Logger

	// now is a test seam for clock control.
	now func() time.Time
}

// New creates a Service.
func New(router *storage.Router, reg *registry.Registry, engine conformance.Engine,
	profiles *validation.ProfileChecker, searchParams *validation.SearchParamValidator,
	opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		router:       router,
		reg:          reg,
		engine:       engine,
		profiles:     profiles,
		searchParams: searchParams,
		opts:         opts,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// tenantFrom reads the ambient tenant id placed by the pipeline.
func tenantFrom(ctx context.Context) (string, error) {
	tenant, ok := tenancy.TenantFromContext(ctx)
	if !ok || tenant == "" {
		return "", fmt.Errorf("no tenant in request context")
	}
	return tenant, nil
}

// config resolves and checks the resource configuration for an interaction.
func (s *Service) config(resourceType string, version fhirversion.Version, interaction registry.Interaction) (*registry.ResourceConfig, error) {
	rc, ok := s.reg.Get(resourceType)
	if !ok || !rc.IsEnabled() {
		return nil, outcome.New(outcome.KindNotFound, "resource type %s is not supported", resourceType)
	}
	if !rc.SupportsVersion(version) {
		return nil, outcome.New(outcome.KindBadRequest, "resource type %s does not support FHIR version %s", resourceType, version)
	}
	if !rc.SupportsInteraction(interaction) {
		return nil, outcome.New(outcome.KindNotSupported, "%s is disabled for resource type %s", interaction, resourceType)
	}
	return rc, nil
}

// Create stores a new resource under a fresh logical id as version 1.
func (s *Service) Create(ctx context.Context, resourceType string, version fhirversion.Version, body []byte) (*Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := s.config(resourceType, version, registry.InteractionCreate)
	if err != nil {
		return nil, err
	}

	doc, err := s.engine.ParseResource(body)
	if err != nil {
		return nil, err
	}
	if doc.ResourceType() != resourceType {
		return nil, outcome.New(outcome.KindInvalid,
			"body resourceType %s does not match endpoint %s", doc.ResourceType(), resourceType)
	}
	if err := s.profiles.Check(ctx, rc, body, version); err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.New().String()
	doc.SetID(id)
	doc.SetMeta("1", now.Format(time.RFC3339Nano))
	content := doc.Bytes()

	rec := &storage.ResourceVersionRecord{
		ID:           uuid.New().String(),
		TenantID:     tenant,
		ResourceType: resourceType,
		ResourceID:   id,
		FHIRVersion:  string(version),
		VersionID:    1,
		IsCurrent:    true,
		IsDeleted:    false,
		Content:      string(content),
		LastUpdated:  now,
		CreatedAt:    now,
		SourceURI:    doc.Source(),
	}

	err = backend.InTransaction(ctx, func(tx storage.Backend) error {
		return tx.Save(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	return &Result{Resource: content, VersionID: 1, LastUpdated: now, Created: true}, nil
}

// Read returns the current, non-deleted version of a resource. A current
// tombstone reads as Gone; history still reveals it.
func (s *Service) Read(ctx context.Context, resourceType string, version fhirversion.Version, id string) (*Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.config(resourceType, version, registry.InteractionRead); err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	rec, err := backend.FindCurrent(ctx, tenant, resourceType, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, outcome.New(outcome.KindNotFound, "%s/%s not found", resourceType, id)
	}
	if rec.IsDeleted {
		return nil, outcome.New(outcome.KindGone, "%s/%s has been deleted", resourceType, id)
	}

	return &Result{Resource: []byte(rec.Content), VersionID: rec.VersionID, LastUpdated: rec.LastUpdated}, nil
}

// VRead returns an exact version of a resource, tombstones included.
func (s *Service) VRead(ctx context.Context, resourceType string, version fhirversion.Version, id string, versionID int) (*Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.config(resourceType, version, registry.InteractionVRead); err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	rec, err := backend.FindVersion(ctx, tenant, resourceType, id, versionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, outcome.New(outcome.KindNotFound, "%s/%s version %d not found", resourceType, id, versionID)
	}

	return &Result{Resource: []byte(rec.Content), VersionID: rec.VersionID, LastUpdated: rec.LastUpdated}, nil
}

// updateRetries bounds re-reads of the max version when a concurrent
// update wins the same version slot.
const updateRetries = 3

// Update stores a new version of a resource. With an If-Match token the
// update fails on a version mismatch; without prior rows it behaves like
// create under the client id when updates-as-create is permitted. The
// mark-not-current and insert execute in one transaction; the version-key
// unique index turns a concurrent allocation of the same version into a
// unique violation, on which the loser retries from a fresh max-version
// read (or fails outright when the client pinned a version with If-Match).
func (s *Service) Update(ctx context.Context, resourceType string, version fhirversion.Version, id string, body []byte, ifMatch string) (*Result, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := s.config(resourceType, version, registry.InteractionUpdate)
	if err != nil {
		return nil, err
	}

	doc, err := s.engine.ParseResource(body)
	if err != nil {
		return nil, err
	}
	if doc.ResourceType() != resourceType {
		return nil, outcome.New(outcome.KindInvalid,
			"body resourceType %s does not match endpoint %s", doc.ResourceType(), resourceType)
	}
	if err := s.profiles.Check(ctx, rc, body, version); err != nil {
		return nil, err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < updateRetries; attempt++ {
		result, err := s.updateOnce(ctx, backend, tenant, resourceType, version, id, doc, ifMatch)
		if err == nil {
			return result, nil
		}
		if !storage.IsUniqueViolation(err) {
			return nil, err
		}
		if ifMatch != "" {
			return nil, outcome.New(outcome.KindVersionConflict,
				"version conflict on %s/%s: If-Match %s", resourceType, id, ifMatch)
		}
		s.logger.Debug("retrying update after version race",
			"resourceType", resourceType, "id", id, "attempt", attempt+1)
	}
	return nil, outcome.New(outcome.KindConflict,
		"update of %s/%s kept losing version races", resourceType, id)
}

func (s *Service) updateOnce(ctx context.Context, backend storage.Backend, tenant, resourceType string,
	version fhirversion.Version, id string, doc *conformance.Document, ifMatch string) (*Result, error) {
	now := s.now()
	var result *Result

	err := backend.InTransaction(ctx, func(tx storage.Backend) error {
		maxVersion, err := tx.MaxVersionID(ctx, tenant, resourceType, id)
		if err != nil {
			return err
		}

		if maxVersion == 0 {
			if !s.opts.UpdatesAsCreate {
				return outcome.New(outcome.KindNotFound, "%s/%s not found", resourceType, id)
			}
			if ifMatch != "" {
				return outcome.New(outcome.KindVersionConflict,
					"If-Match given but %s/%s does not exist", resourceType, id)
			}
		} else if ifMatch != "" {
			current, err := tx.FindCurrent(ctx, tenant, resourceType, id)
			if err != nil {
				return err
			}
			expected, err := parseETag(ifMatch)
			if err != nil {
				return err
			}
			if current == nil || current.VersionID != expected {
				return outcome.New(outcome.KindVersionConflict,
					"version conflict on %s/%s: If-Match %s", resourceType, id, ifMatch)
			}
		}

		newVersion := maxVersion + 1
		doc.SetID(id)
		doc.SetMeta(fmt.Sprintf("%d", newVersion), now.Format(time.RFC3339Nano))
		content := doc.Bytes()

		if maxVersion > 0 {
			if err := tx.MarkAllVersionsNotCurrent(ctx, tenant, resourceType, id); err != nil {
				return err
			}
		}

		rec := &storage.ResourceVersionRecord{
			ID:           uuid.New().String(),
			TenantID:     tenant,
			ResourceType: resourceType,
			ResourceID:   id,
			FHIRVersion:  string(version),
			VersionID:    newVersion,
			IsCurrent:    true,
			IsDeleted:    false,
			Content:      string(content),
			LastUpdated:  now,
			SourceURI:    doc.Source(),
		}
		if newVersion == 1 {
			rec.CreatedAt = now
		}
		if err := tx.Save(ctx, rec); err != nil {
			return err
		}

		result = &Result{
			Resource:    content,
			VersionID:   newVersion,
			LastUpdated: now,
			Created:     newVersion == 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Delete soft-deletes the current version. Deleting an already-deleted
// resource is a no-op success; deleting an unknown resource is NotFound.
// The physical rows are never removed.
func (s *Service) Delete(ctx context.Context, resourceType string, version fhirversion.Version, id string) error {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return err
	}
	if _, err := s.config(resourceType, version, registry.InteractionDelete); err != nil {
		return err
	}

	backend, err := s.router.BackendFor(resourceType)
	if err != nil {
		return err
	}

	return backend.InTransaction(ctx, func(tx storage.Backend) error {
		current, err := tx.FindCurrent(ctx, tenant, resourceType, id)
		if err != nil {
			return err
		}
		if current == nil {
			return outcome.New(outcome.KindNotFound, "%s/%s not found", resourceType, id)
		}
		if current.IsDeleted {
			return nil
		}
		if _, err := tx.SoftDelete(ctx, tenant, resourceType, id, s.now()); err != nil {
			return err
		}
		return nil
	})
}

// parseETag extracts the version id from a weak ETag token (W/"n" or "n").
func parseETag(token string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(token, `W/"%d"`, &v); err == nil {
		return v, nil
	}
	if _, err := fmt.Sscanf(token, `"%d"`, &v); err == nil {
		return v, nil
	}
	return 0, outcome.New(outcome.KindBadRequest, "malformed If-Match token %q", token)
}

// ETag renders a version id as a weak ETag.
func ETag(versionID int) string {
	return fmt.Sprintf(`W/"%d"`, versionID)
}
