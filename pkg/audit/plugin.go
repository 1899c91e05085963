package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openmedrec/fhirgate/pkg/plugins"
)

// RecorderPriority places the recorder after domain plugins.
const RecorderPriority = 1000

// Recorder is an async plugin that appends an audit event for every
// completed or failed operation. It registers a wildcard descriptor.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder creates a Recorder over the audit store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Name implements plugins.Plugin.
func (r *Recorder) Name() string { return "audit-recorder" }

// Mode implements plugins.Plugin. Auditing never blocks the request.
func (r *Recorder) Mode() plugins.Mode { return plugins.ModeAsync }

// Priority implements plugins.Plugin.
func (r *Recorder) Priority() int { return RecorderPriority }

// Descriptors implements plugins.Plugin. One empty descriptor matches every
// operation on every resource type and version.
func (r *Recorder) Descriptors() []plugins.Descriptor {
	return []plugins.Descriptor{{}}
}

// After implements plugins.AfterHook.
func (r *Recorder) After(ctx context.Context, pc *plugins.Context) error {
	return r.record(ctx, pc, "success", "")
}

// OnError implements plugins.ErrorHook.
func (r *Recorder) OnError(ctx context.Context, pc *plugins.Context, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return r.record(ctx, pc, "failure", detail)
}

func (r *Recorder) record(ctx context.Context, pc *plugins.Context, result, detail string) error {
	event := &EventRecord{
		ID:           uuid.New().String(),
		TenantID:     pc.TenantID,
		RequestID:    pc.RequestID,
		Operation:    string(pc.Operation),
		FHIRVersion:  string(pc.Version),
		ResourceType: pc.ResourceType,
		ResourceID:   pc.ResourceID,
		UserID:       pc.UserID,
		ClientID:     pc.ClientID,
		StatusCode:   pc.ResponseStatus,
		Outcome:      result,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.Append(ctx, event); err != nil {
		r.logger.Error("audit append failed",
			"tenant", pc.TenantID, "requestID", pc.RequestID, "error", err)
		return err
	}
	return nil
}
