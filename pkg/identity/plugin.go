package identity

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/plugins"
)

// PluginPriority runs identity extraction before domain plugins.
const PluginPriority = 10

// AuthorizationAttribute is the plugin-context attribute carrying the raw
// Authorization header, set by the pipeline before BEFORE runs.
const AuthorizationAttribute = "identity.authorization"

// Plugin is a sync BEFORE plugin that populates UserID and ClientID on the
// shared plugin context. With Required set, requests without a resolvable
// identity are aborted with 401.
type Plugin struct {
	extractor *Extractor
	required  bool
	logger    *slog.Logger
}

// NewPlugin creates the identity plugin.
func NewPlugin(extractor *Extractor, required bool, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{extractor: extractor, required: required, logger: logger}
}

// Name implements plugins.Plugin.
func (p *Plugin) Name() string { return "identity" }

// Mode implements plugins.Plugin.
func (p *Plugin) Mode() plugins.Mode { return plugins.ModeSync }

// Priority implements plugins.Plugin.
func (p *Plugin) Priority() int { return PluginPriority }

// Descriptors implements plugins.Plugin. Identity applies to every
// operation.
func (p *Plugin) Descriptors() []plugins.Descriptor {
	return []plugins.Descriptor{{}}
}

// Before implements plugins.BeforeHook.
func (p *Plugin) Before(ctx context.Context, pc *plugins.Context) (plugins.BeforeResult, error) {
	authorization := ""
	if v, ok := pc.Attribute(AuthorizationAttribute); ok {
		authorization, _ = v.(string)
	}

	claims, err := p.extractor.Extract(authorization)
	if err != nil {
		p.logger.Debug("identity extraction failed", "requestID", pc.RequestID, "error", err)
		if p.required {
			return plugins.BeforeResult{Abort: unauthorizedAbort("invalid bearer token")}, nil
		}
		return plugins.BeforeResult{}, nil
	}

	if claims.UserID == "" && p.required {
		return plugins.BeforeResult{Abort: unauthorizedAbort("authentication required")}, nil
	}

	pc.UserID = claims.UserID
	pc.ClientID = claims.ClientID
	return plugins.BeforeResult{}, nil
}

func unauthorizedAbort(message string) *plugins.Abort {
	return &plugins.Abort{
		Status: http.StatusUnauthorized,
		Body:   outcome.OperationOutcome(outcome.New(outcome.KindUnauthorized, "%s", message)),
	}
}
