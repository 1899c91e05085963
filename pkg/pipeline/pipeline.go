// Package pipeline is the HTTP boundary of the FHIR surface. It resolves
// the request's FHIR version and tenant, classifies the interaction, runs
// the plugin phases around the core operation, and renders domain errors as
// OperationOutcome responses.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/openmedrec/fhirgate/pkg/conformance"
	"github.com/openmedrec/fhirgate/pkg/fhirversion"
	"github.com/openmedrec/fhirgate/pkg/identity"
	"github.com/openmedrec/fhirgate/pkg/outcome"
	"github.com/openmedrec/fhirgate/pkg/plugins"
	"github.com/openmedrec/fhirgate/pkg/registry"
	"github.com/openmedrec/fhirgate/pkg/service"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
)

// FHIRContentType is the JSON media type for FHIR payloads.
const FHIRContentType = "application/fhir+json"

// maxBodyBytes caps request bodies at 8 MiB.
const maxBodyBytes = 8 << 20

// Handler serves the /fhir mount.
type Handler struct {
	svc          *service.Service
	orchestrator *plugins.Orchestrator
	resolver     *tenancy.Resolver
	tenantHeader string
	engine       conformance.Engine
	reg          *registry.Registry
	logger       *slog.Logger
}

// NewHandler creates the FHIR request handler.
func NewHandler(svc *service.Service, orchestrator *plugins.Orchestrator,
	resolver *tenancy.Resolver, tenantHeader string,
	engine conformance.Engine, reg *registry.Registry, logger *slog.Logger) *Handler {
	if tenantHeader == "" {
		tenantHeader = tenancy.DefaultHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:          svc,
		orchestrator: orchestrator,
		resolver:     resolver,
		tenantHeader: tenantHeader,
		engine:       engine,
		reg:          reg,
		logger:       logger,
	}
}

// request is the classified form of one FHIR HTTP request.
type request struct {
	op            plugins.OpType
	version       fhirversion.Version
	explicit      bool
	resourceType  string
	resourceID    string
	versionID     int
	operationCode string
	params        url.Values
	body          []byte
	ifMatch       string
	contentType   string
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resolved := fhirversion.ResolvePath(routePath(r))
	if resolved.UnknownVersion != "" {
		h.writeError(w, outcome.New(outcome.KindBadRequest,
			"unsupported FHIR version %q in request path", resolved.UnknownVersion))
		return
	}
	w.Header().Set(fhirversion.Header, resolved.Version.Semver())

	// The capability statement is served without tenant resolution.
	if resolved.ResourceType == "metadata" && r.Method == http.MethodGet {
		h.serveMetadata(w, resolved.Version)
		return
	}

	tenantID, err := h.resolver.Resolve(r.Context(), r.Header.Get(h.tenantHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}
	ctx := tenancy.WithTenant(r.Context(), tenantID)

	req, err := h.classify(r, resolved)
	if err != nil {
		h.writeError(w, err)
		return
	}

	requestID := middleware.GetReqID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	pc := &plugins.Context{
		RequestID:     requestID,
		Timestamp:     time.Now().UTC(),
		Operation:     req.op,
		Version:       req.version,
		ResourceType:  req.resourceType,
		ResourceID:    req.resourceID,
		OperationCode: req.operationCode,
		Params:        req.params,
		InputResource: req.body,
		TenantID:      tenantID,
	}
	pc.SetAttribute(identity.AuthorizationAttribute, r.Header.Get("Authorization"))

	abort, err := h.orchestrator.RunBefore(ctx, pc)
	if err != nil {
		h.failRequest(ctx, w, pc, err)
		return
	}
	if abort != nil {
		pc.ResponseStatus = abort.Status
		if err := h.orchestrator.RunAfter(ctx, pc); err != nil {
			h.failRequest(ctx, w, pc, err)
			return
		}
		h.writeRaw(w, abort.Status, abort.Body)
		return
	}
	req.body = pc.InputResource

	status, headers, body, err := h.execute(ctx, r, req)
	if err != nil {
		h.failRequest(ctx, w, pc, err)
		return
	}

	pc.OutputResource = body
	pc.ResponseStatus = status
	if err := h.orchestrator.RunAfter(ctx, pc); err != nil {
		h.failRequest(ctx, w, pc, err)
		return
	}

	for name, value := range headers {
		w.Header().Set(name, value)
	}
	h.writeRaw(w, status, body)
}

// classify maps the method and resolved path onto one of the nine
// interactions.
func (h *Handler) classify(r *http.Request, resolved fhirversion.Resolved) (*request, error) {
	req := &request{
		version:      resolved.Version,
		explicit:     resolved.Explicit,
		resourceType: resolved.ResourceType,
		resourceID:   resolved.ResourceID,
		params:       r.URL.Query(),
		ifMatch:      r.Header.Get("If-Match"),
		contentType:  contentType(r),
	}

	if req.resourceType == "" {
		return nil, outcome.New(outcome.KindNotFound, "no resource type in request path")
	}

	rest := resolved.Rest
	hasBody := r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch
	if hasBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, outcome.New(outcome.KindBadRequest, "failed to read request body: %v", err)
		}
		req.body = body
	}

	// Type-level and instance-level extended operations.
	if len(rest) == 1 && strings.HasPrefix(rest[0], "$") {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			return nil, outcome.New(outcome.KindNotSupported, "method %s not allowed for operations", r.Method)
		}
		req.op = plugins.OpOperation
		req.operationCode = strings.TrimPrefix(rest[0], "$")
		return req, nil
	}

	if req.resourceID == "" {
		switch {
		case r.Method == http.MethodGet && len(rest) == 0:
			req.op = plugins.OpSearch
		case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "_search":
			req.op = plugins.OpSearch
			req.params = mergeFormParams(req.params, req.body)
			req.body = nil
		case r.Method == http.MethodPost && len(rest) == 0:
			req.op = plugins.OpCreate
		default:
			return nil, outcome.New(outcome.KindNotSupported,
				"method %s not allowed for %s", r.Method, req.resourceType)
		}
		return req, nil
	}

	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			req.op = plugins.OpRead
		case http.MethodPut:
			req.op = plugins.OpUpdate
		case http.MethodPatch:
			req.op = plugins.OpPatch
		case http.MethodDelete:
			req.op = plugins.OpDelete
		default:
			return nil, outcome.New(outcome.KindNotSupported,
				"method %s not allowed for %s/%s", r.Method, req.resourceType, req.resourceID)
		}
	case rest[0] == "_history" && r.Method == http.MethodGet:
		switch len(rest) {
		case 1:
			req.op = plugins.OpHistory
		case 2:
			vid, err := strconv.Atoi(rest[1])
			if err != nil || vid < 1 {
				return nil, outcome.New(outcome.KindBadRequest, "malformed version id %q", rest[1])
			}
			req.op = plugins.OpVRead
			req.versionID = vid
		default:
			return nil, outcome.New(outcome.KindNotFound, "unrecognized history path")
		}
	default:
		return nil, outcome.New(outcome.KindNotFound, "unrecognized request path")
	}
	return req, nil
}

// execute runs the core operation and returns status, extra headers, and
// the response body.
func (h *Handler) execute(ctx context.Context, r *http.Request, req *request) (int, map[string]string, []byte, error) {
	base := h.baseURL(r, req)

	switch req.op {
	case plugins.OpCreate:
		res, err := h.svc.Create(ctx, req.resourceType, req.version, req.body)
		if err != nil {
			return 0, nil, nil, err
		}
		headers := resultHeaders(res)
		headers["Location"] = fmt.Sprintf("%s/%s/%s/_history/%d",
			base, req.resourceType, resourceID(res.Resource), res.VersionID)
		return http.StatusCreated, headers, res.Resource, nil

	case plugins.OpRead:
		res, err := h.svc.Read(ctx, req.resourceType, req.version, req.resourceID)
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, resultHeaders(res), res.Resource, nil

	case plugins.OpVRead:
		res, err := h.svc.VRead(ctx, req.resourceType, req.version, req.resourceID, req.versionID)
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, resultHeaders(res), res.Resource, nil

	case plugins.OpUpdate:
		res, err := h.svc.Update(ctx, req.resourceType, req.version, req.resourceID, req.body, req.ifMatch)
		if err != nil {
			return 0, nil, nil, err
		}
		status := http.StatusOK
		headers := resultHeaders(res)
		if res.Created {
			status = http.StatusCreated
			headers["Location"] = fmt.Sprintf("%s/%s/%s/_history/%d",
				base, req.resourceType, req.resourceID, res.VersionID)
		}
		return status, headers, res.Resource, nil

	case plugins.OpPatch:
		res, err := h.svc.Patch(ctx, req.resourceType, req.version, req.resourceID, req.body, req.contentType, req.ifMatch)
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, resultHeaders(res), res.Resource, nil

	case plugins.OpDelete:
		if err := h.svc.Delete(ctx, req.resourceType, req.version, req.resourceID); err != nil {
			return 0, nil, nil, err
		}
		return http.StatusNoContent, nil, nil, nil

	case plugins.OpSearch:
		requestURL := fmt.Sprintf("%s/%s", base, req.resourceType)
		body, err := h.svc.Search(ctx, req.resourceType, req.version, req.params, requestURL)
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, nil, body, nil

	case plugins.OpHistory:
		body, err := h.svc.History(ctx, req.resourceType, req.version, req.resourceID, base)
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, nil, body, nil

	case plugins.OpOperation:
		body, err := h.engine.InvokeOperation(ctx, conformance.OperationRequest{
			Code:         req.operationCode,
			Version:      req.version,
			ResourceType: req.resourceType,
			ResourceID:   req.resourceID,
			Body:         req.body,
			Params:       req.params,
		})
		if err != nil {
			return 0, nil, nil, err
		}
		return http.StatusOK, nil, body, nil
	}

	return 0, nil, nil, outcome.New(outcome.KindNotSupported, "unsupported interaction %s", req.op)
}

// failRequest routes a core or sync-plugin failure through ON_ERROR and
// writes the OperationOutcome response.
func (h *Handler) failRequest(ctx context.Context, w http.ResponseWriter, pc *plugins.Context, err error) {
	pc.ResponseStatus = outcome.HTTPStatus(outcome.KindOf(err))
	h.orchestrator.RunOnError(ctx, pc, err)
	h.writeError(w, err)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := outcome.HTTPStatus(outcome.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeRaw(w, status, outcome.OperationOutcome(err))
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, body []byte) {
	if len(body) > 0 {
		w.Header().Set("Content-Type", FHIRContentType)
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// resultHeaders renders the version headers of a successful instance
// operation.
func resultHeaders(res *service.Result) map[string]string {
	return map[string]string{
		"ETag":          service.ETag(res.VersionID),
		"Last-Modified": res.LastUpdated.UTC().Format(http.TimeFormat),
	}
}

// baseURL reconstructs the mount URL of the request, keeping an explicit
// version segment so bundle and Location links stay on the addressed
// version.
func (h *Handler) baseURL(r *http.Request, req *request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	base := fmt.Sprintf("%s://%s/fhir", scheme, r.Host)
	if req.explicit {
		base += "/" + string(req.version)
	}
	return base
}

// routePath returns the request path relative to the mount point.
func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" {
		return rctx.RoutePath
	}
	return strings.TrimPrefix(r.URL.Path, "/fhir")
}

func contentType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// mergeFormParams folds a POST _search form body into the query parameters.
func mergeFormParams(query url.Values, body []byte) url.Values {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return query
	}
	merged := url.Values{}
	for name, values := range query {
		merged[name] = values
	}
	for name, values := range form {
		merged[name] = append(merged[name], values...)
	}
	return merged
}

// resourceID reads the logical id from a stored resource body.
func resourceID(resource []byte) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resource, &envelope); err != nil {
		return ""
	}
	return envelope.ID
}
