// Package plugins implements the interception pipeline around every FHIR
// operation. Plugins register with a set of operation descriptors and a
// priority; the orchestrator matches them per request and executes the
// BEFORE, AFTER, and ON_ERROR phases with tenant and request-id propagation
// across the async worker pool.
package plugins

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/openmedrec/fhirgate/pkg/fhirversion"
)

// OpType names a FHIR interaction.
type OpType string

const (
	OpRead      OpType = "read"
	OpVRead     OpType = "vread"
	OpCreate    OpType = "create"
	OpUpdate    OpType = "update"
	OpPatch     OpType = "patch"
	OpDelete    OpType = "delete"
	OpSearch    OpType = "search"
	OpHistory   OpType = "history"
	OpOperation OpType = "operation"
)

// Mode selects how a plugin executes relative to the request task.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Descriptor is the four-tuple a plugin registers to select operations.
// An empty field is a wildcard.
type Descriptor struct {
	ResourceType  string
	Operation     OpType
	OperationCode string
	Version       fhirversion.Version
}

// Matches reports whether this registered descriptor selects the request
// descriptor. Every non-empty field must equal the request's field; the
// operation code is compared only for extended operations.
func (d Descriptor) Matches(req Descriptor) bool {
	if d.ResourceType != "" && d.ResourceType != req.ResourceType {
		return false
	}
	if d.Operation != "" && d.Operation != req.Operation {
		return false
	}
	if req.Operation == OpOperation && d.OperationCode != "" && d.OperationCode != req.OperationCode {
		return false
	}
	if d.Version != "" && d.Version != req.Version {
		return false
	}
	return true
}

// Specificity scores how narrow a descriptor is. Used for diagnostics only,
// never for ordering.
func (d Descriptor) Specificity() int {
	score := 0
	if d.ResourceType != "" {
		score += 4
	}
	if d.Operation != "" {
		score += 2
	}
	if d.OperationCode != "" {
		score += 2
	}
	if d.Version != "" {
		score += 1
	}
	return score
}

// Context is the mutable per-request record shared by the core and every
// plugin. It lives for exactly one request; async plugins receive the same
// record after the response is sent, so the attribute bag is guarded.
type Context struct {
	RequestID     string
	Timestamp     time.Time
	Operation     OpType
	Version       fhirversion.Version
	ResourceType  string
	ResourceID    string
	OperationCode string
	Params        url.Values
	InputResource []byte
	// OutputResource is set by the core after a successful operation.
	OutputResource []byte
	// ResponseStatus is recorded by the pipeline before AFTER runs, so
	// telemetry plugins observe aborts and failures too.
	ResponseStatus int
	TenantID       string
	UserID         string
	ClientID       string

	mu         sync.Mutex
	attributes map[string]any
}

// Descriptor returns the request's own operation descriptor.
func (c *Context) Descriptor() Descriptor {
	return Descriptor{
		ResourceType:  c.ResourceType,
		Operation:     c.Operation,
		OperationCode: c.OperationCode,
		Version:       c.Version,
	}
}

// SetAttribute stores a value in the free-form attribute bag shared across
// plugins.
func (c *Context) SetAttribute(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attributes == nil {
		c.attributes = make(map[string]any)
	}
	c.attributes[key] = value
}

// Attribute reads a value from the attribute bag.
func (c *Context) Attribute(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attributes[key]
	return v, ok
}

// Abort carries a plugin-supplied response that replaces the core operation.
type Abort struct {
	Status int
	Body   []byte
}

// BeforeResult is what a sync BEFORE hook returns.
//
// The zero value means continue unchanged. A non-nil Resource replaces the
// input resource seen by later plugins and by the core. SkipRemaining stops
// invoking later BEFORE plugins but still runs the core. A non-nil Abort
// skips both later plugins and the core.
type BeforeResult struct {
	Resource      []byte
	SkipRemaining bool
	Abort         *Abort
}

// Plugin is the registration contract. Hook behavior is added through the
// optional BeforeHook, AfterHook, and ErrorHook interfaces.
type Plugin interface {
	// Name uniquely identifies the plugin in the registry.
	Name() string

	// Mode selects sync or async execution. BEFORE only ever runs sync
	// plugins; async plugins participate in AFTER and ON_ERROR.
	Mode() Mode

	// Priority orders plugin execution, lower first.
	Priority() int

	// Descriptors lists the operations this plugin intercepts.
	Descriptors() []Descriptor
}

// BeforeHook is implemented by sync plugins that intercept requests before
// the core operation.
type BeforeHook interface {
	Before(ctx context.Context, pc *Context) (BeforeResult, error)
}

// AfterHook is implemented by plugins that observe completed operations.
// Async AFTER hooks cannot modify the response; their error is logged only.
type AfterHook interface {
	After(ctx context.Context, pc *Context) error
}

// ErrorHook is implemented by plugins that observe failed operations.
type ErrorHook interface {
	OnError(ctx context.Context, pc *Context, cause error) error
}
