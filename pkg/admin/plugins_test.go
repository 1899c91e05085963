package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmedrec/fhirgate/pkg/plugins"
)

type stubPlugin struct {
	name     string
	mode     plugins.Mode
	priority int
}

func (s *stubPlugin) Name() string          { return s.name }
func (s *stubPlugin) Mode() plugins.Mode    { return s.mode }
func (s *stubPlugin) Priority() int         { return s.priority }
func (s *stubPlugin) Descriptors() []plugins.Descriptor {
	return []plugins.Descriptor{{ResourceType: "Patient", Operation: plugins.OpCreate}}
}

func TestListPlugins(t *testing.T) {
	reg := plugins.NewRegistry()
	require.NoError(t, reg.Register(&stubPlugin{name: "consent-gate", mode: plugins.ModeSync, priority: 50}))
	require.NoError(t, reg.Register(&stubPlugin{name: "notifier", mode: plugins.ModeAsync, priority: 200}))

	w := httptest.NewRecorder()
	ListPluginsHandler(reg)(w, httptest.NewRequest(http.MethodGet, "/plugins", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Plugins   []pluginResponse `json:"plugins"`
		TotalSize int              `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.TotalSize)

	assert.Equal(t, "consent-gate", resp.Plugins[0].Name)
	assert.Equal(t, "sync", resp.Plugins[0].Mode)
	assert.Equal(t, 50, resp.Plugins[0].Priority)
	require.Len(t, resp.Plugins[0].Descriptors, 1)
	assert.Equal(t, "Patient", resp.Plugins[0].Descriptors[0].ResourceType)
	assert.Equal(t, 6, resp.Plugins[0].Descriptors[0].Specificity)

	assert.Equal(t, "async", resp.Plugins[1].Mode)
}
