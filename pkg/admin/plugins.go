package admin

import (
	"net/http"

	"github.com/openmedrec/fhirgate/pkg/plugins"
)

type descriptorResponse struct {
	ResourceType  string `json:"resourceType,omitempty"`
	Operation     string `json:"operation,omitempty"`
	OperationCode string `json:"operationCode,omitempty"`
	Version       string `json:"version,omitempty"`
	Specificity   int    `json:"specificity"`
}

type pluginResponse struct {
	Name        string               `json:"name"`
	Mode        string               `json:"mode"`
	Priority    int                  `json:"priority"`
	Descriptors []descriptorResponse `json:"descriptors"`
}

// ListPluginsHandler handles GET /api/admin/plugins, reporting every
// registered plugin in execution order.
func ListPluginsHandler(reg *plugins.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := reg.All()
		out := make([]pluginResponse, 0, len(all))
		for _, p := range all {
			descriptors := make([]descriptorResponse, 0, len(p.Descriptors()))
			for _, d := range p.Descriptors() {
				descriptors = append(descriptors, descriptorResponse{
					ResourceType:  d.ResourceType,
					Operation:     string(d.Operation),
					OperationCode: d.OperationCode,
					Version:       string(d.Version),
					Specificity:   d.Specificity(),
				})
			}
			out = append(out, pluginResponse{
				Name:        p.Name(),
				Mode:        string(p.Mode()),
				Priority:    p.Priority(),
				Descriptors: descriptors,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"plugins":   out,
			"totalSize": len(out),
		})
	}
}
