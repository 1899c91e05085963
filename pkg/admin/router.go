package admin

import (
	"github.com/go-chi/chi/v5"

	"github.com/openmedrec/fhirgate/pkg/audit"
	"github.com/openmedrec/fhirgate/pkg/plugins"
	"github.com/openmedrec/fhirgate/pkg/tenancy"
)

// Router assembles the /api/admin surface. auditStore may be nil when
// auditing is disabled.
func Router(store *tenancy.Store, resolver *tenancy.Resolver,
	pluginRegistry *plugins.Registry, auditStore *audit.Store) chi.Router {
	r := chi.NewRouter()

	tenants := NewTenantHandlers(store, resolver)
	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", tenants.List)
		r.Post("/", tenants.Create)
		r.Get("/{tenantId}", tenants.Get)
		r.Put("/{tenantId}", tenants.Update)
		r.Post("/{tenantId}/enable", tenants.SetEnabled(true))
		r.Post("/{tenantId}/disable", tenants.SetEnabled(false))
		r.Delete("/{tenantId}", tenants.Delete)
	})

	r.Get("/plugins", ListPluginsHandler(pluginRegistry))

	if auditStore != nil {
		r.Mount("/audit", audit.Router(auditStore))
	}

	return r
}
