package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamwolfe2/leadme-sub019/common/middleware"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/auth"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/handlers"
)

type Options struct {
	// Webhook serves /webhooks/{source} and answers its own 405s.
	Webhook http.Handler
	API     *handlers.Handler
	Tokens  auth.TokenValidator
	CORS    middleware.CORSConfig
}

// NewRouter constructs a ServeMux with the ingest routes registered.
func NewRouter(o Options) http.Handler {
	mux := http.NewServeMux()
	h := o.API
	jwt := auth.RequireWorkspace(o.Tokens)
	api := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, jwt(fn))
	}

	// Provider webhooks authenticate with their own secrets
	mux.Handle("/webhooks/{source}", o.Webhook)

	api("POST /api/v1/leads", h.CreateLeads)
	api("GET /api/v1/leads/search", h.SearchLeads)
	api("POST /api/v1/imports", h.CreateImport)
	api("GET /api/v1/imports/{id}", h.GetImport)
	api("POST /api/v1/partners", h.CreatePartner)
	api("POST /api/v1/partners/commissions", h.RecordCommission)
	api("POST /api/v1/partners/commissions/{id}/corrections", h.CorrectCommission)
	api("GET /api/v1/partners/{id}/commissions", h.ListCommissions)
	api("GET /api/v1/targeting/{kind}/{recipientId}", h.GetTargeting)
	api("POST /api/v1/targeting/{kind}/{recipientId}", h.PutTargeting)
	api("POST /api/v1/tenant-mappings", h.CreateTenantMapping)

	// Partners authenticate with X-API-Key
	mux.HandleFunc("POST /api/v1/partners/uploads", h.UploadPartnerLeads)

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(o.CORS.AllowedOrigins) > 0 {
		handler = middleware.CORS(o.CORS)(handler)
	}
	return middleware.RequestID(middleware.Recover(handler))
}
