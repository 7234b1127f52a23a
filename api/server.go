/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing (also in error logs)
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency per route pattern
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /healthz                  Database ping
  /metrics                  Prometheus scrape endpoint
  /api/fee-structures/*     Structures, versions, components
  /api/components/*         Component and rule management
  /api/rules/*              Rule deactivation
  /api/discounts/*          Discount catalog
  /api/calculations/*       Estimates and persisted calculations
  /api/proration/*          Partial periods, refunds, notice penalties
  /api/approvals/*          Approval workflow
  /api/audit                Audit log query
  /api/scenarios/*          Demo data

SECURITY NOTE:
  No authentication middleware. The actor id in X-Actor-ID is trusted;
  put the service behind a gateway that sets it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if h.Metrics != nil {
		r.Use(h.Metrics.Middleware)
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Fee structure routes
		r.Route("/fee-structures", func(r chi.Router) {
			r.Get("/", h.ListStructures)
			r.Post("/", h.CreateStructure)
			r.Get("/current", h.GetCurrentStructure)
			r.Get("/history", h.GetStructureHistory)
			r.Get("/{id}", h.GetStructure)
			r.Patch("/{id}", h.AmendStructure)
			r.Delete("/{id}", h.DeleteStructure)
			r.Get("/{id}/components", h.ListComponents)
			r.Post("/{id}/components", h.AddComponent)
			r.Get("/{id}/components/summary", h.ComponentSummary)
			r.Get("/{id}/approvals", h.ApprovalTimeline)
		})

		// Component and rule routes
		r.Route("/components", func(r chi.Router) {
			r.Get("/{id}", h.GetComponent)
			r.Patch("/{id}", h.UpdateComponent)
			r.Delete("/{id}", h.DeleteComponent)
			r.Get("/{id}/rules", h.ListRules)
			r.Post("/{id}/rules", h.AddRule)
		})
		r.Post("/rules/{id}/deactivate", h.DeactivateRule)

		// Discount routes
		r.Route("/discounts", func(r chi.Router) {
			r.Get("/", h.ListDiscounts)
			r.Post("/", h.CreateDiscount)
			r.Post("/best", h.BestDiscount)
			r.Get("/code/{code}", h.GetDiscountByCode)
			r.Get("/{id}", h.GetDiscount)
			r.Patch("/{id}", h.UpdateDiscount)
			r.Delete("/{id}", h.DeleteDiscount)
			r.Post("/{id}/applicability", h.DiscountApplicability)
			r.Post("/{id}/amount", h.DiscountAmount)
			r.Post("/{id}/redeem", h.RedeemDiscount)
			r.Post("/{id}/release", h.ReleaseDiscount)
		})

		// Calculation routes
		r.Route("/calculations", func(r chi.Router) {
			r.Post("/estimate", h.EstimateCalculation)
			r.Post("/", h.CreateCalculation)
			r.Get("/", h.ListCalculations)
			r.Get("/{id}", h.GetCalculation)
			r.Post("/{id}/approve", h.ApproveCalculation)
		})

		// Proration routes
		r.Route("/proration", func(r chi.Router) {
			r.Post("/", h.Prorate)
			r.Post("/early-termination", h.EarlyTermination)
			r.Post("/notice-penalty", h.NoticePenalty)
		})

		// Approval routes
		r.Route("/approvals", func(r chi.Router) {
			r.Post("/", h.SubmitApproval)
			r.Get("/pending", h.ListPendingApprovals)
			r.Get("/{id}", h.GetApproval)
			r.Post("/{id}/approve", h.ApproveApproval)
			r.Post("/{id}/reject", h.RejectApproval)
			r.Post("/{id}/revise", h.RequestRevision)
		})

		r.Get("/audit", h.QueryAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
