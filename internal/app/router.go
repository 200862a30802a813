package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/restopos/internal/bank"
	"github.com/odyssey-erp/restopos/internal/billing"
	"github.com/odyssey-erp/restopos/internal/observability"
	"github.com/odyssey-erp/restopos/internal/payments"
	"github.com/odyssey-erp/restopos/internal/purchasing"
	"github.com/odyssey-erp/restopos/internal/stock"
	"github.com/odyssey-erp/restopos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Verifier          *TokenVerifier
	BankHandler       *bank.Handler
	StockHandler      *stock.Handler
	BillingHandler    *billing.Handler
	PurchasingHandler *purchasing.Handler
	PaymentsHandler   *payments.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if params.Verifier != nil {
			r.Use(ActorMiddleware(params.Verifier))
		}
		r.Route("/api", func(r chi.Router) {
			if params.BankHandler != nil {
				r.Route("/bank", params.BankHandler.MountRoutes)
			}
			if params.StockHandler != nil {
				r.Route("/stock", params.StockHandler.MountRoutes)
			}
			if params.BillingHandler != nil {
				params.BillingHandler.MountRoutes(r)
			}
			if params.PurchasingHandler != nil {
				r.Route("/purchases", params.PurchasingHandler.MountRoutes)
			}
			if params.PaymentsHandler != nil {
				r.Route("/receipts", params.PaymentsHandler.MountRoutes)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
