package rest

import (
	"net/http"

	"github.com/frahmantamala/expense-claims/api"
	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/auth"
	"github.com/frahmantamala/expense-claims/internal/category"
	"github.com/frahmantamala/expense-claims/internal/expense"
	"github.com/frahmantamala/expense-claims/internal/payment"
	"github.com/frahmantamala/expense-claims/internal/storage"
	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/frahmantamala/expense-claims/internal/transport/middleware"
	"github.com/frahmantamala/expense-claims/internal/transport/swagger"
	"github.com/frahmantamala/expense-claims/internal/user"
	"github.com/go-chi/chi"
)

// Handlers groups the HTTP surface of the backend. Nil handlers leave
// their routes unmounted.
type Handlers struct {
	Health   *HealthHandler
	Auth     *auth.Handler
	User     *user.Handler
	Category *category.Handler
	Expense  *expense.Handler
	Payment  *payment.Handler
	Receipts *storage.Handler
}

// Options tunes the router. A nil Validate mounts the API unchecked.
type Options struct {
	AllowedOrigins []string
	Validate       func(http.Handler) http.Handler
}

func NewRouter(base *transport.BaseHandler, h Handlers, opts Options) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(base))
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.Logging)

	// Served outside the API prefix so Swagger UI can reach it.
	router.Get("/openapi.yml", api.Handler())
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	router.Route("/api/v1", func(r chi.Router) {
		if opts.Validate != nil {
			r.Use(opts.Validate)
		}

		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ping", h.Health.Ping)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(ar chi.Router) {
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshToken)
			ar.With(h.Auth.AuthMiddleware).Get("/me", h.Auth.Me)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
				pr.With(auth.RequireAnyRole(base, auth.RoleAdmin)).Get("/users", h.User.ListUsers)
			}
			if h.Category != nil {
				pr.Get("/categories", h.Category.GetCategories)
			}
			if h.Receipts != nil {
				pr.Post("/receipts", h.Receipts.UploadReceipt)
			}
			if h.Expense != nil {
				pr.Route("/expenses", h.Expense.Routes)
			}
			if h.Payment != nil {
				pr.Route("/payments", h.Payment.Routes)
			}
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		base.WriteAppError(w, errors.NewNotFoundError("route not found", errors.ErrCodeRouteNotFound))
	})

	return router
}
