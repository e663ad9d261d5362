package middleware

import (
	"fmt"
	"net/http"

	errors "github.com/frahmantamala/expense-claims/internal"
	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPI rejects requests whose path or query parameters break the API
// document. Bodies stay with the handlers so field errors keep one shape.
// Routes the document does not describe fall through to the router.
func OpenAPI(base *transport.BaseHandler, doc *openapi3.T) (func(http.Handler) http.Handler, error) {
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi router: %w", err)
	}
	opts := &openapi3filter.Options{
		ExcludeRequestBody: true,
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, params, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route:      route,
				Options:    opts,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				base.WriteAppError(w, errors.NewValidationError("Invalid request parameters", errors.ErrCodeValidationFailed).WithCause(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
