package auth

import (
	"net/http"

	"github.com/frahmantamala/expense-claims/internal/transport"
	"github.com/frahmantamala/expense-claims/pkg/logger"
)

// RequireAnyRole rejects requests whose user holds none of roles. It only
// gates coarse access; amount-dependent decisions stay with Policy.
func RequireAnyRole(base *transport.BaseHandler, roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				base.WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if _, ok := allowed[user.Role]; !ok {
				logger.From(r.Context()).Warn("access denied: role not allowed",
					"user_id", user.ID,
					"role", user.Role,
					"required_roles", roles)
				base.WriteError(w, http.StatusForbidden, "Forbidden: insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
