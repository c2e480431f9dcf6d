package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/domain"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// RequireScope ensures the principal holds one of the allowed scopes.
func RequireScope(allowed ...domain.Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, scope := range allowed {
			if principal.Account.HasScope(scope) {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("insufficient scope")
	}
}

// RequireSelfOrAdmin ensures the principal owns the account named by the
// route parameter or holds the admin scope.
func RequireSelfOrAdmin(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.Account.ID == c.Params(param) || principal.Account.HasScope(domain.ScopeAdmin) {
			return c.Next()
		}
		return apperrors.NewForbidden("you may only access your own account")
	}
}
