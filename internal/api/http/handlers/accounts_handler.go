package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/auth"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/repository"
	"github.com/spec-kit/account-service/internal/service"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// AccountsHandler exposes account lifecycle endpoints.
type AccountsHandler struct {
	accounts *service.AccountService
}

// NewAccountsHandler constructs handler.
func NewAccountsHandler(accounts *service.AccountService) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

// Setup handles POST /accounts. Self-service signups always get the user
// scope.
func (h *AccountsHandler) Setup(c *fiber.Ctx) error {
	var req dto.SetupAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	account, _, err := h.accounts.SetupAccount(c.UserContext(), repository.CreateAccountInput{
		Email:    req.Email,
		FullName: req.FullName,
		Scope:    []domain.Scope{domain.ScopeUser},
		Billing:  req.Billing,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// Activate handles POST /accounts/activate.
func (h *AccountsHandler) Activate(c *fiber.Ctx) error {
	var req dto.ActivateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	account, err := h.accounts.ActivateAccount(c.UserContext(), req.Token, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// ConfirmEmail handles POST /accounts/email/confirm.
func (h *AccountsHandler) ConfirmEmail(c *fiber.Ctx) error {
	var req dto.EmailConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	account, err := h.accounts.ConsumeEmailChange(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// Me handles GET /accounts/me.
func (h *AccountsHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(principal.Account)})
}

// Get handles GET /accounts/:id.
func (h *AccountsHandler) Get(c *fiber.Ctx) error {
	account, err := h.accounts.GetAccount(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// Update handles PATCH /accounts/:id. Only admins may change scope.
func (h *AccountsHandler) Update(c *fiber.Ctx) error {
	patch := map[string]any{}
	if err := c.BodyParser(&patch); err != nil {
		return invalidPayload()
	}
	if _, ok := patch["scope"]; ok {
		principal, found := auth.PrincipalFromContext(c)
		if !found || !principal.Account.HasScope(domain.ScopeAdmin) {
			return apperrors.NewForbidden("only administrators may change the account scope")
		}
	}

	account, err := h.accounts.UpdateAccount(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// Delete handles DELETE /accounts/:id.
func (h *AccountsHandler) Delete(c *fiber.Ctx) error {
	if err := h.accounts.DeleteAccount(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// ChangePassword handles POST /accounts/:id/password.
func (h *AccountsHandler) ChangePassword(c *fiber.Ctx) error {
	var req dto.PasswordChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	account, err := h.accounts.ChangePassword(c.UserContext(), c.Params("id"), req.Password, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAccountResponse(account)})
}

// RequestEmailChange handles POST /accounts/:id/email.
func (h *AccountsHandler) RequestEmailChange(c *fiber.Ctx) error {
	var req dto.EmailChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}

	if _, _, err := h.accounts.RequestEmailChange(c.UserContext(), c.Params("id"), req.Email); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}

// RequestEmailVerification handles POST /accounts/:id/email/verify.
func (h *AccountsHandler) RequestEmailVerification(c *fiber.Ctx) error {
	if _, _, err := h.accounts.RequestEmailVerification(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusAccepted)
}
