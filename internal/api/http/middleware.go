package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/observability"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// transientRetryAfter is the Retry-After hint, in seconds, sent with 503s.
const transientRetryAfter = "1"

// RegisterMiddlewares attaches request ids, the request deadline, request
// logging and error rendering, in that order.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				err = renderError(c, err, logger, metrics)
			}
		}()
		return c.Next()
	}
}

// renderError writes the {"error": {...}} envelope for err.
func renderError(c *fiber.Ctx, err error, logger *zap.Logger, metrics *observability.Metrics) error {
	domainErr := toDomainError(err)
	metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)

	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}

	switch {
	case domainErr.Code == apperrors.CodeTransient:
		c.Set(fiber.HeaderRetryAfter, transientRetryAfter)
		logger.Warn("request failed on an unavailable dependency",
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("route", c.Route().Path),
			zap.Error(domainErr))
	case domainErr.HTTPStatus >= fiber.StatusInternalServerError:
		logger.Error("request failed",
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("route", c.Route().Path),
			zap.Error(domainErr))
	}

	c.Status(domainErr.HTTPStatus)
	return c.JSON(fiber.Map{"error": body})
}

// toDomainError also covers fiber's own errors, such as unknown routes and
// oversized bodies, which carry their status but no domain code.
func toDomainError(err error) *apperrors.DomainError {
	var domainErr *apperrors.DomainError
	var fiberErr *fiber.Error
	if errors.As(err, &domainErr) || !errors.As(err, &fiberErr) {
		return apperrors.ToDomainError(err)
	}

	code := apperrors.CodeValidationFailed
	switch {
	case fiberErr.Code == fiber.StatusNotFound || fiberErr.Code == fiber.StatusMethodNotAllowed:
		code = apperrors.CodeNotFound
	case fiberErr.Code == fiber.StatusUnauthorized:
		code = apperrors.CodeUnauthorized
	case fiberErr.Code == fiber.StatusForbidden:
		code = apperrors.CodeForbidden
	case fiberErr.Code == fiber.StatusRequestTimeout || fiberErr.Code == fiber.StatusServiceUnavailable:
		code = apperrors.CodeTransient
	case fiberErr.Code >= fiber.StatusInternalServerError:
		return apperrors.ToDomainError(err)
	}
	return apperrors.NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
}
