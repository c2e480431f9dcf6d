package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/account-service/internal/store"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// Outcomes maps the tag of an operation whose condition failed to the domain
// error reported for it. Each call site declares its map next to the ops it
// builds.
type Outcomes map[store.Tag]error

// TranslateTx converts a Transact error into a domain error. For canceled
// transactions the first failed tag in operation order decides the outcome;
// a failed tag the call site did not map is an internal error.
func TranslateTx(err error, outcomes Outcomes) error {
	if err == nil {
		return nil
	}
	var canceled *store.CanceledError
	if errors.As(err, &canceled) && len(canceled.Tags) > 0 {
		tag := canceled.Tags[0]
		if mapped, ok := outcomes[tag]; ok {
			return mapped
		}
		return apperrors.NewInternalError(fmt.Errorf("unmapped condition failure %q: %w", tag, err))
	}
	return TranslateStore(err)
}

// TranslateStore converts a non-conditional store error. Callers handle
// store.ErrNotFound themselves since its meaning depends on the record.
func TranslateStore(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTransient(err)
	default:
		return apperrors.NewInternalError(err)
	}
}
