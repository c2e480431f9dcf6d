package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/store"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// DefaultTokenTTL is the lifetime of every token kind unless configured.
const DefaultTokenTTL = 24 * time.Hour

// MintRequest describes a token to create. TTL falls back to the repository
// default when zero.
type MintRequest struct {
	Kind      domain.TokenKind
	AccountID string
	TTL       time.Duration
	OldEmail  string
	NewEmail  string
}

// TokenRepository owns setup, password reset and email change tokens.
type TokenRepository interface {
	Mint(ctx context.Context, req MintRequest) (*domain.Token, error)
	AddMint(tx *store.Tx, req MintRequest, now time.Time) (*domain.Token, error)
	Get(ctx context.Context, kind domain.TokenKind, id string) (*domain.Token, error)
	AddConsume(tx *store.Tx, token *domain.Token, now time.Time)
	ResolveConsume(ctx context.Context, token *domain.Token, now time.Time, err error, outcomes Outcomes) error
	Discard(ctx context.Context, token *domain.Token) error
}

type tokenItem struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	AccountID string `json:"accountId"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
	OldEmail  string `json:"oldEmail,omitempty"`
	NewEmail  string `json:"newEmail,omitempty"`
}

type tokenRepository struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenRepository returns a store-backed implementation.
func NewTokenRepository(s store.Store, ttl time.Duration, clock func() time.Time) TokenRepository {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &tokenRepository{store: s, ttl: ttl, now: clock}
}

func (r *tokenRepository) Mint(ctx context.Context, req MintRequest) (*domain.Token, error) {
	tx := store.NewTx()
	token, err := r.AddMint(tx, req, r.now())
	if err != nil {
		return nil, err
	}
	if err := r.store.Transact(ctx, tx); err != nil {
		return nil, TranslateTx(err, nil)
	}
	return token, nil
}

// AddMint appends the put of a fresh token to tx, guarded against an id
// collision.
func (r *tokenRepository) AddMint(tx *store.Tx, req MintRequest, now time.Time) (*domain.Token, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("generate token id: %w", err))
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = r.ttl
	}

	token := &domain.Token{
		ID:        id.String(),
		Kind:      req.Kind,
		AccountID: req.AccountID,
		CreatedAt: now.UTC(),
		ExpiresAt: now.Add(ttl).UTC(),
	}
	if req.Kind == domain.TokenKindEmailChange {
		token.OldEmail = req.OldEmail
		token.NewEmail = req.NewEmail
	}

	attrs, err := toAttributes(tokenItem{
		ID:        token.ID,
		Kind:      string(token.Kind),
		AccountID: token.AccountID,
		CreatedAt: timestamp(token.CreatedAt),
		ExpiresAt: timestamp(token.ExpiresAt),
		OldEmail:  token.OldEmail,
		NewEmail:  token.NewEmail,
	})
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	tx.Put(TagToken, store.Record{
		Key:        TokenKey(token.Kind, token.ID),
		Attributes: attrs,
		ExpiresAt:  token.ExpiresAt,
	}, store.NotExists())
	return token, nil
}

// Get reads a token, expired or not. Unknown ids yield INVALID_TOKEN.
func (r *tokenRepository) Get(ctx context.Context, kind domain.TokenKind, id string) (*domain.Token, error) {
	key := TokenKey(kind, id)
	if id == "" || key == "" {
		return nil, InvalidToken(kind)
	}

	rec, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, InvalidToken(kind)
		}
		return nil, TranslateStore(err)
	}

	var item tokenItem
	if err := fromAttributes(rec, &item); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if domain.TokenKind(item.Kind) != kind {
		return nil, InvalidToken(kind)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
	return &domain.Token{
		ID:        item.ID,
		Kind:      kind,
		AccountID: item.AccountID,
		CreatedAt: createdAt,
		ExpiresAt: rec.ExpiresAt,
		OldEmail:  item.OldEmail,
		NewEmail:  item.NewEmail,
	}, nil
}

// AddConsume appends the delete that consumes token, valid only while the
// token exists and has not expired at now.
func (r *tokenRepository) AddConsume(tx *store.Tx, token *domain.Token, now time.Time) {
	tx.Delete(TagToken, TokenKey(token.Kind, token.ID), store.Live(now))
}

// ResolveConsume translates the error of a transaction that consumed token.
// A failed token condition means the token expired when its cutoff has
// passed and was consumed concurrently otherwise. Expired tokens are
// discarded on a best-effort basis.
func (r *tokenRepository) ResolveConsume(ctx context.Context, token *domain.Token, now time.Time, err error, outcomes Outcomes) error {
	if err == nil {
		return nil
	}
	var canceled *store.CanceledError
	if errors.As(err, &canceled) && canceled.Has(TagToken) {
		if token.ExpiredAt(now) {
			_ = r.Discard(ctx, token)
			return expiredToken(token.Kind)
		}
		return InvalidToken(token.Kind)
	}
	return TranslateTx(err, outcomes)
}

// Discard removes a token regardless of its state.
func (r *tokenRepository) Discard(ctx context.Context, token *domain.Token) error {
	err := r.store.Transact(ctx, store.NewTx().Delete(TagToken, TokenKey(token.Kind, token.ID), store.Always))
	return TranslateStore(err)
}

// InvalidToken reports an unknown or already consumed token of kind.
func InvalidToken(kind domain.TokenKind) error {
	switch kind {
	case domain.TokenKindSetup:
		return apperrors.NewInvalidToken("You provided an invalid token to setup your account.")
	case domain.TokenKindPasswordReset:
		return apperrors.NewInvalidToken("You provided an invalid token to reset your password.")
	default:
		return apperrors.NewInvalidToken("You provided an invalid token to reset your email.")
	}
}

func expiredToken(kind domain.TokenKind) error {
	switch kind {
	case domain.TokenKindSetup:
		return apperrors.NewExpiredToken("The token to setup your account has expired.")
	case domain.TokenKindPasswordReset:
		return apperrors.NewExpiredToken("The token to reset your password has expired.")
	default:
		return apperrors.NewExpiredToken("The token to reset your email has expired.")
	}
}
