package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/account-service/internal/billing"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/store"
	"github.com/spec-kit/account-service/internal/validation"
	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// PasswordHasher hashes and compares passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Compare(hash, plaintext string) bool
}

// CreateAccountInput carries the fields accepted when creating an account.
type CreateAccountInput struct {
	Email    string
	FullName string
	Scope    []domain.Scope
	Billing  map[string]any
}

// AccountRepository owns account records and their email index.
type AccountRepository interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, input CreateAccountInput) (*domain.Account, *domain.Token, error)
	Update(ctx context.Context, id string, patch map[string]any) (*domain.Account, error)
	Delete(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, hash string) error
	VerifyPassword(ctx context.Context, id, plaintext string) (bool, error)

	CheckExists(tx *store.Tx, id string)
	CheckEmailFree(tx *store.Tx, email string)
	AddActivate(tx *store.Tx, id, hash string, now time.Time)
	AddSetPassword(tx *store.Tx, id, hash string, now time.Time)
	AddEmailSwap(tx *store.Tx, id, oldEmail, newEmail string, now time.Time) error
	AddConfirmEmail(tx *store.Tx, id string, now time.Time)
}

// AccountDependencies bundles collaborators of the account repository.
type AccountDependencies struct {
	Store     store.Store
	Tokens    TokenRepository
	Validator *validation.Validator
	Hasher    PasswordHasher
	Clock     func() time.Time
}

type accountItem struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	FullName       string      `json:"fullName"`
	PasswordHash   string      `json:"passwordHash,omitempty"`
	Scope          []string    `json:"scope"`
	Status         string      `json:"status"`
	ValidatedEmail bool        `json:"validatedEmail"`
	Billing        billingItem `json:"billing"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

type billingItem struct {
	Customer     map[string]any `json:"customer"`
	Subscription map[string]any `json:"subscription"`
}

type emailIndexItem struct {
	AccountID string `json:"accountId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

var updatableFields = []string{"fullName", "scope", "billing"}

type accountRepository struct {
	store     store.Store
	tokens    TokenRepository
	validator *validation.Validator
	hasher    PasswordHasher
	now       func() time.Time
}

// NewAccountRepository returns a store-backed implementation.
func NewAccountRepository(deps AccountDependencies) AccountRepository {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	v := deps.Validator
	if v == nil {
		v = validation.New()
	}
	return &accountRepository{
		store:     deps.Store,
		tokens:    deps.Tokens,
		validator: v,
		hasher:    deps.Hasher,
		now:       clock,
	}
}

func (r *accountRepository) Get(ctx context.Context, id string) (*domain.Account, error) {
	if err := r.validator.Validate(validation.AccountSchema, validation.Input{"id": id}, "id"); err != nil {
		return nil, err
	}

	rec, err := r.store.Get(ctx, AccountKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, AccountNotFound(id)
		}
		return nil, TranslateStore(err)
	}
	return decodeAccount(rec)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = NormalizeEmail(email)
	if err := r.validator.Validate(validation.AccountSchema, validation.Input{"email": email}, "email"); err != nil {
		return nil, err
	}

	rec, err := r.store.Get(ctx, EmailKey(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, emailNotFound(email)
		}
		return nil, TranslateStore(err)
	}

	var index emailIndexItem
	if err := fromAttributes(rec, &index); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	account, err := r.Get(ctx, index.AccountID)
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil, emailNotFound(email)
	}
	return account, err
}

// Create persists a new account in setup status together with its email
// index entry and a setup token, all in one transaction.
func (r *accountRepository) Create(ctx context.Context, input CreateAccountInput) (*domain.Account, *domain.Token, error) {
	email := NormalizeEmail(input.Email)
	fields := validation.Input{
		"email":    email,
		"fullName": input.FullName,
	}
	if input.Scope != nil {
		fields["scope"] = scopeStrings(input.Scope)
	}
	if input.Billing != nil {
		fields["billing"] = input.Billing
	}
	if err := r.validator.Validate(validation.AccountSchema, fields, "email", "fullName", "scope", "billing"); err != nil {
		return nil, nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, apperrors.NewInternalError(fmt.Errorf("generate account id: %w", err))
	}
	now := r.now().UTC()
	normalized := billing.Normalize(input.Billing)
	account := &domain.Account{
		ID:       id.String(),
		Email:    email,
		FullName: input.FullName,
		Scope:    append([]domain.Scope(nil), input.Scope...),
		Status:   domain.AccountStatusSetup,
		Billing: domain.Billing{
			Customer:     normalized["customer"].(map[string]any),
			Subscription: normalized["subscription"].(map[string]any),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	accountAttrs, err := toAttributes(encodeAccount(account))
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}
	indexAttrs, err := toAttributes(emailIndexItem{
		AccountID: account.ID,
		CreatedAt: timestamp(now),
		UpdatedAt: timestamp(now),
	})
	if err != nil {
		return nil, nil, apperrors.NewInternalError(err)
	}

	tx := store.NewTx().
		Put(TagAccount, store.Record{Key: AccountKey(account.ID), Attributes: accountAttrs}, store.NotExists()).
		Put(TagEmail, store.Record{Key: EmailKey(email), Attributes: indexAttrs}, store.NotExists())
	token, err := r.tokens.AddMint(tx, MintRequest{Kind: domain.TokenKindSetup, AccountID: account.ID}, now)
	if err != nil {
		return nil, nil, err
	}

	err = r.store.Transact(ctx, tx)
	if err != nil {
		return nil, nil, TranslateTx(err, Outcomes{
			TagAccount: apperrors.NewConflict("An account with this id already exists.", nil),
			TagEmail: apperrors.NewConflict("An account with this email address already exists.", []apperrors.FieldError{
				{Field: "email", Message: "An account with this email address already exists."},
			}),
		})
	}
	return account, token, nil
}

// Update applies the updatable fields of patch. The id is never changed and
// billing customer and subscription objects are replaced wholesale after
// the billing allow-list filter.
func (r *accountRepository) Update(ctx context.Context, id string, patch map[string]any) (*domain.Account, error) {
	input := validation.Input{"id": id}
	fields := []string{"id"}
	for _, field := range updatableFields {
		if value, ok := patch[field]; ok {
			input[field] = value
			fields = append(fields, field)
		}
	}
	if err := r.validator.Validate(validation.AccountSchema, input, fields...); err != nil {
		return nil, err
	}

	now := r.now()
	set := map[string]any{"updatedAt": timestamp(now)}
	if value, ok := input["fullName"]; ok {
		set["fullName"] = value
	}
	if value, ok := input["scope"]; ok {
		set["scope"] = value
	}
	if value, ok := input["billing"].(map[string]any); ok {
		if customer, present := value["customer"]; present {
			m, _ := customer.(map[string]any)
			set["billing.customer"] = billing.FilterCustomer(m)
		}
		if subscription, present := value["subscription"]; present {
			m, _ := subscription.(map[string]any)
			set["billing.subscription"] = billing.FilterSubscription(m)
		}
	}

	tx := store.NewTx().Update(TagAccount, AccountKey(id), set, store.Exists())
	if err := r.store.Transact(ctx, tx); err != nil {
		return nil, TranslateTx(err, Outcomes{TagAccount: AccountNotFound(id)})
	}
	return r.Get(ctx, id)
}

// Delete removes the account and its email index entry atomically.
func (r *accountRepository) Delete(ctx context.Context, id string) error {
	account, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	tx := store.NewTx().
		Delete(TagAccount, AccountKey(account.ID), store.Exists()).
		Delete(TagEmail, EmailKey(account.Email), store.Exists())
	err = r.store.Transact(ctx, tx)
	return TranslateTx(err, Outcomes{
		TagAccount: AccountNotFound(id),
		TagEmail:   apperrors.NewConflict(fmt.Sprintf("The account with id \"%s\" changed while it was being deleted.", id), nil),
	})
}

func (r *accountRepository) SetPassword(ctx context.Context, id, hash string) error {
	tx := store.NewTx()
	r.AddSetPassword(tx, id, hash, r.now())
	return TranslateTx(r.store.Transact(ctx, tx), Outcomes{TagAccount: AccountNotFound(id)})
}

// VerifyPassword compares plaintext with the stored hash. Accounts without a
// password never verify.
func (r *accountRepository) VerifyPassword(ctx context.Context, id, plaintext string) (bool, error) {
	rec, err := r.store.Get(ctx, AccountKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, AccountNotFound(id)
		}
		return false, TranslateStore(err)
	}
	var item accountItem
	if err := fromAttributes(rec, &item); err != nil {
		return false, apperrors.NewInternalError(err)
	}
	if item.PasswordHash == "" {
		return false, nil
	}
	return r.hasher.Compare(item.PasswordHash, plaintext), nil
}

func (r *accountRepository) CheckExists(tx *store.Tx, id string) {
	tx.Check(TagAccount, AccountKey(id), store.Exists())
}

func (r *accountRepository) CheckEmailFree(tx *store.Tx, email string) {
	tx.Check(TagEmail, EmailKey(NormalizeEmail(email)), store.NotExists())
}

// AddActivate sets the password and moves the account to active status.
// Receiving the setup link proves ownership of the address.
func (r *accountRepository) AddActivate(tx *store.Tx, id, hash string, now time.Time) {
	tx.Update(TagAccount, AccountKey(id), map[string]any{
		"passwordHash":   hash,
		"status":         string(domain.AccountStatusActive),
		"validatedEmail": true,
		"updatedAt":      timestamp(now),
	}, store.Exists())
}

func (r *accountRepository) AddSetPassword(tx *store.Tx, id, hash string, now time.Time) {
	tx.Update(TagAccount, AccountKey(id), map[string]any{
		"passwordHash": hash,
		"updatedAt":    timestamp(now),
	}, store.Exists())
}

// AddEmailSwap moves the email index from oldEmail to newEmail and updates
// the account. The account must still hold oldEmail (tag account), the old
// index entry must still point at the account (tag old_email) and the new
// index entry must not exist (tag email).
func (r *accountRepository) AddEmailSwap(tx *store.Tx, id, oldEmail, newEmail string, now time.Time) error {
	oldEmail = NormalizeEmail(oldEmail)
	newEmail = NormalizeEmail(newEmail)
	indexAttrs, err := toAttributes(emailIndexItem{
		AccountID: id,
		CreatedAt: timestamp(now),
		UpdatedAt: timestamp(now),
	})
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	tx.Update(TagAccount, AccountKey(id), map[string]any{
		"email":          newEmail,
		"validatedEmail": true,
		"updatedAt":      timestamp(now),
	}, store.AttrEquals("email", oldEmail)).
		Delete(TagOldEmail, EmailKey(oldEmail), store.AttrEquals("accountId", id)).
		Put(TagEmail, store.Record{Key: EmailKey(newEmail), Attributes: indexAttrs}, store.NotExists())
	return nil
}

func (r *accountRepository) AddConfirmEmail(tx *store.Tx, id string, now time.Time) {
	tx.Update(TagAccount, AccountKey(id), map[string]any{
		"validatedEmail": true,
		"updatedAt":      timestamp(now),
	}, store.Exists())
}

func encodeAccount(a *domain.Account) accountItem {
	return accountItem{
		ID:             a.ID,
		Email:          a.Email,
		FullName:       a.FullName,
		Scope:          scopeStrings(a.Scope),
		Status:         string(a.Status),
		ValidatedEmail: a.ValidatedEmail,
		Billing: billingItem{
			Customer:     a.Billing.Customer,
			Subscription: a.Billing.Subscription,
		},
		CreatedAt: timestamp(a.CreatedAt),
		UpdatedAt: timestamp(a.UpdatedAt),
	}
}

func decodeAccount(rec *store.Record) (*domain.Account, error) {
	var item accountItem
	if err := fromAttributes(rec, &item); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, item.UpdatedAt)

	scope := make([]domain.Scope, 0, len(item.Scope))
	for _, s := range item.Scope {
		scope = append(scope, domain.Scope(s))
	}
	account := &domain.Account{
		ID:             item.ID,
		Email:          item.Email,
		FullName:       item.FullName,
		HasPassword:    item.PasswordHash != "",
		Scope:          scope,
		Status:         domain.AccountStatus(item.Status),
		ValidatedEmail: item.ValidatedEmail,
		Billing: domain.Billing{
			Customer:     item.Billing.Customer,
			Subscription: item.Billing.Subscription,
		},
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if account.Billing.Customer == nil {
		account.Billing.Customer = map[string]any{}
	}
	if account.Billing.Subscription == nil {
		account.Billing.Subscription = map[string]any{}
	}
	return account, nil
}

func scopeStrings(scope []domain.Scope) []string {
	out := make([]string, 0, len(scope))
	for _, s := range scope {
		out = append(out, string(s))
	}
	return out
}

// AccountNotFound reports a missing account id.
func AccountNotFound(id string) error {
	return apperrors.NewNotFound(fmt.Sprintf("The account with id \"%s\" does not exist.", id))
}

func emailNotFound(email string) error {
	return apperrors.NewNotFound(fmt.Sprintf("The account with email \"%s\" does not exist.", email))
}
