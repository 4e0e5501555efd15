package accounts

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

// ProfileFields are the user editable columns
type ProfileFields struct {
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Users is the account store
type Users interface {
	Create(ctx context.Context, user *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Activate(ctx context.Context, user *User) (*User, error)
	ActivateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Delete(ctx context.Context, user *User) error
	DeleteTx(ctx context.Context, tx bun.IDB, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, fields ProfileFields) (*User, error)
	UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, fields ProfileFields) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	Count(ctx context.Context) (int, error)
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
	now  func() time.Time
}

var _ Users = (*users)(nil)

// UsersOption customizes the users repository
type UsersOption func(*users)

// WithUsersClock injects a custom clock (useful for tests).
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUsersRepository returns a bun backed account store
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	u := &users{
		repo: repo,
		db:   db,
		now:  time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}

	return u
}

func (a *users) Create(ctx context.Context, user *User) (*User, error) {
	return a.CreateTx(ctx, a.db, user)
}

// CreateTx stores a new inactive user, duplicates return ErrConflict
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user record is required", goerrors.CategoryBadInput)
	}

	a.prepareUserDefaults(user)

	taken, err := a.identityTakenTx(ctx, tx, uuid.Nil, user.Email, user.GetUsername())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check account uniqueness")
	}

	if taken {
		return nil, conflictError(nil, map[string]any{
			"email":    user.Email,
			"username": user.GetUsername(),
		})
	}

	record, err := a.repo.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictError(err, map[string]any{
				"email":    user.Email,
				"username": user.GetUsername(),
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
	}

	return record, nil
}

func (a *users) Activate(ctx context.Context, user *User) (*User, error) {
	return a.ActivateTx(ctx, a.db, user)
}

// ActivateTx flips is_active, already active users are returned untouched
func (a *users) ActivateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, ErrIdentityNotFound
	}

	if user.IsActive {
		return user, nil
	}

	now := a.now().UTC()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("is_active = ?", true).
		Set("updated_at = ?", now).
		Where("?TableAlias.id = ?", user.ID).
		Where("?TableAlias.is_active = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate user").
			WithMetadata(map[string]any{"user_id": user.ID.String()})
	}

	user.IsActive = true
	user.UpdatedAt = &now

	return user, nil
}

func (a *users) Delete(ctx context.Context, user *User) error {
	return a.DeleteTx(ctx, a.db, user)
}

// DeleteTx hard deletes the row
func (a *users) DeleteTx(ctx context.Context, tx bun.IDB, user *User) error {
	if user == nil || user.ID == uuid.Nil {
		return nil
	}

	_, err := tx.NewDelete().
		Model((*User)(nil)).
		Where("?TableAlias.id = ?", user.ID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user").
			WithMetadata(map[string]any{"user_id": user.ID.String()})
	}

	return nil
}

func (a *users) GetByID(ctx context.Context, id string) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, userNotFound(err, id)
	}

	record := &User{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, userNotFound(err, id)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	return record, nil
}

type identifierLookup struct {
	column string
	value  any
}

// resolveUserIdentifier picks the column an identifier matches, session
// subjects are ids and everything else is an email. Usernames never
// identify an account.
func resolveUserIdentifier(identifier string) identifierLookup {
	if id, err := uuid.Parse(identifier); err == nil {
		return identifierLookup{column: "id", value: id}
	}
	return identifierLookup{column: "email", value: normalizeEmail(identifier)}
}

// GetByIdentifier looks the user up by id or by email
func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, userNotFound(nil, identifier)
	}
	return a.getBy(ctx, resolveUserIdentifier(trimmed), identifier)
}

// GetByEmail is the credential lookup, it only matches the email column
func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, userNotFound(nil, email)
	}
	return a.getBy(ctx, identifierLookup{column: "email", value: normalized}, email)
}

func (a *users) getBy(ctx context.Context, lookup identifierLookup, identifier string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(lookup.column), lookup.value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, userNotFound(err, identifier)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}
	return record, nil
}

func (a *users) UpdateProfile(ctx context.Context, id uuid.UUID, fields ProfileFields) (*User, error) {
	var user *User
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = a.UpdateProfileTx(ctx, tx, id, fields)
		return err
	})
	return user, err
}

// UpdateProfileTx writes the profile columns of the user identified by id, nothing else
func (a *users) UpdateProfileTx(ctx context.Context, tx bun.IDB, id uuid.UUID, fields ProfileFields) (*User, error) {
	current, err := a.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return nil, err
	}

	current.FirstName = fields.FirstName
	current.LastName = fields.LastName
	current.Phone = fields.Phone
	current.SetUsername(fields.Username)

	if current.Username != nil {
		taken, err := a.identityTakenTx(ctx, tx, current.ID, "", current.GetUsername())
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username uniqueness")
		}
		if taken {
			return nil, conflictError(nil, map[string]any{"username": current.GetUsername()})
		}
	}

	now := a.now().UTC()
	current.UpdatedAt = &now

	_, err = tx.NewUpdate().
		Model(current).
		Column("first_name", "last_name", "phone_number", "username", "updated_at").
		Where("?TableAlias.id = ?", current.ID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictError(err, map[string]any{"username": current.GetUsername()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return current, nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	if user == nil {
		return nil
	}

	// NOTE: loggedin_at is part of the state fingerprint, so this also
	// invalidates any verification link still in flight.
	loggedInAt := a.now().UTC().Truncate(time.Second)
	_, err := a.db.NewRaw(`
		UPDATE "users"
		SET "loggedin_at" = ?
		WHERE "id" = ?;
	`, loggedInAt, user.ID).Exec(ctx)
	if err != nil {
		return err
	}

	user.LoggedInAt = &loggedInAt
	return nil
}

func (a *users) Count(ctx context.Context) (int, error) {
	return a.db.NewSelect().Model((*User)(nil)).Count(ctx)
}

func (a *users) identityTakenTx(ctx context.Context, tx bun.IDB, except uuid.UUID, email, username string) (bool, error) {
	if email == "" && username == "" {
		return false, nil
	}

	q := tx.NewSelect().Model((*User)(nil))
	q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
		if email != "" {
			q = q.WhereOr("?TableAlias.email = ?", normalizeEmail(email))
		}
		if username != "" {
			q = q.WhereOr("?TableAlias.username = ?", username)
		}
		return q
	})

	if except != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", except)
	}

	return q.Exists(ctx)
}

func (a *users) prepareUserDefaults(record *User) {
	record.Email = normalizeEmail(record.Email)
	record.SetUsername(record.GetUsername())
	record.IsActive = false

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.DateJoined.IsZero() {
		record.DateJoined = a.now().UTC()
	}
}

func userNotFound(cause error, identifier string) error {
	if cause == nil {
		cause = repository.NewRecordNotFound()
	}
	return goerrors.Wrap(cause, goerrors.CategoryNotFound, "user not found").
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"identifier": identifier})
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
