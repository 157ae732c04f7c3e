package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"fitpass/internal/types"
)

// UserRepository reads the minimal user projection the billing core needs
// (gateway calls, webhook phone fallback) and performs the best-effort
// contact update on webhook processing. The auth subsystem owns the table;
// email is never written here.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.name, u.phone, u.email`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name  *string
		phone *string
		email *string
	)
	if err := row.Scan(&u.ID, &name, &phone, &email); err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if phone != nil {
		u.Phone = *phone
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}

// GetByID retrieves a user by id. Returns ErrCodeNotFoundUser if absent.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByPhone retrieves a user by phone number. The lookup compares digits
// only, so "010-1234-5678" and "01012345678" match the same row.
// Returns ErrCodeNotFoundUser if no user matches.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*types.User, error) {
	digits := NormalizePhone(phone)
	if digits == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPhone, "phone number contains no digits", nil)
	}

	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE regexp_replace(u.phone, '[^0-9]', '', 'g') = $1
		 LIMIT 1`,
		digits,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "no user found for phone number", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user by phone", err)
	}
	return u, nil
}

// UpdateContact updates the user's display name and phone from a gateway
// notification. Empty values are skipped; email is always preserved.
func (r *UserRepository) UpdateContact(ctx context.Context, id, name, phone string) error {
	if name == "" && phone == "" {
		return nil
	}

	_, err := r.db.Exec(ctx,
		`UPDATE users
		 SET name = COALESCE(NULLIF($1, ''), name),
		     phone = COALESCE(NULLIF($2, ''), phone)
		 WHERE id = $3`,
		name,
		phone,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user contact", err)
	}
	return nil
}

// NormalizePhone strips every non-digit rune from a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
