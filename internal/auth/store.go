package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/wisbric/kuberdock/internal/db"
)

// ErrBadCredentials is returned for unknown users, wrong passwords, and
// unknown tokens alike so callers cannot probe for valid usernames.
var ErrBadCredentials = errors.New("invalid credentials")

// UserRecord is the slice of the users table the authenticator needs.
type UserRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	FixPrice     bool
	Active       bool
	Deleted      bool
}

// Storage resolves credentials against the users table.
type Storage struct {
	DB db.DBTX
}

const userAuthColumns = `id, username, password_hash, role, fix_price, active, deleted`

func (s *Storage) scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.FixPrice, &u.Active, &u.Deleted)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ByUsername returns the user record for a username, or ErrBadCredentials.
func (s *Storage) ByUsername(ctx context.Context, username string) (*UserRecord, error) {
	row := s.DB.QueryRow(ctx,
		`SELECT `+userAuthColumns+` FROM users WHERE username = $1`, username)
	u, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("looking up user %q: %w", username, err)
	}
	return u, nil
}

// ByToken returns the user record owning a persistent API token.
func (s *Storage) ByToken(ctx context.Context, token string) (*UserRecord, error) {
	if token == "" {
		return nil, ErrBadCredentials
	}
	row := s.DB.QueryRow(ctx,
		`SELECT `+userAuthColumns+` FROM users WHERE token = $1`, token)
	u, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	return u, nil
}

// CheckPassword verifies a username + password pair and returns the record.
func (s *Storage) CheckPassword(ctx context.Context, username, password string) (*UserRecord, error) {
	u, err := s.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// Identity converts a user record into a caller identity, rejecting blocked
// and deleted accounts.
func (u *UserRecord) Identity(method string) (*Identity, error) {
	if u.Deleted {
		return nil, ErrBadCredentials
	}
	if !u.Active {
		return nil, fmt.Errorf("user %q is blocked", u.Username)
	}
	role := u.Role
	if role != RoleAdmin {
		role = RoleUser
	}
	return &Identity{
		UserID:   u.ID,
		Username: u.Username,
		Role:     role,
		FixPrice: u.FixPrice,
		Method:   method,
	}, nil
}
