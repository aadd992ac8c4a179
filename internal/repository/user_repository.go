package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/task-management-api/internal/utils"
)

// User mirrors the 'users' table.
type User struct {
	ID           uint64
	Email        string
	Username     string
	PasswordHash string
	FullName     string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Roles stored in users.role. RoleAdmin bypasses task ownership scoping.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var (
	ErrEmailExists    = errors.New("email already exists")
	ErrUsernameExists = errors.New("username already exists")
)

const userColumns = "id,email,username,password_hash,full_name,role,is_active,created_at,updated_at"

// Create inserts a user with role 'user' and returns the stored row.
// Email and username are normalized before insertion so uniqueness is
// case-insensitive. The raw password is hashed with bcrypt and never
// persisted or logged.
func (r *UserRepo) Create(ctx context.Context, email, username, password, fullName string, cost int) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.ToLower(strings.TrimSpace(username))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return User{}, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, username, password_hash, full_name, role) VALUES (?,?,?,?,?)",
		email, username, hash, strings.TrimSpace(fullName), RoleUser)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "1062") {
			if strings.Contains(msg, "username") {
				return User{}, ErrUsernameExists
			}
			return User{}, ErrEmailExists
		}
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return r.GetByID(ctx, uint64(id))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (User, error) {
	var u User
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByIdentifier fetches a user by username or email. The identifier is
// normalized the same way Create normalizes both columns.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	var u User
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? OR email=? LIMIT 1",
		identifier, identifier).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// VerifyCredentials looks up a user by username or email and checks the
// password. Unknown identifier and wrong password both return
// ErrInvalidCredentials; a bcrypt comparison against a throwaway hash runs
// in the unknown-identifier case so the two paths take comparable time.
func (r *UserRepo) VerifyCredentials(ctx context.Context, identifier, password string) (User, error) {
	u, err := r.GetByIdentifier(ctx, identifier)
	if err != nil {
		if err == sql.ErrNoRows {
			utils.VerifyPassword(utils.DummyHash, password)
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return User{}, ErrUserInactive
	}
	return u, nil
}
