package user

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcqlabs/examhub/internal/auth"
)

var ErrNotFound = errors.New("user not found")

type User struct {
	ID          string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"full_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Birth       string `json:"birth,omitempty"`
	LTISub      string `json:"-"`
	IsActive    bool   `json:"is_active"`
	IsAdmin     bool   `json:"is_admin"`
	CreatedAt   int64  `json:"created_at"`
}

type Store struct {
	DB *sql.DB
}

func NewStore(dbh *sql.DB) *Store { return &Store{DB: dbh} }

func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	return s.get(ctx, `WHERE id=$1`, id)
}

func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	return s.get(ctx, `WHERE username=$1`, username)
}

func (s *Store) get(ctx context.Context, where string, arg any) (User, error) {
	var (
		u      User
		sub    sql.NullString
		active int
		admin  int
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, username, email, full_name, phone_number, birth, lti_sub, is_active, is_admin, created_at
		 FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.PhoneNumber, &u.Birth, &sub, &active, &admin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.LTISub = sub.String
	u.IsActive = active != 0
	u.IsAdmin = admin != 0
	return u, nil
}

// PasswordHash returns the stored bcrypt digest for a username.
func (s *Store) PasswordHash(ctx context.Context, username string) (id, hash string, err error) {
	err = s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE username=$1`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, hash, err
}

// Create inserts a native account. Uniqueness violations bubble up as driver errors;
// callers pre-check username/email to return a friendly 400.
func (s *Store) Create(ctx context.Context, username, email, passwordHash string) (User, error) {
	u := User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		IsActive:  true,
		CreatedAt: time.Now().Unix(),
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, is_active, created_at)
		 VALUES ($1,$2,$3,$4,1,$5)`,
		u.ID, u.Username, u.Email, passwordHash, u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Store) Exists(ctx context.Context, username, email string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE username=$1 OR email=$2`, username, email).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET is_active=$1 WHERE id=$2`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ProfileUpdate carries the optional fields of PUT /users/{id}. Nil means "not sent";
// empty string clears the field where clearing is allowed.
type ProfileUpdate struct {
	Username     *string
	Email        *string
	FullName     *string
	PhoneNumber  *string
	Birth        *string
	PasswordHash *string
	IsActive     *bool
}

func (s *Store) UpdateProfile(ctx context.Context, id string, up ProfileUpdate) error {
	set := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, col+"=$"+strconv.Itoa(len(args)))
	}
	if up.Username != nil && *up.Username != "" {
		add("username", *up.Username)
	}
	if up.Email != nil && *up.Email != "" {
		add("email", *up.Email)
	}
	if up.FullName != nil {
		add("full_name", *up.FullName)
	}
	if up.PhoneNumber != nil {
		add("phone_number", *up.PhoneNumber)
	}
	if up.Birth != nil && *up.Birth != "" {
		add("birth", *up.Birth)
	}
	if up.PasswordHash != nil {
		add("password_hash", *up.PasswordHash)
	}
	if up.IsActive != nil {
		v := 0
		if *up.IsActive {
			v = 1
		}
		add("is_active", v)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	q := `UPDATE users SET ` + strings.Join(set, ", ") + ` WHERE id=$` + strconv.Itoa(len(args))
	_, err := s.DB.ExecContext(ctx, q, args...)
	return err
}

// SSOClaims is the subset of launch claims user resolution needs.
type SSOClaims struct {
	Subject string
	Email   string
	Name    string
}

// ResolveOrCreate maps an external subject to an internal account.
// Lookup order: lti_sub, then email (backfilling lti_sub), then create an
// SSO-only account with a random password that is never communicated.
func (s *Store) ResolveOrCreate(ctx context.Context, c SSOClaims) (User, error) {
	if c.Subject == "" {
		return User{}, errors.New("sso claims missing subject")
	}
	email := c.Email
	if email == "" {
		email = c.Subject + "@lti.local"
	}

	if u, err := s.get(ctx, `WHERE lti_sub=$1`, c.Subject); err == nil {
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	if u, err := s.get(ctx, `WHERE email=$1`, email); err == nil {
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE users SET lti_sub=$1 WHERE id=$2`, c.Subject, u.ID); err != nil {
			return User{}, err
		}
		u.LTISub = c.Subject
		return u, nil
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	username := localPart(email) + "_" + randHex(2)
	hash, err := auth.HashPassword(randHex(16))
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		FullName:  c.Name,
		LTISub:    c.Subject,
		IsActive:  true,
		CreatedAt: time.Now().Unix(),
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO users (id, username, email, full_name, password_hash, lti_sub, is_active, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,1,$7)`,
		u.ID, u.Username, u.Email, u.FullName, hash, u.LTISub, u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func localPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
