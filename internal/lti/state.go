package lti

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrStateInvalid covers missing, expired and replayed handshake states. The
// login handler treats them all the same way so a caller cannot distinguish
// guessing from replaying.
var ErrStateInvalid = errors.New("unknown or consumed login state")

// StateStore persists OIDC handshake state in the shared database so a launch
// can land on any instance behind a load balancer. A row is consumed exactly
// once: the DELETE decides which caller wins.
type StateStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewStateStore(db *sql.DB, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{db: db, ttl: ttl}
}

// New mints and persists a state/nonce pair for a login handshake.
func (s *StateStore) New(ctx context.Context, issuer, targetLinkURI string) (state, nonce string, err error) {
	state = randHex(16)
	nonce = randHex(16)
	now := time.Now()

	// opportunistic sweep of expired rows
	_, _ = s.db.ExecContext(ctx, `DELETE FROM lti_login_states WHERE expires_at < $1`, now.Unix())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lti_login_states (state, nonce, issuer, target_link_uri, created_at, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		state, nonce, issuer, targetLinkURI, now.Unix(), now.Add(s.ttl).Unix())
	if err != nil {
		return "", "", err
	}
	return state, nonce, nil
}

// Consume atomically claims the state row and returns its nonce and issuer.
// A second consume of the same state fails, as does an expired one.
func (s *StateStore) Consume(ctx context.Context, state string) (nonce, issuer string, err error) {
	var expires int64
	err = s.db.QueryRowContext(ctx,
		`SELECT nonce, issuer, expires_at FROM lti_login_states WHERE state=$1`, state).
		Scan(&nonce, &issuer, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrStateInvalid
	}
	if err != nil {
		return "", "", err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM lti_login_states WHERE state=$1`, state)
	if err != nil {
		return "", "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// another instance consumed it between the read and the delete
		return "", "", ErrStateInvalid
	}
	if time.Now().Unix() > expires {
		return "", "", ErrStateInvalid
	}
	return nonce, issuer, nil
}
