package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	pkgerrors "codeverse/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenState stores the login session: the bearer token plus the user it belongs to.
type TokenState struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

func (st TokenState) LoggedIn() bool {
	return st.Token != ""
}

func Load(path string) (TokenState, error) {
	var st TokenState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, pkgerrors.Wrapf(err, pkgerrors.StateLoadFailed, "read token state failed: %v", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, pkgerrors.Wrapf(err, pkgerrors.StateLoadFailed, "parse token state failed: %v", err)
	}
	return st, nil
}

func Save(path string, st TokenState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.StateSaveFailed, "create token state dir failed: %v", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.StateSaveFailed, "marshal token state failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.StateSaveFailed, "write token state failed: %v", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, pkgerrors.StateSaveFailed, "remove token state failed: %v", err)
	}
	return nil
}

// Store is the persisted token state shared by the REPL and the HTTP client.
type Store struct {
	path string

	mu sync.RWMutex
	st TokenState
}

// Open loads the state at path. A missing file yields an empty, logged-out store.
func Open(path string) (*Store, error) {
	st, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, st: st}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Token
}

// Override replaces the token in memory only.
func (s *Store) Override(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Token = token
}

// Update applies fn and persists the result.
func (s *Store) Update(fn func(*TokenState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st
	fn(&next)
	if err := Save(s.path, next); err != nil {
		return err
	}
	s.st = next
	return nil
}

// Clear logs out, dropping the token, user id and username.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = TokenState{}
	return Clear(s.path)
}

// Claims is what the client can read from a token without the signing key.
type Claims struct {
	Subject   string
	UserID    int64
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Check returns a TokenExpired error once the expiry has passed.
func (c Claims) Check(now time.Time) error {
	if c.Expired(now) {
		return pkgerrors.New(pkgerrors.TokenExpired).WithMessage("token has expired").
			WithDetail("expires_at", c.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ParseClaims decodes a JWT without verifying its signature. The backend stays
// the authority; this only lets the CLI warn about expired sessions.
func ParseClaims(token string) (Claims, error) {
	var out Claims
	if token == "" {
		return out, pkgerrors.New(pkgerrors.TokenMissing)
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return out, pkgerrors.Wrapf(err, pkgerrors.TokenInvalid, "parse token failed: %v", err)
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	for _, key := range []string{"user_id", "userId", "id"} {
		if id, ok := numericClaim(claims[key]); ok {
			out.UserID = id
			break
		}
	}
	if out.UserID == 0 && out.Subject != "" {
		if id, err := strconv.ParseInt(out.Subject, 10, 64); err == nil {
			out.UserID = id
		}
	}
	return out, nil
}

func numericClaim(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
