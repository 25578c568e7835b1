package state

import (
	"path/filepath"
	"testing"
	"time"

	"codeverse/internal/testutil"
	pkgerrors "codeverse/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return token
}

func TestLoadMissingIsLoggedOut(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertFalse(t, st.LoggedIn(), "missing state should be logged out")
}

func TestLoadCorrupt(t *testing.T) {
	path := testutil.WriteFile(t, "state.json", "{not json")
	_, err := Load(path)
	if !pkgerrors.Is(err, pkgerrors.StateLoadFailed) {
		t.Fatalf("expected StateLoadFailed, got %v", err)
	}
}

func TestStoreUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Update(func(st *TokenState) {
		st.Token = "tok"
		st.UserID = 12
		st.Username = "ada"
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	testutil.AssertEqual(t, store.Token(), "tok")

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	testutil.AssertEqual(t, reopened.Get(), TokenState{Token: "tok", UserID: 12, Username: "ada"})
}

func TestStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := Save(path, TokenState{Token: "tok", UserID: 3, Username: "bob"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	testutil.AssertEqual(t, store.Get(), TokenState{})

	st, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertFalse(t, st.LoggedIn(), "cleared state should stay logged out")
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
}

func TestStoreOverrideIsNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	store.Override("flag-token")
	testutil.AssertEqual(t, store.Token(), "flag-token")

	st, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	testutil.AssertEqual(t, st.Token, "")
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, jwt.MapClaims{"sub": "42", "exp": exp.Unix()})

	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	testutil.AssertEqual(t, claims.Subject, "42")
	testutil.AssertEqual(t, claims.UserID, int64(42))
	testutil.AssertTrue(t, claims.ExpiresAt.Equal(exp), "expiry should round-trip")
	testutil.AssertFalse(t, claims.Expired(time.Now()), "token should not be expired yet")
	testutil.AssertTrue(t, claims.Expired(exp.Add(time.Second)), "token should expire")
	if err := claims.Check(time.Now()); err != nil {
		t.Fatalf("live token should pass check: %v", err)
	}
	if err := claims.Check(exp.Add(time.Second)); !pkgerrors.Is(err, pkgerrors.TokenExpired) {
		t.Fatalf("expected TokenExpired, got %v", err)
	}
}

func TestParseClaimsUserIDClaim(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"user_id": 7, "username": "ada"})
	claims, err := ParseClaims(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	testutil.AssertEqual(t, claims.UserID, int64(7))
	testutil.AssertTrue(t, claims.ExpiresAt.IsZero(), "no exp claim")
	testutil.AssertFalse(t, claims.Expired(time.Now()), "tokens without exp never expire locally")
}

func TestParseClaimsErrors(t *testing.T) {
	if _, err := ParseClaims(""); !pkgerrors.Is(err, pkgerrors.TokenMissing) {
		t.Fatalf("expected TokenMissing, got %v", err)
	}
	if _, err := ParseClaims("opaque-session-token"); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected TokenInvalid, got %v", err)
	}
}
