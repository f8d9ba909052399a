package credstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/securestore"
	"github.com/Imnotndesh/TrueHub-sub001/internal/testutil/fsperm"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	return map[string]Store{
		"memory":    NewMemoryStore(),
		"file":      NewFileStore(filepath.Join(dir, "plain.json"), ""),
		"encrypted": NewFileStore(filepath.Join(dir, "vault.json"), "correct horse"),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	profile := Profile{ServerID: "nas-1", AccountID: "root"}

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := store.Credentials(ctx, profile); err != nil || ok {
				t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
			}
			if _, ok, err := store.LastProfile(ctx); err != nil || ok {
				t.Fatalf("expected no last profile, ok=%v err=%v", ok, err)
			}

			creds := Credentials{Method: MethodPassword, Username: "root", Password: "secret"}
			if err := store.SaveCredentials(ctx, profile, creds); err != nil {
				t.Fatalf("save credentials: %v", err)
			}
			if err := store.SetLastProfile(ctx, profile); err != nil {
				t.Fatalf("set last profile: %v", err)
			}
			sess := Session{Token: "tok-1", IssuedAt: time.Unix(1700000000, 0).UTC()}
			if err := store.SetSessionToken(ctx, profile, sess); err != nil {
				t.Fatalf("set session: %v", err)
			}

			got, ok, err := store.Credentials(ctx, profile)
			if err != nil || !ok || got != creds {
				t.Fatalf("credentials: got %+v ok=%v err=%v", got.Method, ok, err)
			}
			last, ok, err := store.LastProfile(ctx)
			if err != nil || !ok || last != profile {
				t.Fatalf("last profile: got %+v ok=%v err=%v", last, ok, err)
			}
			gotSess, ok, err := store.SessionToken(ctx, profile)
			if err != nil || !ok || gotSess.Token != "tok-1" || !gotSess.IssuedAt.Equal(sess.IssuedAt) {
				t.Fatalf("session: ok=%v err=%v", ok, err)
			}

			if err := store.ClearSessionToken(ctx, profile); err != nil {
				t.Fatalf("clear session: %v", err)
			}
			if _, ok, _ := store.SessionToken(ctx, profile); ok {
				t.Fatal("session token still present after clear")
			}
			if _, ok, _ := store.Credentials(ctx, profile); !ok {
				t.Fatal("clearing the token must keep credentials")
			}

			if err := store.SaveCredentials(ctx, Profile{ServerID: "nas-1"}, creds); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("expected ErrInvalidProfile, got %v", err)
			}
		})
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vault.json")
	profile := Profile{ServerID: "nas-1", AccountID: "ops"}

	first := NewFileStore(path, "pw")
	if err := first.SaveCredentials(ctx, profile, Credentials{Method: MethodAPIKey, APIKey: "1-abcdef"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := NewFileStore(path, "pw")
	creds, ok, err := second.Credentials(ctx, profile)
	if err != nil || !ok || creds.APIKey != "1-abcdef" {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}

	fsperm.AssertPrivateFile(t, path)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if bytes.Contains(raw, []byte("1-abcdef")) {
		t.Fatal("api key stored in clear text")
	}

	wrong := NewFileStore(path, "nope")
	if _, _, err := wrong.Credentials(ctx, profile); !errors.Is(err, securestore.ErrAuthFailed) {
		t.Fatalf("expected auth failure with wrong secret, got %v", err)
	}
}

func TestCredentialsIsBlank(t *testing.T) {
	cases := []struct {
		creds Credentials
		blank bool
	}{
		{Credentials{}, true},
		{Credentials{Method: MethodPassword, Username: "root"}, true},
		{Credentials{Method: MethodPassword, Username: "  ", Password: "x"}, true},
		{Credentials{Method: MethodPassword, Username: "root", Password: "x"}, false},
		{Credentials{Method: MethodAPIKey}, true},
		{Credentials{APIKey: "k"}, false},
		{Credentials{Method: MethodToken}, false},
	}
	for i, tc := range cases {
		if got := tc.creds.IsBlank(); got != tc.blank {
			t.Fatalf("case %d: expected blank=%v, got %v", i, tc.blank, got)
		}
	}
}

func TestCredentialsNeverLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	creds := Credentials{Method: MethodPassword, Username: "root", Password: "hunter2"}
	logger.Info("login", "creds", creds, "session", Session{Token: "tok-secret"})

	out := buf.String()
	for _, secret := range []string{"hunter2", "tok-secret"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked into log: %s", secret, out)
		}
	}
	if !strings.Contains(out, fmt.Sprintf("%q", "password")) {
		t.Fatalf("expected method in log output: %s", out)
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	if (Session{}).Valid(now) {
		t.Fatal("empty token must be invalid")
	}
	if !(Session{Token: "t"}).Valid(now) {
		t.Fatal("token without expiry must be valid")
	}
	if (Session{Token: "t", ExpiresAt: now.Add(-time.Second)}).Valid(now) {
		t.Fatal("expired token must be invalid")
	}
}
