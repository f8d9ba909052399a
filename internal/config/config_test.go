package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(v bool) *bool {
	return &v
}

func TestMergeOverridesOnlySetFields(t *testing.T) {
	dst := DefaultConfig()
	dst.KeepAlive.Enabled = true

	var src FileConfig
	src.ServerURL = "nas.local"
	src.Insecure = boolPtr(true)
	src.Recovery.Backoff = 250 * time.Millisecond
	src.Auth.Codes = []int{401}

	Merge(&dst, src)

	if dst.ServerURL != "nas.local" || !dst.Insecure {
		t.Fatalf("expected server fields merged, got %+v", dst)
	}
	if dst.Recovery.Backoff != 250*time.Millisecond {
		t.Fatalf("expected backoff=250ms, got %s", dst.Recovery.Backoff)
	}
	if dst.Recovery.MaxAttempts != 3 {
		t.Fatalf("expected default maxAttempts kept, got %d", dst.Recovery.MaxAttempts)
	}
	if !dst.KeepAlive.Enabled {
		t.Fatal("expected keepAlive.enabled untouched when unset")
	}
	if len(dst.Auth.Codes) != 1 || dst.Auth.Codes[0] != 401 {
		t.Fatalf("unexpected auth codes %v", dst.Auth.Codes)
	}
}

func TestLoadFromPathParsesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truehub.yaml")
	body := `
serverURL: https://nas.example:8443
insecure: true
callTimeout: 5s
keepAlive:
  enabled: false
  interval: 10s
recovery:
  maxAttempts: 2
  backoff: 100ms
auth:
  messages: ["token expired"]
store:
  path: /tmp/creds.json
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRUEHUB_DEBUG", "yes")
	t.Setenv("TRUEHUB_STORE_SECRET", "s3cret")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "https://nas.example:8443" || !cfg.Insecure {
		t.Fatalf("unexpected server settings %+v", cfg)
	}
	if cfg.CallTimeout != 5*time.Second {
		t.Fatalf("expected callTimeout=5s, got %s", cfg.CallTimeout)
	}
	if cfg.KeepAlive.Enabled || cfg.KeepAlive.Interval != 10*time.Second {
		t.Fatalf("unexpected keepAlive %+v", cfg.KeepAlive)
	}
	if cfg.KeepAlive.MaxFailures != 3 {
		t.Fatalf("expected default maxFailures, got %d", cfg.KeepAlive.MaxFailures)
	}
	if cfg.Recovery.MaxAttempts != 2 || cfg.Recovery.Backoff != 100*time.Millisecond {
		t.Fatalf("unexpected recovery %+v", cfg.Recovery)
	}
	if cfg.Recovery.LoginTimeout != 15*time.Second {
		t.Fatalf("expected default login timeout, got %s", cfg.Recovery.LoginTimeout)
	}
	if !cfg.Debug {
		t.Fatal("expected env override to enable debug")
	}
	if cfg.Store.Secret != "s3cret" || cfg.Store.Path != "/tmp/creds.json" {
		t.Fatalf("unexpected store config %+v", cfg.Store)
	}
}

func TestLoadFromPathMissingExplicitFileFails(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadFromPathRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("serverURL: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNormalizeClampsInvalidValues(t *testing.T) {
	cfg := Normalize(Config{
		Recovery:  RecoveryConfig{Backoff: -time.Second},
		RateLimit: RateLimitConfig{CallsPerSecond: 5},
	})
	if cfg.Recovery.Backoff != 0 {
		t.Fatalf("expected negative backoff clamped, got %s", cfg.Recovery.Backoff)
	}
	if cfg.RateLimit.Burst != 1 {
		t.Fatalf("expected burst defaulted to 1, got %d", cfg.RateLimit.Burst)
	}
	if cfg.ConnectTimeout <= 0 || cfg.CallTimeout <= 0 || cfg.KeepAlive.Interval <= 0 {
		t.Fatalf("expected timeouts defaulted, got %+v", cfg)
	}
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "nas.local", want: "wss://nas.local/api/current"},
		{in: "http://10.0.0.2", want: "ws://10.0.0.2/api/current"},
		{in: "https://nas:8443/ui/", want: "wss://nas:8443/api/current"},
		{in: "ws://127.0.0.1:6000", want: "ws://127.0.0.1:6000/api/current"},
		{in: "", wantErr: true},
		{in: "ftp://nas", wantErr: true},
	}
	for _, tc := range cases {
		got, err := EndpointURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("EndpointURL(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("EndpointURL(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("EndpointURL(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
