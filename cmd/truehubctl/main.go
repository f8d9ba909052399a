package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Imnotndesh/TrueHub-sub001/internal/config"
	"github.com/Imnotndesh/TrueHub-sub001/internal/credstore"
	"github.com/Imnotndesh/TrueHub-sub001/internal/manager"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
	"github.com/Imnotndesh/TrueHub-sub001/internal/services"
)

const (
	exitOK            = 0
	exitInvalidInput  = 10
	exitNetworkFailed = 20
	exitAuthFailed    = 30
	exitServerError   = 40
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

type globalFlags struct {
	configPath *string
	serverURL  *string
	insecure   *bool
	storePath  *string
	asJSON     *bool
	debug      *bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "ping":
		runPing(ctx, os.Args[2:])
	case "login":
		runLogin(ctx, os.Args[2:])
	case "logout":
		runLogout(ctx, os.Args[2:])
	case "call":
		runCall(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "token":
		runToken(ctx, os.Args[2:])
	case "info":
		runInfo(ctx, os.Args[2:])
	case "pools":
		runPools(ctx, os.Args[2:])
	case "alerts":
		runAlerts(ctx, os.Args[2:])
	case "version":
		writeStdoutf(exitInvalidInput, "truehubctl version=%s commit=%s build_date=%s\n", version, commit, buildDate)
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func registerGlobal(fs *flag.FlagSet) globalFlags {
	return globalFlags{
		configPath: fs.String("config", "", "path to truehub.yaml (optional)"),
		serverURL:  fs.String("url", "", "middleware address, e.g. nas.local or https://10.0.0.5"),
		insecure:   fs.Bool("insecure", false, "skip TLS certificate verification"),
		storePath:  fs.String("store", "", "credential store path"),
		asJSON:     fs.Bool("json", false, "emit json"),
		debug:      fs.Bool("debug", false, "debug logging"),
	}
}

func (g globalFlags) load() (config.Config, credstore.Store) {
	cfg, err := config.LoadFromPath(*g.configPath)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if v := strings.TrimSpace(*g.serverURL); v != "" {
		cfg.ServerURL = v
	}
	if *g.insecure {
		cfg.Insecure = true
	}
	if *g.debug {
		cfg.Debug = true
	}
	if v := strings.TrimSpace(*g.storePath); v != "" {
		cfg.Store.Path = v
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}
	return cfg, credstore.NewFileStore(cfg.Store.Path, cfg.Store.Secret)
}

func (g globalFlags) connect(ctx context.Context) (*manager.Manager, credstore.Store) {
	cfg, store := g.load()
	// Short-lived commands do not need the background ping.
	cfg.KeepAlive.Enabled = false
	m, err := manager.New(cfg, store)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if _, err := m.Connect(ctx); err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
	return m, store
}

func runPing(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	started := time.Now()
	ok := m.Services().Auth.Ping(ctx)
	latency := time.Since(started)
	if *g.asJSON {
		if err := printJSON(map[string]any{"ok": ok, "endpoint": m.Endpoint(), "latency_ms": latency.Milliseconds()}); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
	} else {
		writeStdoutf(exitNetworkFailed, "endpoint=%s ok=%v latency=%s\n", m.Endpoint(), ok, latency.Round(time.Millisecond))
	}
	if !ok {
		m.Disconnect()
		os.Exit(exitNetworkFailed)
	}
}

func runLogin(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	g := registerGlobal(fs)
	serverID := fs.String("server-id", "", "profile server id (defaults to the url host)")
	username := fs.String("username", "", "account username")
	password := fs.String("password", os.Getenv("TRUEHUB_PASSWORD"), "account password")
	apiKey := fs.String("api-key", os.Getenv("TRUEHUB_API_KEY"), "api key (instead of username/password)")
	token := fs.String("token", "", "session token (instead of username/password)")
	account := fs.String("account", "", "profile account id (defaults to the username)")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	profile := credstore.Profile{ServerID: strings.TrimSpace(*serverID), AccountID: strings.TrimSpace(*account)}
	if profile.ServerID == "" {
		profile.ServerID = hostOf(m.Endpoint())
	}
	if profile.AccountID == "" {
		profile.AccountID = strings.TrimSpace(*username)
	}

	var (
		sess credstore.Session
		err  error
	)
	switch {
	case strings.TrimSpace(*token) != "":
		if profile.AccountID == "" {
			profile.AccountID = "token"
		}
		sess, err = m.LoginWithToken(ctx, profile, strings.TrimSpace(*token))
	case strings.TrimSpace(*apiKey) != "":
		if profile.AccountID == "" {
			profile.AccountID = "api-key"
		}
		sess, err = m.Login(ctx, profile, credstore.Credentials{Method: credstore.MethodAPIKey, APIKey: *apiKey})
	default:
		if strings.TrimSpace(*username) == "" || *password == "" {
			writeStderrln("username and password (or --api-key / --token) are required", exitInvalidInput)
		}
		sess, err = m.Login(ctx, profile, credstore.Credentials{Method: credstore.MethodPassword, Username: *username, Password: *password})
	}
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	if *g.asJSON {
		if err := printJSON(map[string]any{"logged_in": true, "server_id": profile.ServerID, "account_id": profile.AccountID, "expires_at": sess.ExpiresAt}); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	writeStdoutf(exitNetworkFailed, "logged_in=true server_id=%s account_id=%s expires_at=%s\n", profile.ServerID, profile.AccountID, sess.ExpiresAt.Format(time.RFC3339))
}

func runLogout(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()
	if err := m.Logout(ctx); err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	writeStdoutln(exitNetworkFailed, "logged_out=true")
}

func runCall(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	if fs.NArg() < 1 {
		writeStderrln("usage: truehubctl call <method> [json-params-array]", exitInvalidInput)
	}
	method := fs.Arg(0)
	var params []any
	if fs.NArg() > 1 {
		if err := json.Unmarshal([]byte(fs.Arg(1)), &params); err != nil {
			writeStderrln("params must be a json array: "+err.Error(), exitInvalidInput)
		}
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	raw, err := m.CallRaw(ctx, method, params...).Unwrap()
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		writeStderrln(err.Error(), exitServerError)
	}
	if err := printJSON(v); err != nil {
		writeStderrln(err.Error(), exitNetworkFailed)
	}
}

func runStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, store := g.connect(ctx)
	defer m.Disconnect()

	status := map[string]any{
		"endpoint":  m.Endpoint(),
		"connected": m.IsConnected(),
		"healthy":   m.Services().Auth.Ping(ctx),
	}
	if profile, ok, err := store.LastProfile(ctx); err == nil && ok {
		status["server_id"] = profile.ServerID
		status["account_id"] = profile.AccountID
		if sess, ok, err := store.SessionToken(ctx, profile); err == nil && ok {
			status["token_valid"] = sess.Valid(time.Now())
			status["token_expires_at"] = sess.ExpiresAt
		}
		if v, err := m.Services().System.Version(ctx).Unwrap(); err == nil {
			status["version"] = v
		} else {
			status["version_error"] = err.Error()
		}
	}
	if *g.asJSON {
		if err := printJSON(status); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	writeStdoutf(exitNetworkFailed, "endpoint=%s connected=%v healthy=%v account_id=%v version=%v\n",
		status["endpoint"], status["connected"], status["healthy"], valueOr(status["account_id"], "-"), valueOr(status["version"], "-"))
}

func runToken(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	g := registerGlobal(fs)
	ttl := fs.Duration("ttl", services.DefaultTokenTTL, "token lifetime")
	singleUse := fs.Bool("single-use", false, "token is valid for one login only")
	matchOrigin := fs.Bool("match-origin", false, "token is bound to this client address")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	token, err := m.Services().Auth.GenerateToken(ctx, services.TokenRequest{TTL: *ttl, SingleUse: *singleUse, MatchOrigin: *matchOrigin}).Unwrap()
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	if *g.asJSON {
		if err := printJSON(map[string]any{"token": token, "expires_at": time.Now().Add(*ttl)}); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	writeStdoutln(exitNetworkFailed, token)
}

func runInfo(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	info, err := m.Services().System.Info(ctx).Unwrap()
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	if *g.asJSON {
		if err := printJSON(info); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	writeStdoutf(exitNetworkFailed, "hostname=%s version=%s model=%s cores=%d uptime=%s\n", info.Hostname, info.Version, info.Model, info.Cores, info.Uptime)
}

func runPools(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("pools", flag.ExitOnError)
	g := registerGlobal(fs)
	name := fs.String("name", "", "only the pool with this name")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	var filters [][]any
	if v := strings.TrimSpace(*name); v != "" {
		filters = [][]any{{"name", "=", v}}
	}
	pools, err := m.Services().Pools.Query(ctx, filters, services.QueryOptions{}).Unwrap()
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	if *g.asJSON {
		if err := printJSON(pools); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	for _, p := range pools {
		writeStdoutf(exitNetworkFailed, "%s status=%s healthy=%v free=%d size=%d\n", p.Name, p.Status, p.Healthy, p.Free, p.Size)
	}
}

func runAlerts(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	g := registerGlobal(fs)
	all := fs.Bool("all", false, "include dismissed alerts")
	if err := fs.Parse(args); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	m, _ := g.connect(ctx)
	defer m.Disconnect()

	alerts, err := m.Services().Alerts.List(ctx).Unwrap()
	if err != nil {
		m.Disconnect()
		writeStderrln(err.Error(), exitCodeFor(err))
	}
	shown := alerts[:0]
	for _, a := range alerts {
		if *all || !a.Dismissed {
			shown = append(shown, a)
		}
	}
	if *g.asJSON {
		if err := printJSON(shown); err != nil {
			writeStderrln(err.Error(), exitNetworkFailed)
		}
		return
	}
	for _, a := range shown {
		writeStdoutf(exitNetworkFailed, "[%s] %s\n", a.Level, strings.TrimSpace(a.Formatted))
	}
}

func exitCodeFor(err error) int {
	switch rpckit.KindOf(err) {
	case rpckit.KindAuth, rpckit.KindRecoveryExhausted:
		return exitAuthFailed
	case rpckit.KindApplication, rpckit.KindProtocol:
		return exitServerError
	}
	if errors.Is(err, credstore.ErrInvalidProfile) {
		return exitInvalidInput
	}
	return exitNetworkFailed
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".", "truehub-credentials.json")
	}
	return filepath.Join(dir, "truehub", "credentials.json")
}

func hostOf(endpoint string) string {
	rest := endpoint
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func valueOr(v any, fallback string) any {
	if v == nil {
		return fallback
	}
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "truehubctl <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  ping    [--url addr] [--insecure] [--json]")
	writeStdoutln(exitInvalidInput, "  login   --username u --password p | --api-key k | --token t [--server-id id] [--account id]")
	writeStdoutln(exitInvalidInput, "  logout")
	writeStdoutln(exitInvalidInput, "  call    <method> [json-params-array]")
	writeStdoutln(exitInvalidInput, "  status  [--json]")
	writeStdoutln(exitInvalidInput, "  token   [--ttl 10m] [--single-use] [--match-origin]")
	writeStdoutln(exitInvalidInput, "  info | pools [--name n] | alerts [--all]")
	writeStdoutln(exitInvalidInput, "  version")
	writeStdoutln(exitInvalidInput, "global flags: --config path --url addr --insecure --store path --json --debug")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	if _, err := fmt.Fprintln(os.Stderr, line); err != nil {
		os.Exit(exitCode)
	}
	os.Exit(exitCode)
}
