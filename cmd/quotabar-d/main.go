// Command quotabar-d is the background daemon: it polls provider usage,
// maintains the gates and the event log, and serves the local HTTP API
// the CLI and TUI read from.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/accounts"
	"github.com/quotabar/quotabar/pkg/api"
	"github.com/quotabar/quotabar/pkg/credential"
	"github.com/quotabar/quotabar/pkg/keychain"
	"github.com/quotabar/quotabar/pkg/logging"
	"github.com/quotabar/quotabar/pkg/orchestrator"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/provider/claude"
	"github.com/quotabar/quotabar/pkg/provider/codex"
	"github.com/quotabar/quotabar/pkg/provider/copilot"
	"github.com/quotabar/quotabar/pkg/provider/gemini"
	"github.com/quotabar/quotabar/pkg/reports"
	"github.com/quotabar/quotabar/pkg/store"
	redisstore "github.com/quotabar/quotabar/pkg/store/redis"
)

const (
	lockTTL        = 30 * time.Second
	lockRenewEvery = 10 * time.Second
)

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "quotabar-d: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(logging.Options{Debug: cfg.Debug, JSON: true, File: cfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "quotabar-d: %v\n", err)
		os.Exit(1)
	}
	log.WithField("component", "quotabar-d").Info("starting")

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("daemon failed")
	}
	log.Info("shutdown complete")
}

func run(cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holderID := lockHolderID()
	acquired, err := st.AcquireLock(ctx, holderID, lockTTL)
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !acquired {
		return errors.New("another quotabar-d is already running against this database")
	}
	defer st.ReleaseLock(context.Background(), holderID)
	go renewLock(ctx, st, holderID)

	var stateStore store.StateStore = st
	if cfg.StateBackend == "redis" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()
		stateStore = redisstore.NewStateStore(rdb)
		log.WithField("addr", cfg.RedisAddr).Info("using redis state backend")
	}

	kc := keychain.NewFileStore(cfg.KeychainDir)

	credFiles := map[provider.ID]string{
		provider.Claude:  claude.CredentialsFilePath(),
		provider.Codex:   codex.AuthFilePath(),
		provider.Gemini:  gemini.CredsFilePath(),
		provider.Copilot: copilot.AppsFilePath(),
	}
	fp := &credential.StoreFingerprinter{
		Keychain: kc,
		Service:  credential.Service,
		CredentialFile: func(id provider.ID) string {
			return credFiles[id]
		},
	}
	cache := credential.NewCache(fp)
	loader := &credential.Loader{Keychain: kc, Cache: cache}

	cookies := &credential.CookieJar{Keychain: kc}
	registry := provider.NewRegistry()
	registerStrategies(registry, loader, cookies)

	orch := orchestrator.New(registry, stateStore, fp, st)
	orch.AccessGate().Disabled = cfg.NoPrompts
	loader.Access = orch.AccessGate()
	cookies.Access = orch.AccessGate()

	watcher := credential.NewWatcher(cache, credFiles)
	watcher.OnChange = func(id provider.ID) {
		log.WithField("provider", id).Info("credential file changed")
		orch.ForceGateRecheck(id)
	}
	if err := watcher.Start(); err != nil {
		log.WithError(err).Warn("credential watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	poller := orchestrator.NewPoller(orch, cfg.PollInterval)
	poller.SetTargets(targetsFromSpecs(cfg.Providers))
	go poller.Run(ctx)

	go watchConfig(ctx, cfg.ConfigPath, poller)

	accountStore := accounts.NewStore(kc)
	fetcher := &accounts.TokenFetcher{Store: accountStore, Build: tokenStrategyFor}
	server := api.NewServer(orch, st, accountStore, fetcher, &reports.Generator{Source: st}, cfg.Addr)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.WithField("signal", sig.String()).Info("shutdown initiated")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Stop(shutdownCtx)
}

// registerStrategies wires the fetch order per provider. Registration
// order is fallback order in auto mode: local CLI credentials first,
// then the keychain, then anything needing the network for auth.
func registerStrategies(registry *provider.Registry, loader *credential.Loader, cookies provider.CookieSource) {
	registry.Register(provider.Claude, provider.ModeCLI, claude.NewCLIStrategy())
	registry.Register(provider.Claude, provider.ModeOAuth, claude.NewOAuthStrategy(loader))
	registry.Register(provider.Claude, provider.ModeAPI, claude.NewAPIKeyStrategy())

	registry.Register(provider.Codex, provider.ModeCLI, codex.NewCLIStrategy())
	registry.Register(provider.Codex, provider.ModeOAuth, codex.NewOAuthStrategy(loader))
	registry.Register(provider.Codex, provider.ModeWeb, codex.NewWebStrategy(cookies))

	registry.Register(provider.Gemini, provider.ModeCLI, gemini.NewCLIStrategy())
	registry.Register(provider.Gemini, provider.ModeOAuth, gemini.NewOAuthStrategy(loader))

	registry.Register(provider.Copilot, provider.ModeCLI, copilot.NewCLIStrategy())
	registry.Register(provider.Copilot, provider.ModeAPI, copilot.NewTokenStrategy())
}

// tokenStrategyFor builds the per-account fetch strategy the aggregator
// runs with a stored secret: an API key for claude, a GitHub token for
// copilot, a bearer access token for codex and gemini.
func tokenStrategyFor(id provider.ID, secret string) provider.Strategy {
	switch id {
	case provider.Claude:
		s := claude.NewAPIKeyStrategy()
		s.APIKey = secret
		return s
	case provider.Codex:
		return codex.NewTokenStrategy(secret)
	case provider.Gemini:
		return gemini.NewTokenStrategy(secret)
	case provider.Copilot:
		s := copilot.NewTokenStrategy()
		s.Token = secret
		return s
	}
	return nil
}

func targetsFromSpecs(specs []ProviderSpec) []orchestrator.Target {
	targets := make([]orchestrator.Target, len(specs))
	for i, spec := range specs {
		targets[i] = orchestrator.Target{ID: spec.ID, Mode: spec.Mode}
	}
	return targets
}

func renewLock(ctx context.Context, st *store.Store, holderID string) {
	ticker := time.NewTicker(lockRenewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.RenewLock(ctx, holderID, lockTTL); err != nil {
				log.WithError(err).Warn("failed to renew daemon lock")
			}
		}
	}
}

func lockHolderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// watchConfig reloads the provider set when the YAML file changes. Only
// the providers take effect live; listen address and backends need a
// restart.
func watchConfig(ctx context.Context, path string, poller *orchestrator.Poller) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable")
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).Debug("config dir not watchable")
		return
	}

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				reloadProviders(path, poller)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("config watcher error")
		}
	}
}

func reloadProviders(path string, poller *orchestrator.Poller) {
	fileCfg, err := LoadFileConfig(path)
	if err != nil {
		log.WithError(err).Warn("config reload failed")
		return
	}
	if fileCfg == nil || len(fileCfg.Providers) == 0 {
		return
	}
	for _, spec := range fileCfg.Providers {
		if !spec.ID.Valid() {
			log.WithField("provider", spec.ID).Warn("config reload skipped: unknown provider")
			return
		}
	}
	poller.SetTargets(targetsFromSpecs(fileCfg.Providers))
	log.WithField("providers", len(fileCfg.Providers)).Info("provider set reloaded")
}
