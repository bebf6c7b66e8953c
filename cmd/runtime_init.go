package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ribera-group/coordina-cli/internal/artifacts"
	"github.com/ribera-group/coordina-cli/internal/confirm"
	"github.com/ribera-group/coordina-cli/internal/doctypes"
	"github.com/ribera-group/coordina-cli/internal/guard"
	"github.com/ribera-group/coordina-cli/internal/jobs"
	"github.com/ribera-group/coordina-cli/internal/match"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/notify"
	"github.com/ribera-group/coordina-cli/internal/planner"
	"github.com/ribera-group/coordina-cli/internal/portal"
	"github.com/ribera-group/coordina-cli/internal/resilience"
	"github.com/ribera-group/coordina-cli/internal/snapshot"
	"github.com/ribera-group/coordina-cli/internal/store"
	"github.com/ribera-group/coordina-cli/pkg/notion"
)

// addCoordFlags registers the coordination context flags. All three are
// required: commands that touch tenant data never run against an
// implicit context.
func addCoordFlags(cmd *cobra.Command) {
	cmd.Flags().String("platform", "", "coordination platform name (e.g. coordinaplus)")
	cmd.Flags().String("own-company", "", "our company as registered on the platform")
	cmd.Flags().String("company", "", "coordinated company whose obligations are processed")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("own-company")
	_ = cmd.MarkFlagRequired("company")
}

func coordFromFlags(cmd *cobra.Command) model.CoordContext {
	platform, _ := cmd.Flags().GetString("platform")
	own, _ := cmd.Flags().GetString("own-company")
	company, _ := cmd.Flags().GetString("company")
	return model.CoordContext{
		OwnCompany:         own,
		Platform:           platform,
		CoordinatedCompany: company,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		dsn := cfg.Store.DSN
		if dsn == "" {
			dsn = filepath.Join(".coordina", "coordina.db")
		}
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "create store dir")
			}
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DSN, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func initDoctypes() (*doctypes.Registry, error) {
	if cfg.Doctypes.File == "" {
		return doctypes.Builtin(), nil
	}
	return doctypes.Load(cfg.Doctypes.File)
}

func initBridge() *portal.Bridge {
	breaker := resilience.NewBreaker(resilience.FromBreakerSettings(
		cfg.Bridge.Breaker.FailureThreshold,
		cfg.Bridge.Breaker.ResetTimeoutSecs,
	))

	opts := []portal.BridgeOption{portal.WithBreaker(breaker)}
	if cfg.Bridge.URL != "" {
		opts = append(opts, portal.WithBridgeURL(cfg.Bridge.URL))
	}
	if cfg.Bridge.TimeoutSecs > 0 {
		opts = append(opts, portal.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Bridge.TimeoutSecs) * time.Second,
		}))
	}
	return portal.NewBridge(opts...)
}

// initNotifier assembles the configured run-notification channels, nil
// when none are configured.
func initNotifier() jobs.Notifier {
	var channels notify.Multi
	if cfg.Notify.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhook(cfg.Notify.Webhook.URL))
	}
	if cfg.Notify.Notion.Token != "" && cfg.Notify.Notion.RunsDB != "" {
		channels = append(channels, notify.NewNotion(
			notion.NewClient(cfg.Notify.Notion.Token), cfg.Notify.Notion.RunsDB))
	}
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}
	return channels
}

// runtimeEnv holds the store, registries, and the planner and runner
// built on top of them, shared by the plan/execute/serve commands.
type runtimeEnv struct {
	Store   store.Store
	Types   *doctypes.Registry
	Planner *planner.Builder
	Runner  *jobs.Runner
}

// Close waits for accepted jobs to reach a terminal state before the
// store goes away. Callers should defer it.
func (e *runtimeEnv) Close() {
	if e.Runner != nil {
		e.Runner.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initRuntime validates the config for the given mode, opens the store,
// and wires the planner and execution runner.
func initRuntime(ctx context.Context, mode string) (*runtimeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	types, err := initDoctypes()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	bridge := initBridge()
	reader := snapshot.NewReader(bridge, snapshot.Bounds{
		MaxPages: cfg.Snapshot.MaxPages,
		MaxItems: cfg.Snapshot.MaxItems,
	})
	builder := planner.NewBuilder(st, reader, types, match.NewMatcher(cfg.Match),
		planner.WithMinConfidence(cfg.Planner.MinConfidence))

	sessions := portal.NewFileSessions(cfg.Sessions.Dir)
	gate := confirm.NewGate(st,
		confirm.WithTTL(time.Duration(cfg.Confirm.TokenTTLMinutes)*time.Minute))
	checker := guard.NewChecker(sessions, gate)
	art := artifacts.NewDir(cfg.Artifacts.Dir)

	var runnerOpts []jobs.Option
	if n := initNotifier(); n != nil {
		runnerOpts = append(runnerOpts, jobs.WithNotifier(n))
	}
	runner := jobs.NewRunner(st, checker, bridge, art, runnerOpts...)

	return &runtimeEnv{Store: st, Types: types, Planner: builder, Runner: runner}, nil
}
