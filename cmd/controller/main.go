/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the issuesmith controller: one HTTP endpoint receiving
// signed issue events (from GitHub webhooks and from our own poller), the
// processor turning admitted issues into pull requests, and a metrics
// listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/issuesmith/collaborator"
	"chainguard.dev/issuesmith/githubauth"
	"chainguard.dev/issuesmith/ingest"
	"chainguard.dev/issuesmith/notifier"
	"chainguard.dev/issuesmith/processor"
	"chainguard.dev/issuesmith/publisher"
	"chainguard.dev/issuesmith/statestore"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	"github.com/chainguard-dev/terraform-infra-common/pkg/profiler"
	"github.com/google/go-github/v75/github"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

type config struct {
	Port        int  `env:"PORT,default=8080"`
	MetricsPort int  `env:"METRICS_PORT,default=2112"`
	EnablePprof bool `env:"ENABLE_PPROF,default=false"`

	// Webhook authentication
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`

	// GitHub authentication: either a token or app credentials.
	GitHubToken    string `env:"GITHUB_TOKEN"`
	AppID          int64  `env:"GITHUB_APP_ID"`
	InstallationID int64  `env:"GITHUB_INSTALLATION_ID"`
	AppPrivateKey  string `env:"GITHUB_APP_PRIVATE_KEY"`

	// Pipeline configuration
	Identity       string        `env:"IDENTITY,default=issuesmith"`
	StateDir       string        `env:"STATE_DIR,default=/var/lib/issuesmith"`
	BaseBranch     string        `env:"BASE_BRANCH,default=main"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS,default=3"`
	ProposeTimeout time.Duration `env:"PROPOSE_TIMEOUT,default=5m"`
	StuckAfter     time.Duration `env:"STUCK_AFTER,default=30m"`

	// Poller configuration; polling is disabled when POLL_REPOS is empty.
	PollRepos     []string      `env:"POLL_REPOS"`
	PollInterval  time.Duration `env:"POLL_INTERVAL,default=5m"`
	RequiredLabel string        `env:"REQUIRED_LABEL,default=issuesmith/solve"`

	// Model configuration
	ModelProvider string `env:"MODEL_PROVIDER,default=claude"`
	GCPProjectID  string `env:"GCP_PROJECT_ID,required"`
	GCPRegion     string `env:"GCP_REGION,default=us-east5"`
	ClaudeModel   string `env:"CLAUDE_MODEL,default=claude-sonnet-4-5@20250929"`
	GeminiModel   string `env:"GEMINI_MODEL,default=gemini-2.5-pro"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go httpmetrics.ScrapeDiskUsage(ctx)
	profiler.SetupProfiler()
	defer httpmetrics.SetupTracer(ctx)()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	store, err := statestore.NewFileStore(cfg.StateDir)
	if err != nil {
		clog.FatalContextf(ctx, "opening state store: %v", err)
	}

	gh, err := newGitHubClient(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating GitHub client: %v", err)
	}

	proposer, err := newProposer(ctx, &cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating collaborator: %v", err)
	}
	clog.InfoContextf(ctx, "Using %s collaborator", cfg.ModelProvider)

	pub, err := publisher.New(gh, publisher.WithIdentity(cfg.Identity))
	if err != nil {
		clog.FatalContextf(ctx, "creating publisher: %v", err)
	}
	notify, err := notifier.New(gh, cfg.Identity)
	if err != nil {
		clog.FatalContextf(ctx, "creating notifier: %v", err)
	}

	proc, err := processor.New(store, proposer, pub, notify,
		processor.WithBaseBranch(cfg.BaseBranch),
		processor.WithMaxAttempts(cfg.MaxAttempts),
		processor.WithProposeTimeout(cfg.ProposeTimeout),
		processor.WithStuckAfter(cfg.StuckAfter),
	)
	if err != nil {
		clog.FatalContextf(ctx, "creating processor: %v", err)
	}

	receiver, err := ingest.NewReceiver([]byte(cfg.WebhookSecret), proc)
	if err != nil {
		clog.FatalContextf(ctx, "creating webhook receiver: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhook", receiver)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	if cfg.EnablePprof {
		metricsMux.HandleFunc("/debug/pprof/", pprof.Index)
		metricsMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		metricsMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		metricsMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		metricsMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return serve(ctx, srv) })
	eg.Go(func() error { return serve(ctx, metricsSrv) })

	if len(cfg.PollRepos) > 0 {
		endpoint := fmt.Sprintf("http://localhost:%d/webhook", cfg.Port)
		poller, err := ingest.NewPoller(gh, endpoint, []byte(cfg.WebhookSecret), cfg.PollRepos,
			ingest.WithInterval(cfg.PollInterval),
			ingest.WithRequiredLabel(cfg.RequiredLabel),
		)
		if err != nil {
			clog.FatalContextf(ctx, "creating poller: %v", err)
		}
		eg.Go(func() error { return poller.Run(ctx) })
		clog.InfoContextf(ctx, "Polling %d repositories every %v", len(cfg.PollRepos), cfg.PollInterval)
	}

	clog.InfoContextf(ctx, "Starting issuesmith controller on port %d", cfg.Port)
	if err := eg.Wait(); err != nil {
		clog.FatalContextf(ctx, "controller failed: %v", err)
	}
}

// serve runs an HTTP server until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// newGitHubClient prefers app-installation auth and falls back to a token.
func newGitHubClient(ctx context.Context, cfg *config) (*github.Client, error) {
	if cfg.AppID != 0 {
		return githubauth.NewAppClient(cfg.AppID, cfg.InstallationID, cfg.AppPrivateKey)
	}
	if cfg.GitHubToken != "" {
		return githubauth.NewTokenClient(ctx, cfg.GitHubToken)
	}
	return nil, errors.New("either GITHUB_APP_ID or GITHUB_TOKEN is required")
}

// newProposer builds the configured collaborator backend.
func newProposer(ctx context.Context, cfg *config) (collaborator.Interface, error) {
	switch cfg.ModelProvider {
	case "claude":
		client := anthropic.NewClient(
			vertex.WithGoogleAuth(ctx, cfg.GCPRegion, cfg.GCPProjectID),
		)
		return collaborator.NewClaude(client, collaborator.WithModel(cfg.ClaudeModel))
	case "google":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			Project:  cfg.GCPProjectID,
			Location: cfg.GCPRegion,
			Backend:  genai.BackendVertexAI,
		})
		if err != nil {
			return nil, fmt.Errorf("creating GenAI client: %w", err)
		}
		return collaborator.NewGoogle(client, collaborator.WithGoogleModel(cfg.GeminiModel))
	default:
		return nil, fmt.Errorf("unknown model provider %q (expected claude or google)", cfg.ModelProvider)
	}
}
