// Copyright 2026 The SafeStay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safestay/safestay/internal/agreement"
	"github.com/safestay/safestay/internal/app"
	"github.com/safestay/safestay/internal/audit"
	"github.com/safestay/safestay/internal/capture"
	"github.com/safestay/safestay/internal/config"
	"github.com/safestay/safestay/internal/contract"
	"github.com/safestay/safestay/internal/fulfillment"
	"github.com/safestay/safestay/internal/identity"
	"github.com/safestay/safestay/internal/intake"
	"github.com/safestay/safestay/internal/observability/logger"
	"github.com/safestay/safestay/internal/observability/metrics"
	"github.com/safestay/safestay/internal/observability/tracing"
	"github.com/safestay/safestay/internal/session"
	transportHTTP "github.com/safestay/safestay/internal/transport/http"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "safestay",
		Short:         "SafeStay rental agreement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	slog.Info("starting safestay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	} else {
		defer tracer.Shutdown(context.Background())
	}

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		meter = metrics.NewNoop()
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer stores.Close(context.Background())

	auditLogger := audit.NewSlogLogger()

	// Owner side
	sessionService := session.NewService(stores.Sessions, cfg.Session.Lifetime, cfg.Session.IdleTimeout)
	verifier, err := identity.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	keys, err := agreement.NewKeyGenerator(cfg.Keys.Length)
	if err != nil {
		return err
	}
	agreementService := agreement.NewService(stores.Agreements, keys, auditLogger, cfg.Keys.MaxAttempts)

	// Tenant side
	workflow, err := intake.LoadWorkflow(cfg.Intake.WorkflowPath)
	if err != nil {
		return err
	}
	slog.Info("loaded intake workflow", logger.WorkflowVersion(workflow.Version))

	drafts := intake.NewDraftStore(workflow, capture.NewAdapter(cfg.Intake.MaxUploadBytes), cfg.Intake.DraftTTL)
	go drafts.Run(ctx, cfg.Intake.SweepInterval)

	coordinator, err := fulfillment.NewCoordinator(stores.Agreements, stores.Tenants, workflow, auditLogger, meter)
	if err != nil {
		return err
	}

	var exports *contract.ExportStore
	if cfg.Export.Enabled() {
		exports, err = contract.NewExportStore(ctx, contract.S3Config{
			Endpoint:  cfg.Export.Endpoint,
			AccessKey: cfg.Export.AccessKey,
			SecretKey: cfg.Export.SecretKey,
			Region:    cfg.Export.Region,
			Bucket:    cfg.Export.Bucket,
			UseSSL:    cfg.Export.UseSSL,
		})
		if err != nil {
			return err
		}
		slog.Info("archiving exported contracts", logger.String("bucket", cfg.Export.Bucket))
	}

	// Rate limiters
	limiters := transportHTTP.Limiters{
		Global: transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Lookup: transportHTTP.NewPerMinuteLimiter(cfg.RateLimit.LookupPerMinute, cfg.RateLimit.LookupBurst),
	}
	go limiters.Global.Run(ctx, 10*time.Minute)
	go limiters.Lookup.Run(ctx, 10*time.Minute)

	var static fs.FS
	if cfg.Server.StaticDir != "" {
		static = os.DirFS(cfg.Server.StaticDir)
	}

	handler := transportHTTP.NewHandler(
		sessionService,
		verifier,
		agreementService,
		coordinator,
		drafts,
		contract.NewRenderer(),
		exports,
		auditLogger,
		transportHTTP.SessionConfig{
			CookieName:     cfg.Session.CookieName,
			CookieDomain:   cfg.Session.CookieDomain,
			CookiePath:     cfg.Session.CookiePath,
			CookieSecure:   cfg.Session.CookieSecure,
			CookieHTTPOnly: cfg.Session.CookieHTTPOnly,
			CookieSameSite: transportHTTP.ParseSameSite(cfg.Session.CookieSameSite),
		},
		cfg.Intake.MaxUploadBytes,
	)

	router := transportHTTP.NewRouter(handler, limiters, static)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sessionService.CleanupExpired(ctx); err != nil {
					slog.ErrorContext(ctx, "failed to cleanup expired sessions", logger.Error(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			stores, err := app.OpenStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close(ctx)

			fmt.Printf("Applying schema for %s...\n", stores.Driver)
			if err := stores.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("Migration successful.")
			return nil
		},
	}
}

// tokenCmd mints an owner token signed with the configured secret. It
// stands in for the identity provider in local development.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an owner identity token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			subject, _ := cmd.Flags().GetString("subject")
			email, _ := cmd.Flags().GetString("email")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return errors.New("--subject is required")
			}

			token, err := identity.SignToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, subject, email, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().String("subject", "", "Owner reference to embed as the token subject")
	cmd.Flags().String("email", "", "Owner email claim")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
