package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"permitline/internal/app"
	"permitline/internal/domain"
	"permitline/internal/engine"
	"permitline/internal/events"
	"permitline/internal/obs"
	"permitline/internal/repo"
	"permitline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("PERMITLINE_JWT_SECRET or auth.jwt_secret is required for bearer auth")
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := app.Open(ctx, app.Options{
				Workspace: viper.GetString("workspace"),
				Config:    cfg,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			defer e.DB.Close()

			metrics := obs.NewMetrics()
			hub := events.NewHub(logger.Named("hub"), metrics)
			e.Notifier = hub
			e.Metrics = metrics
			server.StartWebhooks(ctx, hub, cfg.Webhooks, logger.Named("webhooks"), metrics)

			handler, err := server.New(server.Config{
				Engine:     e,
				Hub:        hub,
				Metrics:    metrics,
				Logger:     logger.Named("http"),
				BasePath:   cfg.Server.BasePath,
				RateLimit:  cfg.Server.RateLimit,
				RateBurst:  cfg.Server.RateBurst,
				TrustProxy: cfg.Server.TrustProxy,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Auth.JWTSecret,
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving permitline api",
				zap.String("addr", cfg.Server.Addr), zap.String("base_path", cfg.Server.BasePath),
				zap.Strings("sequence", e.Policy.Order()), zap.Int("webhooks", len(cfg.Webhooks)))
			fmt.Printf("Serving Permitline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides config")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path; overrides config")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUser(ctx, userID); err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				secret := "pl_" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: e.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "userId": userID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "user id")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("user")

	var listUser string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, listUser)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listUser, "user", "", "user filter")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	keys.AddCommand(create, list, revoke)
	return keys
}

func tokenCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user with the configured secret (local use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.Repo.GetUser(ctx, userID)
				if err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				token, err := server.SignToken(e.Config.Auth.JWTSecret, u.ID, []string{u.Role})
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
