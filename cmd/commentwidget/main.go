package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/commentwidget/internal/auth"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/comments"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/config"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/database"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/installs"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/logging"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/remark"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/server"
	"github.com/MarcoPoloResearchLab/commentwidget/internal/widget"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "commentwidget",
		Short: "Comment widget service for remark42 sites",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Origins allowed to embed the widget (default: any)")
	cmd.PersistentFlags().String("remark-url", defaults.GetString("remark.base_url"), "Base URL of the remark42 backend")
	cmd.PersistentFlags().String("site-id", defaults.GetString("remark.site_id"), "remark42 site id")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for sort preferences (optional)")
	cmd.PersistentFlags().String("signing-secret", "", "remark42 JWT secret used to validate sessions (optional)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "remark.base_url", "remark-url")
	bindFlag(cmd, "remark.site_id", "site-id")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	installService, err := installs.NewService(installs.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	var sorts widget.SortStore = installService
	if appConfig.RedisURL != "" {
		redisSorts, err := installs.NewRedisSortStore(appConfig.RedisURL)
		if err != nil {
			return err
		}
		defer redisSorts.Close()
		sorts = redisSorts
		logger.Info("sort preferences stored in redis")
	}

	remarkClient, err := remark.NewClient(remark.ClientConfig{
		BaseURL: appConfig.RemarkBaseURL,
		SiteID:  appConfig.RemarkSiteID,
		Timeout: appConfig.RemarkTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var sessionValidator *auth.SessionValidator
	if appConfig.SessionSigningSecret != "" {
		sessionValidator, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
			SigningSecret: []byte(appConfig.SessionSigningSecret),
			CookieName:    appConfig.SessionCookieName,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("session.signing_secret not set, credentials are forwarded unchecked")
	}

	realtime := server.NewRealtimeDispatcher()
	registry, err := server.NewRegistry(server.RegistryConfig{
		Sessions: func(postURL string) server.SessionAPI {
			return remarkClient.NewSession(postURL)
		},
		Sorts: sorts,
		Options: server.WidgetOptions{
			Paginate:          appConfig.Paginate,
			PageSize:          appConfig.PageSize,
			MaxShown:          appConfig.MaxShown,
			OAuthPollInterval: appConfig.OAuthPollInterval,
			OAuthTimeout:      appConfig.OAuthTimeout,
		},
		Realtime:   realtime,
		MaxWidgets: appConfig.MaxWidgets,
		IdleTTL:    appConfig.WidgetIdleTTL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Installs:       installService,
		Registry:       registry,
		Sessions:       sessionValidator,
		CookieName:     appConfig.SessionCookieName,
		Realtime:       realtime,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("remark_url", appConfig.RemarkBaseURL),
			zap.String("site_id", appConfig.RemarkSiteID))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newTokenCommand mints a session token for local development against a
// backend that shares the signing secret.
func newTokenCommand() *cobra.Command {
	var (
		user       comments.User
		ttlMinutes int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed session token for a development user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("session.signing_secret")
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(secret),
				TokenTTL:      time.Duration(ttlMinutes) * time.Minute,
			})
			if err != nil {
				return fmt.Errorf("session.signing_secret: %w", err)
			}
			token, expiresIn, err := issuer.IssueSessionToken(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.ID, "user-id", "dev_user", "User id carried by the token")
	cmd.Flags().StringVar(&user.Name, "name", "Developer", "Display name carried by the token")
	cmd.Flags().BoolVar(&user.Admin, "admin", false, "Grant moderation rights")
	cmd.Flags().IntVar(&ttlMinutes, "ttl-minutes", 60, "Token lifetime in minutes")
	return cmd
}
