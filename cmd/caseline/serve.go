package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/logging"
	"caseline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	var tokenTTL time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				authCfg := server.AuthConfig{
					JWTSecret:             viper.GetString("jwt-secret"),
					AllowLegacyUserHeader: legacyHeader,
					EnableDevLogin:        devLogin,
					TokenTTL:              tokenTTL,
					Logger:                logging.Component(rt.Logger, "auth"),
				}
				if authCfg.JWTSecret == "" && !legacyHeader {
					return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
				}
				if devLogin && authCfg.JWTSecret == "" {
					return fmt.Errorf("--enable-dev-login needs CASELINE_JWT_SECRET")
				}
				notifier := rt.Notifier
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					Notifier: &notifier,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   rt.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.WithField("addr", addr).Infof("serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	f.StringVar(&basePath, "base-path", "/v1", "API base path")
	f.String("jwt-secret", "", "HS256 secret for bearer tokens")
	f.BoolVar(&legacyHeader, "allow-user-header", false, "accept X-User-Id without a token (development only)")
	f.BoolVar(&devLogin, "enable-dev-login", false, "serve /auth/dev/login, which issues a token for any known user (development only)")
	f.DurationVar(&tokenTTL, "token-ttl", 12*time.Hour, "lifetime of dev login tokens")
	_ = viper.BindPFlag("jwt-secret", f.Lookup("jwt-secret"))
	return cmd
}
