// Package royaltyd runs the sync engine as a daemon and exposes it to
// interface layers through an authenticated admin API.
package royaltyd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"royaltysync/engine"
	"royaltysync/ledger"
	"royaltysync/ledger/evm"
	"royaltysync/observability"
	"royaltysync/observability/logging"
	telemetry "royaltysync/observability/otel"
)

// PassphrasePrompt builds the keystore passphrase source for envVar.
type PassphrasePrompt func(envVar string) func() (string, error)

// Main initialises and runs the royalty sync daemon.
func Main(prompt PassphrasePrompt) error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/royaltyd/config.yaml", "path to royaltyd configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	if value := strings.TrimSpace(os.Getenv("ROYALTYD_ENV")); value != "" {
		env = value
	}
	logger := logging.Setup("royaltyd", env, cfg.Log.LoggingOptions())

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg.Telemetry, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	var pass func() (string, error)
	if prompt != nil {
		pass = prompt(cfg.Signer.PassphraseEnv)
	}
	signer, err := cfg.Signer.SignerSource(pass).Load()
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}
	logger.Info("signer loaded",
		slog.String("account", signer.Address().Hex()),
		logging.MaskField("keystore", cfg.Signer.Keystore))

	evmCfg := cfg.Ledger.EVM()
	evmCfg.Logger = logger
	dial := func(ctx context.Context) (ledger.Gateway, error) {
		client, err := evm.Dial(ctx, evmCfg, signer.PrivateKey)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	engCfg := cfg.EngineSettings()
	engCfg.Logger = logger
	engCfg.Metrics = observability.Engine()
	manager, err := engine.NewManager(engCfg, dial)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer manager.Close()

	if cfg.Engine.ConnectOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := manager.Connect(ctx); err != nil {
			logger.Warn("initial connect failed; waiting for an explicit connect", slog.Any("error", err))
		}
		cancel()
	}

	auth, err := NewAuthenticator(AuthConfig{
		BearerToken: cfg.Admin.BearerToken,
		HMACSecret:  cfg.Admin.JWT.HMACSecret,
		Issuer:      cfg.Admin.JWT.Issuer,
		Audience:    cfg.Admin.JWT.Audience,
		ClockSkew:   cfg.Admin.JWT.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("init admin auth: %w", err)
	}
	adminMetrics := observability.Admin()
	admin := NewAdminServer(manager, auth,
		WithRateLimiter(NewRateLimiter(cfg.Admin.RateLimit.RequestsPerMinute, cfg.Admin.RateLimit.Burst, adminMetrics)),
		WithAdminMetrics(adminMetrics),
		WithAdminLogger(logger))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(admin, "royaltyd"),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("royaltyd listening", slog.String("address", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// telemetryConfig merges file settings with the standard OTEL environment
// variables, which take precedence.
func telemetryConfig(t TelemetryConfig, env string) telemetry.Config {
	cfg := telemetry.Config{
		ServiceName: "royaltyd",
		Environment: env,
		Endpoint:    strings.TrimSpace(t.Endpoint),
		Insecure:    t.Insecure,
		Headers:     telemetry.ParseHeaders(t.Headers),
		Traces:      t.Traces,
		Metrics:     t.Metrics,
		SampleRatio: t.SampleRatio,
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		cfg.Endpoint = value
		cfg.Traces = true
		cfg.Metrics = true
	}
	if value := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); strings.TrimSpace(value) != "" {
		cfg.Headers = telemetry.ParseHeaders(value)
	}
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Insecure = parsed
		}
	}
	return cfg
}
