package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/credentials"
	"github.com/MichalMed/termit/pkg/buildinfo"
	"github.com/MichalMed/termit/pkg/db"
	"github.com/MichalMed/termit/pkg/logging"
)

// passwordProvider is replaced in tests.
var passwordProvider = credentials.DefaultProvider

// connectToDatabase establishes a database connection. A password missing
// from the configuration is looked up in the keyring.
func connectToDatabase(ctx context.Context, dbCfg config.DatabaseConfig, logger logging.Logger) (*pgxpool.Pool, error) {
	if dbCfg.Password == "" {
		account := credentials.DatabaseAccount(dbCfg.User, dbCfg.Host, dbCfg.Port, dbCfg.Name)
		pw, err := credentials.LookupPassword(passwordProvider(), account)
		if err != nil {
			// Trust and peer authentication need no password.
			logger.Warn("database password lookup failed", logging.Err(err))
		}
		dbCfg.Password = pw
	}

	return db.ConnectWithRetry(ctx, dbCfg.DB(), dbCfg.ConnectRetries, dbCfg.RetryDelay, logger)
}

// connectToRedis establishes a Redis connection.
func connectToRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing connection: %w", err)
	}

	return client, nil
}

// metricsServer serves /metrics and /version while a command runs.
type metricsServer struct {
	srv  *http.Server
	addr string
	done chan error
}

// startMetricsServer listens on addr. An empty addr starts nothing.
func startMetricsServer(addr string, reg *prometheus.Registry, logger logging.Logger) (*metricsServer, error) {
	if addr == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/version", buildinfo.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	m := &metricsServer{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	go func() {
		err := m.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		m.done <- err
	}()
	logger.Info("serving metrics", logging.F("addr", m.addr))
	return m, nil
}

// Shutdown stops the server. A nil server is a no-op.
func (m *metricsServer) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-m.done
}

// writeOutput renders v in the requested format. Text output is produced by text.
func writeOutput(w io.Writer, format config.OutputFormat, v interface{}, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// formatScore renders an optional score.
func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *score)
}

// formatDurationMs formats milliseconds as a human-readable duration.
func formatDurationMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}
