package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/db"
	"github.com/MichalMed/termit/pkg/logging"
)

// HealthStatus is the health of the backends termit is configured with.
type HealthStatus struct {
	Overall   string          `json:"overall" yaml:"overall"`
	Timestamp time.Time       `json:"timestamp" yaml:"timestamp"`
	Services  []ServiceStatus `json:"services" yaml:"services"`
}

// ServiceStatus is the health of one backend.
type ServiceStatus struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Target  string `json:"target,omitempty" yaml:"target,omitempty"`
	Latency string `json:"latency,omitempty" yaml:"latency,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusDisabled  = "disabled"
)

// errUnhealthy makes the command exit non-zero without repeating the report.
var errUnhealthy = errors.New("one or more services are unhealthy")

var healthTimeout time.Duration

// NewHealthCommand creates the health command.
func NewHealthCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the configured backends",
		Long: `Check the health of the backends termit is configured with.

Services checked:
  - database        PostgreSQL, when store is postgres
  - redis           when redis.addr is set
  - text_analysis   the text analysis service at text_analysis.url
  - storage         the file content storage (filesystem or S3)

The command exits non-zero when any enabled service is unhealthy.

Examples:
  termit health
  termit health --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
			defer cancel()

			status := checkHealth(ctx, cfg)
			if err := writeOutput(deps.Out, cfg.OutputFormat, status, func(w io.Writer) error {
				return printHealth(w, status)
			}); err != nil {
				return err
			}
			if status.Overall != statusHealthy {
				return errUnhealthy
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "Timeout for all health checks")

	return cmd
}

func checkHealth(ctx context.Context, cfg *config.Config) *HealthStatus {
	status := &HealthStatus{
		Overall:   statusHealthy,
		Timestamp: time.Now(),
		Services: []ServiceStatus{
			checkDatabase(ctx, cfg),
			checkRedis(ctx, cfg.Redis),
			checkTextAnalysis(ctx, cfg.TextAnalysis),
			checkStorage(ctx, cfg),
		},
	}
	for _, s := range status.Services {
		if s.Status == statusUnhealthy {
			status.Overall = statusUnhealthy
		}
	}
	return status
}

func checkDatabase(ctx context.Context, cfg *config.Config) ServiceStatus {
	d := cfg.Database
	s := ServiceStatus{Name: "database", Target: fmt.Sprintf("%s:%d/%s", d.Host, d.Port, d.Name)}
	if cfg.Store != config.StorePostgres {
		s.Status = statusDisabled
		s.Details = "store=" + string(cfg.Store)
		return s
	}

	d.ConnectRetries = 1
	pool, err := connectToDatabase(ctx, d, logging.NewNopLogger())
	if err != nil {
		s.Status, s.Error = statusUnhealthy, err.Error()
		return s
	}
	defer db.Close(pool)

	h := db.Check(ctx, pool)
	s.Latency = h.Latency.Round(time.Millisecond).String()
	if !h.Healthy {
		s.Status, s.Error = statusUnhealthy, h.Error
		return s
	}
	s.Status = statusHealthy
	s.Details = h.String()
	return s
}

func checkRedis(ctx context.Context, cfg config.RedisConfig) ServiceStatus {
	s := ServiceStatus{Name: "redis", Target: cfg.Addr}
	if !cfg.Enabled() {
		s.Status = statusDisabled
		return s
	}

	start := time.Now()
	client, err := connectToRedis(ctx, cfg)
	s.Latency = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		s.Status, s.Error = statusUnhealthy, err.Error()
		return s
	}
	_ = client.Close()
	s.Status = statusHealthy
	return s
}

// checkTextAnalysis only checks that the service answers. It accepts POST
// requests, so a 4xx answer to GET counts as healthy.
func checkTextAnalysis(ctx context.Context, cfg config.TextAnalysisConfig) ServiceStatus {
	s := ServiceStatus{Name: "text_analysis", Target: cfg.URL}
	if cfg.URL == "" {
		s.Status, s.Error = statusUnhealthy, "text_analysis.url is not set"
		return s
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		s.Status, s.Error = statusUnhealthy, fmt.Sprintf("create request: %v", err)
		return s
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	s.Latency = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		s.Status, s.Error = statusUnhealthy, err.Error()
		return s
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		s.Status, s.Error = statusUnhealthy, fmt.Sprintf("HTTP %d", resp.StatusCode)
		return s
	}
	s.Status = statusHealthy
	return s
}

// healthProbe is a file nobody registers; looking it up exercises the storage.
const healthProbe = "urn:termit:health-probe"

func checkStorage(ctx context.Context, cfg *config.Config) ServiceStatus {
	s := ServiceStatus{Name: "storage", Target: cfg.Storage.Root}
	if cfg.Storage.Backend == config.StorageS3 {
		s.Target = cfg.Storage.S3.Endpoint + "/" + cfg.Storage.S3.Bucket
	}
	s.Details = "backend=" + string(cfg.Storage.Backend)

	docs, err := newDocumentManager(cfg)
	if err != nil {
		s.Status, s.Error = statusUnhealthy, err.Error()
		return s
	}

	start := time.Now()
	_, err = docs.Exists(ctx, healthProbe)
	s.Latency = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		s.Status, s.Error = statusUnhealthy, err.Error()
		return s
	}
	s.Status = statusHealthy
	return s
}

func printHealth(w io.Writer, status *HealthStatus) error {
	color := "\033[32m"
	if status.Overall != statusHealthy {
		color = "\033[31m"
	}
	fmt.Fprintf(w, "termit: %s%s\033[0m\n", color, status.Overall)
	fmt.Fprintf(w, "Timestamp: %s\n\n", status.Timestamp.Format(time.RFC3339))

	fmt.Fprintln(w, "SERVICE        STATUS     LATENCY    TARGET                         DETAILS")
	fmt.Fprintln(w, "-------        ------     -------    ------                         -------")
	for _, s := range status.Services {
		latency := s.Latency
		if latency == "" {
			latency = "-"
		}
		details := s.Details
		if s.Error != "" {
			details = s.Error
		}
		fmt.Fprintf(w, "%-14s %-10s %-10s %-30s %s\n", s.Name, s.Status, latency, truncate(s.Target, 30), details)
	}
	return nil
}
