package activity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/cutover/internal/metrics"
	"github.com/edvin/cutover/internal/model"
)

// Synthetic contains the activity that sends tagged validation traffic at a
// freshly rolled standby group. Every request carries the routing header the
// load balancer matches out of band, so production traffic never reaches the
// group under test.
type Synthetic struct {
	client *http.Client
	logger zerolog.Logger
}

// NewSynthetic creates a new Synthetic activity struct.
func NewSynthetic(logger zerolog.Logger) *Synthetic {
	return &Synthetic{client: &http.Client{}, logger: logger}
}

// RunSyntheticProbes fans out header-tagged requests across the configured
// paths and folds every outcome into a single verdict. Individual probe
// failures never fail the activity; they fail the verdict.
func (a *Synthetic) RunSyntheticProbes(ctx context.Context, cfg model.SyntheticConfig) (*model.SyntheticResult, error) {
	base := strings.TrimSuffix(cfg.Endpoint, "/")

	var (
		mu       sync.Mutex
		failures []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	total := 0
	for _, path := range cfg.Paths {
		for attempt := 1; attempt <= cfg.Attempts; attempt++ {
			total++
			g.Go(func() error {
				if err := a.probe(gctx, cfg, base+path); err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("%s attempt %d: %v", path, attempt, err))
					mu.Unlock()
					metrics.SyntheticProbes.WithLabelValues("fail").Inc()
				} else {
					metrics.SyntheticProbes.WithLabelValues("pass").Inc()
				}
				// Failures fold into the verdict, never into the group error.
				return nil
			})
		}
		heartbeat(ctx, "probing "+path)
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &model.SyntheticResult{
		Passed:   len(failures) == 0,
		Probes:   total,
		Failures: failures,
	}
	if result.Passed {
		a.logger.Info().Int("probes", total).Msg("synthetic checks passed")
	} else {
		a.logger.Warn().
			Int("probes", total).
			Int("failures", len(failures)).
			Strs("details", failures).
			Msg("synthetic checks failed")
	}
	return result, nil
}

func (a *Synthetic) probe(ctx context.Context, cfg model.SyntheticConfig, url string) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(cfg.HeaderName, cfg.HeaderValue)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
