package connectivity

import (
	"context"
	"net/http"
	"time"

	"jobsync/internal/config"
	"jobsync/internal/models"

	"github.com/rs/zerolog"
)

// Probe polls a URL and treats any HTTP response as "online". Transport errors and
// timeouts mean "offline".
type Probe struct {
	notifier

	url      string
	interval time.Duration
	client   *http.Client
	logger   *zerolog.Logger
}

func NewProbe(cfg config.SyncConfig, logger *zerolog.Logger) *Probe {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = models.DefaultProbeInterval
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = models.DefaultProbeTimeout
	}
	l := logger.With().Str("component", "connectivity_probe").Logger()
	return &Probe{
		url:      cfg.ProbeURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   &l,
	}
}

// Start probes once immediately, then on every interval until ctx is done.
func (p *Probe) Start(ctx context.Context) {
	p.logger.Info().Str("url", p.url).Dur("interval", p.interval).Msg("connectivity probe started")
	defer p.logger.Info().Msg("connectivity probe stopped")

	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one probe, updates the state and returns it.
func (p *Probe) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() != nil {
		return p.IsOnline()
	}
	if p.set(online) {
		p.logger.Info().Bool("online", online).Msg("connectivity changed")
	}
	return online
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Msg("invalid probe request")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()
	return true
}
