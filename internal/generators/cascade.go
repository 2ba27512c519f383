package generators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
)

// FallbackProvider is the provider name recorded on synthesized images
const FallbackProvider = "fallback"

const (
	stylePrefix            = "Children's storybook illustration, vibrant watercolor style, friendly and safe for kids, high quality, detailed: "
	defaultProviderTimeout = 30 * time.Second
)

// ProviderError is one failed provider attempt. The cascade absorbs it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("image provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// EnrichPrompt prepends the house style to a beat prompt
func EnrichPrompt(prompt string) string {
	return stylePrefix + strings.TrimSpace(prompt)
}

// ProviderStat counts outcomes for one provider
type ProviderStat struct {
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

type providerCounters struct {
	successes atomic.Int64
	failures  atomic.Int64
}

// Stats aggregates cascade outcomes across requests
type Stats struct {
	mu        sync.Mutex
	providers map[string]*providerCounters
	fallbacks atomic.Int64
}

func newStats() *Stats {
	return &Stats{providers: make(map[string]*providerCounters)}
}

func (s *Stats) counters(name string) *providerCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.providers[name]
	if !ok {
		c = &providerCounters{}
		s.providers[name] = c
	}
	return c
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	Providers map[string]ProviderStat `json:"providers"`
	Fallbacks int64                   `json:"fallbacks"`
}

// Snapshot copies the current counters
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := StatsSnapshot{Providers: make(map[string]ProviderStat, len(names)), Fallbacks: s.fallbacks.Load()}
	for _, name := range names {
		c := s.counters(name)
		out.Providers[name] = ProviderStat{Successes: c.successes.Load(), Failures: c.failures.Load()}
	}
	return out
}

// CascadeOptions configures a Cascade; zero values select defaults
type CascadeOptions struct {
	ProviderTimeout time.Duration
	Synthesizer     Synthesizer
	Logger          *logger.Logger
}

// Cascade tries image providers in order and always ends with an image
type Cascade struct {
	timeout time.Duration
	synth   Synthesizer
	stats   *Stats
	log     *logger.Logger
}

// NewCascade creates an image acquisition cascade
func NewCascade(opts CascadeOptions) *Cascade {
	c := &Cascade{
		timeout: opts.ProviderTimeout,
		synth:   opts.Synthesizer,
		stats:   newStats(),
		log:     opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = defaultProviderTimeout
	}
	if c.synth == nil {
		c.synth = SVGSynthesizer{}
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.With("component", "image_cascade")
	return c
}

// Stats exposes the cascade counters
func (c *Cascade) Stats() *Stats {
	return c.stats
}

// Acquire returns the first successful provider image for beat, or a
// synthesized placeholder when every provider fails. It never fails.
func (c *Cascade) Acquire(ctx context.Context, beat models.IllustrationBeat, order []interfaces.ImageProvider) models.GeneratedImage {
	prompt := EnrichPrompt(beat.Prompt)

	for _, p := range order {
		if ctx.Err() != nil {
			c.log.Warn("context done, skipping remaining providers", "moment", beat.Moment, "error", ctx.Err())
			break
		}

		img, err := c.try(ctx, p, prompt)
		if err != nil {
			c.stats.counters(p.Name()).failures.Inc()
			c.log.Warn("image provider failed", "moment", beat.Moment, "provider", p.Name(), "error", err)
			continue
		}

		c.stats.counters(p.Name()).successes.Inc()
		c.log.Info("image acquired", "moment", beat.Moment, "provider", p.Name(), "cost", img.Cost)
		return models.GeneratedImage{
			URL:       img.URL,
			AltText:   beat.Caption,
			Moment:    beat.Moment,
			Provider:  p.Name(),
			Cost:      img.Cost,
			Author:    img.Author,
			AuthorURL: img.AuthorURL,
		}
	}

	c.stats.fallbacks.Inc()
	url, err := c.synth.Synthesize(beat)
	if err != nil {
		c.log.Warn("placeholder synthesis failed, using vector graphic", "moment", beat.Moment, "error", err)
		url, _ = SVGSynthesizer{}.Synthesize(beat)
	}
	c.log.Info("image acquired", "moment", beat.Moment, "provider", FallbackProvider, "cost", 0)
	return models.GeneratedImage{
		URL:      url,
		AltText:  beat.Caption,
		Moment:   beat.Moment,
		Provider: FallbackProvider,
		Cost:     0,
	}
}

func (c *Cascade) try(ctx context.Context, p interfaces.ImageProvider, prompt string) (*interfaces.ProviderImage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	img, err := p.RequestImage(callCtx, prompt)
	switch {
	case err != nil:
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	case img == nil || strings.TrimSpace(img.URL) == "":
		return nil, &ProviderError{Provider: p.Name(), Err: errors.New("empty image url")}
	case img.Cost < 0:
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("negative cost %v", img.Cost)}
	}
	return img, nil
}
