package generators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/choco2105/magic-reading/internal/interfaces"
	"github.com/choco2105/magic-reading/internal/logger"
	"github.com/choco2105/magic-reading/internal/models"
)

// Mode selects how beats are dispatched
type Mode string

const (
	ModeConcurrent Mode = "concurrent"
	ModeSequential Mode = "sequential"
)

// Policy is the provider order used for each moment
type Policy map[models.Moment][]interfaces.ImageProvider

// For returns the provider order for m; an empty order goes straight to the fallback
func (p Policy) For(m models.Moment) []interfaces.ImageProvider {
	return p[m]
}

// BuildPolicy resolves provider names per moment against the available providers.
// Unknown or unavailable names are skipped.
func BuildPolicy(names map[models.Moment][]string, available map[string]interfaces.ImageProvider, log *logger.Logger) Policy {
	policy := make(Policy, len(models.Moments))
	for _, m := range models.Moments {
		for _, name := range names[m] {
			p, ok := available[name]
			if !ok {
				if log != nil {
					log.Warn("image provider not available, skipping", "moment", m, "provider", name)
				}
				continue
			}
			policy[m] = append(policy[m], p)
		}
	}
	return policy
}

// IllustrationResult is the ordered output of one Illustrate call
type IllustrationResult struct {
	Images    []models.GeneratedImage
	TotalCost float64
}

// OrchestratorOptions configures an Orchestrator
type OrchestratorOptions struct {
	Mode            Mode
	SequentialDelay time.Duration
	Logger          *logger.Logger
}

// Orchestrator runs the cascade once per beat
type Orchestrator struct {
	cascade *Cascade
	policy  Policy
	mode    Mode
	delay   time.Duration
	log     *logger.Logger
}

// NewOrchestrator creates an illustration orchestrator
func NewOrchestrator(cascade *Cascade, policy Policy, opts OrchestratorOptions) *Orchestrator {
	o := &Orchestrator{
		cascade: cascade,
		policy:  policy,
		mode:    opts.Mode,
		delay:   opts.SequentialDelay,
		log:     opts.Logger,
	}
	if o.mode == "" {
		o.mode = ModeConcurrent
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	o.log = o.log.With("component", "illustration_orchestrator")
	return o
}

// Illustrate acquires one image per beat and returns them in moment order.
// It only fails when beats is not exactly one beat per moment.
func (o *Orchestrator) Illustrate(ctx context.Context, beats []models.IllustrationBeat) (*IllustrationResult, error) {
	if err := checkBeats(beats); err != nil {
		return nil, err
	}

	var byMoment map[models.Moment]models.GeneratedImage
	if o.mode == ModeSequential {
		byMoment = o.runSequential(ctx, beats)
	} else {
		byMoment = o.runConcurrent(ctx, beats)
	}

	result := &IllustrationResult{Images: make([]models.GeneratedImage, 0, len(models.Moments))}
	for _, m := range models.Moments {
		img := byMoment[m]
		result.Images = append(result.Images, img)
		result.TotalCost += img.Cost
	}

	o.log.Info("illustrations ready", "mode", o.mode, "total_cost", result.TotalCost)
	return result, nil
}

func (o *Orchestrator) runConcurrent(ctx context.Context, beats []models.IllustrationBeat) map[models.Moment]models.GeneratedImage {
	var (
		mu       sync.Mutex
		byMoment = make(map[models.Moment]models.GeneratedImage, len(beats))
		g        errgroup.Group
	)
	for _, beat := range beats {
		g.Go(func() error {
			img := o.cascade.Acquire(ctx, beat, o.policy.For(beat.Moment))
			mu.Lock()
			byMoment[beat.Moment] = img
			mu.Unlock()
			return nil
		})
	}
	// Acquire never fails, so neither does the join
	_ = g.Wait()
	return byMoment
}

func (o *Orchestrator) runSequential(ctx context.Context, beats []models.IllustrationBeat) map[models.Moment]models.GeneratedImage {
	byMoment := make(map[models.Moment]models.GeneratedImage, len(beats))
	for i, beat := range beats {
		if i > 0 && o.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(o.delay):
			}
		}
		byMoment[beat.Moment] = o.cascade.Acquire(ctx, beat, o.policy.For(beat.Moment))
	}
	return byMoment
}

func checkBeats(beats []models.IllustrationBeat) error {
	if len(beats) != len(models.Moments) {
		return fmt.Errorf("expected %d illustration beats, got %d", len(models.Moments), len(beats))
	}
	seen := make(map[models.Moment]bool, len(beats))
	for _, b := range beats {
		if b.Moment.Index() < 0 {
			return fmt.Errorf("unknown moment %q", b.Moment)
		}
		if seen[b.Moment] {
			return fmt.Errorf("duplicate beat for moment %s", b.Moment)
		}
		seen[b.Moment] = true
	}
	return nil
}
