package deposits

import (
	"context"
	"log"
	"time"

	"github.com/hedgelabs/telemetry-engine/pkg/models"
)

// OptimizeFn computes the result blob for one paid optimization run.
type OptimizeFn func(ctx context.Context, opt models.GardenOptimization) (string, error)

// ProcessorStore is the persistence slice the processor drives.
type ProcessorStore interface {
	OptimizationsInStatus(ctx context.Context, status string) ([]models.GardenOptimization, error)
	TransitionOptimization(ctx context.Context, id, from, to, txHash string) (bool, error)
	SetOptimizationResult(ctx context.Context, id, resultData string) error
}

// Processor drains verified optimization payments through
// processing→completed. Failures land in failed; the run is never retried
// automatically because the player already paid once.
type Processor struct {
	store    ProcessorStore
	optimize OptimizeFn
	interval time.Duration
}

func NewProcessor(store ProcessorStore, optimize OptimizeFn, interval time.Duration) *Processor {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Processor{store: store, optimize: optimize, interval: interval}
}

// Run polls for verified payments until cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.drain(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("[OptimizationProcessor] Drain failed: %v", err)
			}
		}
	}
}

func (p *Processor) drain(ctx context.Context) error {
	verified, err := p.store.OptimizationsInStatus(ctx, models.OptPaymentVerified)
	if err != nil {
		return err
	}
	for _, opt := range verified {
		// The guarded transition claims the run; a second processor instance
		// racing on the same row loses and skips.
		claimed, err := p.store.TransitionOptimization(ctx, opt.ID,
			models.OptPaymentVerified, models.OptProcessing, "")
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		p.runOne(ctx, opt)
	}
	return nil
}

func (p *Processor) runOne(ctx context.Context, opt models.GardenOptimization) {
	result, err := p.optimize(ctx, opt)
	if err != nil {
		log.Printf("[OptimizationProcessor] Run %s failed: %v", opt.ID, err)
		if _, terr := p.store.TransitionOptimization(ctx, opt.ID,
			models.OptProcessing, models.OptFailed, ""); terr != nil {
			log.Printf("[OptimizationProcessor] Failed to mark %s failed: %v", opt.ID, terr)
		}
		return
	}
	if err := p.store.SetOptimizationResult(ctx, opt.ID, result); err != nil {
		log.Printf("[OptimizationProcessor] Result write for %s failed: %v", opt.ID, err)
		return
	}
	if _, err := p.store.TransitionOptimization(ctx, opt.ID,
		models.OptProcessing, models.OptCompleted, ""); err != nil {
		log.Printf("[OptimizationProcessor] Failed to complete %s: %v", opt.ID, err)
		return
	}
	log.Printf("[OptimizationProcessor] Run %s completed for player %d", opt.ID, opt.PlayerID)
}
