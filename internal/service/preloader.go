package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Cheertaboi/discount-code-service/internal/repository"
)

// ProjectionLoader rebuilds the cached projections from the store.
type ProjectionLoader interface {
	Preload(ctx context.Context) (repository.PreloadResult, error)
}

// Preloader warms the recent and all-codes projections at boot. Traffic
// should not be accepted until Ready reports true.
type Preloader struct {
	loader ProjectionLoader
	logger *slog.Logger
	ready  atomic.Bool
}

func NewPreloader(loader ProjectionLoader, logger *slog.Logger) *Preloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preloader{loader: loader, logger: logger.With(slog.String("component", "preloader"))}
}

func (p *Preloader) Run(ctx context.Context) error {
	start := time.Now()
	res, err := p.loader.Preload(ctx)
	if err != nil {
		p.logger.Error("cache preload failed", slog.Any("error", err))
		return err
	}
	p.ready.Store(true)
	p.logger.Info("cache preloaded",
		slog.Int("recent", res.Recent),
		slog.Int("all", res.All),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (p *Preloader) Ready() bool {
	return p.ready.Load()
}
