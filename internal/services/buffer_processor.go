package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/internal/infrastructure/buffer"
	"github.com/promorang/maturity/repository"
	"github.com/promorang/maturity/usecase"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// Queue is the subset of *buffer.Store the processor needs.
type Queue interface {
	Enqueue(item buffer.Item) error
	GetBatch(limit int) ([]buffer.Item, error)
	Remove(item buffer.Item) error
	Requeue(item buffer.Item) error
	Size() (int, error)
	Cleanup(olderThan time.Time) (int, error)
}

// ProcessorConfig controls how frequently the buffer is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	Retention  time.Duration
}

// BufferProcessor replays buffered action records into the maturity store.
type BufferProcessor struct {
	store   Queue
	monitor ConnectionHealth
	states  repository.MaturityRepository
	cache   repository.StateCache
	rules   domain.PromotionRules
	logger  *zap.Logger
	cron    *cron.Cron
	cfg     ProcessorConfig
}

func NewBufferProcessor(
	store Queue,
	monitor ConnectionHealth,
	states repository.MaturityRepository,
	cache repository.StateCache,
	rules domain.PromotionRules,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *BufferProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 72 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BufferProcessor{
		store:   store,
		monitor: monitor,
		states:  states,
		cache:   cache,
		rules:   rules,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = bp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("buffer drain failed", zap.Error(err))
		}
	})
	_, _ = bp.cron.AddFunc("@hourly", func() {
		removed, err := bp.store.Cleanup(time.Now().Add(-bp.cfg.Retention))
		if err != nil {
			bp.logger.Error("buffer cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			bp.logger.Warn("expired buffered actions dropped", zap.Int("count", removed))
		}
	})

	return bp
}

// Start launches the cron scheduler.
func (bp *BufferProcessor) Start() {
	if bp == nil || bp.cron == nil {
		return
	}
	bp.cron.Start()
	bp.logger.Info("buffer processor started", zap.Duration("interval", bp.cfg.Interval))
}

// Stop waits for running jobs or ctx, whichever ends first.
func (bp *BufferProcessor) Stop(ctx context.Context) {
	if bp == nil || bp.cron == nil {
		return
	}
	stopCtx := bp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	bp.logger.Info("buffer processor stopped")
}

// Drain replays one batch of buffered items synchronously.
func (bp *BufferProcessor) Drain(ctx context.Context) error {
	if bp == nil || bp.store == nil {
		return nil
	}
	if bp.monitor != nil && !bp.monitor.IsOnline() {
		bp.logger.Debug("skipping buffer drain (offline)")
		return nil
	}

	items, err := bp.store.GetBatch(bp.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := bp.processItem(ctx, item); err != nil {
			bp.logger.Error("failed to process buffer item",
				zap.String("item_id", item.ID),
				zap.String("entity", item.Entity),
				zap.Error(err))

			item.Retries++
			if item.Retries >= bp.cfg.MaxRetries {
				bp.logger.Warn("dropping buffer item (max retries reached)", zap.String("item_id", item.ID))
				_ = bp.store.Remove(item)
				continue
			}
			if err := bp.store.Requeue(item); err != nil {
				bp.logger.Error("failed to requeue buffer item", zap.Error(err))
			}
			continue
		}

		if err := bp.store.Remove(item); err != nil {
			bp.logger.Warn("failed to purge processed buffer item", zap.Error(err))
		}
	}
	return nil
}

// BufferOperation persists an item for the next drain. The caller has
// already failed against primary storage, so nothing is retried inline.
func (bp *BufferProcessor) BufferOperation(ctx context.Context, item buffer.Item) error {
	if bp == nil || bp.store == nil {
		return fmt.Errorf("buffer processor not configured")
	}
	if err := bp.store.Enqueue(item); err != nil {
		return err
	}
	bp.logger.Info("operation buffered",
		zap.String("item_id", item.ID),
		zap.String("entity", item.Entity),
		zap.String("user_id", item.UserID))
	return nil
}

// Size returns the number of buffered items.
func (bp *BufferProcessor) Size() int {
	if bp == nil || bp.store == nil {
		return 0
	}
	size, err := bp.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (bp *BufferProcessor) processItem(ctx context.Context, item buffer.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}

	switch item.Entity {
	case buffer.EntityMaturityAction:
		if item.Operation != usecase.OperationRecordAction {
			return fmt.Errorf("unsupported operation %s", item.Operation)
		}
		var record domain.ActionRecord
		if err := json.Unmarshal(item.Data, &record); err != nil {
			return err
		}
		state, err := bp.states.RecordAction(ctx, &record, func(s *domain.MaturityState) {
			bp.rules.Apply(s, time.Now().UTC())
		})
		if err != nil {
			return err
		}
		bp.refreshCache(ctx, state)
		return nil
	default:
		return fmt.Errorf("unsupported entity %s", item.Entity)
	}
}

func (bp *BufferProcessor) refreshCache(ctx context.Context, state *domain.MaturityState) {
	if bp.cache == nil || state == nil {
		return
	}
	if err := bp.cache.Set(ctx, state); err != nil {
		bp.logger.Warn("state cache write failed after replay", zap.String("user_id", state.UserID), zap.Error(err))
		if err := bp.cache.Invalidate(ctx, state.UserID); err != nil {
			bp.logger.Warn("state cache invalidate failed after replay", zap.String("user_id", state.UserID), zap.Error(err))
		}
	}
}
