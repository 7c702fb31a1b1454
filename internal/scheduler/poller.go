package scheduler

import (
	"context"
	"time"

	"dryer-alarm/internal/models"

	"go.uber.org/zap"
)

// PassFunc 执行一次评估，返回新生成的报警数
type PassFunc func(ctx context.Context) (int, error)

// Poller 内置评估调度器（定时轮询）
type Poller struct {
	interval time.Duration
	run      PassFunc
	logger   *zap.Logger
}

// NewPoller 创建调度器；interval <= 0 时 Start 直接返回
func NewPoller(interval time.Duration, run PassFunc, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		interval: interval,
		run:      run,
		logger:   logger,
	}
}

// Enabled 是否启用内置调度
func (p *Poller) Enabled() bool {
	return p.interval > 0
}

// Start 启动轮询，阻塞直到 ctx 取消
func (p *Poller) Start(ctx context.Context) error {
	if !p.Enabled() {
		p.logger.Info("Evaluation poller disabled, waiting for external triggers")
		return nil
	}

	p.logger.Info("Evaluation poller started",
		zap.Duration("poll_interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// 立即执行一次
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Evaluation poller stopped")
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick 执行一次评估，失败只记录日志，不中断轮询
func (p *Poller) tick(ctx context.Context) {
	generated, err := p.run(ctx)
	switch {
	case err == nil:
		p.logger.Debug("Scheduled evaluation finished",
			zap.Int("alerts_generated", generated),
		)
	case models.IsConflict(err):
		p.logger.Info("Scheduled evaluation skipped, pass already running")
	case ctx.Err() != nil:
		// 关闭过程中被取消
	default:
		p.logger.Error("Scheduled evaluation failed",
			zap.Error(err),
		)
	}
}
