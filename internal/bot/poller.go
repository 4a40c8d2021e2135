package bot

import (
	"context"
	"sync"
	"time"

	"donatebot/internal/gateway/telegram"

	"go.uber.org/zap"
)

// UpdateSource long-polls the gateway for updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
}

// Handler processes one update.
type Handler interface {
	Dispatch(ctx context.Context, u telegram.Update) error
}

// Poller pulls updates and hands each one to the handler on its own
// goroutine. Transport errors back off and retry until ctx is done.
type Poller struct {
	source      UpdateSource
	handler     Handler
	pollTimeout int
	backoff     time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

func NewPoller(source UpdateSource, handler Handler, pollTimeout int, logger *zap.Logger) *Poller {
	return &Poller{
		source:      source,
		handler:     handler,
		pollTimeout: pollTimeout,
		backoff:     5 * time.Second,
		logger:      logger.Named("poller"),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight updates.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("polling started", zap.Int("timeout", p.pollTimeout))
	defer p.wg.Wait()

	var offset int64
	for {
		if ctx.Err() != nil {
			p.logger.Info("polling stopped")
			return nil
		}

		updates, err := p.source.GetUpdates(ctx, offset, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("polling stopped")
				return nil
			}
			p.logger.Error("get updates", zap.Error(err), zap.Duration("retry_in", p.backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.backoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			p.wg.Add(1)
			go func(u telegram.Update) {
				defer p.wg.Done()
				_ = p.handler.Dispatch(ctx, u)
			}(u)
		}
	}
}
