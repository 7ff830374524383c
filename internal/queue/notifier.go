package queue

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/grand-thief-cash/chaos/app/projects/ceworker/internal/infra/logging"
)

// Notifier wakes idle workers when new tasks arrive. Signals are broadcast by
// closing the current generation channel; a missed wake-up costs at most one
// poll interval.
type Notifier struct {
	mu  sync.Mutex
	gen chan struct{}

	rdb     goredis.UniversalClient
	channel string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewNotifier() *Notifier {
	return &Notifier{gen: make(chan struct{})}
}

// Wait returns a channel closed by the next Signal.
func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// Signal wakes local waiters only.
func (n *Notifier) Signal() {
	n.mu.Lock()
	close(n.gen)
	n.gen = make(chan struct{})
	n.mu.Unlock()
}

// Publish wakes local waiters and, when attached to redis, other processes.
func (n *Notifier) Publish(ctx context.Context, msg string) {
	n.Signal()
	if n.rdb == nil {
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, msg).Err(); err != nil {
		logging.Warn(ctx, "publish task wake-up failed", zap.String("channel", n.channel), zap.Error(err))
	}
}

// Attach subscribes to channel and relays every message as a local Signal.
func (n *Notifier) Attach(rdb goredis.UniversalClient, channel string) {
	if rdb == nil || channel == "" {
		return
	}
	n.rdb, n.channel = rdb, channel
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	sub := rdb.Subscribe(ctx, channel)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				n.Signal()
			}
		}
	}()
	logging.Info(ctx, "task wake-ups relayed through redis", zap.String("channel", channel))
}

// Detach stops the redis relay, if any.
func (n *Notifier) Detach() {
	if n.cancel != nil {
		n.cancel()
		n.wg.Wait()
		n.cancel = nil
	}
	n.rdb = nil
}
