package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize       = 256
	defaultDispatchTimeout = 30 * time.Second

	// 队列满或已关闭时计入该渠道
	queueChannel = "queue"
)

var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Dispatcher 异步投递：Notify 只入队，后台 worker 逐条交给下游渠道
// 每条通知使用独立的超时上下文，与调用方请求解耦
type Dispatcher struct {
	next     Notifier
	timeout  time.Duration
	failures FailureRecorder
	logger   *zap.Logger

	queue chan AlertNotification
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
}

// NewDispatcher 创建并启动异步分发器
func NewDispatcher(next Notifier, queueSize int, timeout time.Duration, failures FailureRecorder, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		next:     next,
		timeout:  timeout,
		failures: failures,
		logger:   logger,
		queue:    make(chan AlertNotification, queueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Name() string {
	return "dispatcher"
}

// Notify 非阻塞入队；队列满时丢弃并计数
func (d *Dispatcher) Notify(_ context.Context, n AlertNotification) error {
	if n.Alert == nil {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.done {
		d.dropped(n, ErrDispatcherClosed)
		return nil
	}

	select {
	case d.queue <- n:
	default:
		d.dropped(n, errors.New("notification queue full"))
	}
	return nil
}

// Close 停止接收并等待队列排空；ctx 到期时放弃等待
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.done {
		d.done = true
		close(d.queue)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		d.logger.Warn("Notification queue not drained before shutdown",
			zap.Int("pending", len(d.queue)),
		)
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n AlertNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.next.Notify(ctx, n); err != nil {
		d.logger.Warn("Failed to deliver alert notification",
			zap.String("channel", d.next.Name()),
			zap.String("event", string(n.Event)),
			zap.String("alert_id", n.Alert.ID),
			zap.Error(err),
		)
		if d.failures != nil {
			d.failures.NotificationFailed(d.next.Name())
		}
	}
}

func (d *Dispatcher) dropped(n AlertNotification, reason error) {
	d.logger.Warn("Alert notification dropped",
		zap.String("event", string(n.Event)),
		zap.String("alert_id", n.Alert.ID),
		zap.Error(reason),
	)
	if d.failures != nil {
		d.failures.NotificationFailed(queueChannel)
	}
}
