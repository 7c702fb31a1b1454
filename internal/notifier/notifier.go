package notifier

import (
	"context"
	"time"

	"dryer-alarm/internal/models"

	"go.uber.org/zap"
)

// EventKind 通知事件类型
type EventKind string

const (
	EventCreated      EventKind = "created"
	EventAcknowledged EventKind = "acknowledged"
	EventAssigned     EventKind = "assigned"
	EventDismissed    EventKind = "dismissed"
	EventResolved     EventKind = "resolved"
)

// AlertNotification 报警通知
type AlertNotification struct {
	Event      EventKind     `json:"event"`
	Alert      *models.Alert `json:"alert"`
	DryerCode  string        `json:"dryer_code,omitempty"`
	Actor      string        `json:"actor,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Notifier 通知渠道
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n AlertNotification) error
}

// FailureRecorder 通知失败计数
type FailureRecorder interface {
	NotificationFailed(channel string)
}

// Multi 多渠道分发（尽力而为：失败只记录日志和计数，不向调用方返回）
type Multi struct {
	notifiers   []Notifier
	minSeverity models.AlertSeverity
	failures    FailureRecorder
	logger      *zap.Logger
}

// NewMulti 创建多渠道分发器
// minSeverity 低于该级别的新报警不推送；生命周期事件不受限制
func NewMulti(minSeverity models.AlertSeverity, failures FailureRecorder, logger *zap.Logger, notifiers ...Notifier) *Multi {
	if !minSeverity.Valid() {
		minSeverity = models.SeverityInfo
	}
	return &Multi{
		notifiers:   notifiers,
		minSeverity: minSeverity,
		failures:    failures,
		logger:      logger,
	}
}

func (m *Multi) Name() string {
	return "multi"
}

// Len 已启用渠道数
func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) Notify(ctx context.Context, n AlertNotification) error {
	if n.Alert == nil {
		return nil
	}
	if n.Event == EventCreated && n.Alert.Severity.Rank() < m.minSeverity.Rank() {
		return nil
	}

	for _, nt := range m.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			m.logger.Warn("Failed to dispatch alert notification",
				zap.String("channel", nt.Name()),
				zap.String("event", string(n.Event)),
				zap.String("alert_id", n.Alert.ID),
				zap.Error(err),
			)
			if m.failures != nil {
				m.failures.NotificationFailed(nt.Name())
			}
		}
	}
	return nil
}
