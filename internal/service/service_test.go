package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dryer-alarm/internal/cache"
	"dryer-alarm/internal/clock"
	"dryer-alarm/internal/metrics"
	"dryer-alarm/internal/models"
	"dryer-alarm/internal/notifier"
	"dryer-alarm/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingNotifier 记录收到的通知，可配置为失败
type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.AlertNotification
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, n notifier.AlertNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
	return r.err
}

func (r *recordingNotifier) kinds() []notifier.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifier.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	clock     *clock.Fake
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	engine    *AlertEngine
	lifecycle *LifecycleService
	queries   *AlertQueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    repository.NewMemoryStore(),
		clock:    clock.NewFake(baseTime),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	f.engine = NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   f.store,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Clock:    f.clock,
		Logger:   zap.NewNop(),
	})
	f.lifecycle = NewLifecycleService(LifecycleDeps{
		Alerts:   f.store,
		Dryers:   f.store,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Clock:    f.clock,
		Logger:   zap.NewNop(),
	})
	f.queries = NewAlertQueryService(f.store, f.store, zap.NewNop())
	return f
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
func strPtr(v string) *string     { return &v }

// seedD1 90 分钟未通信、电量 8%、腔体 85°C、加热开启、环境 84°C
func (f *fixture) seedD1() {
	lastComm := baseTime.Add(-90 * time.Minute)
	f.store.PutDryer(&models.Dryer{
		ID:                "dryer-1",
		DryerCode:         "D1",
		Status:            models.DryerActive,
		BatteryLevel:      intPtr(8),
		LastCommunication: &lastComm,
	})
	f.store.AddReading(&models.SensorReading{
		DryerID:          "dryer-1",
		Timestamp:        baseTime.Add(-90 * time.Minute),
		ChamberTemp:      floatPtr(85),
		AmbientTemp:      floatPtr(84),
		InternalHumidity: floatPtr(40),
		HeaterOn:         boolPtr(true),
	})
}

// seedBatteryOnly 只触发 battery_critical
func (f *fixture) seedBatteryOnly(id, code string) {
	lastComm := baseTime.Add(-time.Minute)
	f.store.PutDryer(&models.Dryer{
		ID:                id,
		DryerCode:         code,
		Status:            models.DryerIdle,
		BatteryLevel:      intPtr(8),
		LastCommunication: &lastComm,
	})
}

// counterValue 读取带单个标签的计数器值
func counterValue(t *testing.T, m *metrics.Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) counter(t *testing.T, dryerID string) int {
	t.Helper()
	d, err := f.store.GetDryer(context.Background(), dryerID)
	require.NoError(t, err)
	return d.ActiveAlertsCount
}

func (f *fixture) activeCount(t *testing.T, dryerID string) int {
	t.Helper()
	status := models.StatusActive
	alerts, _, err := f.store.ListAlerts(context.Background(), models.AlertFilters{DryerID: &dryerID, Status: &status}, 0, 0)
	require.NoError(t, err)
	return len(alerts)
}

func (f *fixture) alertOfType(t *testing.T, typ models.AlertType) *models.Alert {
	t.Helper()
	alerts, _, err := f.store.ListAlerts(context.Background(), models.AlertFilters{Type: &typ}, 0, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	return alerts[0]
}

// ============================================
// RunEvaluation
// ============================================

func TestRunEvaluation_ScenarioD1(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.DryersChecked)
	assert.Equal(t, 4, result.AlertsGenerated)
	assert.Equal(t, baseTime, result.StartedAt)

	got := map[models.AlertType]models.AlertSeverity{}
	for _, a := range result.Alerts {
		got[a.Type] = a.Severity
		assert.Equal(t, models.StatusActive, a.Status)
	}
	assert.Equal(t, map[models.AlertType]models.AlertSeverity{
		models.TypeDryerOffline:        models.SeverityCritical,
		models.TypeBatteryCritical:     models.SeverityCritical,
		models.TypeTemperatureCritical: models.SeverityCritical,
		models.TypeHeaterMalfunction:   models.SeverityWarning,
	}, got)

	assert.Equal(t, 4, f.counter(t, "dryer-1"))
	assert.Len(t, f.notifier.events, 4)
	for _, n := range f.notifier.events {
		assert.Equal(t, notifier.EventCreated, n.Event)
		assert.Equal(t, "D1", n.DryerCode)
	}
	assert.Equal(t, float64(1), counterValue(t, f.metrics, "dryer_alarm_evaluation_passes_total", "result", metrics.PassResultSuccess))
}

func TestRunEvaluation_SecondPassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	_, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.AlertsGenerated)
	assert.Empty(t, result.Alerts)
	assert.Equal(t, 4, f.counter(t, "dryer-1"))
	assert.Equal(t, f.activeCount(t, "dryer-1"), f.counter(t, "dryer-1"))
}

func TestRunEvaluation_BatteryCriticalDedup(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")

	first, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.AlertsGenerated)
	original := first.Alerts[0]
	assert.Equal(t, models.TypeBatteryCritical, original.Type)

	// 电量仍为 8%（进一步下降也不应更新已有报警）
	f.store.UpdateDryer("dryer-1", func(d *models.Dryer) { d.BatteryLevel = intPtr(5) })
	second, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, second.AlertsGenerated)
	assert.Equal(t, 1, f.counter(t, "dryer-1"))

	stored := f.alertOfType(t, models.TypeBatteryCritical)
	assert.Equal(t, original.ID, stored.ID)
	assert.Equal(t, original.Message, stored.Message)
}

func TestRunEvaluation_NewAlertAfterResolve(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")

	first, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	_, err = f.lifecycle.Resolve(context.Background(), first.Alerts[0].ID, ResolveRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))

	second, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.AlertsGenerated)
	assert.NotEqual(t, first.Alerts[0].ID, second.Alerts[0].ID)
	assert.Equal(t, 1, f.counter(t, "dryer-1"))
}

func TestRunEvaluation_SkipsDecommissioned(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	f.store.PutDryer(&models.Dryer{
		ID:           "dryer-2",
		DryerCode:    "D2",
		Status:       models.DryerDecommissioned,
		BatteryLevel: intPtr(1),
	})

	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DryersChecked)
	assert.Equal(t, 1, result.AlertsGenerated)
	assert.Equal(t, 0, f.counter(t, "dryer-2"))
}

type failingReadings struct{}

func (failingReadings) LatestReadings(context.Context, []string) (map[string]*models.SensorReading, error) {
	return nil, errors.New("connection refused")
}

func TestRunEvaluation_LoadFailureAbortsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: failingReadings{},
		Alerts:   f.store,
		Notifier: f.notifier,
		Metrics:  f.metrics,
		Clock:    f.clock,
	})

	result, err := engine.RunEvaluation(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, models.IsDataStore(err))

	stats, err := f.store.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveAlerts)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
	assert.Empty(t, f.notifier.events)
	assert.Equal(t, float64(1), counterValue(t, f.metrics, "dryer_alarm_evaluation_passes_total", "result", metrics.PassResultError))
}

type failingInsertStore struct {
	*repository.MemoryStore
}

func (failingInsertStore) InsertActiveAlerts(context.Context, []*models.Alert) ([]*models.Alert, error) {
	return nil, models.NewDataStoreError("insert alerts", errors.New("disk full"))
}

func TestRunEvaluation_InsertFailureLeavesCountersUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   failingInsertStore{f.store},
		Notifier: f.notifier,
		Clock:    f.clock,
	})

	_, err := engine.RunEvaluation(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsDataStore(err))
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
	assert.Empty(t, f.notifier.events)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context) (func(context.Context) error, error) {
	return nil, cache.ErrLockHeld
}

func TestRunEvaluation_LockHeldReturnsConflict(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   f.store,
		Lock:     heldLock{},
		Metrics:  f.metrics,
		Clock:    f.clock,
	})

	_, err := engine.RunEvaluation(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsConflict(err))
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
	assert.Equal(t, float64(1), counterValue(t, f.metrics, "dryer_alarm_evaluation_passes_total", "result", metrics.PassResultConflict))
}

func TestRunEvaluation_ConcurrentPassesNeverDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RunEvaluation(context.Background())
			if err != nil {
				assert.True(t, models.IsConflict(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, f.activeCount(t, "dryer-1"))
	assert.Equal(t, 4, f.counter(t, "dryer-1"))
}

func TestRunEvaluation_NotificationFailureDoesNotFailPass(t *testing.T) {
	f := newFixture(t)
	f.seedD1()
	f.notifier.err = errors.New("smtp down")

	multi := notifier.NewMulti(models.SeverityInfo, f.metrics, zap.NewNop(), f.notifier)
	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   f.store,
		Notifier: multi,
		Metrics:  f.metrics,
		Clock:    f.clock,
	})

	result, err := engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.AlertsGenerated)
	assert.Equal(t, float64(4), counterValue(t, f.metrics, "dryer_alarm_notification_failures_total", "channel", "recording"))
}

// slowNotifier 每条通知耗时 delay（遵守 ctx）
type slowNotifier struct {
	delay time.Duration
	mu    sync.Mutex
	count int
}

func (s *slowNotifier) Name() string { return "slow" }

func (s *slowNotifier) Notify(ctx context.Context, _ notifier.AlertNotification) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func (s *slowNotifier) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func TestRunEvaluation_SlowNotifierDoesNotDelayPass(t *testing.T) {
	f := newFixture(t)
	f.seedD1()

	slow := &slowNotifier{delay: 300 * time.Millisecond}
	dispatcher := notifier.NewDispatcher(slow, 16, 5*time.Second, f.metrics, zap.NewNop())
	lock := cache.NewLocalPassLock()
	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   f.store,
		Lock:     lock,
		Notifier: dispatcher,
		Metrics:  f.metrics,
		Clock:    f.clock,
	})
	lifecycle := NewLifecycleService(LifecycleDeps{
		Alerts:   f.store,
		Dryers:   f.store,
		Notifier: dispatcher,
		Clock:    f.clock,
	})

	started := time.Now()
	result, err := engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, result.AlertsGenerated)
	assert.Less(t, time.Since(started), 250*time.Millisecond)

	// 通过后锁已释放
	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, release(context.Background()))

	started = time.Now()
	_, err = lifecycle.Acknowledge(context.Background(), result.Alerts[0].ID, AcknowledgeRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 250*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, dispatcher.Close(ctx))
	assert.Equal(t, 5, slow.delivered())
}

// ============================================
// Status
// ============================================

type mapCache struct {
	value       *EngineStatus
	invalidated int
}

func (c *mapCache) GetStatus(_ context.Context, dst any) (bool, error) {
	if c.value == nil {
		return false, nil
	}
	*dst.(*EngineStatus) = *c.value
	return true, nil
}

func (c *mapCache) SetStatus(_ context.Context, v any) error {
	s := *v.(*EngineStatus)
	c.value = &s
	return nil
}

func (c *mapCache) InvalidateStatus(context.Context) error {
	c.value = nil
	c.invalidated++
	return nil
}

func TestStatus_CountsAndCache(t *testing.T) {
	f := newFixture(t)
	f.seedD1()
	statusCache := &mapCache{}
	engine := NewAlertEngine(EngineDeps{
		Dryers:   f.store,
		Readings: f.store,
		Alerts:   f.store,
		Cache:    statusCache,
		Clock:    f.clock,
	})

	status, err := engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.ActiveAlerts)
	require.NotNil(t, statusCache.value)

	_, err = engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, statusCache.invalidated)

	status, err = engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, status.ActiveAlerts)
	assert.Equal(t, 3, status.CriticalAlerts)
	assert.Equal(t, float64(80), status.Thresholds.TemperatureCritical)
}

// ============================================
// Lifecycle
// ============================================

func TestAcknowledge_TwiceDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	f.clock.Advance(time.Minute)
	alert, err := f.lifecycle.Acknowledge(context.Background(), id, AcknowledgeRequest{UserID: "user-1", Notes: strPtr("on it")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, alert.Status)
	require.NotNil(t, alert.AcknowledgedAt)
	assert.Equal(t, baseTime.Add(time.Minute), *alert.AcknowledgedAt)
	assert.Equal(t, "user-1", *alert.AcknowledgedBy)
	assert.Equal(t, "on it", *alert.Notes)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))

	f.clock.Advance(time.Minute)
	alert, err = f.lifecycle.Acknowledge(context.Background(), id, AcknowledgeRequest{UserID: "user-2"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", *alert.AcknowledgedBy)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
}

func TestDismiss_TwiceScenario(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	f.seedBatteryOnly("dryer-2", "D2")
	_, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.counter(t, "dryer-1"))

	dryerID := "dryer-1"
	alerts, _, err := f.store.ListAlerts(context.Background(), models.AlertFilters{DryerID: &dryerID}, 0, 0)
	require.NoError(t, err)
	id := alerts[0].ID

	alert, err := f.lifecycle.Dismiss(context.Background(), id, DismissRequest{DismissalReason: "false reading"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDismissed, alert.Status)
	assert.NotNil(t, alert.DismissedAt)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))

	alert, err = f.lifecycle.Dismiss(context.Background(), id, DismissRequest{
		DismissedBy:     strPtr("tech-7"),
		DismissalReason: "sensor replaced",
	})
	require.NoError(t, err)
	assert.Equal(t, "sensor replaced", *alert.DismissalReason)
	assert.Equal(t, "tech-7", *alert.DismissedBy)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
	assert.Equal(t, 1, f.counter(t, "dryer-2"))
}

func TestAssign_PromotesActiveAndDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	alert, err := f.lifecycle.Assign(context.Background(), id, AssignRequest{AssignedTo: "tech-1", AssignedBy: strPtr("lead")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, alert.Status)
	assert.Equal(t, "tech-1", *alert.AssignedTo)
	assert.Equal(t, "lead", *alert.AssignedBy)
	assert.NotNil(t, alert.AssignedAt)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))

	// 已确认后再指派：状态不变，计数不再变化
	alert, err = f.lifecycle.Assign(context.Background(), id, AssignRequest{AssignedTo: "tech-2"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, alert.Status)
	assert.Equal(t, "tech-2", *alert.AssignedTo)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
}

func TestAssign_KeepsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	_, err = f.lifecycle.Resolve(context.Background(), id, ResolveRequest{ResolutionNotes: strPtr("battery swapped")})
	require.NoError(t, err)

	alert, err := f.lifecycle.Assign(context.Background(), id, AssignRequest{AssignedTo: "tech-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, alert.Status)
	assert.Equal(t, "battery swapped", *alert.ResolutionNotes)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
}

func TestAssign_NotesDoNotOverwriteAcknowledgeNotes(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	_, err = f.lifecycle.Acknowledge(context.Background(), id, AcknowledgeRequest{UserID: "u1", Notes: strPtr("checking panel")})
	require.NoError(t, err)

	alert, err := f.lifecycle.Assign(context.Background(), id, AssignRequest{AssignedTo: "tech-1", Notes: strPtr("bring spare battery")})
	require.NoError(t, err)
	require.NotNil(t, alert.Notes)
	assert.Equal(t, "checking panel", *alert.Notes)

	stored, err := f.queries.GetAlert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "checking panel", *stored.Notes)

	last := f.notifier.events[len(f.notifier.events)-1]
	assert.Equal(t, notifier.EventAssigned, last.Event)
	assert.Equal(t, "bring spare battery", last.Notes)
}

func TestLifecycle_ValidationAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lifecycle.Acknowledge(ctx, "x", AcknowledgeRequest{})
	assert.True(t, models.IsValidation(err))

	_, err = f.lifecycle.Assign(ctx, "x", AssignRequest{AssignedTo: "  "})
	assert.True(t, models.IsValidation(err))

	_, err = f.lifecycle.Dismiss(ctx, "x", DismissRequest{})
	assert.True(t, models.IsValidation(err))

	_, err = f.lifecycle.Resolve(ctx, "", ResolveRequest{})
	assert.True(t, models.IsValidation(err))

	_, err = f.lifecycle.Acknowledge(ctx, "missing", AcknowledgeRequest{UserID: "u"})
	assert.True(t, models.IsNotFound(err))

	_, err = f.lifecycle.Resolve(ctx, "missing", ResolveRequest{})
	assert.True(t, models.IsNotFound(err))
}

func TestLifecycle_CounterInvariantAfterMixedSequence(t *testing.T) {
	f := newFixture(t)
	f.seedD1()
	f.seedBatteryOnly("dryer-2", "D2")
	ctx := context.Background()

	first, err := f.engine.RunEvaluation(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, first.AlertsGenerated)

	var d1 []*models.Alert
	for _, a := range first.Alerts {
		if a.DryerID == "dryer-1" {
			d1 = append(d1, a)
		}
	}
	require.Len(t, d1, 4)

	_, err = f.lifecycle.Acknowledge(ctx, d1[0].ID, AcknowledgeRequest{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.lifecycle.Resolve(ctx, d1[0].ID, ResolveRequest{})
	require.NoError(t, err)
	_, err = f.lifecycle.Dismiss(ctx, d1[1].ID, DismissRequest{DismissalReason: "noise"})
	require.NoError(t, err)
	_, err = f.lifecycle.Assign(ctx, d1[2].ID, AssignRequest{AssignedTo: "tech"})
	require.NoError(t, err)
	_, err = f.lifecycle.Acknowledge(ctx, d1[2].ID, AcknowledgeRequest{UserID: "u2"})
	require.NoError(t, err)

	// 再评估一次：离开 active 的类型会重新生成
	f.clock.Advance(time.Minute)
	_, err = f.engine.RunEvaluation(ctx)
	require.NoError(t, err)

	for _, id := range []string{"dryer-1", "dryer-2"} {
		assert.Equal(t, f.activeCount(t, id), f.counter(t, id), "counter mismatch for %s", id)
	}
}

func TestLifecycle_ConcurrentTransitionsKeepCounter(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 20; round++ {
		f := newFixture(t)
		f.seedD1()
		result, err := f.engine.RunEvaluation(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, result.AlertsGenerated)
		id := result.Alerts[0].ID

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var err error
				switch i % 4 {
				case 0:
					_, err = f.lifecycle.Acknowledge(ctx, id, AcknowledgeRequest{UserID: "u"})
				case 1:
					_, err = f.lifecycle.Dismiss(ctx, id, DismissRequest{DismissalReason: "noise"})
				case 2:
					_, err = f.lifecycle.Resolve(ctx, id, ResolveRequest{})
				case 3:
					_, err = f.lifecycle.Assign(ctx, id, AssignRequest{AssignedTo: "tech"})
				}
				if err != nil {
					assert.True(t, models.IsConflict(err), "unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		alert, err := f.queries.GetAlert(ctx, id)
		require.NoError(t, err)
		assert.NotEqual(t, models.StatusActive, alert.Status)
		assert.Equal(t, 3, f.counter(t, "dryer-1"))
		assert.Equal(t, f.activeCount(t, "dryer-1"), f.counter(t, "dryer-1"))
	}
}

type racingStore struct {
	*repository.MemoryStore
	failures int
}

func (r *racingStore) TransitionAlert(ctx context.Context, id string, expected models.AlertStatus, update models.AlertUpdate, decrement bool) (*models.Alert, error) {
	if r.failures > 0 {
		r.failures--
		return nil, repository.ErrStatusChanged
	}
	return r.MemoryStore.TransitionAlert(ctx, id, expected, update, decrement)
}

func TestLifecycle_RetriesOnStatusChange(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	store := &racingStore{MemoryStore: f.store, failures: 2}
	svc := NewLifecycleService(LifecycleDeps{Alerts: store, Clock: f.clock, MaxRetries: 3})

	alert, err := svc.Acknowledge(context.Background(), id, AcknowledgeRequest{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, alert.Status)
	assert.Equal(t, 0, f.counter(t, "dryer-1"))
}

func TestLifecycle_RetriesExhaustedReturnsConflict(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	store := &racingStore{MemoryStore: f.store, failures: 10}
	svc := NewLifecycleService(LifecycleDeps{Alerts: store, Clock: f.clock, MaxRetries: 3})

	_, err = svc.Dismiss(context.Background(), id, DismissRequest{DismissalReason: "dup"})
	require.Error(t, err)
	assert.True(t, models.IsConflict(err))
	assert.Equal(t, 1, f.counter(t, "dryer-1"))
	assert.Equal(t, 7, store.failures)
}

func TestLifecycle_NotifiesEvents(t *testing.T) {
	f := newFixture(t)
	f.seedBatteryOnly("dryer-1", "D1")
	result, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)
	id := result.Alerts[0].ID

	_, err = f.lifecycle.Acknowledge(context.Background(), id, AcknowledgeRequest{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.lifecycle.Resolve(context.Background(), id, ResolveRequest{ResolvedBy: strPtr("u2")})
	require.NoError(t, err)

	assert.Equal(t, []notifier.EventKind{
		notifier.EventCreated,
		notifier.EventAcknowledged,
		notifier.EventResolved,
	}, f.notifier.kinds())
	last := f.notifier.events[2]
	assert.Equal(t, "u2", last.Actor)
	assert.Equal(t, "D1", last.DryerCode)
}

func TestLeavesActive(t *testing.T) {
	assert.True(t, leavesActive(models.StatusActive, models.StatusAcknowledged))
	assert.True(t, leavesActive(models.StatusActive, models.StatusDismissed))
	assert.True(t, leavesActive(models.StatusActive, models.StatusResolved))
	assert.False(t, leavesActive(models.StatusActive, ""))
	assert.False(t, leavesActive(models.StatusActive, models.StatusActive))
	assert.False(t, leavesActive(models.StatusAcknowledged, models.StatusResolved))
	assert.False(t, leavesActive(models.StatusDismissed, models.StatusDismissed))
}

// ============================================
// Queries
// ============================================

func TestQueries_ListDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	f.seedD1()
	_, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	alerts, total, err := f.queries.ListAlerts(context.Background(), models.AlertFilters{}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, alerts, 4)

	alerts, total, err = f.queries.ListAlerts(context.Background(), models.AlertFilters{}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, alerts, 1)

	bad := models.AlertStatus("open")
	_, _, err = f.queries.ListAlerts(context.Background(), models.AlertFilters{Status: &bad}, 1, 10)
	assert.True(t, models.IsValidation(err))

	start := baseTime
	end := baseTime.Add(-time.Hour)
	_, err = f.queries.ExportAlerts(context.Background(), models.AlertFilters{StartTime: &start, EndTime: &end})
	assert.True(t, models.IsValidation(err))
}

func TestQueries_DashboardAndDryer(t *testing.T) {
	f := newFixture(t)
	f.seedD1()
	f.seedBatteryOnly("dryer-2", "D2")
	_, err := f.engine.RunEvaluation(context.Background())
	require.NoError(t, err)

	recent, err := f.queries.DashboardAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, recent, 5)

	dryer, err := f.queries.GetDryer(context.Background(), "dryer-1")
	require.NoError(t, err)
	assert.Equal(t, 4, dryer.ActiveAlertsCount)

	_, err = f.queries.GetDryer(context.Background(), "nope")
	assert.True(t, models.IsNotFound(err))

	_, err = f.queries.GetAlert(context.Background(), "nope")
	assert.True(t, models.IsNotFound(err))
}
