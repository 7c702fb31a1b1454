package repository

import (
	"context"
	"sort"
	"sync"

	"dryer-alarm/internal/models"
)

// MemoryStore 内存实现（测试及 serve --memory 本地演示）
// 同时实现 DryerRepository、ReadingRepository、AlertRepository，
// 去重与计数语义与 PostgreSQL 实现一致
type MemoryStore struct {
	mu       sync.RWMutex
	dryers   map[string]*models.Dryer
	readings map[string]*models.SensorReading // dryerID -> 最新读数
	alerts   map[string]*models.Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dryers:   map[string]*models.Dryer{},
		readings: map[string]*models.SensorReading{},
		alerts:   map[string]*models.Alert{},
	}
}

// PutDryer 写入或覆盖干燥机
func (s *MemoryStore) PutDryer(d *models.Dryer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dryers[d.ID] = &cp
}

// AddReading 追加读数，只保留时间最新的一条
func (s *MemoryStore) AddReading(rd *models.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.readings[rd.DryerID]; ok && cur.Timestamp.After(rd.Timestamp) {
		return
	}
	cp := *rd
	s.readings[rd.DryerID] = &cp
}

// UpdateDryer 修改干燥机遥测字段（不触碰计数）
func (s *MemoryStore) UpdateDryer(id string, fn func(d *models.Dryer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dryers[id]; ok {
		count := d.ActiveAlertsCount
		fn(d)
		d.ActiveAlertsCount = count
	}
}

func (s *MemoryStore) ListEligibleDryers(_ context.Context) ([]*models.Dryer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Dryer, 0, len(s.dryers))
	for _, d := range s.dryers {
		if d.Status == models.DryerDecommissioned {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DryerCode < out[j].DryerCode
	})
	return out, nil
}

func (s *MemoryStore) GetDryer(_ context.Context, id string) (*models.Dryer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dryers[id]
	if !ok {
		return nil, models.NewNotFoundError("dryer", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) LatestReadings(_ context.Context, dryerIDs []string) (map[string]*models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.SensorReading, len(dryerIDs))
	for _, id := range dryerIDs {
		if rd, ok := s.readings[id]; ok {
			cp := *rd
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) ActiveAlertKeys(_ context.Context) (map[models.AlertKey]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[models.AlertKey]struct{})
	for _, a := range s.alerts {
		if a.Status == models.StatusActive {
			keys[a.DedupKey()] = struct{}{}
		}
	}
	return keys, nil
}

func (s *MemoryStore) InsertActiveAlerts(_ context.Context, alerts []*models.Alert) ([]*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[models.AlertKey]struct{})
	for _, a := range s.alerts {
		if a.Status == models.StatusActive {
			active[a.DedupKey()] = struct{}{}
		}
	}

	// 先确定写入集合并检查 id，全部通过后再修改，失败时存储不变
	pending := make([]*models.Alert, 0, len(alerts))
	ids := make(map[string]struct{}, len(alerts))
	for _, a := range alerts {
		key := a.DedupKey()
		if _, dup := active[key]; dup {
			continue
		}
		if _, exists := s.alerts[a.ID]; exists {
			return nil, models.NewConflictError("alert id already exists: " + a.ID)
		}
		if _, exists := ids[a.ID]; exists {
			return nil, models.NewConflictError("alert id already exists: " + a.ID)
		}
		active[key] = struct{}{}
		ids[a.ID] = struct{}{}
		pending = append(pending, a)
	}

	for _, a := range pending {
		a.Status = models.StatusActive
		cp := *a
		s.alerts[a.ID] = &cp
		if d, ok := s.dryers[a.DryerID]; ok {
			d.ActiveAlertsCount++
		}
	}
	return pending, nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, models.NewNotFoundError("alert", id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) TransitionAlert(_ context.Context, id string, expected models.AlertStatus, update models.AlertUpdate, decrement bool) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, models.NewNotFoundError("alert", id)
	}
	if a.Status != expected {
		return nil, ErrStatusChanged
	}
	update.Apply(a)
	if decrement {
		if d, ok := s.dryers[a.DryerID]; ok && d.ActiveAlertsCount > 0 {
			d.ActiveAlertsCount--
		}
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) CountActive(_ context.Context) (models.AlertStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats models.AlertStats
	for _, a := range s.alerts {
		if a.Status != models.StatusActive {
			continue
		}
		stats.ActiveAlerts++
		if a.Severity == models.SeverityCritical {
			stats.CriticalAlerts++
		}
	}
	return stats, nil
}

func matchFilters(a *models.Alert, f models.AlertFilters) bool {
	if f.DryerID != nil && a.DryerID != *f.DryerID {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Severity != nil && a.Severity != *f.Severity {
		return false
	}
	if f.Type != nil && a.Type != *f.Type {
		return false
	}
	if f.StartTime != nil && a.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && a.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

// sortedAlerts 按 created_at 倒序（相同时间按 id）
func (s *MemoryStore) sortedAlerts(f models.AlertFilters) []*models.Alert {
	out := []*models.Alert{}
	for _, a := range s.alerts {
		if matchFilters(a, f) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListAlerts(_ context.Context, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedAlerts(filters)
	total := len(all)
	if size <= 0 {
		return all, total, nil
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) RecentActiveAlerts(_ context.Context, limit int) ([]*models.AlertWithDryer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	status := models.StatusActive
	all := s.sortedAlerts(models.AlertFilters{Status: &status})
	out := []*models.AlertWithDryer{}
	for _, a := range all {
		d, ok := s.dryers[a.DryerID]
		if !ok {
			continue
		}
		out = append(out, &models.AlertWithDryer{Alert: *a, DryerCode: d.DryerCode})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
