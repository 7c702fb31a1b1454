package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dryer-alarm/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresAlertsRepo 报警仓库（PostgreSQL）
// 依赖部分唯一索引：
//
//	CREATE UNIQUE INDEX uq_alerts_active_dryer_type ON alerts (dryer_id, type) WHERE status = 'active';
type PostgresAlertsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertsRepository 创建报警仓库
func NewPostgresAlertsRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertsRepo {
	return &PostgresAlertsRepo{db: db, logger: logger}
}

var alertColumnNames = []string{
	"id",
	"dryer_id",
	"type",
	"severity",
	"message",
	"threshold_value",
	"current_value",
	"status",
	"acknowledged_by",
	"acknowledged_at",
	"assigned_to",
	"assigned_by",
	"assigned_at",
	"dismissed_by",
	"dismissal_reason",
	"dismissed_at",
	"resolved_by",
	"resolution_notes",
	"resolved_at",
	"notes",
	"created_at",
	"updated_at",
}

func alertColumns(prefix string) string {
	cols := make([]string, len(alertColumnNames))
	for i, c := range alertColumnNames {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanAlert 扫描报警行，extra 追加在标准列之后
func scanAlert(s rowScanner, extra ...any) (*models.Alert, error) {
	var a models.Alert
	var threshold, current sql.NullFloat64
	var ackBy, assignedTo, assignedBy, dismissedBy, dismissalReason, resolvedBy, resolutionNotes, notes sql.NullString
	var ackAt, assignedAt, dismissedAt, resolvedAt sql.NullTime

	dest := []any{
		&a.ID,
		&a.DryerID,
		&a.Type,
		&a.Severity,
		&a.Message,
		&threshold,
		&current,
		&a.Status,
		&ackBy,
		&ackAt,
		&assignedTo,
		&assignedBy,
		&assignedAt,
		&dismissedBy,
		&dismissalReason,
		&dismissedAt,
		&resolvedBy,
		&resolutionNotes,
		&resolvedAt,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	// 处理可空字段
	a.ThresholdValue = nullFloat(threshold)
	a.CurrentValue = nullFloat(current)
	a.AcknowledgedBy = nullString(ackBy)
	a.AcknowledgedAt = nullTime(ackAt)
	a.AssignedTo = nullString(assignedTo)
	a.AssignedBy = nullString(assignedBy)
	a.AssignedAt = nullTime(assignedAt)
	a.DismissedBy = nullString(dismissedBy)
	a.DismissalReason = nullString(dismissalReason)
	a.DismissedAt = nullTime(dismissedAt)
	a.ResolvedBy = nullString(resolvedBy)
	a.ResolutionNotes = nullString(resolutionNotes)
	a.ResolvedAt = nullTime(resolvedAt)
	a.Notes = nullString(notes)
	return &a, nil
}

// mapPQError 唯一约束冲突映射为 ConflictError，其余为 DataStoreError
func mapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.NewConflictError(fmt.Sprintf("%s: %s", op, pqErr.Message))
	}
	return models.NewDataStoreError(op, err)
}

// ActiveAlertKeys 当前 active 报警的去重键
func (r *PostgresAlertsRepo) ActiveAlertKeys(ctx context.Context) (map[models.AlertKey]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT dryer_id, type FROM alerts WHERE status = 'active'`)
	if err != nil {
		return nil, models.NewDataStoreError("list active alert keys", err)
	}
	defer rows.Close()

	keys := make(map[models.AlertKey]struct{})
	for rows.Next() {
		var k models.AlertKey
		if err := rows.Scan(&k.DryerID, &k.Type); err != nil {
			return nil, models.NewDataStoreError("scan active alert key", err)
		}
		keys[k] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDataStoreError("list active alert keys", err)
	}
	return keys, nil
}

// InsertActiveAlerts 批量写入新报警并增加干燥机计数（同一事务）
func (r *PostgresAlertsRepo) InsertActiveAlerts(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error) {
	if len(alerts) == 0 {
		return []*models.Alert{}, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.NewDataStoreError("begin insert alerts", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const perRow = 10
	values := make([]string, 0, len(alerts))
	args := make([]any, 0, len(alerts)*perRow)
	for i, a := range alerts {
		base := i * perRow
		ph := make([]string, perRow)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			a.ID,
			a.DryerID,
			string(a.Type),
			string(a.Severity),
			a.Message,
			a.ThresholdValue,
			a.CurrentValue,
			string(models.StatusActive),
			a.CreatedAt,
			a.UpdatedAt,
		)
	}

	query := `
		INSERT INTO alerts (
			id,
			dryer_id,
			type,
			severity,
			message,
			threshold_value,
			current_value,
			status,
			created_at,
			updated_at
		) VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (dryer_id, type) WHERE status = 'active' DO NOTHING
		RETURNING id
	`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapPQError("insert alerts", err)
	}
	insertedIDs := make(map[string]struct{}, len(alerts))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, models.NewDataStoreError("scan inserted alert", err)
		}
		insertedIDs[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, mapPQError("insert alerts", err)
	}
	rows.Close()

	inserted := make([]*models.Alert, 0, len(insertedIDs))
	perDryer := make(map[string]int64)
	for _, a := range alerts {
		if _, ok := insertedIDs[a.ID]; !ok {
			continue
		}
		a.Status = models.StatusActive
		inserted = append(inserted, a)
		perDryer[a.DryerID]++
	}

	if len(perDryer) > 0 {
		dryerIDs := make([]string, 0, len(perDryer))
		for id := range perDryer {
			dryerIDs = append(dryerIDs, id)
		}
		sort.Strings(dryerIDs)
		counts := make([]int64, len(dryerIDs))
		for i, id := range dryerIDs {
			counts[i] = perDryer[id]
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE dryers AS d
			SET active_alerts_count = d.active_alerts_count + c.n,
			    updated_at = NOW()
			FROM unnest($1::uuid[], $2::int[]) AS c(id, n)
			WHERE d.id = c.id
		`, pq.Array(dryerIDs), pq.Array(counts)); err != nil {
			return nil, models.NewDataStoreError("increment active alert counters", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewDataStoreError("commit insert alerts", err)
	}

	if skipped := len(alerts) - len(inserted); skipped > 0 {
		r.logger.Info("Skipped alerts already active at insert time",
			zap.Int("skipped", skipped),
		)
	}
	return inserted, nil
}

// GetAlert 根据 id 获取报警
func (r *PostgresAlertsRepo) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	if id == "" {
		return nil, models.NewValidationError("id", "is required")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns("")+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("alert", id)
		}
		return nil, models.NewDataStoreError("get alert", err)
	}
	return a, nil
}

// TransitionAlert 状态 CAS 更新（WHERE id AND status = expected），按需在同一事务内 -1 计数
func (r *PostgresAlertsRepo) TransitionAlert(ctx context.Context, id string, expected models.AlertStatus, update models.AlertUpdate, decrement bool) (*models.Alert, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.NewDataStoreError("begin transition", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	set := []string{}
	args := []any{id, string(expected)}
	argN := 3
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, v)
		argN++
	}
	if update.Status != "" {
		add("status", string(update.Status))
	}
	if update.AcknowledgedBy != nil {
		add("acknowledged_by", *update.AcknowledgedBy)
	}
	if update.AcknowledgedAt != nil {
		add("acknowledged_at", *update.AcknowledgedAt)
	}
	if update.AssignedTo != nil {
		add("assigned_to", *update.AssignedTo)
	}
	if update.AssignedBy != nil {
		add("assigned_by", *update.AssignedBy)
	}
	if update.AssignedAt != nil {
		add("assigned_at", *update.AssignedAt)
	}
	if update.DismissedBy != nil {
		add("dismissed_by", *update.DismissedBy)
	}
	if update.DismissalReason != nil {
		add("dismissal_reason", *update.DismissalReason)
	}
	if update.DismissedAt != nil {
		add("dismissed_at", *update.DismissedAt)
	}
	if update.ResolvedBy != nil {
		add("resolved_by", *update.ResolvedBy)
	}
	if update.ResolutionNotes != nil {
		add("resolution_notes", *update.ResolutionNotes)
	}
	if update.ResolvedAt != nil {
		add("resolved_at", *update.ResolvedAt)
	}
	if update.Notes != nil {
		add("notes", *update.Notes)
	}
	add("updated_at", update.UpdatedAt)

	query := fmt.Sprintf(`
		UPDATE alerts
		SET %s
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, strings.Join(set, ", "), alertColumns(""))

	alert, err := scanAlert(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, mapPQError("update alert", err)
		}
		// 区分不存在与状态已变化
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM alerts WHERE id = $1`, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, models.NewNotFoundError("alert", id)
			}
			return nil, models.NewDataStoreError("get alert status", err)
		}
		return nil, ErrStatusChanged
	}

	if decrement {
		if _, err := tx.ExecContext(ctx, `
			UPDATE dryers
			SET active_alerts_count = GREATEST(active_alerts_count - 1, 0),
			    updated_at = NOW()
			WHERE id = $1
		`, alert.DryerID); err != nil {
			return nil, models.NewDataStoreError("decrement active alert counter", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, models.NewDataStoreError("commit transition", err)
	}
	return alert, nil
}

// CountActive active 报警统计
func (r *PostgresAlertsRepo) CountActive(ctx context.Context) (models.AlertStats, error) {
	var stats models.AlertStats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE severity = 'critical')
		FROM alerts
		WHERE status = 'active'
	`).Scan(&stats.ActiveAlerts, &stats.CriticalAlerts)
	if err != nil {
		return models.AlertStats{}, models.NewDataStoreError("count active alerts", err)
	}
	return stats, nil
}

// buildWhereClause 构建 WHERE 子句
func buildWhereClause(filters models.AlertFilters, args *[]any) string {
	where := []string{}
	add := func(cond string, v any) {
		*args = append(*args, v)
		where = append(where, fmt.Sprintf(cond, len(*args)))
	}
	if filters.DryerID != nil {
		add("dryer_id = $%d", *filters.DryerID)
	}
	if filters.Status != nil {
		add("status = $%d", string(*filters.Status))
	}
	if filters.Severity != nil {
		add("severity = $%d", string(*filters.Severity))
	}
	if filters.Type != nil {
		add("type = $%d", string(*filters.Type))
	}
	if filters.StartTime != nil {
		add("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		add("created_at <= $%d", *filters.EndTime)
	}
	if len(where) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(where, " AND ")
}

// ListAlerts 分页查询报警
func (r *PostgresAlertsRepo) ListAlerts(ctx context.Context, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	args := []any{}
	whereClause := buildWhereClause(filters, &args)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, models.NewDataStoreError("count alerts", err)
	}

	query := `SELECT ` + alertColumns("") + ` FROM alerts ` + whereClause + ` ORDER BY created_at DESC`
	if size > 0 {
		if page <= 0 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, size, (page-1)*size)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, models.NewDataStoreError("list alerts", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, models.NewDataStoreError("scan alert", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, models.NewDataStoreError("list alerts", err)
	}
	return alerts, total, nil
}

// RecentActiveAlerts 最近的 active 报警（JOIN dryers 取编号）
func (r *PostgresAlertsRepo) RecentActiveAlerts(ctx context.Context, limit int) ([]*models.AlertWithDryer, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT ` + alertColumns("a.") + `, d.dryer_id
		FROM alerts a
		JOIN dryers d ON d.id = a.dryer_id
		WHERE a.status = 'active'
		ORDER BY a.created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, models.NewDataStoreError("recent active alerts", err)
	}
	defer rows.Close()

	out := []*models.AlertWithDryer{}
	for rows.Next() {
		var code string
		a, err := scanAlert(rows, &code)
		if err != nil {
			return nil, models.NewDataStoreError("scan alert", err)
		}
		out = append(out, &models.AlertWithDryer{Alert: *a, DryerCode: code})
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDataStoreError("recent active alerts", err)
	}
	return out, nil
}
