package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dryer-alarm/internal/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), Fail(err.Error()))
}

func statusForError(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// parseTimeParam 支持 RFC3339 与 YYYY-MM-DD
func parseTimeParam(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, models.NewValidationError(field, "must be an RFC3339 timestamp or YYYY-MM-DD date")
}

// parseAlertFilters 解析报警查询参数
func parseAlertFilters(r *http.Request) (models.AlertFilters, error) {
	q := r.URL.Query()
	var f models.AlertFilters

	if v := strings.TrimSpace(q.Get("dryer_id")); v != "" {
		f.DryerID = &v
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" && v != "all" {
		s := models.AlertStatus(v)
		f.Status = &s
	}
	if v := strings.TrimSpace(q.Get("severity")); v != "" && v != "all" {
		s := models.AlertSeverity(v)
		f.Severity = &s
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" && v != "all" {
		t := models.AlertType(v)
		f.Type = &t
	}

	start, err := parseTimeParam("start_date", q.Get("start_date"))
	if err != nil {
		return f, err
	}
	end, err := parseTimeParam("end_date", q.Get("end_date"))
	if err != nil {
		return f, err
	}
	// 纯日期的结束时间包含当天
	if end != nil && len(strings.TrimSpace(q.Get("end_date"))) == len("2006-01-02") {
		e := end.Add(24*time.Hour - time.Nanosecond)
		end = &e
	}
	f.StartTime = start
	f.EndTime = end
	return f, nil
}
