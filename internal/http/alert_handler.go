package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"dryer-alarm/internal/clock"
	"dryer-alarm/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AlertHandler 报警 HTTP 处理器
type AlertHandler struct {
	engine     *service.AlertEngine
	lifecycle  *service.LifecycleService
	queries    *service.AlertQueryService
	cronSecret string
	clock      clock.Clock
	logger     *zap.Logger
}

// NewAlertHandler 创建报警处理器；cronSecret 为空时 cron 路由不校验
func NewAlertHandler(
	engine *service.AlertEngine,
	lifecycle *service.LifecycleService,
	queries *service.AlertQueryService,
	cronSecret string,
	clk clock.Clock,
	logger *zap.Logger,
) *AlertHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &AlertHandler{
		engine:     engine,
		lifecycle:  lifecycle,
		queries:    queries,
		cronSecret: cronSecret,
		clock:      clk,
		logger:     logger,
	}
}

// ============================================
// 评估
// ============================================

// Generate 手动触发一次评估
func (h *AlertHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.runPass(w, r, "manual")
}

// Cron 外部定时触发（Bearer CRON_SECRET）
func (h *AlertHandler) Cron(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret != "" {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, Fail("unauthorized"))
			return
		}
	}
	h.runPass(w, r, "cron")
}

func (h *AlertHandler) runPass(w http.ResponseWriter, r *http.Request, trigger string) {
	result, err := h.engine.RunEvaluation(r.Context())
	if err != nil {
		h.logger.Error("Evaluation pass failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}

// Status 当前 active/critical 数量与阈值
func (h *AlertHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

// ============================================
// 查询
// ============================================

// ListAlerts 查询报警列表
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlertFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("page_size"), 20)

	alerts, total, err := h.queries.ListAlerts(r.Context(), filters, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": alerts,
		"pagination": map[string]any{
			"page":  page,
			"size":  pageSize,
			"count": len(alerts),
			"total": total,
		},
	}))
}

// GetAlert 获取单个报警
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.queries.GetAlert(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// DashboardAlerts 仪表盘最近报警
func (h *AlertHandler) DashboardAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.queries.DashboardAlerts(r.Context())
	if err != nil {
		// 仪表盘降级为空列表
		h.logger.Warn("Dashboard alerts unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, Ok(map[string]any{"alerts": []any{}}))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"alerts": alerts}))
}

// GetDryer 获取干燥机（含 active_alerts_count）
func (h *AlertHandler) GetDryer(w http.ResponseWriter, r *http.Request) {
	dryer, err := h.queries.GetDryer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(dryer))
}

// ExportAlerts 导出报警 Excel
func (h *AlertHandler) ExportAlerts(w http.ResponseWriter, r *http.Request) {
	filters, err := parseAlertFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	// 导出只支持 dryer_id / status / 时间范围
	filters.Severity = nil
	filters.Type = nil

	alerts, err := h.queries.ExportAlerts(r.Context(), filters)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := GenerateAlertExport(alerts)
	if err != nil {
		h.logger.Error("Failed to generate alert export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+AlertExportFilename(h.clock.Now()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ============================================
// 生命周期
// ============================================

// Acknowledge 确认报警
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req service.AcknowledgeRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	alert, err := h.lifecycle.Acknowledge(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Assign 指派报警
func (h *AlertHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req service.AssignRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	alert, err := h.lifecycle.Assign(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Dismiss 忽略报警
func (h *AlertHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req service.DismissRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	alert, err := h.lifecycle.Dismiss(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}

// Resolve 解决报警
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req service.ResolveRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	alert, err := h.lifecycle.Resolve(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(alert))
}
