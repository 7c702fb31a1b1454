package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter 注册报警服务路由，并包装访问日志与 panic 恢复
func NewRouter(h *AlertHandler, metricsHandler http.Handler, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// evaluation
	api.HandleFunc("/alerts/generate", h.Generate).Methods(http.MethodPost)
	api.HandleFunc("/alerts/generate", h.Status).Methods(http.MethodGet)
	api.HandleFunc("/cron/alerts", h.Cron).Methods(http.MethodGet)

	// alerts
	api.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.GetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", h.Acknowledge).Methods(http.MethodPut)
	api.HandleFunc("/alerts/{id}/assign", h.Assign).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/dismiss", h.Dismiss).Methods(http.MethodPut)
	api.HandleFunc("/alerts/{id}/resolve", h.Resolve).Methods(http.MethodPut)

	// dashboard / dryers / export
	api.HandleFunc("/dashboard/alerts", h.DashboardAlerts).Methods(http.MethodGet)
	api.HandleFunc("/dryers/{id}", h.GetDryer).Methods(http.MethodGet)
	api.HandleFunc("/export/alerts", h.ExportAlerts).Methods(http.MethodGet)

	accessLog := zap.NewStdLog(logger.Named("access"))
	recoveryLog, err := zap.NewStdLogAt(logger.Named("recovery"), zap.ErrorLevel)
	if err != nil {
		recoveryLog = accessLog
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLog),
		handlers.PrintRecoveryStack(true),
	)(handlers.CombinedLoggingHandler(accessLog.Writer(), r))
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
}
