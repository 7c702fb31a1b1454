package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"

	"dryer-alarm/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// EmailConfig 邮件渠道配置
type EmailConfig struct {
	APIURL       string
	APIKey       string
	From         string
	Recipients   []string
	DashboardURL string
}

// EmailRequest 邮件 API 请求
type EmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// EmailResponse 邮件 API 响应
type EmailResponse struct {
	ID string `json:"id"`
}

// EmailNotifier 通过 HTTP 邮件 API 发送新报警邮件（生命周期事件不发送）
type EmailNotifier struct {
	httpClient *resty.Client
	cfg        EmailConfig
	logger     *zap.Logger
}

// NewEmailNotifier 创建邮件通知渠道
func NewEmailNotifier(cfg EmailConfig, logger *zap.Logger) *EmailNotifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &EmailNotifier{
		httpClient: client,
		cfg:        cfg,
		logger:     logger,
	}
}

func (e *EmailNotifier) Name() string {
	return "email"
}

func (e *EmailNotifier) Notify(ctx context.Context, n AlertNotification) error {
	if n.Event != EventCreated || len(e.cfg.Recipients) == 0 {
		return nil
	}

	body, err := renderAlertEmail(n, e.cfg.DashboardURL)
	if err != nil {
		return err
	}

	request := EmailRequest{
		From:    e.cfg.From,
		To:      e.cfg.Recipients,
		Subject: EmailSubject(n),
		HTML:    body,
	}

	var response EmailResponse
	resp, err := e.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/emails")
	if err != nil {
		return fmt.Errorf("failed to call email API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	e.logger.Info("Alert email sent",
		zap.String("alert_id", n.Alert.ID),
		zap.String("email_id", response.ID),
		zap.Int("recipients", len(e.cfg.Recipients)),
	)
	return nil
}

// EmailSubject 邮件标题，如 "CRITICAL: DRY-2024-001 - BATTERY CRITICAL"
func EmailSubject(n AlertNotification) string {
	prefix := "INFO"
	switch n.Alert.Severity {
	case models.SeverityCritical:
		prefix = "CRITICAL"
	case models.SeverityWarning:
		prefix = "WARNING"
	}
	dryer := n.DryerCode
	if dryer == "" {
		dryer = n.Alert.DryerID
	}
	return fmt.Sprintf("%s: %s - %s", prefix, dryer, humanType(n.Alert.Type))
}

func humanType(t models.AlertType) string {
	return strings.ToUpper(strings.ReplaceAll(string(t), "_", " "))
}

var alertEmailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Alert Notification</title></head>
<body style="font-family: Arial, sans-serif; background-color: #f3f4f6; padding: 24px;">
  <div style="max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
    <span style="display: inline-block; padding: 4px 12px; border-radius: 4px; background: {{.Background}}; color: {{.Color}}; font-weight: 600; text-transform: uppercase;">{{.Severity}} Alert</span>
    <p style="font-size: 16px; color: #111827;">{{.Message}}</p>
    <table style="width: 100%; font-size: 14px; color: #6b7280;">
      <tr><td>Dryer:</td><td style="font-weight: 600; color: #111827;">{{.Dryer}}</td></tr>
      <tr><td>Alert Type:</td><td style="font-weight: 600; color: #111827;">{{.Type}}</td></tr>
      {{if .Current}}<tr><td>Current Value:</td><td style="font-weight: 600; color: {{.Color}};">{{.Current}}</td></tr>{{end}}
      {{if .Threshold}}<tr><td>Threshold:</td><td style="font-weight: 600; color: #111827;">{{.Threshold}}</td></tr>{{end}}
      <tr><td>Time:</td><td style="font-weight: 600; color: #111827;">{{.Time}}</td></tr>
    </table>
    {{if .DashboardURL}}<p><a href="{{.DashboardURL}}" style="display: inline-block; background-color: #16a34a; color: #ffffff; text-decoration: none; padding: 12px 32px; border-radius: 6px;">View Dashboard</a></p>{{end}}
    <p style="font-size: 12px; color: #9ca3af;">This is an automated alert from ITEDA Solutions IoT Platform.</p>
  </div>
</body>
</html>`))

type alertEmailData struct {
	Severity     string
	Color        string
	Background   string
	Message      string
	Dryer        string
	Type         string
	Current      string
	Threshold    string
	Time         string
	DashboardURL string
}

func renderAlertEmail(n AlertNotification, dashboardURL string) (string, error) {
	color, bg := "#3b82f6", "#dbeafe"
	switch n.Alert.Severity {
	case models.SeverityCritical:
		color, bg = "#dc2626", "#fee2e2"
	case models.SeverityWarning:
		color, bg = "#f59e0b", "#fef3c7"
	}
	dryer := n.DryerCode
	if dryer == "" {
		dryer = n.Alert.DryerID
	}

	data := alertEmailData{
		Severity:     string(n.Alert.Severity),
		Color:        color,
		Background:   bg,
		Message:      n.Alert.Message,
		Dryer:        dryer,
		Type:         humanType(n.Alert.Type),
		Current:      formatValue(n.Alert.CurrentValue),
		Threshold:    formatValue(n.Alert.ThresholdValue),
		Time:         n.Alert.CreatedAt.UTC().Format(time.RFC1123),
		DashboardURL: dashboardURL,
	}

	var buf bytes.Buffer
	if err := alertEmailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render alert email: %w", err)
	}
	return buf.String(), nil
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
