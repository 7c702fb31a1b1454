package config

import (
	"os"
	"strconv"
	"strings"

	"dryer-alarm/common/config"

	"github.com/joho/godotenv"
)

// Config 报警服务配置
type Config struct {
	HTTPAddr string

	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 报警服务特定配置
	Alert struct {
		// 内置调度周期（秒），0 表示关闭，由外部 cron 触发
		PollInterval int

		// 评估互斥锁
		Lock struct {
			Key string
			TTL int // 秒
		}

		// 状态统计缓存
		Cache struct {
			StatusKey string
			StatusTTL int // 秒
		}
	}

	Notify struct {
		Stream      string // Redis Stream 名称，空表示关闭
		MinSeverity string // 新报警推送的最低级别
		QueueSize   int    // 异步投递队列长度
		Timeout     int    // 单条通知投递超时（秒）
	}

	Email struct {
		APIURL       string
		APIKey       string // 为空时不发送邮件
		From         string
		Recipients   []string
		DashboardURL string
	}

	CronSecret string

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（.env 文件可选）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "dryers"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "dryer-alarm"
	cfg.MQTT.Topic = "dryers/alerts"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Alert.PollInterval = parseInt(getEnv("ALERT_POLL_INTERVAL", ""), 300)
	cfg.Alert.Lock.Key = getEnv("ALERT_LOCK_KEY", "dryer-alarm:evaluation:lock")
	cfg.Alert.Lock.TTL = parseInt(getEnv("ALERT_PASS_LOCK_TTL", ""), 120)
	cfg.Alert.Cache.StatusKey = getEnv("CACHE_STATUS_KEY", "dryer-alarm:status")
	cfg.Alert.Cache.StatusTTL = parseInt(getEnv("CACHE_STATUS_TTL", ""), 30)

	cfg.Notify.Stream = os.Getenv("NOTIFY_STREAM")
	if _, set := os.LookupEnv("NOTIFY_STREAM"); !set {
		cfg.Notify.Stream = "dryer-alarm:alerts"
	}
	cfg.Notify.MinSeverity = getEnv("NOTIFY_MIN_SEVERITY", "warning")
	cfg.Notify.QueueSize = parseInt(getEnv("NOTIFY_QUEUE_SIZE", ""), 256)
	cfg.Notify.Timeout = parseInt(getEnv("NOTIFY_TIMEOUT", ""), 30)

	cfg.Email.APIURL = getEnv("EMAIL_API_URL", "https://api.resend.com")
	cfg.Email.APIKey = getEnv("EMAIL_API_KEY", "")
	cfg.Email.From = getEnv("EMAIL_FROM", "ITEDA Alerts <alerts@itedasolutions.com>")
	cfg.Email.Recipients = splitList(getEnv("EMAIL_RECIPIENTS", ""))
	cfg.Email.DashboardURL = getEnv("DASHBOARD_URL", "http://localhost:3000/dashboard/alerts")

	cfg.CronSecret = getEnv("CRON_SECRET", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
