package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dryer-alarm/common/database"
	"dryer-alarm/common/logger"
	"dryer-alarm/internal/config"
	httpapi "dryer-alarm/internal/http"
	"dryer-alarm/internal/models"
	"dryer-alarm/internal/repository"
	"dryer-alarm/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const serviceName = "dryer-alarm"

var memoryMode bool

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Solar dryer fleet alert engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&memoryMode, "memory", false, "use the in-memory store with a demo fleet instead of PostgreSQL/Redis")
	root.AddCommand(serveCmd(), evaluateCmd(), statusCmd(), migrateCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap 加载配置、初始化日志并创建服务
func bootstrap() (*config.Config, *zap.Logger, *service.AlarmService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}

	var svc *service.AlarmService
	if memoryMode {
		store := repository.NewMemoryStore()
		seedDemoFleet(store, time.Now().UTC())
		svc, err = service.NewMemoryAlarmService(cfg, store, log)
	} else {
		svc, err = service.NewAlarmService(cfg, log)
	}
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, fmt.Errorf("failed to create alarm service: %w", err)
	}
	return cfg, log, svc, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the built-in evaluation scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer svc.Stop()

			handler := httpapi.NewAlertHandler(svc.Engine, svc.Lifecycle, svc.Queries, cfg.CronSecret, svc.Clock, log.Named("http"))
			server := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           httpapi.NewRouter(handler, svc.Metrics.Handler(), log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// 创建上下文（支持优雅关闭）
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errChan := make(chan error, 2)
			go func() {
				log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- fmt.Errorf("http server: %w", err)
				}
			}()
			go func() {
				if err := svc.Start(ctx); err != nil {
					errChan <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("Received signal, shutting down")
			case err := <-errChan:
				log.Error("Service error", zap.Error(err))
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("Failed to shut down HTTP server", zap.Error(err))
			}

			log.Info("Alarm service stopped")
			return nil
		},
	}
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer svc.Stop()

			result, err := svc.Engine.RunEvaluation(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print active and critical alert counts with the threshold table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, svc, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer svc.Stop()

			status, err := svc.Engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, status)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the dryers, sensor_readings and alerts tables if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, serviceName)
			if err != nil {
				return fmt.Errorf("failed to init logger: %w", err)
			}
			defer log.Sync()

			db, err := database.NewPostgresDB(&cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := repository.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			log.Info("Database schema ensured", zap.String("database", cfg.Database.Database))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// seedDemoFleet 内存模式下的演示数据
func seedDemoFleet(store *repository.MemoryStore, now time.Time) {
	intp := func(v int) *int { return &v }
	fp := func(v float64) *float64 { return &v }
	bp := func(v bool) *bool { return &v }
	ago := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }

	store.PutDryer(&models.Dryer{ID: "demo-dryer-1", DryerCode: "DRY-001", Status: models.DryerActive, BatteryLevel: intp(82), LastCommunication: ago(2 * time.Minute)})
	store.PutDryer(&models.Dryer{ID: "demo-dryer-2", DryerCode: "DRY-002", Status: models.DryerActive, BatteryLevel: intp(8), LastCommunication: ago(90 * time.Minute)})
	store.PutDryer(&models.Dryer{ID: "demo-dryer-3", DryerCode: "DRY-003", Status: models.DryerIdle, BatteryLevel: intp(24), LastCommunication: ago(20 * time.Minute)})
	store.PutDryer(&models.Dryer{ID: "demo-dryer-4", DryerCode: "DRY-004", Status: models.DryerDecommissioned})

	store.AddReading(&models.SensorReading{DryerID: "demo-dryer-1", Timestamp: now.Add(-2 * time.Minute), ChamberTemp: fp(55), AmbientTemp: fp(31), InternalHumidity: fp(38), HeaterOn: bp(true), FanOn: bp(true)})
	store.AddReading(&models.SensorReading{DryerID: "demo-dryer-2", Timestamp: now.Add(-90 * time.Minute), ChamberTemp: fp(85), AmbientTemp: fp(84), InternalHumidity: fp(20), HeaterOn: bp(true)})
	store.AddReading(&models.SensorReading{DryerID: "demo-dryer-3", Timestamp: now.Add(-20 * time.Minute), AmbientTemp: fp(29)})
}
