package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/logger"
	"wisefido-inactivity/internal/monitor"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-inactivity")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting inactivity monitor service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("sweep_spec", cfg.Monitor.SweepSpec),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
	)

	monitorService, err := monitor.NewMonitorService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create monitor service", zap.Error(err))
	}

	ctx := context.Background()
	if err := monitorService.Start(ctx); err != nil {
		log.Fatal("Failed to start monitor service", zap.Error(err))
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	monitorService.Stop()
}
