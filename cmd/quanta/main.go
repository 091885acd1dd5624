package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"quanta/internal/app"
	"quanta/internal/config"
	"quanta/internal/logger"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "配置文件路径（默认 config.toml，也可用 QUANTA_CONFIG 指定）")
		mode     = flag.String("mode", "", "覆盖运行模式：live|backtest|walkforward|optimize|train")
		symbol   = flag.String("symbol", "", "覆盖交易对")
		interval = flag.String("interval", "", "覆盖 K 线周期")
		trials   = flag.Int("trials", 0, "覆盖参数搜索的试验次数")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	if err := applyOverrides(cfg, *mode, *symbol, *interval, *trials); err != nil {
		log.Fatalf("命令行覆盖无效: %v", err)
	}

	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（mode=%s symbol=%s interval=%s）", cfg.App.Mode, cfg.App.Symbol, cfg.App.Interval)

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("运行失败: %v", err)
	}
}

// loadConfig 读取配置。未显式指定路径且默认位置没有文件时退回内置默认配置，
// 显式指定（参数或环境变量）的路径缺失则照常报错。
func loadConfig(path string) (*config.Config, error) {
	resolved := config.Resolve(path)
	explicit := strings.TrimSpace(path) != "" || strings.TrimSpace(os.Getenv(config.EnvConfigPath)) != ""
	if _, err := os.Stat(resolved); err != nil && os.IsNotExist(err) && !explicit {
		log.Printf("未找到 %s，使用内置默认配置", resolved)
		return config.Default(), nil
	}
	return config.Load(path)
}

// applyOverrides 把命令行给出的非空覆盖写进配置并重新校验。
func applyOverrides(cfg *config.Config, mode, symbol, interval string, trials int) error {
	if m := strings.ToLower(strings.TrimSpace(mode)); m != "" {
		cfg.App.Mode = m
	}
	if s := strings.TrimSpace(symbol); s != "" {
		cfg.App.Symbol = strings.ToUpper(s)
	}
	if iv := strings.ToLower(strings.TrimSpace(interval)); iv != "" {
		cfg.App.Interval = iv
	}
	if trials > 0 {
		cfg.Optimize.Trials = trials
	}
	return cfg.Validate()
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
