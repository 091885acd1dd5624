package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"quanta/internal/logger"
)

// RiskListener 在 [risk] 配置变更时被调用。
type RiskListener func(RiskConfig)

// RiskWatcher 监听配置文件的写入事件，只热更 [risk] 一节；其余节
// 的改动需要重启进程才生效。
type RiskWatcher struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   RiskConfig
	listeners []RiskListener
}

// NewRiskWatcher 读取当前 [risk] 配置并开始监听文件变更。
func NewRiskWatcher(path string) (*RiskWatcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk watcher 需要配置文件路径")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk config failed (%s): %w", path, err)
	}
	w := &RiskWatcher{path: path, v: v}
	if err := w.reload(); err != nil {
		return nil, err
	}
	// viper 在回调前已重新读入文件，这里只需重新解码
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("[config] risk reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] risk limits reloaded from %s", w.path)
		w.notify()
	})
	v.WatchConfig()
	return w, nil
}

// Current 返回最近一次成功加载的风控配置。
func (w *RiskWatcher) Current() RiskConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe 注册监听器，并立即收到一次当前配置。
func (w *RiskWatcher) Subscribe(fn RiskListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	cur := w.current
	w.mu.Unlock()
	go dispatchRisk(fn, cur)
}

func (w *RiskWatcher) notify() {
	w.mu.RLock()
	cur := w.current
	listeners := append([]RiskListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go dispatchRisk(fn, cur)
	}
}

func dispatchRisk(fn RiskListener, cfg RiskConfig) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[config] risk listener panic: %v", r)
		}
	}()
	fn(cfg)
}

func (w *RiskWatcher) reload() error {
	var cfg Config
	if err := w.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parsing risk config failed: %w", err)
	}
	keys := make(keySet)
	collectSettingsKeys(w.v.AllSettings(), keys)
	risk := cfg.Risk
	risk.applyDefaults(keys)
	if err := risk.validate(); err != nil {
		return err
	}
	w.mu.Lock()
	w.current = risk
	w.mu.Unlock()
	return nil
}
