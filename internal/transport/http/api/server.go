// Package apihttp 提供运维接口：回测归档查询、成交流水、实盘快照，
// 以及一个经 schema 校验后转入后台执行的回测提交端点。
package apihttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quanta/internal/agent"
	"quanta/internal/logger"
	"quanta/internal/store"

	"github.com/gin-gonic/gin"
)

// RunStore 是归档与流水的只读视图，*store.Store 直接满足。
type RunStore interface {
	ListBacktests(ctx context.Context, limit int) ([]store.BacktestRow, error)
	GetBacktest(ctx context.Context, runID string) (*store.BacktestRow, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]store.TradeRecord, error)
}

// StatusProvider 给 /api/status 供实盘快照，非 live 模式下缺省。
type StatusProvider interface {
	Status() agent.Status
}

// Dispatcher 接收校验通过的回测请求并立即返回 run id，执行在后台完成。
type Dispatcher interface {
	Submit(req BacktestRequest) (string, error)
}

// Server 提供 /api 下的 HTTP 服务。
type Server struct {
	addr   string
	runs   RunStore
	agent  StatusProvider
	disp   Dispatcher
	schema *backtestSchema
	router *gin.Engine
}

// Config 描述 API server 依赖，Agent 与 Dispatcher 按运行模式可为空。
type Config struct {
	Addr       string
	Runs       RunStore
	Agent      StatusProvider
	Dispatcher Dispatcher
}

// NewServer 构建 API server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Runs == nil {
		return nil, errors.New("run store 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	schema, err := compileBacktestSchema()
	if err != nil {
		return nil, fmt.Errorf("编译回测请求 schema 失败: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:   cfg.Addr,
		runs:   cfg.Runs,
		agent:  cfg.Agent,
		disp:   cfg.Dispatcher,
		schema: schema,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api")
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/trades", s.handleTrades)
	api.GET("/status", s.handleStatus)
	api.POST("/backtest", s.handleBacktest)
}

// requestLogger 记录接口调用，便于追踪人工查询与回测提交。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
