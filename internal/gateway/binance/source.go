package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"quanta/internal/logger"
	"quanta/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	maxHistoryLimit = 1500
	maxTradesLimit  = 1000

	// Binance may return the forming candle; give the closed one a little
	// time to land before trusting the tail.
	klineGrace = 10 * time.Second
)

// restDepthLimits are the limits /fapi/v1/depth accepts.
var restDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// Source 基于 go-binance SDK 实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client

	mu          sync.Mutex
	depthCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats

	now func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client, err := newFuturesClient(final)
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:    final,
		client: client,
		now:    time.Now,
	}, nil
}

// newFuturesClient 行情端和下单端共用的 REST/WS 客户端装配。
func newFuturesClient(final Config) (*futures.Client, error) {
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			futures.SetWsProxyUrl(wsProxy)
		}
	}
	return client, nil
}

func (s *Source) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	svc := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := market.IntervalDuration(interval); ok {
		out = dropUnclosed(out, dur, s.now().UTC())
	}
	return out, nil
}

func (s *Source) RecentTrades(ctx context.Context, symbol string, limit int) ([]market.TradeTick, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	trades, err := s.client.NewRecentTradesService().Symbol(clean).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.TradeTick, 0, len(trades))
	for _, tr := range trades {
		if tr == nil {
			continue
		}
		out = append(out, market.TradeTick{
			Price:        parseFloat(tr.Price),
			Quantity:     parseFloat(tr.Quantity),
			IsBuyerMaker: tr.IsBuyerMaker,
			Time:         tr.Time,
		})
	}
	return out, nil
}

func (s *Source) OrderBook(ctx context.Context, symbol string, depth int) (*market.OrderBook, error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, err
	}
	limit := restDepthLimit(depth)
	res, err := s.client.NewDepthService().Symbol(clean).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	book := &market.OrderBook{
		Symbol: clean,
		Time:   res.Time,
		Bids:   make([]market.Level, 0, len(res.Bids)),
		Asks:   make([]market.Level, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, market.Level{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, market.Level{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	if book.Time == 0 {
		book.Time = s.now().UnixMilli()
	}
	return book, nil
}

// StreamOrderBook 订阅 partial depth 推送。返回的 stop 与 ctx 取消等价，
// 二者任一触发后通道关闭。
func (s *Source) StreamOrderBook(ctx context.Context, symbol string, depth int, opts market.StreamOptions) (<-chan *market.OrderBook, func(), error) {
	clean, err := cleanSymbol(symbol)
	if err != nil {
		return nil, nil, err
	}
	levels := wsDepthLevels(depth)
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *market.OrderBook, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.depthCancel != nil {
		s.depthCancel()
	}
	s.depthCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runDepthLoop(subCtx, clean, levels, out, opts)
	}()
	return out, cancel, nil
}

func (s *Source) runDepthLoop(ctx context.Context, symbol string, levels int, out chan<- *market.OrderBook, opts market.StreamOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsDepthEvent) {
			book, ok := convertDepthEvent(event)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- book:
			default:
				logger.Warnf("[binance] depth channel full, drop %s", book.Symbol)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsPartialDepthServe(symbol, levels, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// ClearLastError resets the cached websocket error so downstream stats don't
// keep reporting older failures after a successful reconnect.
func (s *Source) ClearLastError() {
	s.statsMu.Lock()
	s.stats.LastError = ""
	s.statsMu.Unlock()
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depthCancel != nil {
		s.depthCancel()
		s.depthCancel = nil
	}
	return nil
}

// cleanSymbol 统一成 Binance 形式（ETH/USDT -> ETHUSDT）。
func cleanSymbol(symbol string) (string, error) {
	clean := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
	if clean == "" {
		return "", fmt.Errorf("symbol is required")
	}
	return clean, nil
}

// dropUnclosed 丢掉尾部尚未收盘的那根 K 线。
func dropUnclosed(klines []market.Candle, interval time.Duration, now time.Time) []market.Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	cutoffMs := last.OpenTime + interval.Milliseconds() + klineGrace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return klines[:len(klines)-1]
	}
	return klines
}

// restDepthLimit 选出不小于 depth 的最小合法档位。
func restDepthLimit(depth int) int {
	for _, lim := range restDepthLimits {
		if depth <= lim {
			return lim
		}
	}
	return restDepthLimits[len(restDepthLimits)-1]
}

// wsDepthLevels partial depth 流只支持 5/10/20 档。
func wsDepthLevels(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func convertDepthEvent(ev *futures.WsDepthEvent) (*market.OrderBook, bool) {
	if ev == nil {
		return nil, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	if symbol == "" {
		return nil, false
	}
	book := &market.OrderBook{
		Symbol: symbol,
		Time:   ev.Time,
		Bids:   make([]market.Level, 0, len(ev.Bids)),
		Asks:   make([]market.Level, 0, len(ev.Asks)),
	}
	for _, b := range ev.Bids {
		book.Bids = append(book.Bids, market.Level{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range ev.Asks {
		book.Asks = append(book.Asks, market.Level{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return nil, false
	}
	return book, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
