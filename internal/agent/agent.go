// Package agent 驱动实盘循环：每根 K 线收盘后取数、算特征、打分、
// 过风控，然后开平仓。接了 venue 就真下单，没接就用滑点模型模拟成交，
// 两条路径共用同一套决策与持仓状态机。
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quanta/internal/feature"
	"quanta/internal/gateway/exchange"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/metamodel"
	"quanta/internal/pkg/circuit"
	"quanta/internal/regime"
	"quanta/internal/scheduler"
	"quanta/internal/slippage"
	"quanta/internal/store"
	"quanta/internal/strategy"
)

const (
	defaultLookback   = 500
	defaultTradesBack = 500
	defaultDepth      = 20
	defaultCapital    = 10000.0
	defaultNotional   = 1.0

	// 特征窗口的预热长度，重训时丢掉前面指标不稳的行
	warmupBars = 200

	// 聚类每积累这么多新样本就重拟合一次
	regimeRefitEvery = 500

	minPoll     = time.Minute
	cycleOffset = 10 * time.Second
)

// Store 是 agent 需要的持久面，*store.Store 实现它。
type Store interface {
	UpsertFeature(ctx context.Context, symbol, interval string, v feature.Vector) error
	InsertTrade(ctx context.Context, rec *store.TradeRecord) error
	FinalizeTrade(ctx context.Context, id int64, exitPrice, pnl, equityAfter float64) error
	RecentBalances(ctx context.Context, limit int) ([]float64, error)
}

type Config struct {
	Symbol   string
	Interval string

	Lookback       int
	TradesBack     int
	Depth          int
	InitialCapital float64
	Params         strategy.Params
	ImpactK        float64

	KillSwitchEnabled bool
	MaxDrawdownPct    float64
	KillSwitchWindow  int

	// RetrainWeeks <= 0 关闭周期重训
	RetrainWeeks int

	// MinNotional 为 0 时用 1.0
	MinNotional float64

	Source market.Source
	Venue  exchange.Venue // nil = 模拟成交
	Store  Store
	Meta   *metamodel.Metamodel
	Regime *regime.Detector // 可为 nil
}

// Agent 是单交易对的实盘循环。深度流持续写入单槽信箱，循环每轮取
// 最近一帧；信箱为空时退化到由 K 线合成的盘口。
type Agent struct {
	cfg      Config
	params   strategy.Params
	pollEach time.Duration
	breaker  *circuit.Breaker
	mailbox  *market.BookMailbox

	mu            sync.Mutex
	kill          *KillSwitch // 热更时整体换掉
	killEnabled   bool
	minNotional   float64
	equity        float64
	position      *strategy.Position
	lastTrain     time.Time
	killTripped   bool
	killDD        float64
	lastRegime    int
	regimeKnown   bool
	observedNoFit int
	cycles        int64
	lastErr       string

	now func() time.Time
}

func New(cfg Config) (*Agent, error) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("market source 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if cfg.Meta == nil {
		return nil, fmt.Errorf("metamodel 不能为空")
	}
	cfg.Interval = strings.ToLower(strings.TrimSpace(cfg.Interval))
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	dur, ok := market.IntervalDuration(cfg.Interval)
	if !ok {
		return nil, fmt.Errorf("interval 无法解析: %s", cfg.Interval)
	}
	if dur < minPoll {
		dur = minPoll
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	if cfg.TradesBack <= 0 {
		cfg.TradesBack = defaultTradesBack
	}
	if cfg.Depth <= 0 {
		cfg.Depth = defaultDepth
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = defaultCapital
	}
	if cfg.MinNotional <= 0 {
		cfg.MinNotional = defaultNotional
	}
	params := cfg.Params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		cfg:         cfg,
		params:      params,
		pollEach:    dur,
		breaker:     circuit.NewBreaker("agent."+cfg.Symbol, 5, 2*time.Minute),
		mailbox:     market.NewBookMailbox(),
		kill:        NewKillSwitch(cfg.Store, cfg.MaxDrawdownPct, cfg.KillSwitchWindow),
		killEnabled: cfg.KillSwitchEnabled,
		minNotional: cfg.MinNotional,
		equity:      cfg.InitialCapital,
		now:         time.Now,
	}, nil
}

// RiskLimits 是允许运行中热更的风控参数。
type RiskLimits struct {
	KillSwitch       bool
	MaxDrawdownPct   float64
	MinNotional      float64
	KillSwitchWindow int
}

// SetRiskLimits 热更风控参数。只影响之后的开仓决策，在途持仓不动。
func (a *Agent) SetRiskLimits(l RiskLimits) {
	if a == nil {
		return
	}
	if l.MinNotional <= 0 {
		l.MinNotional = defaultNotional
	}
	a.mu.Lock()
	a.killEnabled = l.KillSwitch
	a.minNotional = l.MinNotional
	a.kill = NewKillSwitch(a.cfg.Store, l.MaxDrawdownPct, l.KillSwitchWindow)
	a.mu.Unlock()
	logger.Infof("[agent] 风控参数已更新: killswitch=%v max_dd=%.3f min_notional=%.2f window=%d",
		l.KillSwitch, l.MaxDrawdownPct, l.MinNotional, l.KillSwitchWindow)
}

// Run 阻塞运行直到 ctx 取消。
func (a *Agent) Run(ctx context.Context) error {
	if loaded, err := a.cfg.Meta.Load(ctx); err != nil {
		logger.Warnf("[agent] 加载模型工件失败: %v", err)
	} else if loaded {
		meta := a.cfg.Meta.Meta()
		a.mu.Lock()
		a.lastTrain = meta.TrainedAt
		a.mu.Unlock()
		logger.Infof("[agent] 模型工件已加载: trained_at=%s samples=%d", meta.TrainedAt.Format(time.RFC3339), meta.Samples)
	} else {
		logger.Infof("[agent] 没有模型工件，先用动量回退规则")
	}

	books, stopStream, err := a.cfg.Source.StreamOrderBook(ctx, a.cfg.Symbol, a.cfg.Depth, market.StreamOptions{
		OnDisconnect: func(err error) {
			// 断流后的快照不可信，清掉退化到合成盘口
			a.mailbox.Clear()
			if err != nil {
				logger.Warnf("[agent] 深度流断开: %v", err)
			}
		},
	})
	if err != nil {
		logger.Warnf("[agent] 深度流不可用，全程用合成盘口: %v", err)
	} else {
		defer stopStream()
		go a.consumeBooks(ctx, books)
	}

	sched := scheduler.NewAligned("agent."+a.cfg.Symbol, a.pollEach, cycleOffset)
	sched.RunImmediately = true
	return sched.Run(ctx, func() {
		if !a.breaker.Allow() {
			logger.Warnf("[agent] 熔断器打开，跳过本轮")
			return
		}
		err := a.cycle(ctx)
		a.mu.Lock()
		a.cycles++
		if err != nil {
			a.lastErr = err.Error()
		} else {
			a.lastErr = ""
		}
		a.mu.Unlock()
		if err != nil {
			logger.Errorf("[agent] 循环失败: %v", err)
			a.breaker.RecordFailure()
			return
		}
		a.breaker.RecordSuccess()
	})
}

func (a *Agent) consumeBooks(ctx context.Context, books <-chan *market.OrderBook) {
	for {
		select {
		case <-ctx.Done():
			return
		case book, ok := <-books:
			if !ok {
				return
			}
			a.mailbox.Publish(book)
		}
	}
}

// cycle 是一轮完整的 感知-决策-执行。任何一步失败都中止本轮，
// 下一轮重新来过。
func (a *Agent) cycle(ctx context.Context) error {
	candles, err := a.cfg.Source.Candles(ctx, a.cfg.Symbol, a.cfg.Interval, a.cfg.Lookback)
	if err != nil {
		return fmt.Errorf("拉取 K 线失败: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("没有 K 线数据")
	}
	ticks, err := a.cfg.Source.RecentTrades(ctx, a.cfg.Symbol, a.cfg.TradesBack)
	if err != nil {
		return fmt.Errorf("拉取逐笔失败: %w", err)
	}

	book := a.mailbox.Latest()
	if book == nil {
		book = slippage.SynthesizeBook(candles[len(candles)-1], a.cfg.Depth)
	}
	v := feature.Compute(candles, ticks, book)
	if err := a.cfg.Store.UpsertFeature(ctx, a.cfg.Symbol, a.cfg.Interval, v); err != nil {
		return fmt.Errorf("特征落库失败: %w", err)
	}

	a.observeRegime(v)

	// 在途持仓先于一切新决策
	if err := a.managePosition(ctx, v); err != nil {
		return err
	}

	if a.retrainDue() {
		if err := a.retrain(ctx, candles); err != nil {
			logger.Warnf("[agent] 重训失败，沿用当前模型: %v", err)
		}
	}

	prob, hasModel := a.cfg.Meta.PredictProba(v.Map())
	action := strategy.Decide(prob, hasModel, v, time.UnixMilli(v.TS).UTC(), a.params.BaseThresh)

	a.mu.Lock()
	killEnabled, kill := a.killEnabled, a.kill
	a.mu.Unlock()
	if killEnabled {
		tripped, dd, err := kill.Check(ctx)
		if err != nil {
			return fmt.Errorf("风控检查失败: %w", err)
		}
		a.mu.Lock()
		a.killTripped, a.killDD = tripped, dd
		a.mu.Unlock()
		if tripped && action != strategy.ActionHold {
			logger.Warnf("[agent] 风控拦截开仓信号 %s (dd=%.3f)", action, dd)
			action = strategy.ActionHold
		}
	}

	a.mu.Lock()
	holding := a.position != nil
	equity := a.equity
	a.mu.Unlock()
	logger.Infof("[agent] ts=%d 决策=%s p=%.3f model=%v equity=%.2f", v.TS, action, prob, hasModel, equity)

	if action == strategy.ActionHold || holding {
		return nil
	}
	return a.openPosition(ctx, v, action, book)
}

func (a *Agent) openPosition(ctx context.Context, v feature.Vector, action strategy.Action, book *market.OrderBook) error {
	side := market.SideBuy
	if action == strategy.ActionSell {
		side = market.SideSell
	}
	atr := math.Max(v.ATR, 1e-9)
	stop, target := strategy.StopTarget(v.Close, side, atr, a.params.StopATR, a.params.TargetATR)
	stopDist := atr * a.params.StopATR

	a.mu.Lock()
	equity := a.equity
	minNotional := a.minNotional
	a.mu.Unlock()

	// lot 向下取整后再过名义价值下限
	qtyDec := decimal.NewFromFloat(strategy.PositionSize(equity, a.params.RiskPerTrade, stopDist)).Truncate(3)
	qty, _ := qtyDec.Float64()
	notional := qtyDec.Mul(decimal.NewFromFloat(v.Close))
	if qty <= 0 || notional.LessThan(decimal.NewFromFloat(minNotional)) {
		logger.Warnf("[agent] 名义价值 %s 低于下限 %.2f，放弃下单", notional.StringFixed(4), minNotional)
		return nil
	}

	entryPrice := v.Close
	var meta map[string]any
	if a.cfg.Venue != nil {
		res, err := a.cfg.Venue.SubmitMarketOrder(ctx, exchange.OrderRequest{
			Symbol:   a.cfg.Symbol,
			Side:     side,
			Quantity: qty,
		})
		if err != nil {
			return fmt.Errorf("下单失败: %w", err)
		}
		if res.AvgPrice > 0 {
			entryPrice = res.AvgPrice
		}
		if res.Quantity > 0 {
			qty = res.Quantity
		}
		meta = map[string]any{"venue": a.cfg.Venue.Name(), "order_id": res.OrderID, "client_id": res.ClientID}
	} else {
		price, impact := slippage.SimulateFill(v.Close, side, qty, book, a.cfg.ImpactK)
		entryPrice = price
		meta = map[string]any{"sim": true, "impact": impact}
	}

	rec := &store.TradeRecord{
		TS:          a.now().UnixMilli(),
		Symbol:      a.cfg.Symbol,
		Side:        string(side),
		Quantity:    qty,
		EntryPrice:  entryPrice,
		EquityAfter: equity,
		Meta:        mustJSON(meta),
	}
	if err := a.cfg.Store.InsertTrade(ctx, rec); err != nil {
		return fmt.Errorf("成交落库失败: %w", err)
	}

	a.mu.Lock()
	a.position = &strategy.Position{
		Symbol:      a.cfg.Symbol,
		Side:        side,
		Quantity:    qty,
		EntryPrice:  entryPrice,
		StopPrice:   stop,
		TargetPrice: target,
		EntryBook:   book,
		OpenedAt:    v.TS,
		TradeID:     rec.ID,
	}
	a.mu.Unlock()
	logger.Infof("[agent] 开仓 %s qty=%.6f entry=%.2f stop=%.2f target=%.2f", side, qty, entryPrice, stop, target)
	return nil
}

// managePosition 用最新收盘价走持仓状态机，触发即平仓并回填流水。
// 平仓按开仓时刻的盘口计价，和回测口径一致。
func (a *Agent) managePosition(ctx context.Context, v feature.Vector) error {
	a.mu.Lock()
	pos := a.position
	a.mu.Unlock()
	if pos == nil {
		return nil
	}
	reason, ok := pos.ShouldClose(v.Close)
	if !ok {
		return nil
	}

	exitPrice := v.Close
	if a.cfg.Venue != nil {
		res, err := a.cfg.Venue.SubmitMarketOrder(ctx, exchange.OrderRequest{
			Symbol:     pos.Symbol,
			Side:       pos.ExitSide(),
			Quantity:   pos.Quantity,
			ReduceOnly: true,
		})
		if err != nil {
			return fmt.Errorf("平仓下单失败: %w", err)
		}
		if res.AvgPrice > 0 {
			exitPrice = res.AvgPrice
		}
	} else {
		price, _ := slippage.SimulateFill(v.Close, pos.ExitSide(), pos.Quantity, pos.EntryBook, a.cfg.ImpactK)
		exitPrice = price
	}

	pnl := pos.PnL(exitPrice)
	a.mu.Lock()
	a.equity += pnl
	equity := a.equity
	a.position = nil
	a.mu.Unlock()

	if err := a.cfg.Store.FinalizeTrade(ctx, pos.TradeID, exitPrice, pnl, equity); err != nil {
		logger.Warnf("[agent] 平仓回填失败 trade_id=%d: %v", pos.TradeID, err)
	}
	logger.Infof("[agent] 平仓 %s reason=%s exit=%.2f pnl=%.2f equity=%.2f", pos.Side, reason, exitPrice, pnl, equity)
	return nil
}

func (a *Agent) observeRegime(v feature.Vector) {
	det := a.cfg.Regime
	if det == nil {
		return
	}
	det.Observe(v)
	a.mu.Lock()
	a.observedNoFit++
	due := a.observedNoFit >= regimeRefitEvery
	a.mu.Unlock()

	if det.Size() >= det.MinSamples() && (!det.Fitted() || due) {
		if ok, err := det.Fit(); err != nil {
			logger.Warnf("[agent] 状态聚类拟合失败: %v", err)
		} else if ok {
			a.mu.Lock()
			a.observedNoFit = 0
			a.mu.Unlock()
			logger.Infof("[agent] 状态聚类已拟合 samples=%d", det.Size())
		}
	}
	if label, ok := det.Predict(v); ok {
		a.mu.Lock()
		a.lastRegime, a.regimeKnown = label, true
		a.mu.Unlock()
	}
}

func (a *Agent) retrainDue() bool {
	if a.cfg.RetrainWeeks <= 0 {
		return false
	}
	a.mu.Lock()
	last := a.lastTrain
	a.mu.Unlock()
	if last.IsZero() {
		return true
	}
	return a.now().Sub(last) >= time.Duration(a.cfg.RetrainWeeks)*7*24*time.Hour
}

// retrain 用本轮拉到的 K 线窗口重建特征行再全量训练，训练是同步的，
// 期间循环不出新决策。
func (a *Agent) retrain(ctx context.Context, candles []market.Candle) error {
	if len(candles) <= warmupBars {
		return fmt.Errorf("样本不足: %d 根 K 线", len(candles))
	}
	rows := make([]feature.Vector, 0, len(candles)-warmupBars)
	for i := warmupBars; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		book := slippage.SynthesizeBook(candles[i], a.cfg.Depth)
		rows = append(rows, feature.Compute(candles[:i+1], nil, book))
	}
	trained, err := a.cfg.Meta.Train(ctx, rows)
	if err != nil {
		return err
	}
	if trained {
		a.mu.Lock()
		a.lastTrain = a.now()
		a.mu.Unlock()
	}
	return nil
}

// Status 是 agent 的运行快照，HTTP 状态接口直接吐它。
type Status struct {
	Symbol      string             `json:"symbol"`
	Interval    string             `json:"interval"`
	Equity      float64            `json:"equity"`
	Position    *strategy.Position `json:"position,omitempty"`
	ModelReady  bool               `json:"model_ready"`
	Regime      int                `json:"regime"`
	RegimeKnown bool               `json:"regime_known"`
	KillSwitch  bool               `json:"killswitch"`
	Drawdown    float64            `json:"drawdown"`
	Cycles      int64              `json:"cycles"`
	LastError   string             `json:"last_error,omitempty"`
	Gateway     market.SourceStats `json:"gateway"`
	Breaker     string             `json:"breaker"`
}

func (a *Agent) Status() Status {
	if a == nil {
		return Status{}
	}
	a.mu.Lock()
	st := Status{
		Symbol:      a.cfg.Symbol,
		Interval:    a.cfg.Interval,
		Equity:      a.equity,
		Position:    a.position,
		Regime:      a.lastRegime,
		RegimeKnown: a.regimeKnown,
		KillSwitch:  a.killTripped,
		Drawdown:    a.killDD,
		Cycles:      a.cycles,
		LastError:   a.lastErr,
	}
	a.mu.Unlock()
	st.ModelReady = a.cfg.Meta.Ready()
	st.Gateway = a.cfg.Source.Stats()
	st.Breaker = a.breaker.State().String()
	return st
}

func mustJSON(v map[string]any) []byte {
	blob, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return blob
}
