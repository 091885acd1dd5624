package binance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quanta/internal/gateway/exchange"
	"quanta/internal/logger"
	"quanta/internal/market"
)

// 拿不到交易规则时的保底步进（BTCUSDT 的 LOT_SIZE）。
var defaultLotStep = decimal.RequireFromString("0.001")

type symbolFilters struct {
	step decimal.Decimal
	tick decimal.Decimal
}

// Trader 基于 go-binance 下单端实现 exchange.Venue。
// 数量和价格都按交易所过滤器向下取整后再提交，避免 LOT_SIZE/PRICE_FILTER 拒单。
type Trader struct {
	client *futures.Client

	mu      sync.Mutex
	filters map[string]symbolFilters
}

func NewTrader(cfg Config) (*Trader, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("下单端需要 api key/secret")
	}
	client, err := newFuturesClient(final)
	if err != nil {
		return nil, err
	}
	return &Trader{
		client:  client,
		filters: make(map[string]symbolFilters),
	}, nil
}

func (t *Trader) Name() string { return "binance-futures" }

func (t *Trader) SubmitMarketOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	return t.submit(ctx, req, futures.OrderTypeMarket)
}

func (t *Trader) SubmitLimitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("limit 单需要正的价格: %f", req.Price)
	}
	return t.submit(ctx, req, futures.OrderTypeLimit)
}

func (t *Trader) submit(ctx context.Context, req exchange.OrderRequest, typ futures.OrderType) (*exchange.OrderResult, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("binance trader not initialized")
	}
	clean, err := cleanSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("未知方向: %q", req.Side)
	}
	flt := t.symbolFilters(ctx, clean)
	qty := roundToStep(decimal.NewFromFloat(req.Quantity), flt.step)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("数量 %v 按步进 %s 取整后为 0", req.Quantity, flt.step)
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	side := futures.SideTypeBuy
	if req.Side == market.SideSell {
		side = futures.SideTypeSell
	}
	svc := t.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(typ).
		Quantity(qty.String()).
		NewClientOrderID(clientID).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if typ == futures.OrderTypeLimit {
		price := roundToStep(decimal.NewFromFloat(req.Price), flt.tick)
		if !price.IsPositive() {
			return nil, fmt.Errorf("价格 %v 按 tick %s 取整后为 0", req.Price, flt.tick)
		}
		svc = svc.TimeInForce(parseTIF(req.TimeInForce)).Price(price.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := &exchange.OrderResult{
		OrderID:     res.OrderID,
		ClientID:    res.ClientOrderID,
		Symbol:      res.Symbol,
		Side:        req.Side,
		Quantity:    parseFloat(res.ExecutedQuantity),
		AvgPrice:    parseFloat(res.AvgPrice),
		Status:      string(res.Status),
		SubmittedAt: time.UnixMilli(res.UpdateTime),
	}
	logger.Infof("[binance] %s %s %s qty=%s status=%s", typ, req.Side, clean, qty.String(), out.Status)
	return out, nil
}

func (t *Trader) Account(ctx context.Context) (exchange.Account, error) {
	if t == nil || t.client == nil {
		return exchange.Account{}, fmt.Errorf("binance trader not initialized")
	}
	res, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Account{}, err
	}
	return exchange.Account{
		Asset:     "USDT",
		Balance:   parseFloat(res.TotalWalletBalance),
		Available: parseFloat(res.AvailableBalance),
		UpdatedAt: time.Now(),
	}, nil
}

func (t *Trader) Close() error { return nil }

// symbolFilters 查询并缓存交易对的数量/价格步进，查不到时用保底值。
func (t *Trader) symbolFilters(ctx context.Context, symbol string) symbolFilters {
	t.mu.Lock()
	if flt, ok := t.filters[symbol]; ok {
		t.mu.Unlock()
		return flt
	}
	t.mu.Unlock()

	flt := symbolFilters{step: defaultLotStep}
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		logger.Warnf("[binance] 拉取 exchangeInfo 失败，交易规则用默认值: %v", err)
		return flt
	}
	for i := range info.Symbols {
		sym := &info.Symbols[i]
		if !strings.EqualFold(sym.Symbol, symbol) {
			continue
		}
		if f := sym.LotSizeFilter(); f != nil {
			if parsed, perr := decimal.NewFromString(f.StepSize); perr == nil && parsed.IsPositive() {
				flt.step = parsed
			}
		}
		if f := sym.PriceFilter(); f != nil {
			if parsed, perr := decimal.NewFromString(f.TickSize); perr == nil && parsed.IsPositive() {
				flt.tick = parsed
			}
		}
		break
	}
	t.mu.Lock()
	t.filters[symbol] = flt
	t.mu.Unlock()
	return flt
}

// roundToStep 向下取整到 step 的整数倍；step 非正时原样返回。
func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func parseTIF(s string) futures.TimeInForceType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IOC":
		return futures.TimeInForceTypeIOC
	case "FOK":
		return futures.TimeInForceTypeFOK
	default:
		return futures.TimeInForceTypeGTC
	}
}
