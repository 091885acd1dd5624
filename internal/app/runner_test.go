package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quanta/internal/market"
	"quanta/internal/store"
	"quanta/internal/strategy"
	apihttp "quanta/internal/transport/http/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMS = int64(time.Hour / time.Millisecond)

// trendCandles 构造一段干净的单边上涨行情，回测里必然触发交易。
func trendCandles(n int) []market.Candle {
	base := int64(1_700_000_000_000)
	out := make([]market.Candle, n)
	for i := range out {
		close := 1000.0 + float64(i)
		out[i] = market.Candle{
			OpenTime:  base + int64(i)*hourMS,
			CloseTime: base + int64(i+1)*hourMS - 1,
			Open:      close - 0.5,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    100,
			Trades:    50,
		}
	}
	return out
}

func newTestRunner(t *testing.T, src *fakeSource) (*Runner, *store.Store) {
	t.Helper()
	cfg := testConfig(t, "live")
	st, err := store.NewStore(cfg.Store.Path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewRunner(cfg, src, st), st
}

func (r *Runner) idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.busy
}

func backtestRequest(symbol string, params *strategy.Params) apihttp.BacktestRequest {
	return apihttp.BacktestRequest{Symbol: symbol, Params: params}
}

func TestRunnerSubmitValidation(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{})

	_, err := r.Submit(backtestRequest("  ", nil))
	assert.ErrorContains(t, err, "symbol 不能为空")

	bad := strategy.Params{BaseThresh: 2}
	_, err = r.Submit(backtestRequest("BTCUSDT", &bad))
	assert.ErrorContains(t, err, "base_thresh")
}

func TestRunnerSubmitBusy(t *testing.T) {
	r, _ := newTestRunner(t, &fakeSource{})
	r.mu.Lock()
	r.busy = true
	r.mu.Unlock()

	_, err := r.Submit(backtestRequest("BTCUSDT", nil))
	assert.ErrorContains(t, err, "已有回测在执行中")
}

func TestRunnerSubmitArchivesWithReturnedID(t *testing.T) {
	src := &fakeSource{candles: trendCandles(500)}
	r, st := newTestRunner(t, src)

	id, err := r.Submit(backtestRequest("btcusdt", nil))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, r.idle, 30*time.Second, 50*time.Millisecond)

	row, err := st.GetBacktest(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, row, "归档要用受理时返回的 run id")
	assert.Equal(t, "BTCUSDT", row.Symbol)
	assert.Equal(t, "1h", row.Interval)
	assert.Equal(t, "single", row.Mode)

	reportPath := filepath.Join(reportDir(r.cfg), "report_"+id+".html")
	_, statErr := os.Stat(reportPath)
	assert.NoError(t, statErr, "报告应落在主库旁")
}

func TestRunnerExecuteSourceErrorReleasesSlot(t *testing.T) {
	src := &fakeSource{err: assert.AnError}
	r, st := newTestRunner(t, src)

	id, err := r.Submit(backtestRequest("BTCUSDT", nil))
	require.NoError(t, err)

	require.Eventually(t, r.idle, 5*time.Second, 20*time.Millisecond)

	row, err := st.GetBacktest(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, row, "失败的回测不归档")
}
