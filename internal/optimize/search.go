package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"quanta/internal/backtest"
	"quanta/internal/logger"
	"quanta/internal/strategy"
)

const (
	// DefaultStudy 是默认 study 名，同名 study 的试验编号连续累加。
	DefaultStudy = "agent_search"

	// DefaultTrials 是一次搜索的默认试验数。
	DefaultTrials = 40

	defaultSeed = 42
)

// Evaluator 把一组参数变成 walk-forward 结果，*backtest.Engine 即是实现。
type Evaluator interface {
	WalkForward(ctx context.Context, params strategy.Params) (*backtest.Result, error)
}

type SearchConfig struct {
	Evaluator Evaluator
	Store     *StudyStore
	Results   backtest.ResultStore // 可为 nil，最优结果就不落主库
	Space     Space
	Study     string
	Trials    int
	Seed      int64
}

// Searcher 做随机搜索：每个试验按 seed+编号 派生独立 rng，采样一组参数跑
// walk-forward，以汇总夏普为目标值。续跑同一 study 时编号与最优值都接着走。
type Searcher struct {
	eval    Evaluator
	store   *StudyStore
	results backtest.ResultStore
	space   Space
	study   string
	trials  int
	seed    int64
}

func NewSearcher(cfg SearchConfig) (*Searcher, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator 不能为空")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("study store 不能为空")
	}
	space := cfg.Space
	if len(space.NumRounds) == 0 {
		space = DefaultSpace()
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	study := cfg.Study
	if study == "" {
		study = DefaultStudy
	}
	trials := cfg.Trials
	if trials <= 0 {
		trials = DefaultTrials
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = defaultSeed
	}
	return &Searcher{
		eval:    cfg.Evaluator,
		store:   cfg.Store,
		results: cfg.Results,
		space:   space,
		study:   study,
		trials:  trials,
		seed:    seed,
	}, nil
}

// Run 跑满配置的试验数并返回最优试验。最优值会作为一条 optimize 模式的
// 回测结果写进主库（配置了 Results 时）。
func (s *Searcher) Run(ctx context.Context) (*Trial, error) {
	startNum, err := s.store.NextTrialNumber(ctx, s.study)
	if err != nil {
		return nil, fmt.Errorf("读取试验编号失败: %w", err)
	}
	best, err := s.store.BestTrial(ctx, s.study)
	if err != nil {
		return nil, fmt.Errorf("读取历史最优失败: %w", err)
	}
	if startNum > 0 {
		logger.Infof("[optimize] 续跑 study %s: 已有 %d 个试验", s.study, startNum)
	}

	for i := 0; i < s.trials; i++ {
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		default:
		}
		num := startNum + i
		rng := rand.New(rand.NewSource(s.seed + int64(num)))
		params := s.space.Sample(rng)

		trial := Trial{
			Study:     s.study,
			Number:    num,
			Params:    params,
			CreatedAt: time.Now().UTC(),
		}
		res, err := s.eval.WalkForward(ctx, params)
		if err != nil {
			trial.State = TrialStateFailed
			trial.Err = err.Error()
			logger.Warnf("[optimize] 试验 %d 失败: %v", num, err)
		} else {
			trial.State = TrialStateDone
			trial.Value = res.Metrics.Sharpe
			trial.BacktestID = res.ID
			logger.Infof("[optimize] 试验 %d: sharpe=%.4f rounds=%d thresh=%.3f stop=%.2f target=%.2f risk=%.4f",
				num, trial.Value, params.NumRounds, params.BaseThresh, params.StopATR, params.TargetATR, params.RiskPerTrade)
		}
		if err := s.store.InsertTrial(ctx, trial); err != nil {
			return best, err
		}
		if trial.State == TrialStateDone && (best == nil || trial.Value > best.Value) {
			t := trial
			best = &t
			logger.Infof("[optimize] 新的最优: 试验 %d sharpe=%.4f", num, trial.Value)
		}
	}

	if best == nil {
		return nil, fmt.Errorf("study %s 没有任何成功的试验", s.study)
	}
	s.persistBest(ctx, best)
	return best, nil
}

// persistBest 把最优参数+目标值作为一条 optimize 结果写进主库。
func (s *Searcher) persistBest(ctx context.Context, best *Trial) {
	if s.results == nil {
		return
	}
	res := &backtest.Result{
		ID:        uuid.NewString(),
		Mode:      "optimize",
		Params:    best.Params,
		Metrics:   backtest.Metrics{Sharpe: best.Value},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.results.SaveBacktest(ctx, res); err != nil {
		logger.Warnf("[optimize] 保存最优结果失败: %v", err)
	}
}
