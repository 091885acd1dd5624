// Package optimize 在 walk-forward 夏普上做随机超参搜索，试验流水
// 落到独立的 study 库里，可中断续跑。
package optimize

import (
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"

	"quanta/internal/logger"
	"quanta/internal/strategy"
)

// Range 是一个闭区间上的均匀采样范围。
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) valid() bool { return r.Max > r.Min }

// Space 定义各超参的采样空间。NumRounds 是离散候选，其余均匀采样。
type Space struct {
	NumRounds    []int `yaml:"num_rounds"`
	BaseThresh   Range `yaml:"base_thresh"`
	StopATR      Range `yaml:"stop_atr"`
	TargetATR    Range `yaml:"target_atr"`
	RiskPerTrade Range `yaml:"risk_per_trade"`
}

// DefaultSpace 是内置搜索空间。
func DefaultSpace() Space {
	return Space{
		NumRounds:    []int{50, 100, 150, 200},
		BaseThresh:   Range{Min: 0.45, Max: 0.85},
		StopATR:      Range{Min: 0.5, Max: 2.0},
		TargetATR:    Range{Min: 1.0, Max: 4.0},
		RiskPerTrade: Range{Min: 0.002, Max: 0.02},
	}
}

// LoadSpace 从 yaml 读取空间定义；path 为空或文件不存在时用内置空间。
// 文件里省略的字段同样回落到内置值。
func LoadSpace(path string) (Space, error) {
	space := DefaultSpace()
	if path == "" {
		return space, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("搜索空间文件 %s 不存在，使用内置空间", path)
			return space, nil
		}
		return Space{}, fmt.Errorf("读取搜索空间失败: %w", err)
	}
	if err := yaml.Unmarshal(data, &space); err != nil {
		return Space{}, fmt.Errorf("解析搜索空间失败: %w", err)
	}
	if err := space.Validate(); err != nil {
		return Space{}, err
	}
	return space, nil
}

func (s Space) Validate() error {
	if len(s.NumRounds) == 0 {
		return fmt.Errorf("num_rounds 候选不能为空")
	}
	for _, n := range s.NumRounds {
		if n <= 0 {
			return fmt.Errorf("num_rounds 候选必须为正: %d", n)
		}
	}
	for name, r := range map[string]Range{
		"base_thresh":    s.BaseThresh,
		"stop_atr":       s.StopATR,
		"target_atr":     s.TargetATR,
		"risk_per_trade": s.RiskPerTrade,
	} {
		if !r.valid() {
			return fmt.Errorf("%s 区间非法: [%v, %v]", name, r.Min, r.Max)
		}
	}
	return nil
}

// Sample 从空间采一组参数。采样顺序固定，同一个 rng 种子必然得到同一组参数。
// 未搜索的字段（train/test 比例）由 Normalize 填默认值。
func (s Space) Sample(rng *rand.Rand) strategy.Params {
	uniform := func(r Range) float64 {
		return r.Min + rng.Float64()*(r.Max-r.Min)
	}
	p := strategy.Params{
		NumRounds:    s.NumRounds[rng.Intn(len(s.NumRounds))],
		BaseThresh:   uniform(s.BaseThresh),
		StopATR:      uniform(s.StopATR),
		TargetATR:    uniform(s.TargetATR),
		RiskPerTrade: uniform(s.RiskPerTrade),
	}
	return p.Normalize()
}
