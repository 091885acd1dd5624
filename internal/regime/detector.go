// Package regime 用无监督聚类给市场状态打离散标签。标签目前只作参考输出,
// 不参与下单门控。
package regime

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"quanta/internal/feature"
)

// 聚类使用的 7 个统计特征列。
var regimeColumns = []string{"atr", "adx", "vol20", "spread", "imbalance", "cvd", "ent"}

const (
	// DefaultCapacity 是滚动样本环的容量，装满后最旧样本先被覆盖。
	DefaultCapacity = 2000
	defaultRegimes  = 3
	defaultSeed     = 42
)

type DetectorConfig struct {
	Regimes  int
	Capacity int
	Seed     int64
}

// Detector 维护一个定容样本环并在其上拟合高斯混合。fit 前 predict 不可用。
type Detector struct {
	mu       sync.Mutex
	regimes  int
	capacity int
	seed     int64

	ring [][]float64 // 定容环，head 指向下一个写入位
	head int
	size int

	model *gaussianMixture
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Regimes <= 0 {
		cfg.Regimes = defaultRegimes
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Seed == 0 {
		cfg.Seed = defaultSeed
	}
	if cfg.Regimes > cfg.Capacity {
		return nil, fmt.Errorf("regimes(%d) 超过容量(%d)", cfg.Regimes, cfg.Capacity)
	}
	return &Detector{
		regimes:  cfg.Regimes,
		capacity: cfg.Capacity,
		seed:     cfg.Seed,
		ring:     make([][]float64, cfg.Capacity),
	}, nil
}

// MinSamples 返回 fit 生效所需的最小样本数。
func (d *Detector) MinSamples() int {
	min := 20 * d.regimes
	if min < 100 {
		min = 100
	}
	return min
}

// Observe 把特征向量压入样本环，最旧样本先被淘汰。
func (d *Detector) Observe(v feature.Vector) {
	row := v.Project(regimeColumns)
	d.mu.Lock()
	d.ring[d.head] = row
	d.head = (d.head + 1) % d.capacity
	if d.size < d.capacity {
		d.size++
	}
	d.mu.Unlock()
}

// Size 返回当前样本数。
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Fitted 报告是否已有可用模型。
func (d *Detector) Fitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model != nil
}

// Fit 在当前样本环上重训聚类。样本不足时是 no-op，返回 false。
func (d *Detector) Fit() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.size < d.MinSamples() {
		return false, nil
	}
	data := d.snapshotLocked()
	mean, std := columnStats(data)
	standardized := make([][]float64, len(data))
	for i, row := range data {
		standardized[i] = standardizeRow(row, mean, std)
	}
	model, err := fitGMM(standardized, d.regimes, d.seed)
	if err != nil {
		return false, fmt.Errorf("拟合市场状态聚类失败: %w", err)
	}
	d.model = model
	return true, nil
}

// Predict 返回最可能的状态标签。查询向量用“当前”样本环的均值/方差标准化,
// 而不是 fit 时的统计量。未 fit 时返回 (0,false)。
func (d *Detector) Predict(v feature.Vector) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model == nil || d.size == 0 {
		return 0, false
	}
	data := d.snapshotLocked()
	mean, std := columnStats(data)
	x := standardizeRow(v.Project(regimeColumns), mean, std)
	return d.model.predict(x), true
}

// Window 按从旧到新的顺序导出当前样本环的拷贝。
func (d *Detector) Window() [][]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.snapshotLocked()
	out := make([][]float64, len(src))
	for i, row := range src {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// snapshotLocked 按写入顺序导出样本，调用方需持锁。
func (d *Detector) snapshotLocked() [][]float64 {
	out := make([][]float64, 0, d.size)
	start := 0
	if d.size == d.capacity {
		start = d.head
	}
	for i := 0; i < d.size; i++ {
		out = append(out, d.ring[(start+i)%d.capacity])
	}
	return out
}

func columnStats(data [][]float64) (mean, std []float64) {
	dim := len(data[0])
	mean = make([]float64, dim)
	std = make([]float64, dim)
	col := make([]float64, len(data))
	for j := 0; j < dim; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		m := stat.Mean(col, nil)
		mean[j] = m
		// 总体方差，与滚动窗口统计口径一致
		variance := stat.MomentAbout(2, col, m, nil)
		if variance < 0 {
			variance = 0
		}
		std[j] = math.Sqrt(variance)
	}
	return mean, std
}

func standardizeRow(row, mean, std []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - mean[j]) / (std[j] + 1e-9)
	}
	return out
}
