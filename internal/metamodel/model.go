// Package metamodel 训练并服务“下一段行情向上”的二分类概率模型。
// 训练产物（模型字节+列序）持久化到存储，按名字整体替换。
package metamodel

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"quanta/internal/feature"
	"quanta/internal/logger"
)

const (
	// DefaultName 是默认模型名，存储里同名工件互相覆盖。
	DefaultName = "meta_gbdt_v1"

	// MinTrainSamples 之下 Train 是 no-op，返回未训练而不是报错。
	MinTrainSamples = 200

	defaultHorizon   = 3
	defaultThreshold = 0.0015
	defaultSeed      = 42
	validationSplit  = 0.2
)

// Meta 是训练工件的版本元数据。
type Meta struct {
	Columns       []string  `json:"columns"`
	SchemaVersion int       `json:"schema_version"`
	TrainedAt     time.Time `json:"trained_at"`
	Samples       int       `json:"samples"`
	Rounds        int       `json:"rounds"`
	ValLogLoss    float64   `json:"val_logloss"`
}

// Artifact 是一份可整体落库/加载的训练产物。
type Artifact struct {
	Name string
	Blob []byte
	Meta Meta
}

// ArtifactStore 是元模型需要的最小存储面。
type ArtifactStore interface {
	SaveModelArtifact(ctx context.Context, art Artifact) error
	LoadModelArtifact(ctx context.Context, name string) (*Artifact, error)
}

type Config struct {
	Name      string
	Horizon   int
	Threshold float64
	NumRounds int
	Seed      int64
}

// Metamodel 持有当前模型与其列序。store 可为 nil（纯内存、不落库）。
type Metamodel struct {
	name      string
	horizon   int
	threshold float64
	numRounds int
	seed      int64
	store     ArtifactStore

	mu      sync.RWMutex
	model   *gbdtModel
	columns []string
	meta    Meta
}

func New(cfg Config, store ArtifactStore) *Metamodel {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Seed == 0 {
		cfg.Seed = defaultSeed
	}
	return &Metamodel{
		name:      cfg.Name,
		horizon:   cfg.Horizon,
		threshold: cfg.Threshold,
		numRounds: cfg.NumRounds,
		seed:      cfg.Seed,
		store:     store,
	}
}

func (m *Metamodel) Name() string { return m.name }

// Ready 报告当前是否有可用模型。
func (m *Metamodel) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model != nil
}

// Meta 返回当前模型的元数据副本。
func (m *Metamodel) Meta() Meta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// PrepareTrain 按前视收益打标签：horizon 步后的收益超过 threshold 记 1。
// 最后 horizon 行没有前视参照，被丢弃。返回的矩阵列序即 feature.Columns()。
func PrepareTrain(rows []feature.Vector, horizon int, threshold float64) (X [][]float64, y []float64) {
	if horizon <= 0 || len(rows) <= horizon {
		return nil, nil
	}
	cols := feature.Columns()
	usable := len(rows) - horizon
	X = make([][]float64, 0, usable)
	y = make([]float64, 0, usable)
	for i := 0; i < usable; i++ {
		base := rows[i].Close
		if base == 0 {
			continue
		}
		fret := rows[i+horizon].Close/base - 1
		label := 0.0
		if fret > threshold {
			label = 1
		}
		X = append(X, rows[i].Project(cols))
		y = append(y, label)
	}
	return X, y
}

// Train 用窗口内的特征行重训模型。样本不足 MinTrainSamples 时不动现有
// 模型直接返回 (false, nil)。训练成功后工件会整体覆盖落库（store 非 nil 时）。
func (m *Metamodel) Train(ctx context.Context, rows []feature.Vector) (bool, error) {
	X, y := PrepareTrain(rows, m.horizon, m.threshold)
	if len(X) < MinTrainSamples {
		logger.Warnf("训练样本不足: %d < %d，跳过重训", len(X), MinTrainSamples)
		return false, nil
	}

	// 固定种子洗牌后切 80/20 训练/验证
	rng := rand.New(rand.NewSource(m.seed))
	perm := rng.Perm(len(X))
	valSize := int(float64(len(X)) * validationSplit)
	if valSize < 1 {
		valSize = 1
	}
	trainX := make([][]float64, 0, len(X)-valSize)
	trainY := make([]float64, 0, len(X)-valSize)
	valX := make([][]float64, 0, valSize)
	valY := make([]float64, 0, valSize)
	for pos, idx := range perm {
		if pos < valSize {
			valX = append(valX, X[idx])
			valY = append(valY, y[idx])
		} else {
			trainX = append(trainX, X[idx])
			trainY = append(trainY, y[idx])
		}
	}

	model, report, err := trainGBDT(trainX, trainY, valX, valY, gbdtParams{Rounds: m.numRounds})
	if err != nil {
		return false, fmt.Errorf("训练元模型失败: %w", err)
	}
	cols := feature.Columns()
	meta := Meta{
		Columns:       cols,
		SchemaVersion: feature.SchemaVersion,
		TrainedAt:     time.Now().UTC(),
		Samples:       len(X),
		Rounds:        report.Rounds,
		ValLogLoss:    report.ValLogLoss,
	}

	m.mu.Lock()
	m.model = model
	m.columns = cols
	m.meta = meta
	m.mu.Unlock()

	if m.store != nil {
		blob, err := json.Marshal(model)
		if err != nil {
			return true, fmt.Errorf("序列化模型失败: %w", err)
		}
		if err := m.store.SaveModelArtifact(ctx, Artifact{Name: m.name, Blob: blob, Meta: meta}); err != nil {
			return true, fmt.Errorf("保存模型工件失败: %w", err)
		}
	}
	logger.Infof("元模型已重训: samples=%d rounds=%d val_logloss=%.4f", len(X), report.Rounds, report.ValLogLoss)
	return true, nil
}

// Load 从存储取回最新工件。没有同名工件时返回 (false, nil)。
func (m *Metamodel) Load(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	art, err := m.store.LoadModelArtifact(ctx, m.name)
	if err != nil {
		return false, fmt.Errorf("加载模型工件失败: %w", err)
	}
	if art == nil {
		return false, nil
	}
	var model gbdtModel
	if err := json.Unmarshal(art.Blob, &model); err != nil {
		return false, fmt.Errorf("反序列化模型失败: %w", err)
	}
	m.mu.Lock()
	m.model = &model
	m.columns = art.Meta.Columns
	m.meta = art.Meta
	m.mu.Unlock()
	return true, nil
}

// PredictProba 按工件里钉死的列序投影输入再打分，缺失键按 0 补。
// 无模型时返回 (0, false)。
func (m *Metamodel) PredictProba(features map[string]float64) (float64, bool) {
	m.mu.RLock()
	model := m.model
	cols := m.columns
	m.mu.RUnlock()
	if model == nil {
		return 0, false
	}
	row := make([]float64, len(cols))
	for i, c := range cols {
		row[i] = features[c]
	}
	return model.predictProba(row), true
}
