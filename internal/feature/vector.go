package feature

// SchemaVersion 随特征字段集变化而递增，训练工件会记录当时的版本，
// 推理端据此拒绝列序不一致的旧模型。
const SchemaVersion = 1

// Vector 是单根 K 线收盘时刻的全量特征。字段顺序即持久化顺序，
// 一旦发布不可重排，只能追加并递增 SchemaVersion。
type Vector struct {
	TS        int64   `json:"ts"`
	Close     float64 `json:"close"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	ATR       float64 `json:"atr"`
	ADX       float64 `json:"adx"`
	Vol20     float64 `json:"vol20"`
	Spread    float64 `json:"spread"`
	Imbalance float64 `json:"imbalance"`
	CVD       float64 `json:"cvd"`
	Entropy   float64 `json:"ent"`
	RSI       float64 `json:"rsi"`
	EMA200    float64 `json:"ema200"`
}

// Columns 返回模型使用的特征列。时间戳、原始 OHLC 与前视辅助列都被排除，
// 训练与推理共用同一份列序。
func Columns() []string {
	return []string{"atr", "adx", "vol20", "spread", "imbalance", "cvd", "ent", "rsi", "ema200"}
}

// Value 按列名取字段值，未知列返回 (0,false)。
func (v Vector) Value(name string) (float64, bool) {
	switch name {
	case "ts":
		return float64(v.TS), true
	case "close":
		return v.Close, true
	case "open":
		return v.Open, true
	case "high":
		return v.High, true
	case "low":
		return v.Low, true
	case "atr":
		return v.ATR, true
	case "adx":
		return v.ADX, true
	case "vol20":
		return v.Vol20, true
	case "imbalance":
		return v.Imbalance, true
	case "spread":
		return v.Spread, true
	case "cvd":
		return v.CVD, true
	case "ent":
		return v.Entropy, true
	case "rsi":
		return v.RSI, true
	case "ema200":
		return v.EMA200, true
	default:
		return 0, false
	}
}

// Project 按给定列序展开为数值行，未知列填 0。
func (v Vector) Project(cols []string) []float64 {
	row := make([]float64, len(cols))
	for i, c := range cols {
		val, _ := v.Value(c)
		row[i] = val
	}
	return row
}

// Map 导出为列名到数值的映射，供推理端按工件列序投影。
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, 14)
	m["ts"] = float64(v.TS)
	m["close"] = v.Close
	m["open"] = v.Open
	m["high"] = v.High
	m["low"] = v.Low
	m["atr"] = v.ATR
	m["adx"] = v.ADX
	m["vol20"] = v.Vol20
	m["spread"] = v.Spread
	m["imbalance"] = v.Imbalance
	m["cvd"] = v.CVD
	m["ent"] = v.Entropy
	m["rsi"] = v.RSI
	m["ema200"] = v.EMA200
	return m
}
