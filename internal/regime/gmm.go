package regime

import (
	"fmt"
	"math"
	"math/rand"
)

// gaussianMixture 是对角协方差的高斯混合模型。维度低、样本量在千级，
// 对角假设够用且拟合稳定。
type gaussianMixture struct {
	weights   []float64   // k
	means     [][]float64 // k x d
	variances [][]float64 // k x d
}

const (
	gmmMaxIter       = 100
	gmmTolerance     = 1e-4
	gmmVarianceFloor = 1e-6
)

// fitGMM 用 EM 在标准化样本上拟合 k 个分量。seed 固定时结果可复现。
func fitGMM(data [][]float64, k int, seed int64) (*gaussianMixture, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("没有训练样本")
	}
	d := len(data[0])
	if d == 0 {
		return nil, fmt.Errorf("样本维度为 0")
	}
	if k <= 0 || k > n {
		return nil, fmt.Errorf("分量数非法: k=%d n=%d", k, n)
	}

	rng := rand.New(rand.NewSource(seed))
	g := &gaussianMixture{
		weights:   make([]float64, k),
		means:     make([][]float64, k),
		variances: make([][]float64, k),
	}
	globalVar := columnVariances(data)
	for j := range globalVar {
		if globalVar[j] < gmmVarianceFloor {
			globalVar[j] = gmmVarianceFloor
		}
	}
	// 首个中心随机取样本，之后取“离已选中心最远”的样本，
	// 分离充分的簇一定会各占一个初始中心。
	centers := []int{rng.Intn(n)}
	for len(centers) < k {
		far, farDist := -1, -1.0
		for i := 0; i < n; i++ {
			minDist := math.Inf(1)
			for _, c := range centers {
				if dist := sqDistance(data[i], data[c]); dist < minDist {
					minDist = dist
				}
			}
			if minDist > farDist {
				far, farDist = i, minDist
			}
		}
		centers = append(centers, far)
	}
	for c, idx := range centers {
		g.weights[c] = 1 / float64(k)
		g.means[c] = append([]float64(nil), data[idx]...)
		g.variances[c] = append([]float64(nil), globalVar...)
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}
	prevLL := math.Inf(-1)
	for iter := 0; iter < gmmMaxIter; iter++ {
		// E 步
		ll := 0.0
		for i, x := range data {
			maxLog := math.Inf(-1)
			for c := 0; c < k; c++ {
				resp[i][c] = g.componentLogProb(c, x)
				if resp[i][c] > maxLog {
					maxLog = resp[i][c]
				}
			}
			sum := 0.0
			for c := 0; c < k; c++ {
				resp[i][c] = math.Exp(resp[i][c] - maxLog)
				sum += resp[i][c]
			}
			for c := 0; c < k; c++ {
				resp[i][c] /= sum
			}
			ll += maxLog + math.Log(sum)
		}

		// M 步
		for c := 0; c < k; c++ {
			nk := 0.0
			for i := 0; i < n; i++ {
				nk += resp[i][c]
			}
			if nk < 1e-10 {
				// 空分量：抛回一个随机样本上，方差回到全局
				idx := rng.Intn(n)
				g.means[c] = append([]float64(nil), data[idx]...)
				g.variances[c] = append([]float64(nil), globalVar...)
				g.weights[c] = 1 / float64(n)
				continue
			}
			g.weights[c] = nk / float64(n)
			mean := make([]float64, d)
			for i := 0; i < n; i++ {
				for j := 0; j < d; j++ {
					mean[j] += resp[i][c] * data[i][j]
				}
			}
			for j := 0; j < d; j++ {
				mean[j] /= nk
			}
			variance := make([]float64, d)
			for i := 0; i < n; i++ {
				for j := 0; j < d; j++ {
					diff := data[i][j] - mean[j]
					variance[j] += resp[i][c] * diff * diff
				}
			}
			for j := 0; j < d; j++ {
				variance[j] = variance[j]/nk + gmmVarianceFloor
			}
			g.means[c] = mean
			g.variances[c] = variance
		}

		if math.Abs(ll-prevLL) < gmmTolerance*(math.Abs(prevLL)+1) {
			break
		}
		prevLL = ll
	}
	return g, nil
}

// componentLogProb 返回 log(w_c) + log N(x; μ_c, σ²_c)。
func (g *gaussianMixture) componentLogProb(c int, x []float64) float64 {
	logP := math.Log(g.weights[c] + 1e-300)
	for j, v := range x {
		variance := g.variances[c][j]
		diff := v - g.means[c][j]
		logP += -0.5*math.Log(2*math.Pi*variance) - diff*diff/(2*variance)
	}
	return logP
}

// predict 返回后验概率最大的分量下标。
func (g *gaussianMixture) predict(x []float64) int {
	best, bestLog := 0, math.Inf(-1)
	for c := range g.weights {
		if lp := g.componentLogProb(c, x); lp > bestLog {
			best, bestLog = c, lp
		}
	}
	return best
}

func sqDistance(a, b []float64) float64 {
	sum := 0.0
	for j := range a {
		diff := a[j] - b[j]
		sum += diff * diff
	}
	return sum
}

func columnVariances(data [][]float64) []float64 {
	n := len(data)
	d := len(data[0])
	mean := make([]float64, d)
	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	variance := make([]float64, d)
	for _, row := range data {
		for j, v := range row {
			diff := v - mean[j]
			variance[j] += diff * diff
		}
	}
	for j := range variance {
		variance[j] /= float64(n)
	}
	return variance
}
