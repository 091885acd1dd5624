package metamodel

import (
	"fmt"
	"math"
	"sort"
)

// 梯度提升的默认训练参数，与搜索空间里的 num_rounds 配合使用。
const (
	defaultLearningRate = 0.1
	defaultMaxDepth     = 3
	defaultMinLeaf      = 20
	defaultLambda       = 1.0
	earlyStopRounds     = 20
)

// treeNode 以扁平数组存储，Left/Right 是数组下标；Feature<0 表示叶子。
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regressionTree) predict(row []float64) float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.Feature < 0 {
			return node.Value
		}
		if row[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// gbdtModel 是二分类梯度提升树。预测输出 sigmoid(base + lr*Σtree)。
type gbdtModel struct {
	Base         float64          `json:"base"`
	LearningRate float64          `json:"lr"`
	Trees        []regressionTree `json:"trees"`
}

func (m *gbdtModel) rawScore(row []float64) float64 {
	score := m.Base
	for i := range m.Trees {
		score += m.LearningRate * m.Trees[i].predict(row)
	}
	return score
}

func (m *gbdtModel) predictProba(row []float64) float64 {
	return sigmoid(m.rawScore(row))
}

type gbdtParams struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
	MinLeaf      int
	Lambda       float64
	EarlyStop    int
}

func (p gbdtParams) withDefaults() gbdtParams {
	if p.Rounds <= 0 {
		p.Rounds = 200
	}
	if p.LearningRate <= 0 {
		p.LearningRate = defaultLearningRate
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = defaultMaxDepth
	}
	if p.MinLeaf <= 0 {
		p.MinLeaf = defaultMinLeaf
	}
	if p.Lambda <= 0 {
		p.Lambda = defaultLambda
	}
	if p.EarlyStop <= 0 {
		p.EarlyStop = earlyStopRounds
	}
	return p
}

type trainReport struct {
	Rounds     int
	BestRound  int
	ValLogLoss float64
}

// trainGBDT 在训练集上逐轮拟合负梯度，验证集 log-loss 连续 EarlyStop 轮
// 不再改善就截断到最优轮数。全程无随机性，输入相同结果相同。
func trainGBDT(X [][]float64, y []float64, Xval [][]float64, yval []float64, params gbdtParams) (*gbdtModel, trainReport, error) {
	params = params.withDefaults()
	n := len(X)
	if n == 0 || len(y) != n {
		return nil, trainReport{}, fmt.Errorf("训练集为空或标签长度不符")
	}
	if len(Xval) == 0 || len(yval) != len(Xval) {
		return nil, trainReport{}, fmt.Errorf("验证集为空或标签长度不符")
	}

	pos := 0.0
	for _, label := range y {
		pos += label
	}
	// 初始分数取先验对数几率
	prior := clampProb(pos / float64(n))
	model := &gbdtModel{
		Base:         math.Log(prior / (1 - prior)),
		LearningRate: params.LearningRate,
	}

	trainScore := make([]float64, n)
	for i := range trainScore {
		trainScore[i] = model.Base
	}
	valScore := make([]float64, len(Xval))
	for i := range valScore {
		valScore[i] = model.Base
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	bestLoss := math.Inf(1)
	bestRound := 0
	for round := 1; round <= params.Rounds; round++ {
		for i := 0; i < n; i++ {
			p := sigmoid(trainScore[i])
			grad[i] = y[i] - p
			hess[i] = p * (1 - p)
		}
		tree := buildTree(X, grad, hess, params)
		model.Trees = append(model.Trees, tree)
		for i := 0; i < n; i++ {
			trainScore[i] += params.LearningRate * tree.predict(X[i])
		}
		for i := range Xval {
			valScore[i] += params.LearningRate * tree.predict(Xval[i])
		}
		loss := logLoss(valScore, yval)
		if loss < bestLoss-1e-9 {
			bestLoss = loss
			bestRound = round
		} else if round-bestRound >= params.EarlyStop {
			break
		}
	}
	if bestRound == 0 {
		bestRound = len(model.Trees)
	}
	model.Trees = model.Trees[:bestRound]
	return model, trainReport{Rounds: len(model.Trees), BestRound: bestRound, ValLogLoss: bestLoss}, nil
}

// buildTree 拟合一棵深度受限的回归树，分裂增益用二阶近似
// G²/(H+λ)，叶子值为 ΣG/(ΣH+λ)。
func buildTree(X [][]float64, grad, hess []float64, params gbdtParams) regressionTree {
	tree := regressionTree{}
	indices := make([]int, len(X))
	for i := range indices {
		indices[i] = i
	}
	growNode(&tree, X, grad, hess, indices, 0, params)
	return tree
}

// growNode 返回新节点在 Nodes 中的下标。
func growNode(tree *regressionTree, X [][]float64, grad, hess []float64, indices []int, depth int, params gbdtParams) int {
	sumG, sumH := 0.0, 0.0
	for _, i := range indices {
		sumG += grad[i]
		sumH += hess[i]
	}
	makeLeaf := func() int {
		tree.Nodes = append(tree.Nodes, treeNode{Feature: -1, Value: sumG / (sumH + params.Lambda)})
		return len(tree.Nodes) - 1
	}
	if depth >= params.MaxDepth || len(indices) < 2*params.MinLeaf {
		return makeLeaf()
	}

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0
	parentScore := sumG * sumG / (sumH + params.Lambda)
	numFeatures := len(X[0])
	order := make([]int, len(indices))
	for f := 0; f < numFeatures; f++ {
		copy(order, indices)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })
		leftG, leftH := 0.0, 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftG += grad[i]
			leftH += hess[i]
			cur, next := X[i][f], X[order[pos+1]][f]
			if cur == next {
				continue
			}
			if pos+1 < params.MinLeaf || len(order)-pos-1 < params.MinLeaf {
				continue
			}
			rightG := sumG - leftG
			rightH := sumH - leftH
			gain := leftG*leftG/(leftH+params.Lambda) + rightG*rightG/(rightH+params.Lambda) - parentScore
			if gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}
	if bestFeature < 0 {
		return makeLeaf()
	}

	left := make([]int, 0, len(indices))
	right := make([]int, 0, len(indices))
	for _, i := range indices {
		if X[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return makeLeaf()
	}

	self := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, treeNode{Feature: bestFeature, Threshold: bestThreshold})
	leftIdx := growNode(tree, X, grad, hess, left, depth+1, params)
	rightIdx := growNode(tree, X, grad, hess, right, depth+1, params)
	tree.Nodes[self].Left = leftIdx
	tree.Nodes[self].Right = rightIdx
	return self
}

func logLoss(scores []float64, y []float64) float64 {
	total := 0.0
	for i, s := range scores {
		p := clampProb(sigmoid(s))
		if y[i] > 0.5 {
			total += -math.Log(p)
		} else {
			total += -math.Log(1 - p)
		}
	}
	return total / float64(len(scores))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProb(p float64) float64 {
	const eps = 1e-7
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
