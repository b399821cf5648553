package model

import (
	"fmt"
	"math"
	"slices"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/feature"
)

// WideDeepModel 是 Wide&Deep 模型（Cheng et al., 2016）。
//
// 核心思想：
//   - Wide 部分：每个分类取值一个权重的线性模型，记忆（memorization）高频共现
//   - Deep 部分：embedding + DNN，泛化（generalization）到低频 / 未见组合
//   - 联合训练：两部分 logit 相加后过 sigmoid，共享同一个损失的梯度
//
// 工程特征：
//   - Wide 用 FTRL-Proximal，稀疏且带 L1
//   - Deep 用 Adam，embedding 行稀疏更新
//   - 单写者：训练期间不加锁，推理与训练不可并发
type WideDeepModel struct {
	Spec   Spec
	Config Config
	Wide   *LRModel
	Deep   *DNNModel

	steps int64
}

// NewWideDeepModel 按输入描述与超参创建模型。
func NewWideDeepModel(spec Spec, cfg Config) (*WideDeepModel, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &WideDeepModel{
		Spec:   spec,
		Config: cfg,
		Wide:   NewLRModel(spec, cfg),
		Deep:   NewDNNModel(spec, cfg),
	}, nil
}

func (m *WideDeepModel) Name() string { return "wide_deep" }

// Reconfigure 把新的超参应用到已有（通常是从 checkpoint 恢复的）模型上。
// 隐藏层结构由参数形状决定，HiddenUnits 不同时返回 INVALID_INPUT；
// 学习率、FTRL 参数与 dropout 从下一步起生效，Seed 被忽略。
func (m *WideDeepModel) Reconfigure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if !slices.Equal(cfg.HiddenUnits, m.Config.HiddenUnits) {
		return invalid(fmt.Sprintf("hidden units %v do not match checkpoint %v", cfg.HiddenUnits, m.Config.HiddenUnits))
	}
	cfg.Seed = m.Config.Seed
	m.Config = cfg
	m.Wide.setConfig(cfg)
	m.Deep.dropout = cfg.Dropout
	m.Deep.opt.LR = cfg.DeepLR
	return nil
}

// Steps 返回已执行的训练步数。
func (m *WideDeepModel) Steps() int64 { return m.steps }

// prepare 检查批次宽度，并把越界的分类编码映射为 OOV。
// 只有需要修改的行才会复制，调用方的批次不被改写。
func (m *WideDeepModel) prepare(b *Batch) ([][]int32, error) {
	n := b.Len()
	if len(b.Cat) != n || len(b.Cont) != n {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
			fmt.Sprintf("batch: %d labels, %d cat rows, %d cont rows", n, len(b.Cat), len(b.Cont)))
	}
	nc, nf := len(m.Spec.Categorical), len(m.Spec.Continuous)
	cats := b.Cat
	copied := false
	for i := 0; i < n; i++ {
		if len(b.Cat[i]) != nc || len(b.Cont[i]) != nf {
			return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
				fmt.Sprintf("batch row %d: %d categorical / %d continuous, want %d / %d",
					i, len(b.Cat[i]), len(b.Cont[i]), nc, nf))
		}
		for f, idx := range b.Cat[i] {
			card := int32(m.Spec.Categorical[f].Cardinality)
			if idx >= 0 && idx < card {
				continue
			}
			if !copied {
				cats = append([][]int32(nil), b.Cat...)
				copied = true
			}
			row := append([]int32(nil), cats[i]...)
			row[f] = oov(card)
			cats[i] = row
		}
	}
	return cats, nil
}

func oov(card int32) int32 {
	if feature.OOVIndex < card {
		return feature.OOVIndex
	}
	return feature.NullIndex
}

func (m *WideDeepModel) logits(cats [][]int32, b *Batch, train bool) []float64 {
	out := m.Deep.Forward(cats, b.Cont, train)
	for i := range out {
		out[i] += m.Wide.Logit(cats[i], b.Cont[i])
	}
	return out
}

// TrainStep 在一个批次上做一步联合更新，返回该批次更新前的平均 log-loss。
func (m *WideDeepModel) TrainStep(b *Batch) (float64, error) {
	cats, err := m.prepare(b)
	if err != nil {
		return 0, err
	}
	n := b.Len()
	if n == 0 {
		return 0, nil
	}
	logits := m.logits(cats, b, true)
	dlogit := make([]float64, n)
	var loss float64
	for i, z := range logits {
		p := sigmoid(z)
		y := b.Label[i]
		loss += bce(p, y)
		dlogit[i] = (p - y) / float64(n)
	}
	m.Wide.Update(cats, b.Cont, dlogit)
	m.Deep.Backward(cats, dlogit)
	m.steps++

	loss /= float64(n)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, core.NewDomainError(core.ModuleModel, core.ErrorCodeInternalError,
			fmt.Sprintf("loss diverged at step %d", m.steps))
	}
	return loss, nil
}

// PredictBatch 返回批次中每行的点击概率。
func (m *WideDeepModel) PredictBatch(b *Batch) ([]float64, error) {
	cats, err := m.prepare(b)
	if err != nil {
		return nil, err
	}
	logits := m.logits(cats, b, false)
	for i, z := range logits {
		logits[i] = sigmoid(z)
	}
	return logits, nil
}

// Predict 对单行做推理，实现 RankModel。
func (m *WideDeepModel) Predict(cat []int32, cont []float64) (float64, error) {
	b := &Batch{Cat: [][]int32{cat}, Cont: [][]float64{cont}, Label: []float64{0}}
	p, err := m.PredictBatch(b)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

const probEps = 1e-7

// bce 是单样本二元交叉熵，概率截断到 [eps, 1-eps]。
func bce(p, y float64) float64 {
	p = math.Min(math.Max(p, probEps), 1-probEps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}
