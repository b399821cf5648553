package model

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"

	"github.com/rushteam/ctrkit/core"
)

// CheckpointKey 是模型在模型目录中的文件名。
const CheckpointKey = "wide_deep.json"

const checkpointVersion = 1

// checkpoint 只保存参数与步数；继续训练时 Adam 的矩估计与偏差修正从零开始。
type checkpoint struct {
	Version int      `json:"version"`
	Spec    Spec     `json:"spec"`
	Config  Config   `json:"config"`
	Steps   int64    `json:"steps"`
	Wide    *LRModel `json:"wide"`
	Deep    dnnState `json:"deep"`
}

type dnnState struct {
	Embeddings []denseJSON `json:"embeddings"`
	Weights    []denseJSON `json:"weights"`
	Biases     [][]float64 `json:"biases"`
}

type denseJSON struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func toJSON(d *mat.Dense) denseJSON {
	r, c := d.Dims()
	return denseJSON{Rows: r, Cols: c, Data: d.RawMatrix().Data}
}

func (d denseJSON) dense(wantRows, wantCols int) (*mat.Dense, error) {
	if d.Rows != wantRows || d.Cols != wantCols || len(d.Data) != d.Rows*d.Cols {
		return nil, fmt.Errorf("matrix %dx%d (%d values), want %dx%d", d.Rows, d.Cols, len(d.Data), wantRows, wantCols)
	}
	return mat.NewDense(d.Rows, d.Cols, d.Data), nil
}

// Marshal 把模型编码为 JSON。
func (m *WideDeepModel) Marshal() ([]byte, error) {
	ck := checkpoint{
		Version: checkpointVersion,
		Spec:    m.Spec,
		Config:  m.Config,
		Steps:   m.steps,
		Wide:    m.Wide,
		Deep:    dnnState{Biases: m.Deep.biases},
	}
	for _, e := range m.Deep.emb {
		ck.Deep.Embeddings = append(ck.Deep.Embeddings, toJSON(e))
	}
	for _, w := range m.Deep.weights {
		ck.Deep.Weights = append(ck.Deep.Weights, toJSON(w))
	}
	return json.Marshal(ck)
}

// Unmarshal 从 JSON 恢复模型，并校验各参数的形状与输入描述一致。
func Unmarshal(data []byte) (*WideDeepModel, error) {
	var ck checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, corrupt(err)
	}
	if ck.Version != checkpointVersion {
		return nil, corrupt(fmt.Errorf("version %d, want %d", ck.Version, checkpointVersion))
	}
	m, err := NewWideDeepModel(ck.Spec, ck.Config)
	if err != nil {
		return nil, err
	}
	m.steps = ck.Steps

	if err := m.restoreWide(ck.Wide); err != nil {
		return nil, corrupt(err)
	}
	if err := m.restoreDeep(ck.Deep); err != nil {
		return nil, corrupt(err)
	}
	return m, nil
}

func (m *WideDeepModel) restoreWide(w *LRModel) error {
	if w == nil {
		return fmt.Errorf("wide: missing")
	}
	if len(w.Cat) != len(m.Spec.Categorical) {
		return fmt.Errorf("wide: %d categorical vectors, want %d", len(w.Cat), len(m.Spec.Categorical))
	}
	for f, c := range m.Spec.Categorical {
		if len(w.Cat[f].Z) != c.Cardinality || len(w.Cat[f].N) != c.Cardinality {
			return fmt.Errorf("wide: %s has %d weights, want %d", c.Name, len(w.Cat[f].Z), c.Cardinality)
		}
	}
	if len(w.Cont.Z) != len(m.Spec.Continuous) || len(w.Cont.N) != len(m.Spec.Continuous) {
		return fmt.Errorf("wide: %d continuous weights, want %d", len(w.Cont.Z), len(m.Spec.Continuous))
	}
	if len(w.Bias.Z) != 1 || len(w.Bias.N) != 1 {
		return fmt.Errorf("wide: bad bias")
	}
	w.setConfig(m.Config)
	m.Wide = w
	return nil
}

func (m *WideDeepModel) restoreDeep(s dnnState) error {
	d := m.Deep
	if len(s.Embeddings) != len(d.emb) || len(s.Weights) != len(d.weights) || len(s.Biases) != len(d.biases) {
		return fmt.Errorf("deep: %d embeddings / %d layers, want %d / %d",
			len(s.Embeddings), len(s.Weights), len(d.emb), len(d.weights))
	}
	for f, e := range d.emb {
		r, c := e.Dims()
		restored, err := s.Embeddings[f].dense(r, c)
		if err != nil {
			return fmt.Errorf("deep: embedding %s: %w", m.Spec.Categorical[f].Name, err)
		}
		d.emb[f] = restored
	}
	for l, w := range d.weights {
		r, c := w.Dims()
		restored, err := s.Weights[l].dense(r, c)
		if err != nil {
			return fmt.Errorf("deep: layer %d: %w", l, err)
		}
		d.weights[l] = restored
		if len(s.Biases[l]) != c {
			return fmt.Errorf("deep: layer %d bias has %d values, want %d", l, len(s.Biases[l]), c)
		}
		d.biases[l] = s.Biases[l]
	}
	return nil
}

func corrupt(err error) error {
	return core.WrapDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: corrupt checkpoint", err)
}

// Save 写入 checkpoint。
func (m *WideDeepModel) Save(ctx context.Context, s core.Store) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	return s.Set(ctx, CheckpointKey, data)
}

// Load 读取 checkpoint；不存在时返回 store 的 NOT_FOUND。
func Load(ctx context.Context, s core.Store) (*WideDeepModel, error) {
	data, err := s.Get(ctx, CheckpointKey)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return Unmarshal(data)
}
