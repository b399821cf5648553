// Package sparse 提供按文档 id 索引的 CSR 稀疏矩阵，用于计算文档侧表（类目 / 主题 / 实体）的 TF-IDF 余弦相似度。
package sparse

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Vocab 把字符串词项（如实体 id）映射为稠密整数列号。
type Vocab struct {
	index map[string]int32
}

func NewVocab() *Vocab {
	return &Vocab{index: make(map[string]int32)}
}

// ID 返回词项的列号，首次出现时分配新列号。
func (v *Vocab) ID(term string) int32 {
	if id, ok := v.index[term]; ok {
		return id
	}
	id := int32(len(v.index))
	v.index[term] = id
	return id
}

func (v *Vocab) Len() int { return len(v.index) }

// Builder 以 COO 三元组累积矩阵，Build 时转换为 CSR。
type Builder struct {
	rows    []int64
	cols    []int32
	weights []float64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add 追加一个三元组，重复的 (row, col) 在 Build 时求和。
func (b *Builder) Add(row int64, col int32, weight float64) {
	b.rows = append(b.rows, row)
	b.cols = append(b.cols, col)
	b.weights = append(b.weights, weight)
}

func (b *Builder) Len() int { return len(b.rows) }

// Build 生成 CSR 矩阵：行按文档 id 升序，行内列号升序。
func (b *Builder) Build() *Matrix {
	order := make([]int, len(b.rows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		a, c := order[i], order[j]
		if b.rows[a] != b.rows[c] {
			return b.rows[a] < b.rows[c]
		}
		return b.cols[a] < b.cols[c]
	})

	m := &Matrix{rowOf: make(map[int64]int32)}
	m.Indptr = append(m.Indptr, 0)
	for _, k := range order {
		row, col, w := b.rows[k], b.cols[k], b.weights[k]
		r, ok := m.rowOf[row]
		if !ok {
			if len(m.RowIDs) > 0 {
				m.Indptr = append(m.Indptr, len(m.Indices))
			}
			r = int32(len(m.RowIDs))
			m.rowOf[row] = r
			m.RowIDs = append(m.RowIDs, row)
		}
		if n := len(m.Indices); n > m.Indptr[r] && m.Indices[n-1] == col {
			m.Data[n-1] += w
			continue
		}
		m.Indices = append(m.Indices, col)
		m.Data = append(m.Data, w)
		if int(col) >= m.NumCols {
			m.NumCols = int(col) + 1
		}
	}
	if len(m.RowIDs) > 0 {
		m.Indptr = append(m.Indptr, len(m.Indices))
	}
	return m
}

// Matrix 是 CSR 稀疏矩阵。
// 第 r 行的非零元素为 Indices[Indptr[r]:Indptr[r+1]]，对应权重在 Data 中。
type Matrix struct {
	RowIDs  []int64 // 行号 -> 文档 id
	Indptr  []int
	Indices []int32
	Data    []float64
	NumCols int

	rowOf map[int64]int32
}

// NumRows 返回非空行数。
func (m *Matrix) NumRows() int { return len(m.RowIDs) }

// NNZ 返回非零元素个数。
func (m *Matrix) NNZ() int { return len(m.Data) }

// Row 返回文档 id 对应行的列号与权重，行不存在时 ok=false。
func (m *Matrix) Row(id int64) (cols []int32, weights []float64, ok bool) {
	r, ok := m.rowOf[id]
	if !ok {
		return nil, nil, false
	}
	lo, hi := m.Indptr[r], m.Indptr[r+1]
	return m.Indices[lo:hi], m.Data[lo:hi], true
}

// TFIDF 返回 TF-IDF 加权并按行 L2 归一化的新矩阵。
// 公式：w' = w * (ln((1+N)/(1+df)) + 1)，N 为非空行数，df 为包含该列的行数。
func (m *Matrix) TFIDF() *Matrix {
	df := make([]float64, m.NumCols)
	for _, c := range m.Indices {
		df[c]++
	}
	n := float64(m.NumRows())
	idf := make([]float64, m.NumCols)
	for c, d := range df {
		idf[c] = math.Log((1+n)/(1+d)) + 1
	}

	out := &Matrix{
		RowIDs:  m.RowIDs,
		Indptr:  m.Indptr,
		Indices: m.Indices,
		Data:    make([]float64, len(m.Data)),
		NumCols: m.NumCols,
		rowOf:   m.rowOf,
	}
	for i, c := range m.Indices {
		out.Data[i] = m.Data[i] * idf[c]
	}
	out.normalizeRows()
	return out
}

func (m *Matrix) normalizeRows() {
	for r := 0; r < m.NumRows(); r++ {
		row := m.Data[m.Indptr[r]:m.Indptr[r+1]]
		if len(row) == 0 {
			continue
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
}

// Dot 返回两行的点积；任一行不存在时返回 0。
func (m *Matrix) Dot(a, b int64) float64 {
	ac, aw, ok := m.Row(a)
	if !ok {
		return 0
	}
	bc, bw, ok := m.Row(b)
	if !ok {
		return 0
	}
	var sum float64
	i, j := 0, 0
	for i < len(ac) && j < len(bc) {
		switch {
		case ac[i] == bc[j]:
			sum += aw[i] * bw[j]
			i++
			j++
		case ac[i] < bc[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// Cosine 返回两行的余弦相似度；任一行不存在或为零向量时返回 0。
// 对 TFIDF 的结果（已归一化）等价于 Dot。
func (m *Matrix) Cosine(a, b int64) float64 {
	_, aw, ok := m.Row(a)
	if !ok {
		return 0
	}
	_, bw, ok := m.Row(b)
	if !ok {
		return 0
	}
	na, nb := floats.Norm(aw, 2), floats.Norm(bw, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return m.Dot(a, b) / (na * nb)
}
