package feature

import (
	"context"
	"sort"

	"github.com/goccy/go-json"

	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
)

// 保留编码：0 表示空值，1 表示低频或训练集未出现的值。
const (
	NullIndex = 0
	OOVIndex  = 1
	// DefaultFreqThreshold 是进入词表的最少出现次数。
	DefaultFreqThreshold = 15
)

// Categorify 类别编码：把每列替换为 int64 编码。
//
// 词表只保留训练集中出现次数 >= FreqThreshold 的值，按出现次数降序、值升序排列，
// 第 k 个值编码为 k+2。列基数 = len(词表) + 2。
type Categorify struct {
	Columns       []string
	FreqThreshold int64

	vocabs map[string][]string
	index  map[string]map[string]int64
}

func (c *Categorify) Name() string        { return "categorify" }
func (c *Categorify) Kind() pipeline.Kind { return pipeline.KindEncode }

func (c *Categorify) Fit(ctx context.Context, f *frame.Frame) error {
	threshold := c.FreqThreshold
	if threshold <= 0 {
		threshold = 1
	}
	vocabs := make([][]string, len(c.Columns))
	err := forEachColumn(ctx, c.Columns, func(_ context.Context, i int, name string) error {
		col, err := f.Col(name)
		if err != nil {
			return err
		}
		vocabs[i] = buildVocab(col, threshold)
		return nil
	})
	if err != nil {
		return err
	}
	c.vocabs = make(map[string][]string, len(c.Columns))
	for i, name := range c.Columns {
		c.vocabs[name] = vocabs[i]
	}
	c.buildIndex()
	return nil
}

func buildVocab(col *frame.Column, threshold int64) []string {
	counts := make(map[string]int64)
	for i := 0; i < col.Len(); i++ {
		if v, ok := col.StringAt(i); ok {
			counts[v]++
		}
	}
	vocab := make([]string, 0, len(counts))
	for v, n := range counts {
		if n >= threshold {
			vocab = append(vocab, v)
		}
	}
	sort.Slice(vocab, func(i, j int) bool {
		a, b := counts[vocab[i]], counts[vocab[j]]
		if a != b {
			return a > b
		}
		return vocab[i] < vocab[j]
	})
	return vocab
}

func (c *Categorify) buildIndex() {
	c.index = make(map[string]map[string]int64, len(c.vocabs))
	for name, vocab := range c.vocabs {
		idx := make(map[string]int64, len(vocab))
		for k, v := range vocab {
			idx[v] = int64(k) + 2
		}
		c.index[name] = idx
	}
}

func (c *Categorify) Transform(_ context.Context, f *frame.Frame) error {
	for _, name := range c.Columns {
		idx, ok := c.index[name]
		if !ok {
			return invalidConfig("categorify", "column "+name+" was not fitted")
		}
		col, err := f.Col(name)
		if err != nil {
			return err
		}
		out := make([]int64, col.Len())
		for i := range out {
			out[i] = encode(idx, col, i)
		}
		if err := f.Set(frame.NewIntColumn(name, out, nil)); err != nil {
			return err
		}
	}
	return nil
}

func encode(idx map[string]int64, col *frame.Column, i int) int64 {
	v, ok := col.StringAt(i)
	if !ok {
		return NullIndex
	}
	if code, ok := idx[v]; ok {
		return code
	}
	return OOVIndex
}

// Cardinalities 返回每列的基数（含两个保留编码）。
func (c *Categorify) Cardinalities() map[string]int {
	out := make(map[string]int, len(c.vocabs))
	for name, vocab := range c.vocabs {
		out[name] = len(vocab) + 2
	}
	return out
}

// Vocab 返回某列的词表（编码 = 下标 + 2）。
func (c *Categorify) Vocab(column string) []string { return c.vocabs[column] }

func (c *Categorify) MarshalStats() ([]byte, error) {
	return json.Marshal(c.vocabs)
}

func (c *Categorify) UnmarshalStats(data []byte) error {
	if err := json.Unmarshal(data, &c.vocabs); err != nil {
		return err
	}
	c.buildIndex()
	return nil
}
