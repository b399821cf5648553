// Package frame 提供特征工程使用的内存列式表。
//
// Frame 由有序的具名列组成，每列是 string / int64 / float64 三种类型之一，
// 并带有可选的有效位（Valid 为 nil 表示整列非空）。
// 特征算子在 Frame 上原地新增或替换列。
package frame

import (
	"fmt"
	"strconv"

	"github.com/rushteam/ctrkit/core"
)

// Kind 是列的类型。
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// ParseKind 将配置中的类型名解析为 Kind。
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string", "str", "varchar":
		return KindString, nil
	case "int", "int64", "bigint":
		return KindInt, nil
	case "float", "float64", "double":
		return KindFloat, nil
	default:
		return 0, fmt.Errorf("unknown column kind %q", s)
	}
}

// Column 是单列数据，只有与 Kind 对应的切片有效。
type Column struct {
	Name  string
	Kind  Kind
	Str   []string
	Int   []int64
	Float []float64
	Valid []bool // nil 表示全部有效
}

func NewStringColumn(name string, values []string, valid []bool) *Column {
	return &Column{Name: name, Kind: KindString, Str: values, Valid: valid}
}

func NewIntColumn(name string, values []int64, valid []bool) *Column {
	return &Column{Name: name, Kind: KindInt, Int: values, Valid: valid}
}

func NewFloatColumn(name string, values []float64, valid []bool) *Column {
	return &Column{Name: name, Kind: KindFloat, Float: values, Valid: valid}
}

// Len 返回行数。
func (c *Column) Len() int {
	switch c.Kind {
	case KindString:
		return len(c.Str)
	case KindInt:
		return len(c.Int)
	default:
		return len(c.Float)
	}
}

// IsNull 判断第 i 行是否为空。
func (c *Column) IsNull(i int) bool {
	return c.Valid != nil && !c.Valid[i]
}

// NullCount 返回空值数量。
func (c *Column) NullCount() int {
	if c.Valid == nil {
		return 0
	}
	n := 0
	for _, ok := range c.Valid {
		if !ok {
			n++
		}
	}
	return n
}

// StringAt 以字符串形式返回第 i 行的值（分类编码统一按字符串统计）。
func (c *Column) StringAt(i int) (string, bool) {
	if c.IsNull(i) {
		return "", false
	}
	switch c.Kind {
	case KindString:
		return c.Str[i], true
	case KindInt:
		return strconv.FormatInt(c.Int[i], 10), true
	default:
		return strconv.FormatFloat(c.Float[i], 'g', -1, 64), true
	}
}

// FloatAt 以 float64 返回第 i 行的值；字符串列尝试解析。
func (c *Column) FloatAt(i int) (float64, bool) {
	if c.IsNull(i) {
		return 0, false
	}
	switch c.Kind {
	case KindInt:
		return float64(c.Int[i]), true
	case KindFloat:
		return c.Float[i], true
	default:
		f, err := strconv.ParseFloat(c.Str[i], 64)
		return f, err == nil
	}
}

// Value 返回第 i 行的原始值，空值返回 nil。
func (c *Column) Value(i int) any {
	if c.IsNull(i) {
		return nil
	}
	switch c.Kind {
	case KindString:
		return c.Str[i]
	case KindInt:
		return c.Int[i]
	default:
		return c.Float[i]
	}
}

// Take 按行号取子集，返回新列。
func (c *Column) Take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case KindString:
		out.Str = make([]string, len(idx))
		for j, i := range idx {
			out.Str[j] = c.Str[i]
		}
	case KindInt:
		out.Int = make([]int64, len(idx))
		for j, i := range idx {
			out.Int[j] = c.Int[i]
		}
	default:
		out.Float = make([]float64, len(idx))
		for j, i := range idx {
			out.Float[j] = c.Float[i]
		}
	}
	if c.Valid != nil {
		out.Valid = make([]bool, len(idx))
		for j, i := range idx {
			out.Valid[j] = c.Valid[i]
		}
	}
	return out
}

// ToFloat 将列转换为 float64 列（字符串无法解析的行置空）。
func (c *Column) ToFloat() *Column {
	if c.Kind == KindFloat {
		return c
	}
	n := c.Len()
	values := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		values[i], valid[i] = c.FloatAt(i)
	}
	return NewFloatColumn(c.Name, values, valid)
}

// Frame 是有序的具名列集合，所有列行数相同。
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New 创建 Frame，列行数不一致时返回错误。
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols)), rows: -1}
	for _, c := range cols {
		if err := f.Set(c); err != nil {
			return nil, err
		}
	}
	if f.rows < 0 {
		f.rows = 0
	}
	return f, nil
}

// Len 返回行数。
func (f *Frame) Len() int { return f.rows }

// Names 返回列名（按加入顺序）。
func (f *Frame) Names() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Has 判断列是否存在。
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Col 按名称取列，不存在时返回 INVALID_INPUT 错误。
func (f *Frame) Col(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput,
			fmt.Sprintf("frame: column %q not found", name))
	}
	return f.cols[i], nil
}

// Set 新增列，或替换同名列（保持原位置）。
func (f *Frame) Set(c *Column) error {
	n := c.Len()
	if c.Valid != nil && len(c.Valid) != n {
		return fmt.Errorf("frame: column %q valid mask has %d rows, want %d", c.Name, len(c.Valid), n)
	}
	if f.rows >= 0 && len(f.cols) > 0 && n != f.rows {
		return fmt.Errorf("frame: column %q has %d rows, want %d", c.Name, n, f.rows)
	}
	f.rows = n
	if i, ok := f.index[c.Name]; ok {
		f.cols[i] = c
		return nil
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	return nil
}

// Drop 删除列，不存在时忽略。
func (f *Frame) Drop(names ...string) {
	for _, name := range names {
		i, ok := f.index[name]
		if !ok {
			continue
		}
		f.cols = append(f.cols[:i], f.cols[i+1:]...)
		delete(f.index, name)
		for j := i; j < len(f.cols); j++ {
			f.index[f.cols[j].Name] = j
		}
	}
}

// Select 按给定顺序选出列，返回新 Frame（列共享底层数据）。
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, err := f.Col(name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		out.rows = f.rows
	}
	return out, nil
}

// Take 按行号取子集，返回新 Frame。
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{index: make(map[string]int, len(f.cols)), rows: len(idx)}
	for _, c := range f.cols {
		out.index[c.Name] = len(out.cols)
		out.cols = append(out.cols, c.Take(idx))
	}
	return out
}

// Columns 返回全部列（按加入顺序）。
func (f *Frame) Columns() []*Column {
	return f.cols
}
