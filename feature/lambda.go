package feature

import (
	"context"
	"fmt"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/pkg/conv"
	"github.com/rushteam/ctrkit/pkg/dsl"
)

// Lambda 对每行求值一个 CEL 表达式，结果写入 Output。
//
// 表达式中 value 为 Column 的值，row 包含 Inputs 列出的列。
// Result 为 string / int / float / bool，bool 结果编码为 0/1 的 int 列。
// 表达式返回 null 时该行为空。
type Lambda struct {
	Column string
	Inputs []string
	Output string
	Expr   string
	Result string

	prg *dsl.Program
}

// NewLambda 编译表达式并创建算子。
func NewLambda(column, output, expr, kind string, inputs []string) (*Lambda, error) {
	switch kind {
	case "":
		kind = "string"
	case "string", "int", "float", "bool":
	default:
		return nil, invalidConfig("lambda", "unknown kind "+kind)
	}
	prg, err := dsl.Compile(expr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput, "lambda: "+expr, err)
	}
	if output == "" {
		output = column
	}
	return &Lambda{Column: column, Inputs: inputs, Output: output, Expr: expr, Result: kind, prg: prg}, nil
}

func (l *Lambda) Name() string        { return "lambda" }
func (l *Lambda) Kind() pipeline.Kind { return pipeline.KindTransform }

func (l *Lambda) Fit(context.Context, *frame.Frame) error { return nil }

func (l *Lambda) Transform(ctx context.Context, f *frame.Frame) error {
	var src *frame.Column
	if l.Column != "" {
		c, err := f.Col(l.Column)
		if err != nil {
			return err
		}
		src = c
	}
	inputs := make([]*frame.Column, len(l.Inputs))
	for i, name := range l.Inputs {
		c, err := f.Col(name)
		if err != nil {
			return err
		}
		inputs[i] = c
	}

	n := f.Len()
	valid := make([]bool, n)
	var (
		strs   []string
		ints   []int64
		floats []float64
	)
	switch l.Result {
	case "string":
		strs = make([]string, n)
	case "int", "bool":
		ints = make([]int64, n)
	default:
		floats = make([]float64, n)
	}

	row := make(map[string]any, len(inputs))
	for i := 0; i < n; i++ {
		if i&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var value any
		if src != nil {
			value = src.Value(i)
		}
		for j, c := range inputs {
			row[l.Inputs[j]] = c.Value(i)
		}

		if l.Result == "bool" {
			b, err := l.prg.EvalBool(value, row)
			if err != nil {
				return fmt.Errorf("lambda %s row %d: %w", l.Output, i, err)
			}
			if b {
				ints[i] = 1
			}
			valid[i] = true
			continue
		}

		out, err := l.prg.Eval(value, row)
		if err != nil {
			return fmt.Errorf("lambda %s row %d: %w", l.Output, i, err)
		}
		if out == nil {
			continue
		}
		valid[i] = true
		switch l.Result {
		case "string":
			strs[i], _ = conv.ToString(out)
		case "int":
			v, ok := conv.ToInt64(out)
			if !ok {
				return invalidConfig("lambda", fmt.Sprintf("row %d: result %v is not an int", i, out))
			}
			ints[i] = v
		default:
			v, ok := conv.ToFloat64(out)
			if !ok {
				return invalidConfig("lambda", fmt.Sprintf("row %d: result %v is not a float", i, out))
			}
			floats[i] = v
		}
	}

	switch l.Result {
	case "string":
		return f.Set(frame.NewStringColumn(l.Output, strs, valid))
	case "int", "bool":
		return f.Set(frame.NewIntColumn(l.Output, ints, valid))
	default:
		return f.Set(frame.NewFloatColumn(l.Output, floats, valid))
	}
}
