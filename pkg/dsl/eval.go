package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once

	programs sync.Map // expr -> *Program
)

// initCELEnv 初始化 CEL 环境，定义变量和函数
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Program 是编译后的行表达式，使用 CEL (Common Expression Language) 实现。
// CEL 是 Google 开发的表达式语言，具有类型安全、高性能、线程安全等特性。
//
// 表达式可访问的变量：
//   - value：当前列的值（空值为 null）
//   - row：输入列组成的 map，如 row.platform
//
// 示例：
//   - `value.substring(0, 2)` → geo_location 取国家
//   - `value == null ? "" : value.split(">")[0]` → 按分隔符取第一段，空值得到空串
//   - `value == null ? dyn(null) : value.split(">")[0]` → 同上，空值保持为 null
//     （三元表达式两个分支类型需一致，null 分支要用 dyn 包装）
//   - `row.timestamp / 86400000` → 事件所在天
//   - `value != null && value > 0.5` → 布尔条件
type Program struct {
	Expr string
	prg  cel.Program
}

// Compile 编译表达式，相同表达式复用同一个 Program。
func Compile(expr string) (*Program, error) {
	if p, ok := programs.Load(expr); ok {
		return p.(*Program), nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	p := &Program{Expr: expr, prg: prg}
	programs.Store(expr, p)
	return p, nil
}

// Eval 对一行求值；结果为 CEL null 时返回 nil。
func (p *Program) Eval(value any, row map[string]any) (any, error) {
	if row == nil {
		row = map[string]any{}
	}
	out, _, err := p.prg.Eval(map[string]any{
		"value": value,
		"row":   row,
	})
	if err != nil {
		// 对于不存在的 key，CEL 会返回错误
		// 表达式应使用 has(row.key) 或 value != null 检查存在性
		return nil, fmt.Errorf("eval error: %w", err)
	}
	if out.Type() == types.NullType {
		return nil, nil
	}
	return out.Value(), nil
}

// EvalBool 对一行求值并要求结果为布尔。
func (p *Program) EvalBool(value any, row map[string]any) (bool, error) {
	out, err := p.Eval(value, row)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out)
	}
	return b, nil
}
