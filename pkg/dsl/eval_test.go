package dsl

import (
	"testing"
)

func TestProgramEval(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		value any
		row   map[string]any
		want  any
	}{
		{"split", `value == null ? dyn(null) : value.split(">")[0]`, "US>CA>807", nil, "US"},
		{"null branch", `value == null ? dyn(null) : value.split(">")[0]`, nil, nil, nil},
		{"empty string for null", `value == null ? "" : value.split(">")[0]`, nil, nil, ""},
		{"row access", `row.timestamp / 86400000`, nil, map[string]any{"timestamp": int64(86400000 * 3)}, int64(3)},
		{"substring", `value.substring(0, 2)`, "US>CA", nil, "US"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error = %v", tt.expr, err)
			}
			got, err := p.Eval(tt.value, tt.row)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	// 三元表达式的 null 分支未用 dyn 包装时类型检查失败
	for _, expr := range []string{
		`value == null ? null : value.split(">")[0]`,
		`value +`,
	} {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) error = nil", expr)
		}
	}
}

func TestEvalBool(t *testing.T) {
	p, err := Compile(`value != null && value.startsWith("US")`)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range []struct {
		value any
		want  bool
	}{{"US>CA", true}, {"GB", false}, {nil, false}} {
		got, err := p.EvalBool(tt.value, nil)
		if err != nil || got != tt.want {
			t.Errorf("EvalBool(%v) = %v, %v; want %v", tt.value, got, err, tt.want)
		}
	}

	notBool, err := Compile(`row.x`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := notBool.EvalBool(nil, map[string]any{"x": int64(1)}); err == nil {
		t.Error("EvalBool() on an int result should fail")
	}
}
