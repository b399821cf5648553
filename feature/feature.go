// Package feature 实现工作流中的列变换算子。
//
// 所有算子都实现 pipeline.Op，带统计量的算子另外实现 pipeline.StatefulOp：
//
//   - Slice：字符串截取（geo_location -> country / state）
//   - DateDelta：发布时间到事件时间的天数
//   - FillMedian：中位数填充
//   - Categorify：低频截断的类别编码
//   - TargetEncode：k 折平滑目标编码
//   - Log：log(1+x)
//   - CosineSim：TF-IDF 稀疏向量余弦相似度
//   - Lambda：CEL 表达式逐行计算
//   - Clip：数值截断
package feature

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
)

// forEachColumn 并发处理多列，每列只写自己的结果槽位。
func forEachColumn(ctx context.Context, cols []string, fn func(ctx context.Context, i int, col string) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, col := range cols {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i, col)
		})
	}
	return eg.Wait()
}

// numericColumn 取数值列（int 或 float），字符串列返回 INVALID_INPUT。
func numericColumn(f *frame.Frame, name string) (*frame.Column, error) {
	c, err := f.Col(name)
	if err != nil {
		return nil, err
	}
	if c.Kind == frame.KindString {
		return nil, core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput,
			fmt.Sprintf("column %q is a string column, want numeric", name))
	}
	return c, nil
}

func invalidConfig(op, msg string) error {
	return core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput, op+": "+msg)
}

// splitmix64 用于按行号生成确定性的伪随机数（k 折划分）。
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
