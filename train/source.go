// Package train 提供训练数据加载、Wide&Deep 训练循环与验证指标。
package train

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/ingest"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/pkg/conv"
)

// Row 是一行训练样本。
type Row struct {
	Cat   []int32
	Cont  []float64
	Label float64
	Group int64
}

// Source 按 epoch 顺序产出样本。实现需要为每行分配新的切片。
type Source interface {
	Scan(ctx context.Context, epoch int, fn func(Row) error) error
}

// SliceSource 是内存中的样本集合，主要用于测试和小数据。
type SliceSource struct {
	Rows []Row
}

func (s *SliceSource) Scan(ctx context.Context, _ int, fn func(Row) error) error {
	for i, r := range s.Rows {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// ParquetSource 逐文件流式读取预处理输出目录。
// Shuffle 为 true 时每个 epoch 以 Seed+epoch 打乱文件顺序，文件内顺序由 Loader 的 shuffle buffer 打散。
type ParquetSource struct {
	DB      *ingest.DB
	Dir     string
	Columns pipeline.Columns
	Shuffle bool
	Seed    int64
}

func (s *ParquetSource) columns() []string {
	cols := []string{s.Columns.Label}
	if s.Columns.Group != "" {
		cols = append(cols, s.Columns.Group)
	}
	cols = append(cols, s.Columns.Categorical...)
	return append(cols, s.Columns.Continuous...)
}

func (s *ParquetSource) Scan(ctx context.Context, epoch int, fn func(Row) error) error {
	files, err := ingest.ParquetFiles(s.Dir)
	if err != nil {
		return err
	}
	if s.Shuffle {
		rng := rand.New(rand.NewPCG(uint64(s.Seed), uint64(epoch)))
		rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
	}
	cols := s.columns()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.DB.ScanParquet(ctx, file, cols, func(v []any) error {
			r, err := s.decode(v)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			return fn(r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decode 按 columns() 的顺序解析一行。分类空值记为 NullIndex，连续空值记为 0。
func (s *ParquetSource) decode(v []any) (Row, error) {
	label, ok := conv.ToFloat64(v[0])
	if !ok {
		return Row{}, core.NewDomainError(core.ModuleTrain, core.ErrorCodeInvalidInput,
			fmt.Sprintf("label %q: unexpected value %v", s.Columns.Label, v[0]))
	}
	r := Row{
		Label: label,
		Cat:   make([]int32, len(s.Columns.Categorical)),
		Cont:  make([]float64, len(s.Columns.Continuous)),
	}
	i := 1
	if s.Columns.Group != "" {
		r.Group, _ = conv.ToInt64(v[i])
		i++
	}
	for j := range r.Cat {
		if n, ok := conv.ToInt64(v[i]); ok {
			r.Cat[j] = int32(n)
		} else {
			r.Cat[j] = feature.NullIndex
		}
		i++
	}
	for j := range r.Cont {
		r.Cont[j], _ = conv.ToFloat64(v[i])
		i++
	}
	return r, nil
}
