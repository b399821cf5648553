package train

import (
	"context"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/model"
)

// DefaultShuffleBuffer 是默认的 shuffle buffer 行数。
const DefaultShuffleBuffer = 1 << 16

// Loader 把 Source 的行打散并组装成批次。
//
// 读取在独立的 goroutine 中进行，通过有界 channel 把批次交给调用方；
// 调用方回调出错或 ctx 取消时读取随之停止。
// ShuffleBuffer <= 1 时不打散，按 Source 顺序输出（验证集使用）。
type Loader struct {
	Source        Source
	BatchSize     int
	ShuffleBuffer int
	Seed          int64
}

// Run 执行一个 epoch：每行恰好输出一次，除最后一个外每个批次都是 BatchSize 行。
// fn 在调用方 goroutine 中顺序执行；批次在 fn 返回后不再被 Loader 使用。
func (l *Loader) Run(ctx context.Context, epoch int, fn func(*model.Batch) error) error {
	if l.BatchSize <= 0 {
		return core.NewDomainError(core.ModuleTrain, core.ErrorCodeInvalidInput, "loader: batch size must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	batches := make(chan *model.Batch, 2)
	eg.Go(func() error {
		defer close(batches)
		return l.produce(ctx, epoch, batches)
	})

	var consumeErr error
	for b := range batches {
		if consumeErr != nil {
			continue
		}
		if err := fn(b); err != nil {
			consumeErr = err
			cancel()
		}
	}
	if err := eg.Wait(); err != nil && consumeErr == nil {
		return err
	}
	return consumeErr
}

func (l *Loader) produce(ctx context.Context, epoch int, out chan<- *model.Batch) error {
	rng := rand.New(rand.NewPCG(uint64(l.Seed), uint64(epoch)))
	b := newBatch(l.BatchSize)
	send := func() error {
		select {
		case out <- b:
			b = newBatch(l.BatchSize)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	emit := func(r Row) error {
		b.Append(r.Cat, r.Cont, r.Label, r.Group)
		if b.Len() == l.BatchSize {
			return send()
		}
		return nil
	}

	size := l.ShuffleBuffer
	var buf []Row
	if size > 1 {
		buf = make([]Row, 0, size)
	}
	err := l.Source.Scan(ctx, epoch, func(r Row) error {
		if size <= 1 {
			return emit(r)
		}
		if len(buf) < size {
			buf = append(buf, r)
			return nil
		}
		// buffer 已满：随机换出一行
		i := rng.IntN(size)
		r, buf[i] = buf[i], r
		return emit(r)
	})
	if err != nil {
		return err
	}

	rng.Shuffle(len(buf), func(i, j int) { buf[i], buf[j] = buf[j], buf[i] })
	for _, r := range buf {
		if err := emit(r); err != nil {
			return err
		}
	}
	if b.Len() > 0 {
		return send()
	}
	return nil
}

func newBatch(size int) *model.Batch {
	return &model.Batch{
		Cat:   make([][]int32, 0, size),
		Cont:  make([][]float64, 0, size),
		Label: make([]float64, 0, size),
		Group: make([]int64, 0, size),
	}
}
