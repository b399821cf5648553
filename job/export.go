package job

import (
	"context"
	"time"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/metrics"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/store"
)

// Export 把统计目录中的编码结果（Categorify 词表、目标编码、中位数）与 schema.json
// 推送到 Redis，供线上特征服务按同一套编码取特征。
func (r *Runner) Export(ctx context.Context) (int, error) {
	rs := r.Settings.Redis
	dst, err := store.NewRedisStore(rs.Addr, rs.DB, rs.Prefix)
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	return r.ExportTo(ctx, dst)
}

// ExportTo 先用当前工作流加载统计量，确认与工作流定义匹配后再整体写入 dst。
func (r *Runner) ExportTo(ctx context.Context, dst core.Store) (int, error) {
	start := time.Now()
	defer metrics.ObserveStage("export", start)

	src := store.NewFileStore(r.Settings.Paths.StatsDir)
	w, err := config.BuildWorkflow(r.Settings.Workflow.Path)
	if err != nil {
		return 0, err
	}
	if err := w.LoadStats(ctx, src); err != nil {
		return 0, err
	}

	keys := []string{pipeline.MetadataKey}
	for i, op := range w.Ops {
		if _, ok := op.(pipeline.StatefulOp); ok {
			keys = append(keys, w.StatsKey(i))
		}
	}
	kvs, err := src.BatchGet(ctx, keys)
	if err != nil {
		return 0, err
	}
	if _, ok := kvs[pipeline.MetadataKey]; !ok {
		return 0, core.WrapDomainError(core.ModuleStore, core.ErrorCodeNotFound, "export: "+pipeline.MetadataKey, core.ErrStoreNotFound)
	}

	var ttl []int
	if t := r.Settings.Redis.TTLSeconds; t > 0 {
		ttl = append(ttl, t)
	}
	if err := dst.BatchSet(ctx, kvs, ttl...); err != nil {
		return 0, err
	}
	metrics.AddRows("export", len(kvs))
	r.log.Info().Str("store", dst.Name()).Int("keys", len(kvs)).Dur("took", time.Since(start)).Msg("export done")
	return len(kvs), nil
}
