package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/metrics"
)

// ColumnDef 是 CSV 的一列。
type ColumnDef struct {
	Name string
	Type string // DuckDB 类型
}

// TableDef 是固定 schema 的输入表。
type TableDef struct {
	Name    string
	File    string
	Columns []ColumnDef
}

// Tables 是七个输入 CSV 的 schema。
// platform 按 VARCHAR 读取：原始数据中包含 "\N"。
var Tables = []TableDef{
	{Name: "clicks_train", File: "clicks_train.csv", Columns: []ColumnDef{
		{"display_id", "BIGINT"}, {"ad_id", "BIGINT"}, {"clicked", "BIGINT"},
	}},
	{Name: "events", File: "events.csv", Columns: []ColumnDef{
		{"display_id", "BIGINT"}, {"uuid", "VARCHAR"}, {"document_id", "BIGINT"},
		{"timestamp", "BIGINT"}, {"platform", "VARCHAR"}, {"geo_location", "VARCHAR"},
	}},
	{Name: "promoted_content", File: "promoted_content.csv", Columns: []ColumnDef{
		{"ad_id", "BIGINT"}, {"document_id", "BIGINT"}, {"campaign_id", "BIGINT"}, {"advertiser_id", "BIGINT"},
	}},
	{Name: "documents_meta", File: "documents_meta.csv", Columns: []ColumnDef{
		{"document_id", "BIGINT"}, {"source_id", "BIGINT"}, {"publisher_id", "BIGINT"}, {"publish_time", "VARCHAR"},
	}},
	{Name: "documents_categories", File: "documents_categories.csv", Columns: []ColumnDef{
		{"document_id", "BIGINT"}, {"category_id", "BIGINT"}, {"confidence_level", "DOUBLE"},
	}},
	{Name: "documents_topics", File: "documents_topics.csv", Columns: []ColumnDef{
		{"document_id", "BIGINT"}, {"topic_id", "BIGINT"}, {"confidence_level", "DOUBLE"},
	}},
	{Name: "documents_entities", File: "documents_entities.csv", Columns: []ColumnDef{
		{"document_id", "BIGINT"}, {"entity_id", "VARCHAR"}, {"confidence_level", "DOUBLE"},
	}},
}

// 表名常量。
const (
	TableMerged   = "merged"
	TableTrainRaw = "train_raw"
	TableValidRaw = "valid_raw"
)

func (t TableDef) columnsLiteral() string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = quote(c.Name) + ": " + quote(c.Type)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// LoadTable 把一个 CSV 读成同名表。文件不存在返回 NOT_FOUND。
func (db *DB) LoadTable(ctx context.Context, dir string, t TableDef) (int64, error) {
	path := filepath.Join(dir, t.File)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeNotFound, "input file "+path, err)
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	q := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv(%s, header = true, columns = %s)",
		ident(t.Name), quote(path), t.columnsLiteral())
	if err := db.Exec(ctx, q); err != nil {
		return 0, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, "load "+t.File, err)
	}
	return db.CountRows(ctx, t.Name)
}

// LoadTables 并发读取全部输入 CSV。
func (db *DB) LoadTables(ctx context.Context, dir string) error {
	start := time.Now()
	defer metrics.ObserveStage("load_tables", start)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(3)
	for _, t := range Tables {
		eg.Go(func() error {
			n, err := db.LoadTable(ctx, dir, t)
			if err != nil {
				return err
			}
			metrics.AddRows("load_"+t.Name, int(n))
			db.log.Info().Str("table", t.Name).Int64("rows", n).Msg("table loaded")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	db.log.Info().Dur("took", time.Since(start)).Msg("all tables loaded")
	return nil
}

// mergeSQL 以 clicks_train 为主表依次 left join，保留每一行点击记录。
// 不带后缀的 source_id / publisher_id / publish_time 描述事件文档，*_promo 描述广告落地文档。
const mergeSQL = `CREATE OR REPLACE TABLE merged AS
SELECT
	c.display_id,
	c.ad_id,
	c.clicked,
	e.uuid,
	e.document_id,
	e."timestamp",
	nullif(e.platform, '\N') AS platform,
	e.geo_location,
	p.document_id AS document_id_promo,
	p.campaign_id,
	p.advertiser_id,
	m.source_id,
	m.publisher_id,
	m.publish_time,
	mp.source_id AS source_id_promo,
	mp.publisher_id AS publisher_id_promo,
	mp.publish_time AS publish_time_promo
FROM clicks_train c
LEFT JOIN events e ON c.display_id = e.display_id
LEFT JOIN promoted_content p ON c.ad_id = p.ad_id
LEFT JOIN documents_meta mp ON p.document_id = mp.document_id
LEFT JOIN documents_meta m ON e.document_id = m.document_id`

// MergedColumns 是合并表的列顺序。
var MergedColumns = []string{
	"display_id", "ad_id", "clicked", "uuid", "document_id", "timestamp", "platform", "geo_location",
	"document_id_promo", "campaign_id", "advertiser_id", "source_id", "publisher_id", "publish_time",
	"source_id_promo", "publisher_id_promo", "publish_time_promo",
}

// Merge 生成 merged 表，返回行数。
func (db *DB) Merge(ctx context.Context) (int64, error) {
	start := time.Now()
	defer metrics.ObserveStage("merge", start)

	if err := db.Exec(ctx, mergeSQL); err != nil {
		return 0, err
	}
	n, err := db.CountRows(ctx, TableMerged)
	if err != nil {
		return 0, err
	}
	metrics.AddRows("merge", int(n))
	db.log.Info().Int64("rows", n).Dur("took", time.Since(start)).Msg("tables merged")
	return n, nil
}

// SplitOptions 是训练/验证切分参数。
type SplitOptions struct {
	ValidDayCutoff int     // 该天及以后全部进入验证集
	ValidFraction  float64 // 之前各天按 display 抽样进入验证集的比例
	Seed           int64
}

// DefaultSplitOptions 返回默认切分参数。
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{ValidDayCutoff: 11, ValidFraction: 0.2, Seed: 1234}
}

// Split 把 merged 切成 train_raw / valid_raw。
//
// day_event = timestamp / 86400000；sample 由 hash(display_id, seed) 得到 [0,1) 的均匀值，
// 同一个 display 的所有广告落在同一侧。缺失时间戳按第 0 天处理。
func (db *DB) Split(ctx context.Context, opts SplitOptions) (train, valid int64, err error) {
	start := time.Now()
	defer metrics.ObserveStage("split", start)

	if opts.ValidFraction < 0 || opts.ValidFraction >= 1 {
		return 0, 0, core.NewDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput,
			fmt.Sprintf("valid fraction %v out of [0,1)", opts.ValidFraction))
	}
	stmts := []string{
		fmt.Sprintf(`CREATE OR REPLACE TABLE split_tmp AS
SELECT *,
	CAST(coalesce("timestamp", 0) // 86400000 AS BIGINT) AS day_event,
	CAST(hash(display_id, %d) %% 1000000 AS DOUBLE) / 1000000.0 AS sample
FROM merged`, opts.Seed),
		fmt.Sprintf(`CREATE OR REPLACE TABLE train_raw AS
SELECT * EXCLUDE (day_event, sample) FROM split_tmp
WHERE day_event < %d AND sample >= %g`, opts.ValidDayCutoff, opts.ValidFraction),
		fmt.Sprintf(`CREATE OR REPLACE TABLE valid_raw AS
SELECT * EXCLUDE (day_event, sample) FROM split_tmp
WHERE (day_event <= %d AND sample < %g) OR day_event >= %d`,
			opts.ValidDayCutoff-1, opts.ValidFraction, opts.ValidDayCutoff),
		"DROP TABLE split_tmp",
	}
	for _, q := range stmts {
		if err := db.Exec(ctx, q); err != nil {
			return 0, 0, err
		}
	}
	if train, err = db.CountRows(ctx, TableTrainRaw); err != nil {
		return 0, 0, err
	}
	if valid, err = db.CountRows(ctx, TableValidRaw); err != nil {
		return 0, 0, err
	}
	db.log.Info().Int64("train", train).Int64("valid", valid).Dur("took", time.Since(start)).Msg("split done")
	return train, valid, nil
}
