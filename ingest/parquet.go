package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/metrics"
)

// PersistOptions 控制 Parquet 输出。
type PersistOptions struct {
	Files   int  // 分区数（hive 分区 part=0..Files-1）
	Shuffle bool // 打乱行序并随机分配分区
}

// Persist 把表或查询写成 ZSTD 压缩的分区 Parquet，返回写出的行数。
// dir 中已有的内容会被清空。
func (db *DB) Persist(ctx context.Context, source, dir string, opts PersistOptions) (int64, error) {
	start := time.Now()
	defer metrics.ObserveStage("persist", start)

	files := opts.Files
	if files < 1 {
		files = 1
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("clean %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	var inner string
	if opts.Shuffle {
		inner = fmt.Sprintf("SELECT *, CAST(floor(random() * %d) AS INTEGER) AS part FROM %s ORDER BY random()",
			files, relation(source))
	} else {
		inner = fmt.Sprintf("SELECT *, CAST((row_number() OVER () - 1) %% %d AS INTEGER) AS part FROM %s",
			files, relation(source))
	}
	q := fmt.Sprintf(`COPY (%s) TO %s (
	FORMAT PARQUET,
	COMPRESSION 'ZSTD',
	ROW_GROUP_SIZE 100000,
	PARTITION_BY (part),
	OVERWRITE_OR_IGNORE true
)`, inner, quote(dir))
	if err := db.Exec(ctx, q); err != nil {
		return 0, fmt.Errorf("persist %s: %w", dir, err)
	}

	n, err := db.CountRows(ctx, source)
	if err != nil {
		return 0, err
	}
	metrics.AddRows("persist", int(n))
	db.log.Info().Str("dir", dir).Int64("rows", n).Int("files", files).Dur("took", time.Since(start)).Msg("parquet written")
	return n, nil
}

// ParquetFiles 递归列出目录下的 .parquet 文件（按路径排序）。
func ParquetFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".parquet") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeNotFound, "parquet dir "+dir, err)
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, core.NewDomainError(core.ModuleIngest, core.ErrorCodeNotFound, "no parquet files in "+dir)
	}
	sort.Strings(out)
	return out, nil
}

// ParquetRelation 返回读取 Parquet 文件（或 glob）的表函数，不解析 hive 分区列。
func ParquetRelation(path string) string {
	return fmt.Sprintf("read_parquet(%s, hive_partitioning = false)", quote(path))
}

// ParquetDirRelation 返回读取整个输出目录的表函数。
func ParquetDirRelation(dir string) string {
	return ParquetRelation(filepath.Join(dir, "**", "*.parquet"))
}

// ScanParquet 流式读取一个 Parquet 文件的指定列，每行回调一次。
// row 在回调之间复用，回调需要保留时应自行拷贝。
func (db *DB) ScanParquet(ctx context.Context, file string, cols []string, fn func(row []any) error) error {
	sel := "*"
	if len(cols) > 0 {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = ident(c)
		}
		sel = strings.Join(quoted, ", ")
	}
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", sel, ParquetRelation(file)))
	if err != nil {
		return fmt.Errorf("scan %s: %w", file, err)
	}
	defer rows.Close()
	return scanRows(rows, fn)
}

func scanRows(rows *sql.Rows, fn func(row []any) error) error {
	names, err := rows.Columns()
	if err != nil {
		return err
	}
	row := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range row {
		ptrs[i] = &row[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
