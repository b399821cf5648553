// Package ingest 负责原始 CSV 的读取、合并、切分与 Parquet 读写。
//
// 关系型的重活（CSV 解析、多表 join、Parquet 编解码）全部交给嵌入式 DuckDB；
// Go 侧只负责编排 SQL 并在 DuckDB 与 frame.Frame 之间搬运数据。
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pkg/logging"
)

// Options 是 DuckDB 连接参数。
type Options struct {
	Path      string // 数据库文件，为空使用内存库
	Threads   int    // 0 = runtime.NumCPU()
	MaxMemory string // 如 "8GB"，为空不限制
	TempDir   string // 溢写目录
}

// DB 封装一个 DuckDB 连接池。
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open 打开 DuckDB 并检查连通性。
func Open(ctx context.Context, opts Options) (*DB, error) {
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	params := url.Values{}
	params.Set("threads", fmt.Sprint(threads))
	if opts.MaxMemory != "" {
		params.Set("max_memory", opts.MaxMemory)
	}
	if opts.TempDir != "" {
		params.Set("temp_directory", opts.TempDir)
	}
	// 禁止自动下载扩展，避免在无网络环境中卡住；Parquet 与 CSV 为内置功能
	params.Set("autoinstall_known_extensions", "false")
	connStr := opts.Path + "?" + params.Encode()

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, "open duckdb", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeUnavailable, "ping duckdb", err)
	}

	db := &DB{conn: conn, log: logging.Component("ingest")}
	db.log.Debug().Str("path", opts.Path).Int("threads", threads).Str("max_memory", opts.MaxMemory).Msg("duckdb opened")
	return db, nil
}

// Conn 返回底层 *sql.DB。
func (db *DB) Conn() *sql.DB { return db.conn }

// Close 关闭连接池。
func (db *DB) Close() error { return db.conn.Close() }

// Exec 执行一条 SQL。
func (db *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec %q: %w", firstLine(query), err)
	}
	return nil
}

// CountRows 返回表或子查询的行数。
func (db *DB) CountRows(ctx context.Context, source string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT count(*) FROM %s", relation(source))
	if err := db.conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", source, err)
	}
	return n, nil
}

// quote 生成 SQL 字符串字面量。
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ident 生成带引号的标识符。
func ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// relation 把表名或 SELECT 语句转为可放在 FROM 后的关系。
func relation(source string) string {
	s := strings.TrimSpace(source)
	if len(s) > 6 && strings.EqualFold(s[:6], "select") {
		return "(" + s + ")"
	}
	return ident(s)
}

func firstLine(q string) string {
	q = strings.TrimSpace(q)
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return q[:i] + " ..."
	}
	return q
}
