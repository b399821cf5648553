package ingest

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/frame"
	"github.com/rushteam/ctrkit/pkg/conv"
)

// appendCheckRows 是 Appender 写入时检查 ctx 的间隔行数。
const appendCheckRows = 1 << 14

// kindOf 把 DuckDB 类型名映射为列类型。
func kindOf(dbType string) frame.Kind {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT"):
		return frame.KindInt
	case strings.Contains(t, "DOUBLE"), strings.Contains(t, "FLOAT"),
		strings.Contains(t, "DECIMAL"), strings.Contains(t, "REAL"):
		return frame.KindFloat
	default:
		return frame.KindString
	}
}

func sqlType(k frame.Kind) string {
	switch k {
	case frame.KindInt:
		return "BIGINT"
	case frame.KindFloat:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// columnBuilder 逐行累积一列。
type columnBuilder struct {
	name  string
	kind  frame.Kind
	str   []string
	ints  []int64
	flt   []float64
	valid []bool
	nulls int
}

func (b *columnBuilder) append(v any) error {
	ok := v != nil
	switch b.kind {
	case frame.KindInt:
		var n int64
		if ok {
			if n, ok = conv.ToInt64(v); !ok {
				return fmt.Errorf("column %s: cannot convert %T to int", b.name, v)
			}
		}
		b.ints = append(b.ints, n)
	case frame.KindFloat:
		var f float64
		if ok {
			if f, ok = conv.ToFloat64(v); !ok {
				return fmt.Errorf("column %s: cannot convert %T to float", b.name, v)
			}
		}
		b.flt = append(b.flt, f)
	default:
		s, _ := conv.ToString(v)
		b.str = append(b.str, s)
	}
	if !ok {
		b.nulls++
	}
	b.valid = append(b.valid, ok)
	return nil
}

func (b *columnBuilder) column() *frame.Column {
	valid := b.valid
	if b.nulls == 0 {
		valid = nil
	}
	switch b.kind {
	case frame.KindInt:
		return frame.NewIntColumn(b.name, b.ints, valid)
	case frame.KindFloat:
		return frame.NewFloatColumn(b.name, b.flt, valid)
	default:
		return frame.NewStringColumn(b.name, b.str, valid)
	}
}

// ReadFrame 把查询结果（或整张表）读成 Frame。
func (db *DB) ReadFrame(ctx context.Context, source string) (*frame.Frame, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, "SELECT * FROM "+relation(source))
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", firstLine(source), err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	builders := make([]*columnBuilder, len(types))
	for i, t := range types {
		builders[i] = &columnBuilder{name: t.Name(), kind: kindOf(t.DatabaseTypeName())}
	}
	err = scanRows(rows, func(row []any) error {
		for i, v := range row {
			if err := builders[i].append(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, "read frame", err)
	}

	cols := make([]*frame.Column, len(builders))
	for i, b := range builders {
		cols[i] = b.column()
	}
	f, err := frame.New(cols...)
	if err != nil {
		return nil, err
	}
	db.log.Debug().Str("source", firstLine(source)).Int("rows", f.Len()).Dur("took", time.Since(start)).Msg("frame read")
	return f, nil
}

// WriteFrame 把 Frame 写入（替换）一张表，通过 DuckDB Appender 批量写入。
func (db *DB) WriteFrame(ctx context.Context, table string, f *frame.Frame) error {
	start := time.Now()
	cols := f.Columns()
	if len(cols) == 0 {
		return core.NewDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, "write frame: no columns")
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = ident(c.Name) + " " + sqlType(c.Kind)
	}
	create := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", ident(table), strings.Join(defs, ", "))
	if err := db.Exec(ctx, create); err != nil {
		return err
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	n := f.Len()
	err = conn.Raw(func(dc any) error {
		a, err := duckdb.NewAppenderFromConn(dc.(driver.Conn), "", table)
		if err != nil {
			return err
		}
		row := make([]driver.Value, len(cols))
		for i := 0; i < n; i++ {
			if i%appendCheckRows == 0 {
				if err := ctx.Err(); err != nil {
					_ = a.Close()
					return err
				}
			}
			for j, c := range cols {
				row[j] = c.Value(i)
			}
			if err := a.AppendRow(row...); err != nil {
				_ = a.Close()
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
		// Close 会把剩余数据 flush 到表中
		return a.Close()
	})
	if err != nil {
		return fmt.Errorf("append into %s: %w", table, err)
	}
	db.log.Debug().Str("table", table).Int("rows", n).Dur("took", time.Since(start)).Msg("frame written")
	return nil
}
