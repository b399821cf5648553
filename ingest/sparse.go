package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/ctrkit/core"
	"github.com/rushteam/ctrkit/pkg/conv"
	"github.com/rushteam/ctrkit/sparse"
)

// SideTable 描述一张文档侧表到稀疏矩阵的映射。
type SideTable struct {
	Matrix string // 矩阵名（cosine_sim 的 matrix 配置）
	Table  string
	Key    string // 行：文档 id
	Term   string // 列：类目 / 主题 / 实体
	Weight string // 置信度
}

// SideTables 是三张文档侧表。
var SideTables = []SideTable{
	{Matrix: "categories", Table: "documents_categories", Key: "document_id", Term: "category_id", Weight: "confidence_level"},
	{Matrix: "topics", Table: "documents_topics", Key: "document_id", Term: "topic_id", Weight: "confidence_level"},
	{Matrix: "entities", Table: "documents_entities", Key: "document_id", Term: "entity_id", Weight: "confidence_level"},
}

// LoadSparse 把侧表读成 COO 三元组并构建 CSR 矩阵（未加权）。
// 词项列统一按字符串读出并经 Vocab 映射为列号，整数 id 与实体哈希串走同一路径。
func (db *DB) LoadSparse(ctx context.Context, t SideTable) (*sparse.Matrix, error) {
	q := fmt.Sprintf("SELECT %s, CAST(%s AS VARCHAR), %s FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL",
		ident(t.Key), ident(t.Term), ident(t.Weight), ident(t.Table), ident(t.Key), ident(t.Term))
	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load sparse %s: %w", t.Table, err)
	}
	defer rows.Close()

	vocab := sparse.NewVocab()
	b := sparse.NewBuilder()
	err = scanRows(rows, func(row []any) error {
		id, ok := conv.ToInt64(row[0])
		if !ok {
			return fmt.Errorf("%s.%s: unexpected %T", t.Table, t.Key, row[0])
		}
		term, _ := conv.ToString(row[1])
		w, ok := conv.ToFloat64(row[2])
		if !ok {
			w = 1
		}
		b.Add(id, vocab.ID(term), w)
		return nil
	})
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleIngest, core.ErrorCodeInvalidInput, "scan "+t.Table, err)
	}
	return b.Build(), nil
}

// LoadSideMatrices 并发构建三张侧表的 TF-IDF 矩阵，以矩阵名为 key。
func (db *DB) LoadSideMatrices(ctx context.Context) (map[string]*sparse.Matrix, error) {
	start := time.Now()
	var mu sync.Mutex
	out := make(map[string]*sparse.Matrix, len(SideTables))

	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range SideTables {
		eg.Go(func() error {
			m, err := db.LoadSparse(ctx, t)
			if err != nil {
				return err
			}
			m = m.TFIDF()
			mu.Lock()
			out[t.Matrix] = m
			mu.Unlock()
			db.log.Info().Str("matrix", t.Matrix).Int("rows", m.NumRows()).Int("cols", m.NumCols).
				Int("nnz", m.NNZ()).Msg("side matrix built")
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	db.log.Debug().Dur("took", time.Since(start)).Msg("side matrices loaded")
	return out, nil
}
