// Package ctrkit 是一个点击率预估工具包（CTR Kit），面向 Outbrain 点击预测数据集。
//
// 设计要点：
// - DuckDB-first: CSV 解析、多表 join、切分与 Parquet 读写全部交给嵌入式 DuckDB
// - Workflow-first: 特征工程由 YAML 定义的 Op 链完成（Categorify → TargetEncode → CosineSim ...）
// - 统计量外置: 拟合结果写入 core.Store，训练、导出与线上服务共享同一套编码
// - Wide&Deep: Wide 侧 FTRL，Deep 侧 embedding + MLP（Adam），单进程训练
package ctrkit

import (
	"github.com/rushteam/ctrkit/model"
	"github.com/rushteam/ctrkit/pipeline"
)

// 轻量 facade：便于用户直接 import "ctrkit" 使用核心抽象。
type Workflow = pipeline.Workflow
type Op = pipeline.Op
type Kind = pipeline.Kind
type Metadata = pipeline.Metadata
type Model = model.WideDeepModel

const (
	KindTransform  = pipeline.KindTransform
	KindFill       = pipeline.KindFill
	KindEncode     = pipeline.KindEncode
	KindSimilarity = pipeline.KindSimilarity
)
