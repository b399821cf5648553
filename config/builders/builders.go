package builders

import (
	"fmt"

	"github.com/rushteam/ctrkit/config"
	"github.com/rushteam/ctrkit/feature"
	"github.com/rushteam/ctrkit/pipeline"
	"github.com/rushteam/ctrkit/pkg/conv"
)

func init() {
	config.Register("feature.slice", BuildSliceOp)
	config.Register("feature.date_delta", BuildDateDeltaOp)
	config.Register("feature.fill_median", BuildFillMedianOp)
	config.Register("feature.categorify", BuildCategorifyOp)
	config.Register("feature.target_encode", BuildTargetEncodeOp)
	config.Register("feature.log", BuildLogOp)
	config.Register("feature.cosine_sim", BuildCosineSimOp)
	config.Register("feature.lambda", BuildLambdaOp)
	config.Register("feature.clip", BuildClipOp)
}

func requireString(cfg map[string]any, key string) (string, error) {
	v := conv.ConfigGet(cfg, key, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func requireColumns(cfg map[string]any) ([]string, error) {
	cols := conv.ConfigGetStrings(cfg, "columns")
	if len(cols) == 0 {
		return nil, fmt.Errorf("columns is required")
	}
	return cols, nil
}

func BuildSliceOp(cfg map[string]any) (pipeline.Op, error) {
	column, err := requireString(cfg, "column")
	if err != nil {
		return nil, err
	}
	return &feature.Slice{
		Column: column,
		Output: conv.ConfigGet(cfg, "output", column),
		Start:  int(conv.ConfigGetInt64(cfg, "start", 0)),
		End:    int(conv.ConfigGetInt64(cfg, "end", 0)),
	}, nil
}

func BuildDateDeltaOp(cfg map[string]any) (pipeline.Op, error) {
	column, err := requireString(cfg, "column")
	if err != nil {
		return nil, err
	}
	return &feature.DateDelta{
		Column:          column,
		TimestampColumn: conv.ConfigGet(cfg, "timestamp_column", "timestamp"),
		OffsetMillis:    conv.ConfigGetInt64(cfg, "offset_millis", feature.DefaultOffsetMillis),
		MaxDays:         int(conv.ConfigGetInt64(cfg, "max_days", feature.DefaultMaxDays)),
		Output:          conv.ConfigGet(cfg, "output", ""),
	}, nil
}

func BuildFillMedianOp(cfg map[string]any) (pipeline.Op, error) {
	cols, err := requireColumns(cfg)
	if err != nil {
		return nil, err
	}
	return &feature.FillMedian{Columns: cols}, nil
}

func BuildCategorifyOp(cfg map[string]any) (pipeline.Op, error) {
	cols, err := requireColumns(cfg)
	if err != nil {
		return nil, err
	}
	return &feature.Categorify{
		Columns:       cols,
		FreqThreshold: conv.ConfigGetInt64(cfg, "freq_threshold", feature.DefaultFreqThreshold),
	}, nil
}

func BuildTargetEncodeOp(cfg map[string]any) (pipeline.Op, error) {
	cols, err := requireColumns(cfg)
	if err != nil {
		return nil, err
	}
	pSmooth := conv.ConfigGetFloat64(cfg, "p_smooth", feature.DefaultPSmooth)
	if pSmooth < 0 {
		return nil, fmt.Errorf("p_smooth must be >= 0, got %v", pSmooth)
	}
	return &feature.TargetEncode{
		Columns: cols,
		Target:  conv.ConfigGet(cfg, "target", "clicked"),
		KFold:   int(conv.ConfigGetInt64(cfg, "kfold", feature.DefaultKFold)),
		PSmooth: pSmooth,
		Seed:    conv.ConfigGetInt64(cfg, "seed", 0),
	}, nil
}

func BuildLogOp(cfg map[string]any) (pipeline.Op, error) {
	cols, err := requireColumns(cfg)
	if err != nil {
		return nil, err
	}
	return &feature.Log{Columns: cols}, nil
}

func BuildCosineSimOp(cfg map[string]any) (pipeline.Op, error) {
	op := &feature.CosineSim{
		Left:   conv.ConfigGet(cfg, "left", "document_id"),
		Right:  conv.ConfigGet(cfg, "right", "document_id_promo"),
		Output: conv.ConfigGet(cfg, "output", ""),
	}
	matrix, err := requireString(cfg, "matrix")
	if err != nil {
		return nil, err
	}
	op.Matrix = matrix
	if op.Output == "" {
		op.Output = "doc_event_doc_ad_sim_" + matrix
	}
	return op, nil
}

func BuildLambdaOp(cfg map[string]any) (pipeline.Op, error) {
	expr, err := requireString(cfg, "expr")
	if err != nil {
		return nil, err
	}
	column := conv.ConfigGet(cfg, "column", "")
	output := conv.ConfigGet(cfg, "output", "")
	if column == "" && output == "" {
		return nil, fmt.Errorf("lambda needs column or output")
	}
	return feature.NewLambda(column, output, expr, conv.ConfigGet(cfg, "kind", "string"),
		conv.ConfigGetStrings(cfg, "inputs"))
}

func BuildClipOp(cfg map[string]any) (pipeline.Op, error) {
	cols, err := requireColumns(cfg)
	if err != nil {
		return nil, err
	}
	op := &feature.Clip{Columns: cols}
	if v, ok := conv.ToFloat64(cfg["min"]); ok {
		op.Min = &v
	}
	if v, ok := conv.ToFloat64(cfg["max"]); ok {
		op.Max = &v
	}
	if op.Min != nil && op.Max != nil && *op.Min > *op.Max {
		return nil, fmt.Errorf("clip: min %v > max %v", *op.Min, *op.Max)
	}
	return op, nil
}
