package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/ctrkit/pkg/logging"
)

// DefaultSettingsPaths 按优先级列出配置文件的查找路径，使用第一个存在的文件。
var DefaultSettingsPaths = []string{
	"ctrkit.yaml",
	"ctrkit.yml",
	"/etc/ctrkit/ctrkit.yaml",
}

// ConfigPathEnvVar 可覆盖配置文件路径。
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix 开头的环境变量按 CTRKIT_<SECTION>_<KEY> 映射为 section.key。
const envPrefix = "ctrkit_"

// Settings 是应用配置：默认值 < 配置文件 < 环境变量。
type Settings struct {
	Paths    PathsSettings    `koanf:"paths"`
	DuckDB   DuckDBSettings   `koanf:"duckdb"`
	Split    SplitSettings    `koanf:"split"`
	Workflow WorkflowSettings `koanf:"workflow"`
	Model    ModelSettings    `koanf:"model"`
	Train    TrainSettings    `koanf:"train"`
	Redis    RedisSettings    `koanf:"redis"`
	Metrics  MetricsSettings  `koanf:"metrics"`
	Logging  logging.Config   `koanf:"logging"`
}

// PathsSettings 是输入输出目录。
type PathsSettings struct {
	InputDir  string `koanf:"input_dir"`  // 七个 CSV 所在目录
	OutputDir string `koanf:"output_dir"` // train_raw / valid_raw / train / valid
	StatsDir  string `koanf:"stats_dir"`  // 算子统计量与 schema.json
	ModelDir  string `koanf:"model_dir"`  // 模型 checkpoint
}

// DuckDBSettings 对应 DuckDB 的资源设置。
type DuckDBSettings struct {
	Path      string `koanf:"path"`       // 为空时使用内存数据库
	Threads   int    `koanf:"threads"`    // 0 = runtime.NumCPU()
	MaxMemory string `koanf:"max_memory"` // 如 "4GB"，为空不限制
	TempDir   string `koanf:"temp_dir"`
}

// SplitSettings 是训练/验证切分参数。
type SplitSettings struct {
	ValidDayCutoff int     `koanf:"valid_day_cutoff"`
	ValidFraction  float64 `koanf:"valid_fraction"`
	Seed           int64   `koanf:"seed"`
}

// WorkflowSettings 是特征工作流与输出设置。
type WorkflowSettings struct {
	Path     string `koanf:"path"`      // 为空时使用内置 workflow.yaml
	OutFiles int    `koanf:"out_files"` // 每个数据集输出的 Parquet 分区数
	Shuffle  bool   `koanf:"shuffle"`   // 写出时打乱行序
}

// ModelSettings 是 Wide&Deep 的结构与优化器参数。
type ModelSettings struct {
	HiddenUnits  []int   `koanf:"hidden_units"`
	Dropout      float64 `koanf:"dropout"`
	EmbeddingMin int     `koanf:"embedding_min"`
	EmbeddingMax int     `koanf:"embedding_max"`
	DeepLR       float64 `koanf:"deep_lr"`
	WideAlpha    float64 `koanf:"wide_alpha"`
	WideBeta     float64 `koanf:"wide_beta"`
	WideL1       float64 `koanf:"wide_l1"`
	WideL2       float64 `koanf:"wide_l2"`
	Seed         int64   `koanf:"seed"`
}

// TrainSettings 是训练循环参数。
type TrainSettings struct {
	Epochs        int   `koanf:"epochs"`
	BatchSize     int   `koanf:"batch_size"`
	ShuffleBuffer int   `koanf:"shuffle_buffer"`
	ValidEvery    int   `koanf:"valid_every"` // 每隔多少步验证一次，0 表示只在 epoch 结束时验证
	LogEvery      int   `koanf:"log_every"`
	Seed          int64 `koanf:"seed"`
}

// RedisSettings 是 export 命令的目标。
type RedisSettings struct {
	Addr       string `koanf:"addr"`
	DB         int    `koanf:"db"`
	Prefix     string `koanf:"prefix"`
	TTLSeconds int    `koanf:"ttl_seconds"`
}

// MetricsSettings 控制 Prometheus textfile 输出。
type MetricsSettings struct {
	Textfile string `koanf:"textfile"` // 为空不写
}

// DefaultSettings 返回默认配置。
func DefaultSettings() *Settings {
	return &Settings{
		Paths: PathsSettings{
			InputDir:  "/raid/data/outbrain/orig",
			OutputDir: "/raid/data/outbrain/output",
			StatsDir:  "/raid/data/outbrain/stats",
			ModelDir:  "/raid/data/outbrain/model",
		},
		DuckDB: DuckDBSettings{
			Threads:   0,
			MaxMemory: "",
		},
		Split: SplitSettings{
			ValidDayCutoff: 11,
			ValidFraction:  0.2,
			Seed:           1234,
		},
		Workflow: WorkflowSettings{
			OutFiles: 8,
			Shuffle:  true,
		},
		Model: ModelSettings{
			HiddenUnits:  []int{1024, 512, 256},
			Dropout:      0,
			EmbeddingMin: 16,
			EmbeddingMax: 512,
			DeepLR:       0.00048,
			WideAlpha:    0.05,
			WideBeta:     1,
			WideL1:       0,
			WideL2:       0,
			Seed:         1234,
		},
		Train: TrainSettings{
			Epochs:        1,
			BatchSize:     131072,
			ShuffleBuffer: 1 << 16,
			ValidEvery:    0,
			LogEvery:      50,
			Seed:          1234,
		},
		Redis: RedisSettings{
			Addr:   "localhost:6379",
			Prefix: "ctrkit:",
		},
		Logging: logging.Config{
			Level:     "info",
			Format:    "json",
			Timestamp: true,
		},
	}
}

// LoadSettings 加载配置；path 为空时依次查找 CONFIG_PATH 与 DefaultSettingsPaths。
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	// Layer 1: 结构体默认值
	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: 配置文件（可选）
	if path == "" {
		path = findSettingsFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: 环境变量（最高优先级）
	// INPUT_DATA_DIR -> paths.input_dir
	// CTRKIT_TRAIN_BATCH_SIZE -> train.batch_size
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	s := &Settings{}
	if err := k.Unmarshal("", s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return s, nil
}

func findSettingsFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultSettingsPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings 是历史沿用的环境变量名。
var envMappings = map[string]string{
	"input_data_dir":  "paths.input_dir",
	"output_data_dir": "paths.output_dir",
	"stats_dir":       "paths.stats_dir",
	"model_dir":       "paths.model_dir",
	"log_level":       "logging.level",
	"log_format":      "logging.format",
	"redis_addr":      "redis.addr",
}

// sections 是 CTRKIT_ 前缀变量允许的一级配置段。
var sections = []string{"paths", "duckdb", "split", "workflow", "model", "train", "redis", "metrics", "logging"}

func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	if rest, ok := strings.CutPrefix(key, envPrefix); ok {
		for _, section := range sections {
			if field, ok := strings.CutPrefix(rest, section+"_"); ok && field != "" {
				return section + "." + field
			}
		}
	}
	// 未映射的变量返回空串以跳过，避免无关环境变量污染配置
	return ""
}

// Validate 校验配置取值范围。
func (s *Settings) Validate() error {
	var errs []string
	if s.Paths.InputDir == "" || s.Paths.OutputDir == "" || s.Paths.StatsDir == "" || s.Paths.ModelDir == "" {
		errs = append(errs, "paths: input_dir, output_dir, stats_dir and model_dir are required")
	}
	if s.Split.ValidFraction < 0 || s.Split.ValidFraction >= 1 {
		errs = append(errs, fmt.Sprintf("split.valid_fraction must be in [0,1), got %v", s.Split.ValidFraction))
	}
	if s.Split.ValidDayCutoff < 1 {
		errs = append(errs, "split.valid_day_cutoff must be >= 1")
	}
	if s.Workflow.OutFiles < 1 {
		errs = append(errs, "workflow.out_files must be >= 1")
	}
	if s.Model.EmbeddingMin < 1 || s.Model.EmbeddingMax < s.Model.EmbeddingMin {
		errs = append(errs, "model: need 1 <= embedding_min <= embedding_max")
	}
	for _, h := range s.Model.HiddenUnits {
		if h < 1 {
			errs = append(errs, "model.hidden_units must be positive")
			break
		}
	}
	if s.Model.Dropout < 0 || s.Model.Dropout >= 1 {
		errs = append(errs, "model.dropout must be in [0,1)")
	}
	if s.Train.Epochs < 1 || s.Train.BatchSize < 1 {
		errs = append(errs, "train: epochs and batch_size must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
