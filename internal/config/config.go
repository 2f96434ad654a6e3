package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "FLOWER_"

type Config struct {
	Addr          string
	Root          string
	ModelPath     string
	MetadataPath  string
	CatalogPath   string
	FeedbackLog   string
	FeedbackDSN   string
	ORTLibrary    string
	MaxUploadMB   int64
	PredictionTTL time.Duration
	TopK          int
	LogLevel      string
	LogFormat     string
	WatchCatalog  bool
	TelegramToken string
}

type fileConfig struct {
	Addr          string `toml:"addr"`
	ModelPath     string `toml:"model_path"`
	MetadataPath  string `toml:"metadata_path"`
	CatalogPath   string `toml:"catalog_path"`
	FeedbackLog   string `toml:"feedback_log"`
	FeedbackDSN   string `toml:"feedback_dsn"`
	ORTLibrary    string `toml:"ort_library"`
	MaxUploadMB   int64  `toml:"max_upload_mb"`
	PredictionTTL string `toml:"prediction_ttl"`
	TopK          int    `toml:"top_k"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	WatchCatalog  bool   `toml:"watch_catalog"`
}

func Default() Config {
	return Config{
		Addr:          ":8080",
		ModelPath:     filepath.Join("models", "model.onnx"),
		MetadataPath:  filepath.Join("models", "model_metadata.json"),
		CatalogPath:   "flower.json",
		FeedbackLog:   "feedback.log",
		MaxUploadMB:   10,
		PredictionTTL: 30 * time.Minute,
		TopK:          5,
		LogLevel:      "info",
		LogFormat:     "console",
		WatchCatalog:  true,
	}
}

// Load builds the configuration from defaults, a local .env file, the
// optional TOML file at path and finally FLOWER_* environment variables.
// Relative file paths are resolved against the project root.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	root, err := projectRoot()
	if err != nil {
		return Config{}, err
	}
	cfg.Root = root
	cfg.ModelPath = resolve(root, cfg.ModelPath)
	cfg.MetadataPath = resolve(root, cfg.MetadataPath)
	cfg.CatalogPath = resolve(root, cfg.CatalogPath)
	cfg.FeedbackLog = resolve(root, cfg.FeedbackLog)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.PredictionTTL <= 0 {
		return fmt.Errorf("prediction_ttl must be positive, got %s", c.PredictionTTL)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setString := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			if v = strings.TrimSpace(v); v != "" {
				*dst = v
			}
		}
	}
	setString("addr", &cfg.Addr, raw.Addr)
	setString("model_path", &cfg.ModelPath, raw.ModelPath)
	setString("metadata_path", &cfg.MetadataPath, raw.MetadataPath)
	setString("catalog_path", &cfg.CatalogPath, raw.CatalogPath)
	setString("feedback_log", &cfg.FeedbackLog, raw.FeedbackLog)
	setString("feedback_dsn", &cfg.FeedbackDSN, raw.FeedbackDSN)
	setString("ort_library", &cfg.ORTLibrary, raw.ORTLibrary)
	setString("log_level", &cfg.LogLevel, raw.LogLevel)
	setString("log_format", &cfg.LogFormat, raw.LogFormat)

	if meta.IsDefined("max_upload_mb") {
		cfg.MaxUploadMB = raw.MaxUploadMB
	}
	if meta.IsDefined("prediction_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PredictionTTL))
		if err != nil {
			return fmt.Errorf("parse prediction_ttl: %w", err)
		}
		cfg.PredictionTTL = d
	}
	if meta.IsDefined("top_k") {
		cfg.TopK = raw.TopK
	}
	if meta.IsDefined("watch_catalog") {
		cfg.WatchCatalog = raw.WatchCatalog
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Addr = ":" + port
	}
	strs := map[string]*string{
		"ADDR":          &cfg.Addr,
		"MODEL_PATH":    &cfg.ModelPath,
		"METADATA_PATH": &cfg.MetadataPath,
		"CATALOG_PATH":  &cfg.CatalogPath,
		"FEEDBACK_LOG":  &cfg.FeedbackLog,
		"FEEDBACK_DSN":  &cfg.FeedbackDSN,
		"ORT_LIBRARY":   &cfg.ORTLibrary,
		"LOG_LEVEL":     &cfg.LogLevel,
		"LOG_FORMAT":    &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
			*dst = v
		}
	}
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	if v := os.Getenv(envPrefix + "MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %sMAX_UPLOAD_MB: %w", envPrefix, err)
		}
		cfg.MaxUploadMB = n
	}
	if v := os.Getenv(envPrefix + "PREDICTION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sPREDICTION_TTL: %w", envPrefix, err)
		}
		cfg.PredictionTTL = d
	}
	if v := os.Getenv(envPrefix + "TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sTOP_K: %w", envPrefix, err)
		}
		cfg.TopK = n
	}
	if v := os.Getenv(envPrefix + "WATCH_CATALOG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sWATCH_CATALOG: %w", envPrefix, err)
		}
		cfg.WatchCatalog = b
	}
	return nil
}

// projectRoot is the working directory, or two levels up when running from
// cmd/<name>.
func projectRoot() (string, error) {
	if root := os.Getenv(envPrefix + "ROOT"); root != "" {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	if filepath.Base(filepath.Dir(wd)) == "cmd" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Clean(wd), nil
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
