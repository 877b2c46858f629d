package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
)

type Config struct {
	AppName string `koanf:"app_name" validate:"required"`
	Env     string `koanf:"app_env" validate:"required"`
	Host    string `koanf:"app_host" validate:"required"`
	Port    int    `koanf:"app_port" validate:"min=1,max=65535"`

	LogLevel string `koanf:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogDir   string `koanf:"log_dir"`

	ModelPath          string `koanf:"model_path" validate:"required"`
	MetadataPath       string `koanf:"model_metadata_path"`
	OnnxRuntimeLib     string `koanf:"onnxruntime_lib"`
	ModelS3Bucket      string `koanf:"model_s3_bucket" validate:"required_with=ModelS3Key"`
	ModelS3Key         string `koanf:"model_s3_key" validate:"required_with=ModelS3Bucket"`
	ModelS3Endpoint    string `koanf:"model_s3_endpoint" validate:"omitempty,url"`
	AWSRegion          string `koanf:"aws_region" validate:"required_with=ModelS3Bucket"`
	AWSAccessKeyID     string `koanf:"aws_access_key_id" validate:"required_with=AWSSecretAccessKey"`
	AWSSecretAccessKey string `koanf:"aws_secret_access_key" validate:"required_with=AWSAccessKeyID"`

	CORSAllowOrigins []string      `koanf:"cors_allow_origins" validate:"min=1,dive,required"`
	BodyLimitMB      int           `koanf:"body_limit_mb" validate:"min=1,max=1024"`
	MaxImagePixels   int64         `koanf:"max_image_pixels" validate:"min=1"`
	RateLimitRPS     float64       `koanf:"rate_limit_rps" validate:"min=0"`
	RateLimitBurst   int           `koanf:"rate_limit_burst" validate:"min=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// defaults are keyed by the lower-cased environment variable name.
var defaults = map[string]any{
	"app_name":              "realfake-api",
	"app_env":               "development",
	"app_host":              "127.0.0.1",
	"app_port":              5000,
	"log_level":             "debug",
	"log_dir":               "./storage/logs",
	"model_path":            "models/model.onnx",
	"model_metadata_path":   "models/model_metadata.json",
	"onnxruntime_lib":       "",
	"model_s3_bucket":       "",
	"model_s3_key":          "",
	"model_s3_endpoint":     "",
	"aws_region":            "",
	"aws_access_key_id":     "",
	"aws_secret_access_key": "",
	"cors_allow_origins":    []string{"*"},
	"body_limit_mb":         10,
	"max_image_pixels":      64 << 20,
	"rate_limit_rps":        50,
	"rate_limit_burst":      100,
	"shutdown_timeout":      "10s",
}

var listKeys = map[string]bool{
	"cors_allow_origins": true,
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) BodyLimit() int {
	return c.BodyLimitMB * 1024 * 1024
}

func NewValidator() *validator.Validate {
	return validator.New()
}

// Load builds the configuration from the process environment. Values in the
// given dotenv files fill in variables the environment leaves unset; missing
// files are skipped. Empty values count as unset.
func Load(envFiles ...string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	fileValues, err := readDotenv(envFiles)
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(fileValues, "."), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue("", ".", transform), nil); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := NewValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// readDotenv merges the files in order; the first file to set a key wins.
func readDotenv(names []string) (map[string]any, error) {
	out := map[string]any{}
	for _, name := range names {
		values, err := godotenv.Read(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		for rawKey, rawValue := range values {
			key, value := transform(rawKey, rawValue)
			if key == "" {
				continue
			}
			if _, exists := out[key]; !exists {
				out[key] = value
			}
		}
	}
	return out, nil
}

// transform maps an environment variable onto its koanf key. Unknown and
// empty variables return an empty key, which koanf skips.
func transform(key, value string) (string, any) {
	key = strings.ToLower(key)
	if _, known := defaults[key]; !known || value == "" {
		return "", nil
	}
	if !listKeys[key] {
		return key, value
	}

	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Environ lists the variables Load understands, upper-cased.
func Environ() []string {
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, strings.ToUpper(key))
	}
	return keys
}
