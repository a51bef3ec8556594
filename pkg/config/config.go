package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"OIWatch/internal/domain/models"
	"OIWatch/pkg/logger"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Log         logger.Config `yaml:"log"`
	Server      struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		ScoreRPS        float64       `yaml:"score_rps" default:"1"`
		ScoreBurst      float64       `yaml:"score_burst" default:"5"`
	} `yaml:"server"`
	Fetch struct {
		Workers           int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
		CycleDelay        time.Duration `yaml:"cycle_delay" default:"300s" validate:"gt=0"`
		TaskTimeout       time.Duration `yaml:"task_timeout" default:"60s" validate:"gt=0"`
		BootstrapLookback int           `yaml:"bootstrap_lookback" default:"200" validate:"gte=1,lte=500"`
		Period            string        `yaml:"period" default:"5m" validate:"oneof=5m 15m 30m 1h 2h 4h 6h 12h 1d"`
	} `yaml:"fetch"`
	Store struct {
		DataDir   string `yaml:"data_dir" default:"concurrent_data" validate:"required"`
		CreateDir bool   `yaml:"create_dir" default:"true"`
	} `yaml:"store"`
	Symbols struct {
		Source string   `yaml:"source" default:"config" validate:"oneof=config store exchange"`
		List   []string `yaml:"list"`
	} `yaml:"symbols"`
	Merge struct {
		Policy string `yaml:"policy" default:"drop" validate:"oneof=drop carry_forward"`
	} `yaml:"merge"`
	Extract struct {
		WindowLen     int     `yaml:"window_len" default:"200" validate:"gte=2"`
		TriggerSpan   int     `yaml:"trigger_span" default:"6" validate:"gte=2"`
		RiseThreshold float64 `yaml:"rise_threshold" default:"0.025" validate:"gt=0"`
		Format        string  `yaml:"format" default:"csv" validate:"oneof=csv parquet json"`
		OutDir        string  `yaml:"out_dir"`
	} `yaml:"extract"`
	Alert struct {
		Enabled        bool          `yaml:"enabled" default:"true"`
		Threshold      float64       `yaml:"threshold" default:"0.95"`
		Metric         string        `yaml:"metric" default:"cosine" validate:"oneof=cosine mse"`
		SequenceLength int           `yaml:"sequence_length" default:"200" validate:"gte=2"`
		FeatureCount   int           `yaml:"feature_count" default:"12" validate:"gte=1"`
		Interval       time.Duration `yaml:"interval"` // 0 runs after every fetch cycle
		Repeat         string        `yaml:"repeat" default:"every_cycle" validate:"oneof=every_cycle cooldown"`
		Cooldown       time.Duration `yaml:"cooldown" default:"30m"`
	} `yaml:"alert"`
	Scorer struct {
		URL      string        `yaml:"url"`
		Path     string        `yaml:"path" default:"/reconstruct"`
		Timeout  time.Duration `yaml:"timeout" default:"10s"`
		Attempts int           `yaml:"attempts" default:"3" validate:"gte=1"`
	} `yaml:"scorer"`
	Binance struct {
		FuturesDataURL string        `yaml:"futures_data_url" default:"https://www.binance.com" validate:"url"`
		FAPIURL        string        `yaml:"fapi_url" default:"https://fapi.binance.com" validate:"url"`
		Timeout        time.Duration `yaml:"timeout" default:"10s"`
		RPS            float64       `yaml:"rps" default:"10" validate:"gt=0"`
		Burst          int           `yaml:"burst" default:"5" validate:"gte=1"`
		MaxElapsed     time.Duration `yaml:"max_elapsed" default:"30s"`
	} `yaml:"binance"`
	Notify struct {
		Webhook struct {
			Enabled    bool   `yaml:"enabled"`
			URL        string `yaml:"url"`
			PayloadKey string `yaml:"payload_key" default:"text"`
		} `yaml:"webhook"`
		Telegram struct {
			Enabled bool   `yaml:"enabled"`
			Token   string `yaml:"token"`
			ChatID  int64  `yaml:"chat_id"`
		} `yaml:"telegram"`
		Kafka struct {
			Enabled      bool          `yaml:"enabled"`
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"oiwatch.alerts"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			Compression  string        `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			BatchSize    int           `yaml:"batch_size" default:"1" validate:"gte=1"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
		} `yaml:"kafka"`
	} `yaml:"notify"`
	Cache struct {
		Type  string `yaml:"type" default:"memory" validate:"oneof=memory redis"`
		Redis struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"oiwatch"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"oiwatch"`
		Table        string        `yaml:"table" default:"records"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		WaitForAsync bool          `yaml:"wait_for_async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecTime  time.Duration `yaml:"max_exec_time" default:"30s"`
		MaxOpenConns int           `yaml:"max_open_conns" default:"4" validate:"gte=1"`
		MaxIdleConns int           `yaml:"max_idle_conns" default:"2" validate:"gte=0"`
	} `yaml:"clickhouse"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics" validate:"startswith=/"`
	} `yaml:"metrics"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, a .env file if present, and environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OIWATCH_SYMBOLS"); v != "" {
		c.Symbols.Source = "config"
		c.Symbols.List = splitList(v)
	}
	if v := os.Getenv("OIWATCH_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("OIWATCH_WEBHOOK_URL"); v != "" {
		c.Notify.Webhook.Enabled = true
		c.Notify.Webhook.URL = v
	}
	if v := os.Getenv("OIWATCH_SCORER_URL"); v != "" {
		c.Scorer.URL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Cache.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Cache.Redis.Port = p
			}
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Symbols.Source == "config" && len(c.Symbols.List) == 0 {
		return fmt.Errorf("symbols.list cannot be empty when symbols.source is 'config'")
	}
	if c.Alert.Enabled && c.Scorer.URL == "" {
		return fmt.Errorf("scorer.url is required when alerting is enabled")
	}
	if c.Alert.FeatureCount != len(models.FeatureColumns) {
		return fmt.Errorf("alert.feature_count must be %d, got %d", len(models.FeatureColumns), c.Alert.FeatureCount)
	}
	if c.Alert.Repeat == "cooldown" && c.Alert.Cooldown <= 0 {
		return fmt.Errorf("alert.cooldown must be positive for repeat policy 'cooldown'")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url is required")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0) {
		return fmt.Errorf("notify.telegram requires token and chat_id")
	}
	if c.Notify.Kafka.Enabled && len(c.Notify.Kafka.Brokers) == 0 {
		return fmt.Errorf("notify.kafka.brokers cannot be empty")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
