package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when -config is not given.
const DefaultPath = "config/config.yml"

// KnownSources lists the provider adapters that can appear in fetch.source_priority.
var KnownSources = []string{"eastmoney", "sina", "tencent", "netease"}

type Config struct {
	App       AppConfig                 `yaml:"app"`
	Logging   LoggingConfig             `yaml:"logging"`
	Calendar  CalendarConfig            `yaml:"calendar"`
	Fetch     FetchConfig               `yaml:"fetch"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Universe  UniverseConfig            `yaml:"universe"`
	Scoring   ScoringConfig             `yaml:"scoring"`
	Signal    SignalConfig              `yaml:"signal"`
	Notify    NotifyConfig              `yaml:"notify"`
	Realtime  RealtimeConfig            `yaml:"realtime"`
	Storage   StorageConfig             `yaml:"storage"`
	Kafka     KafkaConfig               `yaml:"kafka"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Schedule  ScheduleConfig            `yaml:"schedule"`
	Dashboard DashboardConfig           `yaml:"dashboard"`
	Task      string                    `yaml:"task"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type CalendarConfig struct {
	Timezone    string   `yaml:"timezone"`
	CloseCutoff string   `yaml:"close_cutoff"`
	Holidays    []string `yaml:"holidays"`
}

type FetchConfig struct {
	InitialCrawlDays int      `yaml:"initial_crawl_days"`
	RetentionDays    int      `yaml:"retention_days"`
	BatchSize        int      `yaml:"batch_size"`
	SourcePriority   []string `yaml:"source_priority"`
	RequireTurnover  bool     `yaml:"require_turnover"`
}

type ProviderConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Timeout   time.Duration   `yaml:"timeout"`
	JitterMin time.Duration   `yaml:"jitter_min"`
	JitterMax time.Duration   `yaml:"jitter_max"`
	Adjust    string          `yaml:"adjust"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type UniverseConfig struct {
	ListURL        string        `yaml:"list_url"`
	Timeout        time.Duration `yaml:"timeout"`
	PageSize       int           `yaml:"page_size"`
	MinFundSize    float64       `yaml:"min_fund_size"`
	MinListingDays int           `yaml:"min_listing_days"`
}

type ScoringConfig struct {
	MinHistory   int           `yaml:"min_history"`
	ReturnWindow int           `yaml:"return_window"`
	TopN         int           `yaml:"top_n"`
	Weights      WeightsConfig `yaml:"weights"`
}

type WeightsConfig struct {
	Liquidity float64 `yaml:"liquidity"`
	Risk      float64 `yaml:"risk"`
	Return    float64 `yaml:"return"`
	Sentiment float64 `yaml:"sentiment"`
	Premium   float64 `yaml:"premium"`
}

// Sum adds all five weights.
func (w WeightsConfig) Sum() float64 {
	return w.Liquidity + w.Risk + w.Return + w.Sentiment + w.Premium
}

type SignalConfig struct {
	MAPeriod           int     `yaml:"ma_period"`
	MinConsecutiveDays int     `yaml:"min_consecutive_days"`
	VolumeChangeRatio  float64 `yaml:"volume_change_ratio"`
}

type NotifyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Title      string        `yaml:"title"`
}

type RealtimeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	MaxWorkers int           `yaml:"max_workers"`
	ChunkSize  int           `yaml:"chunk_size"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	DataDir      string      `yaml:"data_dir"`
	RegistryPath string      `yaml:"registry_path"`
	FlagDir      string      `yaml:"flag_dir"`
	State        StateConfig `yaml:"state"`
	Flags        FlagConfig  `yaml:"flags"`
	Redis        RedisConfig `yaml:"redis"`
	S3           S3Config    `yaml:"s3"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type FlagConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ScheduleConfig struct {
	CrawlAt     string `yaml:"crawl_at"`
	SignalAt    string `yaml:"signal_at"`
	UniverseDay string `yaml:"universe_day"`
	UniverseAt  string `yaml:"universe_at"`
}

type DashboardConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	LogHistory     int           `yaml:"log_history"`
	MetricsHistory int           `yaml:"metrics_history"`
	RunHistory     int           `yaml:"run_history"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

func defaultProvider(baseURL string, timeout time.Duration) ProviderConfig {
	return ProviderConfig{
		BaseURL:   baseURL,
		Timeout:   timeout,
		JitterMin: 500 * time.Millisecond,
		JitterMax: 1500 * time.Millisecond,
		Adjust:    "qfq",
		RateLimit: RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BaseDelay:         time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
		},
	}
}

// Default returns the configuration every file is layered onto.
func Default() Config {
	return Config{
		App:      AppConfig{Name: "marketflow", Version: "dev"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout", ReportInterval: 30 * time.Second},
		Calendar: CalendarConfig{Timezone: "Asia/Shanghai", CloseCutoff: "15:30"},
		Fetch: FetchConfig{
			InitialCrawlDays: 365,
			RetentionDays:    250,
			BatchSize:        100,
			SourcePriority:   []string{"eastmoney", "sina", "tencent", "netease"},
		},
		Providers: map[string]ProviderConfig{
			"eastmoney": defaultProvider("https://push2his.eastmoney.com", 20*time.Second),
			"sina":      defaultProvider("https://money.finance.sina.com.cn", 20*time.Second),
			"tencent":   defaultProvider("https://web.ifzq.gtimg.cn", 20*time.Second),
			"netease":   defaultProvider("https://quotes.money.163.com", 30*time.Second),
		},
		Universe: UniverseConfig{
			ListURL:        "https://push2.eastmoney.com",
			Timeout:        20 * time.Second,
			PageSize:       500,
			MinFundSize:    2,
			MinListingDays: 60,
		},
		Scoring: ScoringConfig{
			MinHistory:   30,
			ReturnWindow: 20,
			TopN:         10,
			Weights: WeightsConfig{
				Liquidity: 0.25,
				Risk:      0.20,
				Return:    0.25,
				Sentiment: 0.15,
				Premium:   0.15,
			},
		},
		Signal:   SignalConfig{MAPeriod: 20, MinConsecutiveDays: 2, VolumeChangeRatio: 1.2},
		Notify:   NotifyConfig{Enabled: true, Timeout: 10 * time.Second, Title: "MarketFlow"},
		Realtime: RealtimeConfig{BaseURL: "https://qt.gtimg.cn", MaxWorkers: 8, ChunkSize: 50, Timeout: 5 * time.Second, CacheTTL: 30 * time.Second},
		Storage: StorageConfig{
			DataDir:      "data/bars",
			RegistryPath: "data/registry.csv",
			FlagDir:      "data/flags",
			State:        StateConfig{Backend: "sqlite", SQLitePath: "data/state.db"},
			Flags:        FlagConfig{Backend: "file"},
			Redis:        RedisConfig{KeyPrefix: "marketflow"},
			S3:           S3Config{Prefix: "bars", Compression: "snappy"},
		},
		Kafka:     KafkaConfig{Topic: "marketflow.signals", BatchTimeout: time.Second},
		Metrics:   MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "MarketFlow", Dashboard: "MarketFlow"}},
		Schedule:  ScheduleConfig{CrawlAt: "16:00", SignalAt: "17:30", UniverseDay: "saturday", UniverseAt: "10:00"},
		Dashboard: DashboardConfig{Address: ":8080", LogHistory: 200, MetricsHistory: 200, RunHistory: 50, ReadTimeout: 10 * time.Second},
	}
}

func LoadConfig(path string) (*Config, error) {
	path = deploymentPath(path, deployment())

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	fillProviderDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := envValue("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := envValue("TASK"); v != "" {
		cfg.Task = v
	}
	if v := envValue("REDIS_URL"); v != "" {
		cfg.Storage.Redis.URL = v
	}
	if v := envValue("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	if cfg.Storage.S3.Enabled {
		if v := envValue("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = v
		}
		if v := envValue("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = v
		}
		if v := envValue("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = v
		}
		if v := envValue("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = v
		}
	}
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
}

func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// deployment is the lower-cased APP_ENV with "prod" and "stage" expanded.
// An empty value is a local run.
func deployment() string {
	switch env := strings.ToLower(envValue("APP_ENV")); env {
	case "prod":
		return "production"
	case "stage":
		return "staging"
	default:
		return env
	}
}

// requiresWebhook reports whether a deployment must be able to notify.
func requiresWebhook(env string) bool {
	return env == "production" || env == "staging"
}

// deploymentPath swaps config.yml for its config.<env>.yml sibling when the
// sibling exists.
func deploymentPath(path, env string) string {
	if path == "" {
		path = DefaultPath
	}
	if env == "" {
		return path
	}
	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "." + env + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if sum := cfg.Scoring.Weights.Sum(); math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("scoring.weights must sum to 1.0 (got %.4f)", sum)
	}
	if cfg.Scoring.MinHistory <= 0 {
		return fmt.Errorf("scoring.min_history must be greater than 0")
	}

	if cfg.Fetch.InitialCrawlDays <= 0 {
		return fmt.Errorf("fetch.initial_crawl_days must be greater than 0")
	}
	if cfg.Fetch.RetentionDays < 0 {
		return fmt.Errorf("fetch.retention_days must not be negative")
	}
	if len(cfg.Fetch.SourcePriority) == 0 {
		return fmt.Errorf("fetch.source_priority is required")
	}
	seen := make(map[string]bool, len(cfg.Fetch.SourcePriority))
	for _, name := range cfg.Fetch.SourcePriority {
		if !isKnownSource(name) {
			return fmt.Errorf("fetch.source_priority contains unknown source '%s'", name)
		}
		if seen[name] {
			return fmt.Errorf("fetch.source_priority lists '%s' twice", name)
		}
		seen[name] = true

		p, ok := cfg.Providers[name]
		if !ok {
			return fmt.Errorf("providers.%s is required", name)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout must be greater than 0", name)
		}
		if p.JitterMax < p.JitterMin {
			return fmt.Errorf("providers.%s.jitter_max must not be less than jitter_min", name)
		}
		if p.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("providers.%s.retry.max_attempts must be greater than 0", name)
		}
	}

	if cfg.Signal.MAPeriod <= 0 {
		return fmt.Errorf("signal.ma_period must be greater than 0")
	}
	if cfg.Signal.MinConsecutiveDays <= 0 {
		return fmt.Errorf("signal.min_consecutive_days must be greater than 0")
	}

	if cfg.Realtime.MaxWorkers <= 0 {
		return fmt.Errorf("realtime.max_workers must be greater than 0")
	}
	if cfg.Realtime.Timeout <= 0 || cfg.Notify.Timeout <= 0 {
		return fmt.Errorf("realtime.timeout and notify.timeout must be greater than 0")
	}

	if cfg.Notify.Enabled && cfg.Notify.WebhookURL == "" && requiresWebhook(deployment()) {
		return fmt.Errorf("notify.webhook_url is required when notifications are enabled")
	}

	switch cfg.Storage.State.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("storage.state.backend '%s' is invalid", cfg.Storage.State.Backend)
	}
	switch cfg.Storage.Flags.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("storage.flags.backend '%s' is invalid", cfg.Storage.Flags.Backend)
	}
	if (cfg.Storage.State.Backend == "redis" || cfg.Storage.Flags.Backend == "redis") && cfg.Storage.Redis.URL == "" {
		return fmt.Errorf("storage.redis.url is required when a redis backend is selected")
	}

	if cfg.Kafka.Enabled && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func isKnownSource(name string) bool {
	for _, s := range KnownSources {
		if s == name {
			return true
		}
	}
	return false
}

// fillProviderDefaults backfills fields a partial providers.<name> block left
// empty, since yaml replaces map values wholesale.
func fillProviderDefaults(cfg *Config) {
	defaults := Default().Providers
	for name, p := range cfg.Providers {
		d, ok := defaults[name]
		if !ok {
			d = defaultProvider(p.BaseURL, 20*time.Second)
		}
		if p.BaseURL == "" {
			p.BaseURL = d.BaseURL
		}
		if p.Timeout == 0 {
			p.Timeout = d.Timeout
		}
		if p.JitterMin == 0 && p.JitterMax == 0 {
			p.JitterMin, p.JitterMax = d.JitterMin, d.JitterMax
		}
		if p.Adjust == "" {
			p.Adjust = d.Adjust
		}
		if p.RateLimit.RequestsPerSecond == 0 {
			p.RateLimit = d.RateLimit
		}
		if p.Retry.MaxAttempts == 0 {
			p.Retry = d.Retry
		}
		cfg.Providers[name] = p
	}
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
