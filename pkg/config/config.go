package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig                `mapstructure:"app"`
	DB       DBConfig                 `mapstructure:"db"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Kafka    KafkaConfig              `mapstructure:"kafka"`
	Wallet   WalletConfig             `mapstructure:"wallet"`
	Log      LogConfig                `mapstructure:"log"`
	Networks map[string]NetworkConfig `mapstructure:"networks"`
	Swap     SwapConfig               `mapstructure:"swap"`
	Payout   PayoutConfig             `mapstructure:"payout"`
	Rates    RatesConfig              `mapstructure:"rates"`
	Fees     []FeeTierConfig          `mapstructure:"fees"`
	Pipeline PipelineConfig           `mapstructure:"pipeline"`
	Worker   WorkerConfig             `mapstructure:"worker"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DSN 返回 gorm 使用的连接串
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// URL 返回 golang-migrate 使用的连接串
func (c DBConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// WalletConfig 主种子来源: 优先 Keystore 文件，其次明文助记词 (仅限开发环境)
type WalletConfig struct {
	Mnemonic     string `mapstructure:"mnemonic"`
	KeystorePath string `mapstructure:"keystore_path"`
	Password     string `mapstructure:"password"` // 通常通过环境变量 WALLET_PASSWORD 传入
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// NetworkConfig 单条链的配置，金额字段均为最小单位 (wei / raw) 的十进制字符串
type NetworkConfig struct {
	ChainID      int64         `mapstructure:"chain_id"`
	RpcUrl       string        `mapstructure:"rpc_url"`
	Receiver     string        `mapstructure:"receiver"`
	NativeSymbol string        `mapstructure:"native_symbol"`
	NativeMin    string        `mapstructure:"native_min"`
	Settlement   TokenConfig   `mapstructure:"settlement"`
	Tokens       []TokenConfig `mapstructure:"tokens"`
	GasTopUp     string        `mapstructure:"gas_top_up"`
	GasReserve   string        `mapstructure:"gas_reserve"`
	GasBudget    uint64        `mapstructure:"gas_budget"`
}

type TokenConfig struct {
	Symbol    string `mapstructure:"symbol"`
	Address   string `mapstructure:"address"`
	Decimals  uint8  `mapstructure:"decimals"`
	MinAmount string `mapstructure:"min_amount"`
}

type SwapConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	SlippageBps int           `mapstructure:"slippage_bps"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PayoutConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SecretKey string        `mapstructure:"secret_key"`
	Currency  string        `mapstructure:"currency"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RatesConfig struct {
	Static   string        `mapstructure:"static"` // 固定汇率，非空时不请求外部接口
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type FeeTierConfig struct {
	Min        string `mapstructure:"min"`
	Max        string `mapstructure:"max"` // 空字符串表示无上限
	Percentage string `mapstructure:"percentage"`
}

type PipelineConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	MaxRetryInterval time.Duration `mapstructure:"max_retry_interval"`
	ToleranceBps     int64         `mapstructure:"tolerance_bps"`
	RecheckDelay     time.Duration `mapstructure:"recheck_delay"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	ConfirmPoll      time.Duration `mapstructure:"confirm_poll"`
	StallAfter       time.Duration `mapstructure:"stall_after"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

var Global Config

func Init() {
	v := viper.GetViper()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	v.AddConfigPath(".")      // optionally look for config in the working directory
	v.AddConfigPath("./config")

	if err := load(v, &Global); err != nil {
		log.Fatalf("Fatal error config file: %s \n", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

// LoadFile 从指定文件加载配置 (CLI 与测试使用)，不修改 Global
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	var cfg Config
	if err := load(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(v *viper.Viper, out *Config) error {
	// 环境变量设置
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			return err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unable to decode into struct: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8080")
	v.SetDefault("app.grpc_port", "50051")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "offramp_user")
	v.SetDefault("db.password", "offramp_password")
	v.SetDefault("db.name", "offramp_db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mq_type", "redis")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	v.SetDefault("wallet.keystore_path", "wallet.json")

	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("swap.base_url", "https://api.0x.org")
	v.SetDefault("swap.slippage_bps", 100)
	v.SetDefault("swap.timeout", 15*time.Second)

	v.SetDefault("payout.base_url", "https://api.paystack.co")
	v.SetDefault("payout.currency", "NGN")
	v.SetDefault("payout.timeout", 20*time.Second)

	v.SetDefault("rates.cache_ttl", 5*time.Minute)

	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_interval", 2*time.Second)
	v.SetDefault("pipeline.max_retry_interval", 30*time.Second)
	v.SetDefault("pipeline.tolerance_bps", 50)
	v.SetDefault("pipeline.recheck_delay", 30*time.Second)
	v.SetDefault("pipeline.lock_ttl", 10*time.Minute)
	v.SetDefault("pipeline.confirm_poll", 2*time.Second)
	v.SetDefault("pipeline.stall_after", 5*time.Minute)

	v.SetDefault("worker.concurrency", 10)
}
