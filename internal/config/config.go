package config

import (
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
// 余额区间、风控阈值、请求有效期都走配置注入，
// 不允许出现包级可变状态作为第二个"真相来源"
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Fraud   FraudConfig   `mapstructure:"fraud"`
	Request RequestConfig `mapstructure:"request"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Transaction string `mapstructure:"transaction"`
}

// LedgerConfig 台账引擎配置
type LedgerConfig struct {
	MinBalance float64 `mapstructure:"min_balance"` // 透支下限，如 -250.00
	MaxBalance float64 `mapstructure:"max_balance"` // 余额上限，如 250.00
	MaxRetries int     `mapstructure:"max_retries"` // 乐观锁冲突重试次数
}

func (c *LedgerConfig) Min() decimal.Decimal {
	return decimal.NewFromFloat(c.MinBalance)
}

func (c *LedgerConfig) Max() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxBalance)
}

// FraudConfig 风控评分配置
// 权重和阈值全部可调，生产环境收紧、开发环境放宽只是配置差异
type FraudConfig struct {
	WindowDays      int `mapstructure:"window_days"`      // 评分回看窗口（天）
	ReviewThreshold int `mapstructure:"review_threshold"` // 达到则放行但标记复核
	BlockThreshold  int `mapstructure:"block_threshold"`  // 达到则拒绝

	UnusualAmountFactor float64 `mapstructure:"unusual_amount_factor"` // 超过均值的倍数
	UnusualAmountWeight int     `mapstructure:"unusual_amount_weight"`
	NewMaximumFactor    float64 `mapstructure:"new_maximum_factor"` // 超过历史最大的倍数
	NewMaximumWeight    int     `mapstructure:"new_maximum_weight"`
	DailyVelocityLimit  int     `mapstructure:"daily_velocity_limit"` // 当日笔数上限
	VelocityWeight      int     `mapstructure:"velocity_weight"`
	RapidSeconds        int     `mapstructure:"rapid_seconds"` // 与上一笔间隔（秒）
	RapidWeight         int     `mapstructure:"rapid_weight"`
	RepeatRecipientMax  int     `mapstructure:"repeat_recipient_max"` // 7天内同收款人笔数上限
	RepeatRecipientDays int     `mapstructure:"repeat_recipient_days"`
	RepeatWeight        int     `mapstructure:"repeat_weight"`
	RoundNumberMin      float64 `mapstructure:"round_number_min"` // 整数金额起评线
	RoundNumberWeight   int     `mapstructure:"round_number_weight"`
}

// RequestConfig 收款请求配置
type RequestConfig struct {
	DefaultExpiryDays int `mapstructure:"default_expiry_days"`
	MaxExpiryDays     int `mapstructure:"max_expiry_days"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := Default()
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	return config
}

// Default 默认配置
// 开发模式和测试直接使用；生产配置在此基础上覆盖
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Ledger: LedgerConfig{
			MinBalance: -250.00,
			MaxBalance: 250.00,
			MaxRetries: 3,
		},
		Fraud: FraudConfig{
			WindowDays:          30,
			ReviewThreshold:     50,
			BlockThreshold:      80,
			UnusualAmountFactor: 5.0,
			UnusualAmountWeight: 25,
			NewMaximumFactor:    2.0,
			NewMaximumWeight:    20,
			DailyVelocityLimit:  20,
			VelocityWeight:      20,
			RapidSeconds:        60,
			RapidWeight:         15,
			RepeatRecipientMax:  5,
			RepeatRecipientDays: 7,
			RepeatWeight:        15,
			RoundNumberMin:      1000.00,
			RoundNumberWeight:   10,
		},
		Request: RequestConfig{
			DefaultExpiryDays: 7,
			MaxExpiryDays:     30,
		},
	}
}
