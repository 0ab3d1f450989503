package config

import (
	"strings"
	"time"

	"github.com/blues/collab/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Event     EventConfig     `mapstructure:"event"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory 或 postgres
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// LedgerConfig 资金划转配置
type LedgerConfig struct {
	Mode    string            `mapstructure:"mode"`    // memory 或 chain
	Genesis map[string]uint64 `mapstructure:"genesis"` // 内存账本初始余额，地址 -> 金额
}

// ChainConfig 链上代币配置
type ChainConfig struct {
	ChainId       int64         `mapstructure:"chain_id"`      // 链ID
	RpcUrl        string        `mapstructure:"rpc_url"`       // RPC节点URL
	PrivateKey    string        `mapstructure:"private_key"`   // 运营账户私钥，同时作为金库账户
	TokenAddress  string        `mapstructure:"token_address"` // ERC-20 代币合约地址
	Confirmations uint64        `mapstructure:"confirmations"` // 等待确认数
	TxTimeout     time.Duration `mapstructure:"tx_timeout"`    // 单笔交易等待上链超时
	Delegates     []string      `mapstructure:"delegates"`     // 可授权金库转出的地址，运营账户本身总是可以
}

// EventConfig 审计事件配置
type EventConfig struct {
	AmqpUrl  string `mapstructure:"amqp_url"` // 为空时不发布到消息队列
	Exchange string `mapstructure:"exchange"`
	Workers  int    `mapstructure:"workers"` // 异步观察者协程池大小
	Persist  bool   `mapstructure:"persist"` // 是否写入 event 表，仅 postgres 模式生效
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"` // 为空时幂等记录保存在内存
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"` // 幂等记录保留时间
}

type AuthConfig struct {
	JwtSecret string        `mapstructure:"jwt_secret"` // 为空时使用 X-Principal 请求头
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type SchedulerConfig struct {
	Interval int `mapstructure:"interval"` // 秒
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "collab")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("ledger.mode", "memory")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.confirmations", 1)
	v.SetDefault("chain.tx_timeout", 2*time.Minute)
	v.SetDefault("chain.delegates", []string{})
	v.SetDefault("event.amqp_url", "")
	v.SetDefault("event.exchange", "collab.events")
	v.SetDefault("event.workers", 8)
	v.SetDefault("event.persist", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("scheduler.interval", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
}

func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/collab")

	// 设置默认值
	setDefaults(v)

	// 自动读取环境变量，例如 COLLAB_DATABASE_DRIVER，只覆盖有默认值的键
	v.SetEnvPrefix("collab")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
