package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Mailer    MailerConfig    `mapstructure:"mailer"`
	Model     ModelConfig     `mapstructure:"model"`
	Transport TransportConfig `mapstructure:"transport"`
	Queue     queue.Config    `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
}

// MailerConfig holds mail defaults and runtime mode.
type MailerConfig struct {
	From              string `mapstructure:"from"`
	SenderName        string `mapstructure:"sender_name"`
	TemplatesDir      string `mapstructure:"templates_dir"`
	Environment       string `mapstructure:"environment"`
	Debug             bool   `mapstructure:"debug"`
	ResendConcurrency int    `mapstructure:"resend_concurrency"`
}

// ModelConfig describes where records are stored and which extra input
// keys are persisted with them.
type ModelConfig struct {
	Name   string   `mapstructure:"name"`
	Fields []string `mapstructure:"fields"`
}

// TransportConfig holds delivery backend configuration.
type TransportConfig struct {
	Type        string        `mapstructure:"type"`
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	ImplicitTLS bool          `mapstructure:"implicit_tls"`
}

// DatabaseConfig holds record store connection configuration.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	JWT          JWTConfig     `mapstructure:"jwt"`
}

// SMTPConfig holds the SMTP submission ingress configuration.
type SMTPConfig struct {
	Host           string         `mapstructure:"host"`
	Port           int            `mapstructure:"port"`
	Domain         string         `mapstructure:"domain"`
	MaxConnections int            `mapstructure:"max_connections"`
	MaxMessageSize int64          `mapstructure:"max_message_size"`
	ReadTimeout    time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration  `mapstructure:"write_timeout"`
	AllowedDomains []string       `mapstructure:"allowed_domains"`
	TLSCertFile    string         `mapstructure:"tls_cert_file"`
	TLSKeyFile     string         `mapstructure:"tls_key_file"`
	Archive        archive.Config `mapstructure:"archive"`
}

// JWTConfig holds bearer token settings. Auth is disabled when SigningKey
// is empty.
type JWTConfig struct {
	SigningKey        string        `mapstructure:"signing_key"`
	Issuer            string        `mapstructure:"issuer"`
	Audience          string        `mapstructure:"audience"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory. A .env file in
// the working directory is loaded first when present.
// Environment variables with prefix MAILER_ override file values.
// For example, MAILER_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i, f := range cfg.Model.Fields {
		cfg.Model.Fields[i] = strings.TrimSpace(f)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mailer.environment", "development")
	v.SetDefault("mailer.templates_dir", "templates")
	v.SetDefault("mailer.resend_concurrency", 0)

	v.SetDefault("model.name", store.DefaultTable)

	v.SetDefault("transport.type", "sendgrid")
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.port", 587)

	q := queue.DefaultConfig()
	v.SetDefault("queue.type", q.Type)
	v.SetDefault("queue.name", q.Name)
	v.SetDefault("queue.concurrency", q.Concurrency)
	v.SetDefault("queue.group_name", q.GroupName)
	v.SetDefault("queue.redis_addr", q.RedisAddr)
	v.SetDefault("queue.redis_db", q.RedisDB)
	v.SetDefault("queue.block_timeout", q.BlockTimeout)
	v.SetDefault("queue.process_timeout", q.ProcessTimeout)
	v.SetDefault("queue.shutdown_timeout", q.ShutdownTimeout)
	v.SetDefault("queue.max_retries", q.MaxRetries)
	v.SetDefault("queue.memory_buffer", q.MemoryBuffer)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.jwt.issuer", "mailer")
	v.SetDefault("api.jwt.access_token_expiry", time.Hour)

	v.SetDefault("smtp.host", "0.0.0.0")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.domain", "mailer")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.max_message_size", 10*1024*1024)
	v.SetDefault("smtp.read_timeout", 60*time.Second)
	v.SetDefault("smtp.write_timeout", 60*time.Second)
	v.SetDefault("smtp.archive.path", "archive")
	v.SetDefault("smtp.archive.s3_region", "us-east-1")
}

// Defaults returns the values merged under every mail input.
func (c *Config) Defaults() mail.Defaults {
	return mail.Defaults{From: c.Mailer.From, SenderName: c.Mailer.SenderName}
}

// StoreConfig converts the database and model sections for store.New.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:         c.Database.Driver,
		URL:            c.Database.URL,
		PoolMin:        c.Database.PoolMin,
		PoolMax:        c.Database.PoolMax,
		ConnectTimeout: c.Database.ConnectTimeout,
		Table:          c.Model.Name,
	}
}

// TransportConfig converts the transport section for transport.New.
func (c *Config) TransportConfig() transport.Config {
	t := c.Transport
	return transport.Config{
		Type:        t.Type,
		APIKey:      t.APIKey,
		Endpoint:    t.Endpoint,
		Timeout:     t.Timeout,
		Host:        t.Host,
		Port:        t.Port,
		Username:    t.Username,
		Password:    t.Password,
		ImplicitTLS: t.ImplicitTLS,
	}
}
