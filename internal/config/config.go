package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppCfg struct {
	Env                    string `mapstructure:"env" validate:"required,oneof=development production test"`
	Port                   int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitPerMin        int    `mapstructure:"rate_limit_per_min"`
}

type AuthCfg struct {
	Token         string `mapstructure:"token"`
	Alg           string `mapstructure:"alg" validate:"omitempty,oneof=HS256 RS256 NONE"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	UserID        string `mapstructure:"user_id"`
	DisplayName   string `mapstructure:"display_name"`
}

type StoreCfg struct {
	Driver                  string `mapstructure:"driver" validate:"required,oneof=mongo memory"`
	URI                     string `mapstructure:"uri" validate:"required_if=Driver mongo"`
	Database                string `mapstructure:"database" validate:"required_if=Driver mongo"`
	MessagesCollection      string `mapstructure:"messages_collection"`
	ConversationsCollection string `mapstructure:"conversations_collection"`
	ProfilesCollection      string `mapstructure:"profiles_collection"`
	ContactsCollection      string `mapstructure:"contacts_collection"`
	OpTimeoutSeconds        int    `mapstructure:"op_timeout_seconds"`
}

type BlobCfg struct {
	Enabled           bool   `mapstructure:"enabled"`
	Region            string `mapstructure:"region" validate:"required_if=Enabled true"`
	Bucket            string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Endpoint          string `mapstructure:"endpoint"`
	Prefix            string `mapstructure:"prefix"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type EventsCfg struct {
	Driver  string   `mapstructure:"driver" validate:"omitempty,oneof=kafka nats none"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Driver kafka"`
	Topic   string   `mapstructure:"topic"`
	NATSURL string   `mapstructure:"nats_url" validate:"required_if=Driver nats"`
	Subject string   `mapstructure:"subject"`
}

type SyncCfg struct {
	PageSize                int `mapstructure:"page_size" validate:"min=0,max=50"`
	ReadBatchTimeoutSeconds int `mapstructure:"read_batch_timeout_seconds"`
	AuthFailureDelayMillis  int `mapstructure:"auth_failure_delay_ms"`
	SubscribeMaxRetries     int `mapstructure:"subscribe_max_retries"`
	SubscribeInitialMillis  int `mapstructure:"subscribe_initial_delay_ms"`
	SubscribeMaxMillis      int `mapstructure:"subscribe_max_delay_ms"`
}

type Config struct {
	App    AppCfg    `mapstructure:"app"`
	Auth   AuthCfg   `mapstructure:"auth"`
	Store  StoreCfg  `mapstructure:"store"`
	Blob   BlobCfg   `mapstructure:"blob"`
	Redis  RedisCfg  `mapstructure:"redis"`
	Events EventsCfg `mapstructure:"events"`
	Sync   SyncCfg   `mapstructure:"sync"`

	// Derived
	ShutdownTimeout   time.Duration `mapstructure:"-"`
	StoreOpTimeout    time.Duration `mapstructure:"-"`
	PresignTTL        time.Duration `mapstructure:"-"`
	ReadBatchTimeout  time.Duration `mapstructure:"-"`
	AuthFailureDelay  time.Duration `mapstructure:"-"`
	SubscribeInitial  time.Duration `mapstructure:"-"`
	SubscribeMaxDelay time.Duration `mapstructure:"-"`
}

func (c *Config) Development() bool { return c.App.Env == "development" }

// Load reads the yaml file at path. A .env file in the working directory is
// loaded first so APP_* variables can override any key (APP_STORE_URI etc).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8088)
	v.SetDefault("app.rate_limit_per_min", 600)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.messages_collection", "messages")
	v.SetDefault("store.conversations_collection", "conversations")
	v.SetDefault("store.profiles_collection", "user_profiles")
	v.SetDefault("store.contacts_collection", "contacts")
	v.SetDefault("blob.prefix", "profile-pictures")
	v.SetDefault("redis.prefix", "chatsync")
	v.SetDefault("events.driver", "none")
	v.SetDefault("events.topic", "chatsync.events")
	v.SetDefault("events.subject", "chatsync.events")
	v.SetDefault("auth.alg", "NONE")
}

func (c *Config) finish() error {
	if c.App.ShutdownTimeoutSeconds == 0 {
		c.App.ShutdownTimeoutSeconds = 10
	}
	if c.Store.OpTimeoutSeconds == 0 {
		c.Store.OpTimeoutSeconds = 5
	}
	if c.Blob.PresignTTLSeconds == 0 {
		c.Blob.PresignTTLSeconds = 600
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = 50
	}
	if c.Sync.ReadBatchTimeoutSeconds == 0 {
		c.Sync.ReadBatchTimeoutSeconds = 30
	}
	if c.Sync.AuthFailureDelayMillis == 0 {
		c.Sync.AuthFailureDelayMillis = 1500
	}
	if c.Sync.SubscribeMaxRetries == 0 {
		c.Sync.SubscribeMaxRetries = 5
	}
	if c.Sync.SubscribeInitialMillis == 0 {
		c.Sync.SubscribeInitialMillis = 1000
	}
	if c.Sync.SubscribeMaxMillis == 0 {
		c.Sync.SubscribeMaxMillis = 30000
	}
	c.Auth.Alg = strings.ToUpper(c.Auth.Alg)

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Auth.Alg {
	case "HS256":
		if c.Auth.HSSecret == "" {
			return fmt.Errorf("invalid config: auth.hs_secret required for HS256")
		}
	case "RS256":
		if c.Auth.PublicKeyPath == "" {
			return fmt.Errorf("invalid config: auth.public_key_path required for RS256")
		}
	}

	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.StoreOpTimeout = time.Duration(c.Store.OpTimeoutSeconds) * time.Second
	c.PresignTTL = time.Duration(c.Blob.PresignTTLSeconds) * time.Second
	c.ReadBatchTimeout = time.Duration(c.Sync.ReadBatchTimeoutSeconds) * time.Second
	c.AuthFailureDelay = time.Duration(c.Sync.AuthFailureDelayMillis) * time.Millisecond
	c.SubscribeInitial = time.Duration(c.Sync.SubscribeInitialMillis) * time.Millisecond
	c.SubscribeMaxDelay = time.Duration(c.Sync.SubscribeMaxMillis) * time.Millisecond
	return nil
}
