package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xaenox/sendplan/internal/clients"
	"github.com/xaenox/sendplan/internal/engine"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Clients    clients.Config   `mapstructure:"clients"`
	Engine     engine.Config    `mapstructure:"engine"`
	Run        RunConfig        `mapstructure:"run"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// RedisConfig enables the shared in-flight guard when URL is set.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type ClassifierConfig struct {
	// UseGPT scores persona fit with OpenAI instead of keywords.
	UseGPT bool `mapstructure:"use_gpt"`
}

type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RunConfig selects the creator week generated by one process run.
type RunConfig struct {
	CreatorID string `mapstructure:"creator_id"`
	// WeekStart is a YYYY-MM-DD date.
	WeekStart string `mapstructure:"week_start"`
	Seed      uint64 `mapstructure:"seed"`
	Overwrite bool   `mapstructure:"overwrite"`
	InFlight  bool   `mapstructure:"in_flight"`
}

// Week parses WeekStart.
func (r RunConfig) Week() (time.Time, error) {
	return time.Parse(time.DateOnly, r.WeekStart)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			KeyPrefix: "sendplan:inflight",
			LockTTL:   10 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			Model:     "gpt-3.5-turbo",
			MaxTokens: 60,
		},
		Clients: clients.DefaultConfig(),
		Engine:  engine.DefaultConfig(),
	}
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path over the defaults. An empty path uses defaults and
// the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Enable environment variable support
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	config := Default()
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if chatID := v.GetInt64("TELEGRAM_CHAT_ID"); chatID != 0 {
		config.Telegram.ChatID = chatID
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	return &config, nil
}
