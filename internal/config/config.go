package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"

	"tpoms/internal/models"
	"tpoms/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Bus      BusConfig
	Security SecurityConfig
	Adapter  AdapterConfig
	Logging  LoggingConfig

	// Entities - аккаунты из ENTITIES, используются когда БД не настроена
	Entities []models.Entity
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port           int
	Host           string
	UseHTTPS       bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
}

// DatabaseConfig - настройки подключения к БД
//
// Пустой Host отключает БД: журнал событий не пишется,
// entity берутся из переменных окружения.
type DatabaseConfig struct {
	Host          string
	Port          int
	Name          string
	User          string
	Password      string
	SSLMode       string
	RetentionDays int // хранение order_events, 0 = не чистить
}

// BusConfig - транспорт шины Blitz
type BusConfig struct {
	Backend         string // redis, kafka, memory
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KafkaBrokers    []string
	KafkaGroupID    string
	RequestChannel  string
	ResponseChannel string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey  string
	AdminTokenHash string // bcrypt хеш токена панели управления

	// Key - разобранный EncryptionKey (32 байта)
	Key []byte
}

// AdapterConfig - параметры адаптеров брокеров
type AdapterConfig struct {
	RESTTimeout    time.Duration
	LoginTimeout   time.Duration
	ResyncInterval time.Duration
	QueueSize      int
	ParkedPerOrder int

	// WebSocket фида
	WSBaseDelay    time.Duration
	WSMaxDelay     time.Duration
	WSHeartbeat    time.Duration
	FeedBufferSize int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
//
// Если рядом есть .env, его значения подставляются для незаданных переменных.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return load()
}

// LoadFile загружает конфигурацию, предварительно прочитав указанные env файлы
func LoadFile(paths ...string) (*Config, error) {
	if err := godotenv.Load(paths...); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return load()
}

func load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:       getEnvAsBool("USE_HTTPS", false),
			CertFile:       getEnv("CERT_FILE", ""),
			KeyFile:        getEnv("KEY_FILE", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", ""),
			Port:          getEnvAsInt("DB_PORT", 5432),
			Name:          getEnv("DB_NAME", "tpoms"),
			User:          getEnv("DB_USER", "tpoms"),
			Password:      getEnv("DB_PASSWORD", ""),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			RetentionDays: getEnvAsInt("ORDER_EVENTS_RETENTION_DAYS", 30),
		},
		Bus: BusConfig{
			Backend:         strings.ToLower(getEnv("BUS_BACKEND", "redis")),
			RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:         getEnvAsInt("REDIS_DB", 0),
			KafkaBrokers:    getEnvAsList("KAFKA_BROKERS", nil),
			KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "tpoms"),
			RequestChannel:  getEnv("BUS_REQUEST_CHANNEL", "CH_BLITZ_REQUESTS"),
			ResponseChannel: getEnv("BUS_RESPONSE_CHANNEL", "CH_BLITZ_RESPONSES"),
		},
		Security: SecurityConfig{
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		},
		Adapter: AdapterConfig{
			RESTTimeout:    getEnvAsDuration("REST_TIMEOUT", 10*time.Second),
			LoginTimeout:   getEnvAsDuration("LOGIN_TIMEOUT", 60*time.Second),
			ResyncInterval: getEnvAsDuration("RESYNC_INTERVAL", 30*time.Second),
			QueueSize:      getEnvAsInt("COMMAND_QUEUE_SIZE", 128),
			ParkedPerOrder: getEnvAsInt("PARKED_PER_ORDER", 16),

			WSBaseDelay:    getEnvAsDuration("WS_BASE_DELAY", 3*time.Second),
			WSMaxDelay:     getEnvAsDuration("WS_MAX_DELAY", 60*time.Second),
			WSHeartbeat:    getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
			FeedBufferSize: getEnvAsInt("FEED_BUFFER_SIZE", 256),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	entities, err := parseEntities(getEnv("ENTITIES", ""))
	if err != nil {
		return nil, err
	}
	cfg.Entities = entities

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey != "" {
		key, err := crypto.ParseKey(c.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		c.Security.Key = key
	}

	// учётные данные в БД хранятся зашифрованными
	if c.Database.Enabled() && c.Security.Key == nil {
		return fmt.Errorf("ENCRYPTION_KEY is required when DB_HOST is set")
	}

	if c.Security.AdminTokenHash != "" && !crypto.IsBcryptHash(c.Security.AdminTokenHash) {
		return fmt.Errorf("ADMIN_TOKEN_HASH must be a bcrypt hash")
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS=true")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled() && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("ORDER_EVENTS_RETENTION_DAYS cannot be negative, got %d", c.Database.RetentionDays)
	}

	switch c.Bus.Backend {
	case "redis", "memory":
	case "kafka":
		if len(c.Bus.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for kafka backend")
		}
	default:
		return fmt.Errorf("BUS_BACKEND must be redis, kafka or memory, got %q", c.Bus.Backend)
	}

	if c.Bus.RequestChannel == c.Bus.ResponseChannel {
		return fmt.Errorf("BUS_REQUEST_CHANNEL and BUS_RESPONSE_CHANNEL must differ")
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Adapter.RESTTimeout <= 0 {
		return fmt.Errorf("REST_TIMEOUT must be positive, got %v", c.Adapter.RESTTimeout)
	}

	if c.Adapter.LoginTimeout <= 0 {
		return fmt.Errorf("LOGIN_TIMEOUT must be positive, got %v", c.Adapter.LoginTimeout)
	}

	if c.Adapter.ResyncInterval < time.Second {
		return fmt.Errorf("RESYNC_INTERVAL must be at least 1s, got %v", c.Adapter.ResyncInterval)
	}

	if c.Adapter.WSBaseDelay <= 0 || c.Adapter.WSMaxDelay < c.Adapter.WSBaseDelay {
		return fmt.Errorf("WS_MAX_DELAY (%v) must be >= WS_BASE_DELAY (%v) > 0",
			c.Adapter.WSMaxDelay, c.Adapter.WSBaseDelay)
	}

	if c.Adapter.WSHeartbeat < 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL cannot be negative, got %v", c.Adapter.WSHeartbeat)
	}

	if c.Adapter.QueueSize < 1 {
		return fmt.Errorf("COMMAND_QUEUE_SIZE must be positive, got %d", c.Adapter.QueueSize)
	}

	if c.Adapter.ParkedPerOrder < 1 {
		return fmt.Errorf("PARKED_PER_ORDER must be positive, got %d", c.Adapter.ParkedPerOrder)
	}

	if c.Adapter.FeedBufferSize < 1 {
		return fmt.Errorf("FEED_BUFFER_SIZE must be positive, got %d", c.Adapter.FeedBufferSize)
	}

	return nil
}

// Enabled - настроена ли БД
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Entity из окружения
//
// ENTITIES=E1:zerodha,E2:motilal
// ENTITY_E1_API_KEY=..., ENTITY_E1_TOTP_SECRET=..., ENTITY_E2_DOB=...

// parseEntities разбирает список ENTITIES
func parseEntities(raw string) ([]models.Entity, error) {
	var entities []models.Entity
	seen := make(map[string]bool)

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, broker, ok := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		broker = strings.TrimSpace(broker)
		if !ok || id == "" || broker == "" {
			return nil, fmt.Errorf("ENTITIES: invalid entry %q, expected id:broker", item)
		}
		if seen[id] {
			return nil, fmt.Errorf("ENTITIES: duplicate entity %q", id)
		}
		seen[id] = true

		entities = append(entities, models.Entity{
			ID:          id,
			Broker:      broker,
			Credentials: entityCredentials(id),
			Enabled:     true,
		})
	}
	return entities, nil
}

func entityCredentials(id string) models.Credentials {
	prefix := "ENTITY_" + EnvKey(id) + "_"
	return models.Credentials{
		APIKey:       getEnv(prefix+"API_KEY", ""),
		APISecret:    getEnv(prefix+"API_SECRET", ""),
		UserID:       getEnv(prefix+"USER_ID", ""),
		Password:     getEnv(prefix+"PASSWORD", ""),
		TOTPSecret:   getEnv(prefix+"TOTP_SECRET", ""),
		AccessToken:  getEnv(prefix+"ACCESS_TOKEN", ""),
		ClientCode:   getEnv(prefix+"CLIENT_CODE", ""),
		DOB:          getEnv(prefix+"DOB", ""),
		VendorInfo:   getEnv(prefix+"VENDOR_INFO", ""),
		APISecretKey: getEnv(prefix+"API_SECRET_KEY", ""),
	}
}

// EnvKey приводит id entity к виду, допустимому в имени переменной окружения
func EnvKey(id string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, id)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
