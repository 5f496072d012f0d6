package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Session   SessionConfig
	Email     EmailConfig
	WebSocket WebSocketConfig
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	// Для 'single', если не пуст, используется первый адрес из списка.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single' (для обратной совместимости).
	// Используется, если Mode="single" и Addrs пустой.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	// MaxRetries: Максимальное количество попыток переподключения (-1 - бесконечно). По умолчанию 0 (без ретраев).
	MaxRetries int `mapstructure:"max_retries"`

	// MinRetryBackoff: Минимальный интервал между попытками (в миллисекундах). По умолчанию 8ms.
	MinRetryBackoff int `mapstructure:"min_retry_backoff"`

	// MaxRetryBackoff: Максимальный интервал между попытками (в миллисекундах). По умолчанию 512ms.
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"`
}

// JWTConfig содержит настройки JWT
type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	ExpirationHrs     int    `mapstructure:"expirationHrs"`
	WSTicketExpirySec int    `mapstructure:"wsTicketExpirySec"` // Время жизни тикета для WebSocket в секундах
}

// SessionConfig содержит настройки движка живых сессий
type SessionConfig struct {
	// IntermissionSec: окно показа промежуточного лидерборда в секундах.
	// 0 - интермиссия ждет команду ведущего.
	IntermissionSec int `mapstructure:"intermission_sec"`

	// AutoAdvance: автоматический переход к следующему вопросу после интермиссии
	AutoAdvance bool `mapstructure:"auto_advance"`

	// LockOnAllSubmitted: блокировать раунд досрочно, когда ответили все присутствующие
	LockOnAllSubmitted bool `mapstructure:"lock_on_all_submitted"`

	// DefaultTimeLimitSec: лимит времени вопроса, если в вопросе не задан
	DefaultTimeLimitSec int `mapstructure:"default_time_limit_sec"`

	// JoinCodeLength: длина кода присоединения
	JoinCodeLength int `mapstructure:"join_code_length"`

	// AbandonAfterMin: без активности дольше этого (в минутах) сессия закрывается
	AbandonAfterMin int `mapstructure:"abandon_after_min"`

	// ReaperIntervalSec: период проверки заброшенных сессий в секундах
	ReaperIntervalSec int `mapstructure:"reaper_interval_sec"`

	// IdempotencyTTLMin: хранение результатов идемпотентных команд в минутах
	IdempotencyTTLMin int `mapstructure:"idempotency_ttl_min"`
}

// EmailConfig содержит настройки почтовых уведомлений
type EmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
}

// WebSocketConfig содержит настройки WebSocket-подсистемы
type WebSocketConfig struct {
	Cluster ClusterConfig
	Limits  LimitsConfig
}

// ClusterConfig содержит настройки кластеризации
type ClusterConfig struct {
	Enabled          bool
	InstanceID       string
	BroadcastChannel string
	DirectChannel    string
}

// LimitsConfig содержит настройки ограничений
type LimitsConfig struct {
	MaxMessageSize      int
	WriteWait           int
	PongWait            int
	MaxConnectionsPerIP int
	CleanupInterval     int
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// AbandonAfter возвращает порог заброшенности сессии как Duration
func (s *SessionConfig) AbandonAfter() time.Duration {
	if s.AbandonAfterMin <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.AbandonAfterMin) * time.Minute
}

// ReaperInterval возвращает период проверки заброшенных сессий как Duration
func (s *SessionConfig) ReaperInterval() time.Duration {
	if s.ReaperIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(s.ReaperIntervalSec) * time.Second
}

// IdempotencyTTL возвращает время хранения идемпотентных результатов как Duration
func (s *SessionConfig) IdempotencyTTL() time.Duration {
	if s.IdempotencyTTLMin <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.IdempotencyTTLMin) * time.Minute
}

// Load загружает конфигурацию из файла
func Load(configPath string) (*Config, error) {
	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния

	// 1. Привязываем переменные окружения ЯВНО
	// Привязка для секции Database
	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	// Привязка для секции Redis
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS") // Для массива строк
	vip.BindEnv("redis.addr", "REDIS_ADDR")   // Для одиночной строки
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	// Привязка для секции JWT
	vip.BindEnv("jwt.secret", "JWT_SECRET")
	vip.BindEnv("jwt.expirationHrs", "JWT_EXPIRATIONHRS")
	vip.BindEnv("jwt.wsTicketExpirySec", "JWT_WSTICKETEXPIRYSEC")

	// Привязка для секции Session
	vip.BindEnv("session.intermission_sec", "SESSION_INTERMISSION_SEC")
	vip.BindEnv("session.auto_advance", "SESSION_AUTO_ADVANCE")
	vip.BindEnv("session.lock_on_all_submitted", "SESSION_LOCK_ON_ALL_SUBMITTED")
	vip.BindEnv("session.default_time_limit_sec", "SESSION_DEFAULT_TIME_LIMIT_SEC")
	vip.BindEnv("session.join_code_length", "SESSION_JOIN_CODE_LENGTH")
	vip.BindEnv("session.abandon_after_min", "SESSION_ABANDON_AFTER_MIN")
	vip.BindEnv("session.reaper_interval_sec", "SESSION_REAPER_INTERVAL_SEC")
	vip.BindEnv("session.idempotency_ttl_min", "SESSION_IDEMPOTENCY_TTL_MIN")

	// Привязка для секции Email
	vip.BindEnv("email.enabled", "EMAIL_ENABLED")
	vip.BindEnv("email.resend_api_key", "RESEND_API_KEY")
	vip.BindEnv("email.from", "EMAIL_FROM")

	// Привязка для Server
	vip.BindEnv("server.port", "SERVER_PORT")

	// Привязка для WebSocket Cluster
	vip.BindEnv("websocket.cluster.enabled", "WEBSOCKET_CLUSTER_ENABLED")
	vip.BindEnv("websocket.cluster.instanceid", "WEBSOCKET_CLUSTER_INSTANCE_ID")
	vip.BindEnv("websocket.cluster.broadcastchannel", "WEBSOCKET_CLUSTER_BROADCAST_CHANNEL")
	vip.BindEnv("websocket.cluster.directchannel", "WEBSOCKET_CLUSTER_DIRECT_CHANNEL")

	// 2. Устанавливаем путь к файлу конфигурации
	if configPath != "" {
		vip.SetConfigFile(configPath)
		// 3. Пытаемся прочитать файл конфигурации (не страшно, если его нет, т.к. есть BindEnv)
		if err := vip.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Printf("Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	// 4. Анмаршалим конфигурацию (Viper объединит значения из файла и привязанных env vars)
	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 5. Логирование конфигурации (только в debug режиме)
	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Port: %s", cfg.Database.Port)
		log.Printf("Database User: %s", cfg.Database.User)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Database SSLMode: %s", cfg.Database.SSLMode)
		log.Printf("Redis Addr: %s", cfg.Redis.Addr)
		log.Printf("Redis Mode: %s", cfg.Redis.Mode)
		log.Printf("JWT Expiration Hours: %d", cfg.JWT.ExpirationHrs)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("Session Intermission Sec: %d", cfg.Session.IntermissionSec)
		log.Printf("Session Auto Advance: %t", cfg.Session.AutoAdvance)
		log.Printf("Email Enabled: %t", cfg.Email.Enabled)
		log.Printf("Websocket Cluster Enabled: %t", cfg.WebSocket.Cluster.Enabled)
		log.Printf("-----------------------------------------")
	}

	// 6. Проверка обязательных параметров
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT secret is required in config (check JWT_SECRET env var)")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" || cfg.Database.User == "" {
		return nil, fmt.Errorf("database configuration (host, dbname, user) is incomplete in config (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	ginMode := vip.GetString("GIN_MODE")
	if ginMode != "debug" {
		if cfg.Database.Password == "" {
			return nil, fmt.Errorf("database password is required in production mode (check DATABASE_PASSWORD env var)")
		}
	}
	if cfg.Email.Enabled && cfg.Email.ResendAPIKey == "" {
		return nil, fmt.Errorf("resend api key is required when email notifications are enabled (check RESEND_API_KEY env var)")
	}

	return &cfg, nil
}
