// Пакет config — загрузка и валидация конфигурации BM Agency
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации BM Agency.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Размер пула: HTTP-запросы и фоновая доставка уведомлений делят его
	DBMaxConns int
	DBMinConns int
	// Максимальное время жизни соединения в пуле
	DBConnMaxLifetime time.Duration

	// --- JWT ---

	// Секрет HS256 для выпуска и проверки токенов входа
	JWTSecret string
	// Issuer выпускаемых токенов
	JWTIssuer string
	// Время жизни токена
	JWTTTL time.Duration
	// Допуск рассинхронизации часов при проверке exp/nbf
	JWTLeeway time.Duration
	// URL JWKS внешнего IdP (опционально, включает проверку RS256)
	JWTJWKSURL string
	// Ожидаемый issuer токенов внешнего IdP (обязателен вместе с JWKS URL)
	JWTIdPIssuer string
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration

	// --- Кэш субъектов ---

	// Максимальное число закэшированных субъектов
	PrincipalCacheSize int
	// TTL записи кэша
	PrincipalCacheTTL time.Duration

	// --- Пароли ---

	// Стоимость bcrypt
	BcryptCost int

	// --- SMTP ---

	// Хост SMTP; пустое значение отключает email-доставку
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	// Адрес отправителя
	SMTPFrom string
	// Политика TLS: mandatory, opportunistic, none
	SMTPTLS string

	// --- Live-канал ---

	// Разрешённые Origin для WebSocket (пусто — только same-origin)
	LiveAllowedOrigins []string
	// Интервал ping для WebSocket-соединений
	LivePingInterval time.Duration

	// --- Начальный владелец ---

	BootstrapOwnerEmail    string
	BootstrapOwnerPassword string
	BootstrapOwnerName     string

	// --- Мониторинг зависимостей ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// BM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("BM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("BM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("BM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("BM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("BM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("BM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("BM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("BM_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("BM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("BM_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("BM_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("BM_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("BM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("BM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("BM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("BM_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("BM_DB_MAX_CONNS: %w", err)
	}
	cfg.DBMinConns, err = getEnvInt("BM_DB_MIN_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("BM_DB_MIN_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("BM_DB_MIN_CONNS/BM_DB_MAX_CONNS: нужно 0 <= min <= max, max >= 1 (сейчас %d/%d)", cfg.DBMinConns, cfg.DBMaxConns)
	}
	cfg.DBConnMaxLifetime, err = getEnvDuration("BM_DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("BM_DB_CONN_MAX_LIFETIME: %w", err)
	}

	// --- JWT ---

	// BM_JWT_SECRET — обязательный, не короче 32 байт
	cfg.JWTSecret, err = getEnvRequired("BM_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("BM_JWT_SECRET: секрет должен быть не короче 32 байт")
	}

	cfg.JWTIssuer = getEnvDefault("BM_JWT_ISSUER", "bm-agency")

	cfg.JWTTTL, err = getEnvDuration("BM_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("BM_JWT_TTL: %w", err)
	}
	if cfg.JWTTTL <= 0 {
		return nil, fmt.Errorf("BM_JWT_TTL: значение должно быть положительным")
	}

	cfg.JWTLeeway, err = getEnvDuration("BM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BM_JWT_LEEWAY: %w", err)
	}

	// BM_JWT_JWKS_URL — опционально
	cfg.JWTJWKSURL = strings.TrimRight(getEnvDefault("BM_JWT_JWKS_URL", ""), "/")
	if cfg.JWTJWKSURL != "" {
		if u, perr := url.Parse(cfg.JWTJWKSURL); perr != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("BM_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
		}
		cfg.JWTIdPIssuer, err = getEnvRequired("BM_JWT_IDP_ISSUER")
		if err != nil {
			return nil, fmt.Errorf("%w (обязателен при заданном BM_JWT_JWKS_URL)", err)
		}
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("BM_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("BM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- Кэш субъектов ---

	cfg.PrincipalCacheSize, err = getEnvInt("BM_PRINCIPAL_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("BM_PRINCIPAL_CACHE_SIZE: %w", err)
	}
	if cfg.PrincipalCacheSize < 1 {
		return nil, fmt.Errorf("BM_PRINCIPAL_CACHE_SIZE: значение должно быть положительным")
	}

	cfg.PrincipalCacheTTL, err = getEnvDuration("BM_PRINCIPAL_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BM_PRINCIPAL_CACHE_TTL: %w", err)
	}

	// --- Пароли ---

	cfg.BcryptCost, err = getEnvInt("BM_BCRYPT_COST", 12)
	if err != nil {
		return nil, fmt.Errorf("BM_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("BM_BCRYPT_COST: значение %d вне допустимого диапазона 4-31", cfg.BcryptCost)
	}

	// --- SMTP ---

	cfg.SMTPHost = getEnvDefault("BM_SMTP_HOST", "")

	cfg.SMTPPort, err = getEnvInt("BM_SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("BM_SMTP_PORT: %w", err)
	}

	cfg.SMTPUsername = getEnvDefault("BM_SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvDefault("BM_SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvDefault("BM_SMTP_FROM", "no-reply@bm-agency.local")

	cfg.SMTPTLS = getEnvDefault("BM_SMTP_TLS", "mandatory")
	switch cfg.SMTPTLS {
	case "mandatory", "opportunistic", "none":
	default:
		return nil, fmt.Errorf("BM_SMTP_TLS: недопустимое значение %q, допустимые: mandatory, opportunistic, none", cfg.SMTPTLS)
	}

	// --- Live-канал ---

	cfg.LiveAllowedOrigins = parseCSV(getEnvDefault("BM_LIVE_ALLOWED_ORIGINS", ""))

	cfg.LivePingInterval, err = getEnvDuration("BM_LIVE_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BM_LIVE_PING_INTERVAL: %w", err)
	}

	// --- Начальный владелец ---

	cfg.BootstrapOwnerEmail = strings.ToLower(strings.TrimSpace(getEnvDefault("BM_BOOTSTRAP_OWNER_EMAIL", "")))
	cfg.BootstrapOwnerPassword = getEnvDefault("BM_BOOTSTRAP_OWNER_PASSWORD", "")
	cfg.BootstrapOwnerName = getEnvDefault("BM_BOOTSTRAP_OWNER_NAME", "Owner")
	if cfg.BootstrapOwnerEmail != "" && cfg.BootstrapOwnerPassword == "" {
		return nil, fmt.Errorf("BM_BOOTSTRAP_OWNER_PASSWORD: обязателен при заданном BM_BOOTSTRAP_OWNER_EMAIL")
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("BM_DEPHEALTH_GROUP", "bm-agency")

	cfg.DephealthCheckInterval, err = getEnvDuration("BM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("BM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("BM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов dephealth).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// EmailEnabled сообщает, настроена ли доставка email.
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
