package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	UroPay   UroPayConfig
	Auth     AuthConfig
	Booking  BookingConfig

	FrontendURL string
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type UroPayConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	CallbackURL string
	ReturnURL   string
}

type AuthConfig struct {
	JWTSecret string
}

type BookingConfig struct {
	PendingTTL time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	uropayCfg := UroPayConfig{
		BaseURL:     os.Getenv("UROPAY_BASE_URL"),
		APIKey:      os.Getenv("UROPAY_API_KEY"),
		APISecret:   os.Getenv("UROPAY_API_SECRET"),
		CallbackURL: os.Getenv("UROPAY_CALLBACK_URL"),
		ReturnURL:   os.Getenv("UROPAY_RETURN_URL"),
	}
	if uropayCfg.BaseURL == "" {
		uropayCfg.BaseURL = "https://api.uropay.in"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("%s: missing JWT_SECRET", op)
	}

	pendingTTL := 30 * time.Minute
	if s := os.Getenv("BOOKING_PENDING_TTL_MIN"); s != "" {
		mins, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid BOOKING_PENDING_TTL_MIN: %w", op, err)
		}
		pendingTTL = time.Duration(mins) * time.Minute
	}

	return &Config{
		Server:      serverCfg,
		Postgres:    postgresCfg,
		Redis:       redisCfg,
		UroPay:      uropayCfg,
		Auth:        AuthConfig{JWTSecret: jwtSecret},
		Booking:     BookingConfig{PendingTTL: pendingTTL},
		FrontendURL: os.Getenv("FRONTEND_URL"),
	}, nil
}
