package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port             string
	AllowedOrigin    string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	MenuCacheSeconds int
	SessionTTLHours  int
	OrderEditSeconds int
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	SMTPHost         string
	SMTPPort         string
	SMTPUser         string
	SMTPPassword     string
	BroadcastSMSTo   string
	BroadcastEmailTo string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	menuTTL, err := strconv.Atoi(getEnv("MENU_CACHE_SECONDS", "30"))
	if err != nil || menuTTL < 1 {
		menuTTL = 30
	}
	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_HOURS", "24"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 24
	}
	editWindow, err := strconv.Atoi(getEnv("ORDER_EDIT_SECONDS", "120"))
	if err != nil || editWindow < 1 {
		editWindow = 120
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		MenuCacheSeconds: menuTTL,
		SessionTTLHours:  sessionTTL,
		OrderEditSeconds: editWindow,
		TwilioAccountSID: strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID")),
		TwilioAuthToken:  strings.TrimSpace(os.Getenv("TWILIO_AUTH_TOKEN")),
		TwilioFromNumber: strings.TrimSpace(os.Getenv("TWILIO_FROM_NUMBER")),
		SMTPHost:         strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:         strings.TrimSpace(os.Getenv("SMTP_PORT")),
		SMTPUser:         strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPassword:     strings.TrimSpace(os.Getenv("SMTP_PASS")),
		BroadcastSMSTo:   strings.TrimSpace(os.Getenv("BROADCAST_SMS_TO")),
		BroadcastEmailTo: strings.TrimSpace(os.Getenv("BROADCAST_EMAIL_TO")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
