package config

import (
	"os"
	"strings"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	ICEServers     string
	Redis          RedisConfig
	MQTT           MQTTConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MQTTConfig struct {
	Enabled   bool
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// DefaultICEServers is the configuration handed to callers in `_create` and
// offer-bearing envelopes unless ICE_SERVERS overrides it. The relay treats
// it as an opaque JSON string and never parses it.
const DefaultICEServers = `{"iceServers":[{"urls":"stun:stun.l.google.com:19302"}]}`

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		ICEServers:     getEnv("ICE_SERVERS", DefaultICEServers),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		MQTT: MQTTConfig{
			Enabled:   getEnv("MQTT_ENABLED", "false") == "true",
			BrokerURL: getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "signaling-relay"),
			Username:  getEnv("MQTT_USERNAME", ""),
			Password:  getEnv("MQTT_PASSWORD", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
