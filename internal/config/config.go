package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port     string
	MongoURI string
	MongoDB  string

	RedisAddr string

	RabbitURL     string
	EventExchange string

	// Session token lifetime, in seconds.
	TokenTTLSeconds int
	// Max identity-provider lookups per bearer token per minute.
	ProviderRateLimitPerMin int

	AWSRegion     string
	S3Bucket      string
	CognitoPoolID string

	// Public id of the account whose posts are injected into feeds as ads.
	AdAccountID string

	DefaultLimit int
}

func Load() Config {
	return Config{
		Port:                    getenv("APP_PORT", "8080"),
		MongoURI:                getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:                 getenv("MONGO_DB", "kotori"),
		RedisAddr:               getenv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:               getenv("RABBIT_URL", ""),
		EventExchange:           getenv("EVENT_EXCHANGE", "kotori.events"),
		TokenTTLSeconds:         atoi(getenv("TOKEN_EXPIRATION", "86400")),
		ProviderRateLimitPerMin: atoi(getenv("PROVIDER_RATE_LIMIT_PER_MIN", "30")),
		AWSRegion:               getenv("AWS_REGION", "ap-northeast-1"),
		S3Bucket:                getenv("AWS_S3_BUCKET_NAME", ""),
		CognitoPoolID:           getenv("AWS_COGNITO_USERPOOL_ID", ""),
		AdAccountID:             getenv("AD_ACCOUNT_ID", "3d10000"),
		DefaultLimit:            atoi(getenv("DEFAULT_LIMIT", "100")),
	}
}

func atoi(s string) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return 0
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
