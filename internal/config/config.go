package config

import (
	"errors"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options is everything the server reads from flags, the environment or a .env file.
type Options struct {
	Addr           string        `long:"addr" env:"ADDR" default:":8080" description:"http service address"`
	DatabaseDSN    string        `long:"db-dsn" env:"DB_DSN" description:"Postgres connection string"`
	JWTSecret      string        `long:"jwt-secret" env:"JWT_SECRET" description:"HMAC secret used to sign access tokens"`
	TokenTTL       time.Duration `long:"token-ttl" env:"TOKEN_TTL" default:"24h" description:"Access token lifetime"`
	RedisAddr      string        `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
	RedisPassword  string        `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB        int           `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	AllowedOrigins []string      `long:"allowed-origin" env:"ALLOWED_ORIGINS" env-delim:"," description:"Origins allowed to open a websocket (* for any)"`
	SendLimit      int           `long:"send-limit" env:"SEND_LIMIT" default:"20" description:"Messages an identity may send per quota window"`
	DeleteLimit    int           `long:"delete-limit" env:"DELETE_LIMIT" default:"5" description:"Messages an identity may delete per quota window"`
	QuotaWindow    time.Duration `long:"quota-window" env:"QUOTA_WINDOW" default:"10m" description:"Length of the write quota window"`
	ClientRelay    bool          `long:"client-relay" env:"CLIENT_RELAY" description:"Also relay newMessageEvent frames sent by clients"`
	LogLevel       string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"zerolog level"`
	LogPretty      bool          `long:"log-pretty" env:"LOG_PRETTY" description:"Human readable console logs"`
}

// Parse loads an optional .env file and then parses args on top of the environment.
func Parse(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func Validate(opts Options) error {
	if strings.TrimSpace(opts.DatabaseDSN) == "" {
		return errors.New("DB_DSN is not set")
	}
	if strings.TrimSpace(opts.JWTSecret) == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if opts.SendLimit <= 0 || opts.DeleteLimit <= 0 {
		return errors.New("quota limits must be positive")
	}
	if opts.QuotaWindow <= 0 {
		return errors.New("quota window must be positive")
	}
	return nil
}
