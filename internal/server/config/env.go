package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "USERSVC_"

// parseEnv loads envFile into the process environment (existing variables
// win, a missing file is fine) and then overlays every USERSVC_* variable
// that is set.
func parseEnv(config *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading %s: %w", envFile, err)
		}
	}

	strs := map[string]*string{
		"HTTP_ADDR":    &config.EndpointAddrHTTP,
		"GRPC_ADDR":    &config.EndpointAddrGRPC,
		"DATABASE_DSN": &config.DatabaseDSN,
		"SECRET_KEY":   &config.SecretKey,
		"ISSUER":       &config.Issuer,
		"AUDIENCE":     &config.Audience,
		"REDIS_ADDR":   &config.RedisAddr,
		"REDIS_STREAM": &config.RedisStream,
		"LOG_LEVEL":    &config.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":    &config.AccessTokenValidityDuration,
		"LOGIN_REFRESH_TTL":   &config.LoginRefreshTokenValidityDuration,
		"ROTATED_REFRESH_TTL": &config.RotatedRefreshTokenValidityDuration,
		"CLOCK_SKEW":          &config.ClockSkew,
		"PURGE_INTERVAL":      &config.PurgeInterval,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}

	return nil
}
