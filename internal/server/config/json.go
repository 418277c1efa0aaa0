package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/flagx"
	"github.com/dmitrijs2005/usersvc/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations accept either a Go
// duration string ("2h") or integer nanoseconds. Absent fields leave the
// current value untouched.
type JsonConfig struct {
	EndpointAddrHTTP                    string          `json:"endpoint_addr_http"`
	EndpointAddrGRPC                    string          `json:"endpoint_addr_grpc"`
	DatabaseDSN                         string          `json:"database_dsn"`
	SecretKey                           string          `json:"secret_key"`
	Issuer                              string          `json:"issuer"`
	Audience                            string          `json:"audience"`
	AccessTokenValidityDuration         *timex.Duration `json:"access_token_validity_duration"`
	LoginRefreshTokenValidityDuration   *timex.Duration `json:"login_refresh_token_validity_duration"`
	RotatedRefreshTokenValidityDuration *timex.Duration `json:"rotated_refresh_token_validity_duration"`
	ClockSkew                           *timex.Duration `json:"clock_skew"`
	PurgeInterval                       *timex.Duration `json:"purge_interval"`
	RedisAddr                           string          `json:"redis_addr"`
	RedisStream                         string          `json:"redis_stream"`
	LogLevel                            string          `json:"log_level"`
}

// parseJson overlays the file named by -c/-config, if any.
func parseJson(config *Config, args []string) error {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.Issuer, c.Issuer)
	setString(&config.Audience, c.Audience)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisStream, c.RedisStream)
	setString(&config.LogLevel, c.LogLevel)

	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.LoginRefreshTokenValidityDuration, c.LoginRefreshTokenValidityDuration)
	setDuration(&config.RotatedRefreshTokenValidityDuration, c.RotatedRefreshTokenValidityDuration)
	setDuration(&config.ClockSkew, c.ClockSkew)
	setDuration(&config.PurgeInterval, c.PurgeInterval)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
