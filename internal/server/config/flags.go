package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/usersvc/internal/flagx"
)

// parseFlags overlays command-line flags:
//
//	-a string     HTTP bind address (e.g. ":8080")
//	-g string     gRPC health bind address
//	-d string     PostgreSQL DSN
//	-s string     access token signing secret
//	-iss string   access token issuer
//	-aud string   access token audience
//	-t duration   access token validity
//	-l duration   refresh token validity after login
//	-r duration   refresh token validity after rotation
//	-k duration   clock skew tolerated on access token expiry
//	-p duration   refresh token purge interval (0 disables)
//	-redis string Redis address for the password reset outbox
//	-log string   log level
func parseFlags(config *Config, args []string) error {
	known := []string{"-a", "-g", "-d", "-s", "-iss", "-aud", "-t", "-l", "-r", "-k", "-p", "-redis", "-log"}

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.Issuer, "iss", config.Issuer, "access token issuer")
	fs.StringVar(&config.Audience, "aud", config.Audience, "access token audience")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.LoginRefreshTokenValidityDuration, "l", config.LoginRefreshTokenValidityDuration, "refresh token validity after login")
	fs.DurationVar(&config.RotatedRefreshTokenValidityDuration, "r", config.RotatedRefreshTokenValidityDuration, "refresh token validity after rotation")
	fs.DurationVar(&config.ClockSkew, "k", config.ClockSkew, "clock skew tolerance")
	fs.DurationVar(&config.PurgeInterval, "p", config.PurgeInterval, "refresh token purge interval")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.LogLevel, "log", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, known)); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	return nil
}
