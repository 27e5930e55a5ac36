package main

import (
	"errors"
	"strings"
	"time"

	"github.com/havosec/authcore"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// settings is the process configuration. Keys map to upper-case environment
// variables, so admin_jwt_secret is read from ADMIN_JWT_SECRET.
type settings struct {
	AdminSecret    string
	ClientSecret   string
	MongoURL       string
	DBName         string
	RedisURL       string
	HTTPAddr       string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	VerifyIdentity bool
	SessionTTL     time.Duration
	ShutdownGrace  time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db_name", "havosec")
	v.SetDefault("http_addr", ":8001")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("session_ttl", 7*24*time.Hour)
	v.SetDefault("shutdown_grace", 10*time.Second)
	v.SetDefault("verify_identity", false)
	return v
}

func loadSettings(v *viper.Viper, path string) (settings, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	s := settings{
		AdminSecret:    v.GetString("admin_jwt_secret"),
		ClientSecret:   v.GetString("jwt_secret"),
		MongoURL:       v.GetString("mongo_url"),
		DBName:         v.GetString("db_name"),
		RedisURL:       v.GetString("redis_url"),
		HTTPAddr:       v.GetString("http_addr"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		AllowedOrigins: splitList(v.GetStringSlice("allowed_origins")),
		VerifyIdentity: v.GetBool("verify_identity"),
		SessionTTL:     v.GetDuration("session_ttl"),
		ShutdownGrace:  v.GetDuration("shutdown_grace"),
	}
	if s.AdminSecret == "" || s.ClientSecret == "" {
		return settings{}, oops.Code("CONFIG_INVALID").
			Errorf("ADMIN_JWT_SECRET and JWT_SECRET are required")
	}
	return s, nil
}

// engineConfig maps settings onto the engine defaults.
func (s settings) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.Session.AdminSecret = []byte(s.AdminSecret)
	cfg.Session.ClientSecret = []byte(s.ClientSecret)
	cfg.Session.VerifyIdentity = s.VerifyIdentity
	if s.SessionTTL > 0 {
		cfg.Session.TTL = s.SessionTTL
	}
	if err := cfg.Validate(); err != nil {
		return authcore.Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func newLogger(s settings) (*logrus.Logger, error) {
	log := logrus.New()
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("log_level", s.LogLevel).Wrap(err)
	}
	log.SetLevel(level)
	switch s.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, oops.Code("CONFIG_INVALID").With("log_format", s.LogFormat).Wrap(errors.New("unknown log format"))
	}
	return log, nil
}

// splitList accepts both list values from a config file and a single
// comma-separated environment value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
