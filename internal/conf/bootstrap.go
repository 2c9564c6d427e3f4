// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"HelpdeskPulse/pkg/crypto"

	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with HELPDESKPULSE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required values:
//   - GLPI_URL or HELPDESKPULSE_GLPI_BASE_URL: GLPI REST endpoint (…/apirest.php)
//   - GLPI_APP_TOKEN or HELPDESKPULSE_GLPI_APP_TOKEN
//   - GLPI_USER_TOKEN or HELPDESKPULSE_GLPI_USER_TOKEN
//
// Tokens may be sealed with pkg/crypto ("enc:..."); they are opened here with
// ENCRYPTION_KEY so the rest of the service only ever sees plain values.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HELPDESKPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names kept for compatibility with existing deployments
	_ = v.BindEnv("glpi.base_url", "GLPI_URL", "HELPDESKPULSE_GLPI_BASE_URL")
	_ = v.BindEnv("glpi.app_token", "GLPI_APP_TOKEN", "HELPDESKPULSE_GLPI_APP_TOKEN")
	_ = v.BindEnv("glpi.user_token", "GLPI_USER_TOKEN", "HELPDESKPULSE_GLPI_USER_TOKEN")
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "HELPDESKPULSE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "HELPDESKPULSE_DATA_REDIS_ADDR")
	_ = v.BindEnv("auth.encryption_key", "ENCRYPTION_KEY", "HELPDESKPULSE_AUTH_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var levels []ServiceLevel
	if err := v.UnmarshalKey("dashboard.levels", &levels); err != nil {
		return nil, fmt.Errorf("failed to parse dashboard.levels: %w", err)
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &ServerHTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				DialTimeout:  v.GetDuration("data.redis.dial_timeout"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		GLPI: &GLPI{
			BaseURL:        strings.TrimSuffix(v.GetString("glpi.base_url"), "/"),
			AppToken:       v.GetString("glpi.app_token"),
			UserToken:      v.GetString("glpi.user_token"),
			ProxyURL:       v.GetString("glpi.proxy_url"),
			SessionTimeout: v.GetDuration("glpi.session_timeout"),
			RenewalMargin:  v.GetDuration("glpi.renewal_margin"),
			RateLimit:      v.GetFloat64("glpi.rate_limit"),
			Burst:          v.GetInt("glpi.burst"),
			CircuitBreaker: &CircuitBreaker{
				FailureThreshold: v.GetUint32("glpi.circuit_breaker.failure_threshold"),
				RecoveryTimeout:  v.GetDuration("glpi.circuit_breaker.recovery_timeout"),
				SuccessThreshold: v.GetUint32("glpi.circuit_breaker.success_threshold"),
				Timeout:          v.GetDuration("glpi.circuit_breaker.timeout"),
			},
			Retry: &Retry{
				MaxAttempts: v.GetInt("glpi.retry.max_attempts"),
				BaseDelay:   v.GetDuration("glpi.retry.base_delay"),
				MaxDelay:    v.GetDuration("glpi.retry.max_delay"),
			},
		},
		Cache: &Cache{
			ProbeInterval: v.GetDuration("cache.probe_interval"),
			LocalSize:     v.GetInt("cache.local_size"),
			KeyPrefix:     v.GetString("cache.key_prefix"),
			ShortTTL:      v.GetDuration("cache.ttl.short"),
			MediumTTL:     v.GetDuration("cache.ttl.medium"),
			LongTTL:       v.GetDuration("cache.ttl.long"),
		},
		Dashboard: &Dashboard{
			Workers:      v.GetInt("dashboard.workers"),
			WarmupSpec:   v.GetString("dashboard.warmup_spec"),
			HistoryLimit: v.GetInt("dashboard.history_limit"),
			Levels:       levels,
		},
		Auth: &Auth{
			EncryptionKey: v.GetString("auth.encryption_key"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := openSealedTokens(bc); err != nil {
		return nil, err
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 60*time.Second)

	// Data defaults
	// Note: data.database.source (MYSQL_DSN) is optional, history is disabled without it
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.dial_timeout", 3*time.Second)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// GLPI client defaults
	v.SetDefault("glpi.session_timeout", time.Hour)
	v.SetDefault("glpi.renewal_margin", 5*time.Minute)
	v.SetDefault("glpi.rate_limit", 20.0)
	v.SetDefault("glpi.burst", 10)
	v.SetDefault("glpi.circuit_breaker.failure_threshold", 5)
	v.SetDefault("glpi.circuit_breaker.recovery_timeout", 60*time.Second)
	v.SetDefault("glpi.circuit_breaker.success_threshold", 3)
	v.SetDefault("glpi.circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("glpi.retry.max_attempts", 3)
	v.SetDefault("glpi.retry.base_delay", time.Second)
	v.SetDefault("glpi.retry.max_delay", 10*time.Second)

	// Cache defaults
	v.SetDefault("cache.probe_interval", 30*time.Second)
	v.SetDefault("cache.local_size", 1024)
	v.SetDefault("cache.key_prefix", "helpdeskpulse")
	v.SetDefault("cache.ttl.short", 60*time.Second)
	v.SetDefault("cache.ttl.medium", 300*time.Second)
	v.SetDefault("cache.ttl.long", 1800*time.Second)

	// Dashboard defaults
	v.SetDefault("dashboard.workers", 8)
	v.SetDefault("dashboard.warmup_spec", "@every 5m")
	v.SetDefault("dashboard.history_limit", 50)
	v.SetDefault("dashboard.levels", []map[string]interface{}{
		{"name": "N1", "group_id": 1},
		{"name": "N2", "group_id": 2},
		{"name": "N3", "group_id": 3},
		{"name": "N4", "group_id": 4},
	})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// openSealedTokens replaces sealed GLPI tokens with their plain values.
func openSealedTokens(bc *Bootstrap) error {
	if !crypto.IsSealed(bc.GLPI.AppToken) && !crypto.IsSealed(bc.GLPI.UserToken) {
		return nil
	}

	if bc.Auth.EncryptionKey == "" {
		return fmt.Errorf("sealed GLPI tokens require auth.encryption_key (ENCRYPTION_KEY)")
	}

	box, err := crypto.NewSecretBox([]byte(bc.Auth.EncryptionKey))
	if err != nil {
		return fmt.Errorf("invalid auth.encryption_key: %w", err)
	}

	if bc.GLPI.AppToken, err = box.Open(bc.GLPI.AppToken); err != nil {
		return fmt.Errorf("failed to open glpi.app_token: %w", err)
	}
	if bc.GLPI.UserToken, err = box.Open(bc.GLPI.UserToken); err != nil {
		return fmt.Errorf("failed to open glpi.user_token: %w", err)
	}

	return nil
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing every problem found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.GLPI == nil || bc.GLPI.BaseURL == "" {
		problems = append(problems, "glpi.base_url (GLPI_URL)")
	}
	if bc.GLPI == nil || bc.GLPI.AppToken == "" {
		problems = append(problems, "glpi.app_token (GLPI_APP_TOKEN)")
	}
	if bc.GLPI == nil || bc.GLPI.UserToken == "" {
		problems = append(problems, "glpi.user_token (GLPI_USER_TOKEN)")
	}

	if bc.GLPI != nil {
		if bc.GLPI.SessionTimeout <= bc.GLPI.RenewalMargin {
			problems = append(problems, "glpi.session_timeout must exceed glpi.renewal_margin")
		}
		if cb := bc.GLPI.CircuitBreaker; cb == nil || cb.FailureThreshold == 0 || cb.SuccessThreshold == 0 {
			problems = append(problems, "glpi.circuit_breaker thresholds must be positive")
		} else if cb.RecoveryTimeout <= 0 || cb.Timeout <= 0 {
			problems = append(problems, "glpi.circuit_breaker timeouts must be positive")
		}
		if r := bc.GLPI.Retry; r == nil || r.MaxAttempts < 1 {
			problems = append(problems, "glpi.retry.max_attempts must be at least 1")
		}
	}

	if bc.Dashboard == nil || len(bc.Dashboard.Levels) == 0 {
		problems = append(problems, "dashboard.levels must not be empty")
	} else {
		seen := make(map[string]bool, len(bc.Dashboard.Levels))
		for _, l := range bc.Dashboard.Levels {
			if l.Name == "" || seen[l.Name] {
				problems = append(problems, fmt.Sprintf("dashboard.levels: invalid or duplicate name %q", l.Name))
			}
			seen[l.Name] = true
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
