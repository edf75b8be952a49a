/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	JWTTTLHours             int    `mapstructure:"JWT_TTL_HOURS"`
	OTPCodeLength           int    `mapstructure:"OTP_CODE_LENGTH"`
	OTPTTLSeconds           int    `mapstructure:"OTP_TTL_SECONDS"`
	OTPSweepSchedule        string `mapstructure:"OTP_SWEEP_SCHEDULE"`
	SettlementEstimateHours int    `mapstructure:"SETTLEMENT_ESTIMATE_HOURS"`
	SettlementEventQueue    string `mapstructure:"SETTLEMENT_EVENT_QUEUE"`
	EventExchange           string `mapstructure:"EVENT_EXCHANGE"`
	NotificationExchange    string `mapstructure:"NOTIFICATION_EXCHANGE"`
}

// JWTTTL returns the token lifetime as a duration.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// OTPTTL returns the challenge lifetime as a duration.
func (c Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLSeconds) * time.Second
}

// SettlementEstimate returns how far in the future an international transfer
// is estimated to settle.
func (c Config) SettlementEstimate() time.Duration {
	return time.Duration(c.SettlementEstimateHours) * time.Hour
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values: 4-digit codes, 5-minute lifetime, abandoned
	// challenges swept every 60s.
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("JWT_TTL_HOURS", 168) // 7 days
	viper.SetDefault("OTP_CODE_LENGTH", 4)
	viper.SetDefault("OTP_TTL_SECONDS", 300)
	viper.SetDefault("OTP_SWEEP_SCHEDULE", "@every 60s")
	viper.SetDefault("SETTLEMENT_ESTIMATE_HOURS", 48)
	viper.SetDefault("SETTLEMENT_EVENT_QUEUE", "ledger_service.settlement_updates")
	viper.SetDefault("EVENT_EXCHANGE", "bank.events")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "bank.notifications")

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_HOURS")
	_ = viper.BindEnv("OTP_CODE_LENGTH")
	_ = viper.BindEnv("OTP_TTL_SECONDS")
	_ = viper.BindEnv("OTP_SWEEP_SCHEDULE")
	_ = viper.BindEnv("SETTLEMENT_ESTIMATE_HOURS")
	_ = viper.BindEnv("SETTLEMENT_EVENT_QUEUE")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	if config.JWTTTLHours <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive jwt ttl configured; using default\" jwt_ttl_hours=%d", config.JWTTTLHours)
		config.JWTTTLHours = 168
	}
	if config.OTPCodeLength < 4 || config.OTPCodeLength > 10 {
		log.Printf("level=warn component=config msg=\"otp code length out of range; using default\" otp_code_length=%d", config.OTPCodeLength)
		config.OTPCodeLength = 4
	}
	if config.OTPTTLSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive otp ttl configured; using default\" otp_ttl_seconds=%d", config.OTPTTLSeconds)
		config.OTPTTLSeconds = 300
	}
	if config.SettlementEstimateHours <= 0 {
		config.SettlementEstimateHours = 48
	}
	if strings.TrimSpace(config.OTPSweepSchedule) == "" {
		config.OTPSweepSchedule = "@every 60s"
	}

	return
}
