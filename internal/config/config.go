package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Mail     MailConfig     `json:"mail"`
	Reminder ReminderConfig `json:"reminder"`
	Upload   UploadConfig   `json:"upload"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	JWTSecret       string        `json:"jwt_secret"`
	TokenLifetime   time.Duration `json:"token_lifetime"`
	AdminEmail      string        `json:"admin_email"`
	AdminPassword   string        `json:"admin_password"`
	DefaultPassword string        `json:"default_password"`
	ResetLifetime   time.Duration `json:"reset_lifetime"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

type MailConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	From        string        `json:"from"`
	AppURL      string        `json:"app_url"`
	SendTimeout time.Duration `json:"send_timeout"`
	MaxRetries  int           `json:"max_retries"`
}

type ReminderConfig struct {
	DailyAt  string `json:"daily_at"` // HH:MM in Timezone
	Timezone string `json:"timezone"`
	// MarkingGranularity is "run" (mark every eligible obligation once any
	// digest was delivered) or "recipient" (mark only obligations that were
	// part of at least one delivered digest).
	MarkingGranularity string        `json:"marking_granularity"`
	DispatchTimeout    time.Duration `json:"dispatch_timeout"`
}

type UploadConfig struct {
	Dir            string `json:"dir"`
	MaxTotalBytes  int64  `json:"max_total_bytes"`
	MaxSingleBytes int64  `json:"max_single_bytes"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}
		applyDefaults(config)
	})

	return config, err
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func applyDefaults(c *Configuration) {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Security.JWTSecret == "" {
		c.Security.JWTSecret = "dev_secret_change_me"
	}
	if c.Security.TokenLifetime == 0 {
		c.Security.TokenLifetime = 12 * time.Hour
	}
	if c.Security.AdminEmail == "" {
		c.Security.AdminEmail = "admin@procompliance.local"
	}
	if c.Security.AdminPassword == "" {
		c.Security.AdminPassword = "changeme"
	}
	if c.Security.ResetLifetime == 0 {
		c.Security.ResetLifetime = time.Hour
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.From == "" {
		c.Mail.From = "no-reply@procompliance.local"
	}
	if c.Mail.AppURL == "" {
		c.Mail.AppURL = "http://localhost:" + c.Server.Port
	}
	if c.Mail.SendTimeout == 0 {
		c.Mail.SendTimeout = 15 * time.Second
	}
	if c.Mail.MaxRetries == 0 {
		c.Mail.MaxRetries = 2
	}
	if c.Reminder.DailyAt == "" {
		c.Reminder.DailyAt = "09:00"
	}
	if c.Reminder.Timezone == "" {
		c.Reminder.Timezone = "Asia/Kolkata"
	}
	if c.Reminder.MarkingGranularity == "" {
		c.Reminder.MarkingGranularity = "run"
	}
	if c.Reminder.DispatchTimeout == 0 {
		c.Reminder.DispatchTimeout = 15 * time.Second
	}
	if c.Upload.Dir == "" {
		c.Upload.Dir = "uploads"
	}
	if c.Upload.MaxTotalBytes == 0 {
		c.Upload.MaxTotalBytes = 5 * 1024 * 1024
	}
	if c.Upload.MaxSingleBytes == 0 {
		c.Upload.MaxSingleBytes = 50 * 1024 * 1024
	}
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "procompliance",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
	}
	applyDefaults(config)

	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
		zap.String("mail_host", config.Mail.Host),
		zap.String("app_url", config.Mail.AppURL),
		zap.String("reminder_daily_at", config.Reminder.DailyAt),
		zap.String("reminder_timezone", config.Reminder.Timezone),
		zap.String("marking_granularity", config.Reminder.MarkingGranularity),
	)
}
