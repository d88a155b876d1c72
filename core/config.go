package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		AllowedOrigins  []string
		RateLimit       float64 // requests/second per IP on public subscription endpoints
		RateBurst       int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	EmailConfig struct {
		Service        string // console | smtp | sendgrid
		Host           string
		Port           int
		User           string
		Password       string
		FromName       string
		FromAddress    string
		SendgridApiKey string
	}

	RedisConfig struct {
		URL     string
		Channel string
	}

	Config struct {
		AppName         string
		Build           string
		Env             string
		Debug           bool
		TestMode        bool
		FrontendBaseURL string
		RollbarToken    string

		Server   ServerConfig
		Database DatabaseConfig
		Email    EmailConfig
		Redis    RedisConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c EmailConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// DefaultFromEmail is the sender identity used by every email transport.
func (c *Config) DefaultFromEmail() mail.Address {
	name := c.Email.FromName
	if name == "" {
		name = c.AppName
	}
	return mail.Address{Name: name, Address: c.Email.FromAddress}
}

func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "AstroAcademy")
	conf.SetDefault("build", "develop")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("rollbarToken", "")

	conf.SetDefault("server.host", "0.0.0.0:5000")
	conf.SetDefault("server.debugHost", "0.0.0.0:5001")
	conf.SetDefault("server.readTimeout", 5*time.Second)
	conf.SetDefault("server.writeTimeout", 10*time.Second)
	conf.SetDefault("server.shutdownTimeout", 10*time.Second)
	conf.SetDefault("server.allowedOrigins", []string{"*"})
	conf.SetDefault("server.rateLimit", 5.0)
	conf.SetDefault("server.rateBurst", 10)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "astroacademy")
	conf.SetDefault("database.user", "postgres")
	conf.SetDefault("database.password", "postgres")
	conf.SetDefault("database.adminUser", "")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("email.service", "smtp")
	conf.SetDefault("email.host", "smtp.gmail.com")
	conf.SetDefault("email.port", 587)
	conf.SetDefault("email.user", "")
	conf.SetDefault("email.password", "")
	conf.SetDefault("email.fromName", "")
	conf.SetDefault("email.fromAddress", "")
	conf.SetDefault("email.sendgridApiKey", "")

	conf.SetDefault("redis.url", "")
	conf.SetDefault("redis.channel", "astroacademy:realtime")

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch strings.ToUpper(env) {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	env = strings.ToUpper(env)
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	if from := conf.GetString("email.fromAddress"); from == "" {
		conf.SetDefault("email.fromAddress", conf.GetString("email.user"))
	}

	return &Config{
		AppName:         conf.GetString("appName"),
		Build:           conf.GetString("build"),
		Env:             env,
		Debug:           conf.GetBool("debug"),
		TestMode:        conf.GetBool("testMode"),
		FrontendBaseURL: strings.TrimRight(conf.GetString("frontendBaseURL"), "/"),
		RollbarToken:    conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            conf.GetString("server.host"),
			DebugHost:       conf.GetString("server.debugHost"),
			ReadTimeout:     conf.GetDuration("server.readTimeout"),
			WriteTimeout:    conf.GetDuration("server.writeTimeout"),
			ShutdownTimeout: conf.GetDuration("server.shutdownTimeout"),
			AllowedOrigins:  conf.GetStringSlice("server.allowedOrigins"),
			RateLimit:       conf.GetFloat64("server.rateLimit"),
			RateBurst:       conf.GetInt("server.rateBurst"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Email: EmailConfig{
			Service:        strings.ToLower(conf.GetString("email.service")),
			Host:           conf.GetString("email.host"),
			Port:           conf.GetInt("email.port"),
			User:           conf.GetString("email.user"),
			Password:       conf.GetString("email.password"),
			FromName:       conf.GetString("email.fromName"),
			FromAddress:    conf.GetString("email.fromAddress"),
			SendgridApiKey: conf.GetString("email.sendgridApiKey"),
		},
		Redis: RedisConfig{
			URL:     conf.GetString("redis.url"),
			Channel: conf.GetString("redis.channel"),
		},
	}
}
