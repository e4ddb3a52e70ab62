package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Security  SecurityConfig
	Device    DeviceConfig
	Fleet     FleetConfig
	Voucher   VoucherConfig
	Scheduler SchedulerConfig
}

type ServerConfig struct {
	Port            string
	Mode            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig.Driver is "postgres" or "memory". The memory store keeps
// nothing across restarts.
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// AuthConfig: HS256 tokens are checked against JWTSecret. When KeycloakURL is
// set, RS256 tokens signed by the realm are accepted too.
type AuthConfig struct {
	JWTSecret     string
	AdminRole     string
	KeycloakURL   string
	KeycloakRealm string
}

// SecurityConfig holds the key used to seal router and voucher secrets at rest.
// SecretKey is 32 bytes, hex or base64 encoded.
type SecurityConfig struct {
	SecretKey string
}

type DeviceConfig struct {
	Timeout            time.Duration
	RateLimit          float64
	RateBurst          int
	MaxBodyBytes       int64
	InsecureSkipVerify bool
}

type FleetConfig struct {
	MaxConcurrency int
	MaxBatchSize   int
}

type VoucherConfig struct {
	MaxCount       int
	MaxAttempts    int
	UsernamePrefix string
	SecretLength   int
}

type SchedulerConfig struct {
	ProbeInterval time.Duration
	SyncInterval  time.Duration
}

// Flags registers the command line flags understood by Load.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to config file (default: ./config.yaml or ./config/config.yaml)")
	fs.String("port", "", "HTTP listen port")
	fs.String("mode", "", "gin mode: debug|release|test")
	fs.String("store", "", "storage driver: postgres|memory")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdowntimeout", "30s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.connmaxlifetime", "5m")
	v.SetDefault("database.automigrate", true)
	v.SetDefault("auth.adminrole", "admin")
	v.SetDefault("device.timeout", "5s")
	v.SetDefault("device.ratelimit", 50)
	v.SetDefault("device.rateburst", 20)
	v.SetDefault("device.maxbodybytes", 4<<20)
	v.SetDefault("device.insecureskipverify", false)
	v.SetDefault("fleet.maxconcurrency", 8)
	v.SetDefault("fleet.maxbatchsize", 500)
	v.SetDefault("voucher.maxcount", 100)
	v.SetDefault("voucher.maxattempts", 5)
	v.SetDefault("voucher.usernameprefix", "v")
	v.SetDefault("voucher.secretlength", 8)
	v.SetDefault("scheduler.probeinterval", "5m")
	v.SetDefault("scheduler.syncinterval", "1h")
}

// Load reads configuration from config.yaml, a .env file, the environment
// (ROUTERFLEET_ prefix) and, when fs is non-nil, command line flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("ROUTERFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
		}
		if f := fs.Lookup("port"); f != nil && f.Changed {
			v.Set("server.port", f.Value.String())
		}
		if f := fs.Lookup("mode"); f != nil && f.Changed {
			v.Set("server.mode", f.Value.String())
		}
		if f := fs.Lookup("store"); f != nil && f.Changed {
			v.Set("database.driver", f.Value.String())
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("KEYCLOAK_URL"); url != "" {
		cfg.Auth.KeycloakURL = url
	}
	if key := os.Getenv("SECRET_KEY"); key != "" {
		cfg.Security.SecretKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unknown server.mode %q", c.Server.Mode)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}

	switch {
	case c.Auth.KeycloakURL != "" && c.Auth.KeycloakRealm == "":
		return errors.New("config: auth.keycloakrealm is required with auth.keycloakurl")
	case c.Device.Timeout <= 0:
		return errors.New("config: device.timeout must be positive")
	case c.Device.RateLimit < 0:
		return errors.New("config: device.ratelimit must not be negative")
	case c.Device.MaxBodyBytes <= 0:
		return errors.New("config: device.maxbodybytes must be positive")
	case c.Fleet.MaxConcurrency < 1:
		return errors.New("config: fleet.maxconcurrency must be at least 1")
	case c.Fleet.MaxBatchSize < 1:
		return errors.New("config: fleet.maxbatchsize must be at least 1")
	case c.Voucher.MaxCount < 1:
		return errors.New("config: voucher.maxcount must be at least 1")
	case c.Voucher.MaxAttempts < 1:
		return errors.New("config: voucher.maxattempts must be at least 1")
	case c.Voucher.SecretLength < 6:
		return errors.New("config: voucher.secretlength must be at least 6")
	}
	return nil
}
