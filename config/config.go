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
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	HTTPPort    int           `mapstructure:"http_port"`
	GRPCPort    int           `mapstructure:"grpc_port"`
	LogLevel    string        `mapstructure:"log_level"`
	ServiceName string        `mapstructure:"service_name"` // Used for Consul registration
	JwtSecret   string        `mapstructure:"jwt_secret"`
	JwtIssuer   string        `mapstructure:"jwt_issuer"`
	JwtTTL      time.Duration `mapstructure:"jwt_ttl"`

	Database DatabaseConfig `mapstructure:"database"`
	Users    UsersConfig    `mapstructure:"users"`
	Consul   ConsulConfig   `mapstructure:"consul"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // mongo, mysql or sqlite
	URL    string `mapstructure:"url"`
	// Name is the Mongo database name. Ignored by the SQL drivers.
	Name           string        `mapstructure:"name"`
	Transactions   bool          `mapstructure:"transactions"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type UsersConfig struct {
	PasswordCost   int            `mapstructure:"password_cost"`
	DefaultRoles   []string       `mapstructure:"default_roles"`
	RequiredRoles  []string       `mapstructure:"required_roles"`
	BootstrapAdmin BootstrapAdmin `mapstructure:"bootstrap_admin"`
}

type BootstrapAdmin struct {
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	Roles    []string `mapstructure:"roles"`
}

type ConsulConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Address       string `mapstructure:"address"`
	CheckHost     string `mapstructure:"check_host"`
	CheckInterval string `mapstructure:"check_interval"`
	CheckTimeout  string `mapstructure:"check_timeout"`
}

const (
	DriverMongo  = "mongo"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Flags registers the command line flags viper binds to.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("user-directory", pflag.ContinueOnError)
	fs.String("config", "", "Path to a config file (default: ./config.yaml or ./config/config.yaml)")
	fs.Int("http_port", 0, "HTTP listen port")
	fs.String("log_level", "", "Log level (debug, info)")
	fs.String("mint-token", "", "Print a signed token for the named user and exit")
	return fs
}

// InitConfig reads configuration from the config file, .env, environment
// variables and the given flags, in increasing order of precedence.
func InitConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// A missing .env is fine, it only feeds the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("USERDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		for _, name := range []string{"http_port", "log_level"} {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(name, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 5000)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "user-directory")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "user-directory")
	v.SetDefault("jwt_ttl", 24*time.Hour)

	v.SetDefault("database.driver", DriverMongo)
	v.SetDefault("database.url", "mongodb://localhost:27017")
	v.SetDefault("database.name", "technotes")
	v.SetDefault("database.transactions", false)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("users.password_cost", 10)
	v.SetDefault("users.default_roles", []string{})
	v.SetDefault("users.required_roles", []string{})
	v.SetDefault("users.bootstrap_admin.username", "")
	v.SetDefault("users.bootstrap_admin.password", "")
	v.SetDefault("users.bootstrap_admin.roles", []string{"Admin"})

	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.address", "127.0.0.1:8500")
	v.SetDefault("consul.check_host", "localhost")
	v.SetDefault("consul.check_interval", "10s")
	v.SetDefault("consul.check_timeout", "2s")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.JwtSecret == "" {
		return errors.New("jwt_secret must be set")
	}
	switch c.Database.Driver {
	case DriverMongo, DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database.url must be set")
	}
	if c.Users.PasswordCost < bcrypt.MinCost || c.Users.PasswordCost > bcrypt.MaxCost {
		return fmt.Errorf("users.password_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}
