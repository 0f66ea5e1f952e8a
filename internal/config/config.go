// Package config contains FanSync client Config and the code to load it.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fansync/fansync/internal/configtypes"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "FANSYNC"

type Config struct {
	// HTTP is a configuration for the internal HTTP server.
	HTTP configtypes.HTTPServer `mapstructure:"http_server" json:"http_server" toml:"http_server" yaml:"http_server"`
	// Log is a configuration for logging.
	Log configtypes.Log `mapstructure:"log" json:"log" toml:"log" yaml:"log"`
	// Cloud is a configuration for FanSync cloud endpoints and timeouts.
	Cloud configtypes.Cloud `mapstructure:"cloud" json:"cloud" toml:"cloud" yaml:"cloud"`
	// Auth holds cloud account credentials.
	Auth configtypes.Auth `mapstructure:"auth" json:"auth" toml:"auth" yaml:"auth"`
	// CircuitBreaker gates connection attempts after repeated failures.
	CircuitBreaker configtypes.CircuitBreaker `mapstructure:"circuit_breaker" json:"circuit_breaker" toml:"circuit_breaker" yaml:"circuit_breaker"`
	// Reconnect configures backoff between connection attempts.
	Reconnect configtypes.Reconnect `mapstructure:"reconnect" json:"reconnect" toml:"reconnect" yaml:"reconnect"`
	// Prometheus metrics endpoint configuration.
	Prometheus configtypes.Prometheus `mapstructure:"prometheus" json:"prometheus" toml:"prometheus" yaml:"prometheus"`
	// Health check endpoint configuration.
	Health configtypes.Health `mapstructure:"health" json:"health" toml:"health" yaml:"health"`
	// Debug enables the diagnostics snapshot endpoint.
	Debug configtypes.Debug `mapstructure:"debug" json:"debug" toml:"debug" yaml:"debug"`

	// PidFile is a path to write a file with FanSync process PID.
	PidFile string `mapstructure:"pid_file" json:"pid_file" toml:"pid_file" yaml:"pid_file"`
}

type Meta struct {
	FileNotFound bool
	UnknownKeys  []string
}

// DefaultConfig returns Config with defaults the daemon starts with when no
// file or environment overrides are present.
func DefaultConfig() Config {
	return Config{
		HTTP: configtypes.HTTPServer{
			Address: "127.0.0.1",
			Port:    8300,
		},
		Log: configtypes.Log{
			Level: "info",
		},
		Cloud: configtypes.Cloud{
			APIEndpoint: "https://fanimation.apps.exosite.io/api:1/session",
			WSEndpoint:  "wss://fanimation.apps.exosite.io/api:1/phone",
			HTTPTimeout: configtypes.Duration(10 * time.Second),
			WSTimeout:   configtypes.Duration(30 * time.Second),
		},
		Auth: configtypes.Auth{
			RefreshMargin: configtypes.Duration(60 * time.Second),
		},
		CircuitBreaker: configtypes.CircuitBreaker{
			FailureThreshold: 5,
			CoolDown:         configtypes.Duration(60 * time.Second),
		},
		Reconnect: configtypes.Reconnect{
			BaseDelay:          configtypes.Duration(500 * time.Millisecond),
			MaxDelay:           configtypes.Duration(30 * time.Second),
			FirstConnectBudget: configtypes.Duration(45 * time.Second),
		},
		Prometheus: configtypes.Prometheus{Enabled: true},
		Health:     configtypes.Health{Enabled: true},
	}
}

func DefineFlags(rootCmd *cobra.Command) {
	rootCmd.Flags().StringP("pid_file", "", "", "optional path to create PID file")
	rootCmd.Flags().StringP("http_server.address", "a", "127.0.0.1", "interface address to listen on")
	rootCmd.Flags().StringP("http_server.port", "p", "8300", "port to bind internal HTTP server to")
	rootCmd.Flags().StringP("log.level", "", "info", "set the log level: trace, debug, info, warn, error, fatal or none")
	rootCmd.Flags().StringP("log.file", "", "", "optional log file - if not specified logs go to STDOUT")
	rootCmd.Flags().StringP("auth.email", "", "", "cloud account email")
	rootCmd.Flags().BoolP("cloud.insecure_skip_verify", "", false, "skip TLS certificate verification")
	rootCmd.Flags().BoolP("prometheus.enabled", "", true, "enable Prometheus metrics endpoint")
	rootCmd.Flags().BoolP("health.enabled", "", true, "enable health check endpoint")
	rootCmd.Flags().BoolP("debug.enabled", "", false, "enable diagnostics snapshot endpoint")
}

func GetConfig(cmd *cobra.Command, configFile string) (Config, Meta, error) {
	v := viper.NewWithOptions(viper.WithDecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		configtypes.StringToDurationHookFunc(),
	)))

	setDefaults(v, DefaultConfig())

	if cmd != nil {
		bindPFlags := []string{
			"pid_file", "http_server.address", "http_server.port", "log.level", "log.file",
			"auth.email", "cloud.insecure_skip_verify", "prometheus.enabled", "health.enabled",
			"debug.enabled",
		}
		for _, flag := range bindPFlags {
			_ = v.BindPFlag(flag, cmd.Flags().Lookup(flag))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	meta := Meta{}

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			var pathError *os.PathError
			if errors.As(err, &pathError) {
				meta.FileNotFound = true
			} else {
				return Config{}, Meta{}, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	conf := &Config{}

	err := v.Unmarshal(conf)
	if err != nil {
		return Config{}, Meta{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	meta.UnknownKeys = findUnknownKeys(v.AllSettings(), conf, "")

	return *conf, meta, nil
}

func setDefaults(v *viper.Viper, defaults Config) {
	v.SetDefault("http_server.address", defaults.HTTP.Address)
	v.SetDefault("http_server.port", defaults.HTTP.Port)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("cloud.api_endpoint", defaults.Cloud.APIEndpoint)
	v.SetDefault("cloud.ws_endpoint", defaults.Cloud.WSEndpoint)
	v.SetDefault("cloud.http_timeout", defaults.Cloud.HTTPTimeout.String())
	v.SetDefault("cloud.ws_timeout", defaults.Cloud.WSTimeout.String())
	v.SetDefault("auth.refresh_margin", defaults.Auth.RefreshMargin.String())
	v.SetDefault("circuit_breaker.failure_threshold", defaults.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.cool_down", defaults.CircuitBreaker.CoolDown.String())
	v.SetDefault("reconnect.base_delay", defaults.Reconnect.BaseDelay.String())
	v.SetDefault("reconnect.max_delay", defaults.Reconnect.MaxDelay.String())
	v.SetDefault("reconnect.first_connect_budget", defaults.Reconnect.FirstConnectBudget.String())
	v.SetDefault("prometheus.enabled", defaults.Prometheus.Enabled)
	v.SetDefault("health.enabled", defaults.Health.Enabled)
}

// findValidKeys recursively collects valid mapstructure keys of a struct.
func findValidKeys(typ reflect.Type, validKeys map[string]reflect.StructField) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" && tag != ",squash" {
			validKeys[tag] = field
		}
	}
}

// findUnknownKeys returns config file keys which do not map to any Config field.
func findUnknownKeys(settings map[string]any, target any, prefix string) []string {
	var unknownKeys []string

	typ := reflect.TypeOf(target)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	validKeys := make(map[string]reflect.StructField)
	findValidKeys(typ, validKeys)

	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		field, ok := validKeys[key]
		if !ok {
			unknownKeys = append(unknownKeys, fullKey)
			continue
		}
		if nested, isMap := value.(map[string]any); isMap && field.Type.Kind() == reflect.Struct {
			nestedTarget := reflect.New(field.Type).Interface()
			unknownKeys = append(unknownKeys, findUnknownKeys(nested, nestedTarget, fullKey)...)
		}
	}
	return unknownKeys
}
