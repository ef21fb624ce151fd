package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/proofpack/internal/logger"
	"github.com/ppiankov/proofpack/internal/model"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// bindEnv makes every configuration key reachable through PROOFPACK_*
// variables. Secrets also accept their conventional names.
func bindEnv(v *viper.Viper) {
	for _, key := range configKeys(reflect.TypeOf(model.Config{}), "") {
		_ = v.BindEnv(key)
	}
	_ = v.BindEnv("storage.connection_string", "PROOFPACK_STORAGE_CONNECTION_STRING", "AZURE_STORAGE_CONNECTION_STRING")
	_ = v.BindEnv("storage.signing_key_pass", "PROOFPACK_STORAGE_SIGNING_KEY_PASS", "PROOFPACK_SIGNING_KEY_PASS")
}

// configKeys lists the dotted mapstructure keys of every leaf field of t
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(field.Type, name)...)
			continue
		}
		keys = append(keys, name)
	}
	return keys
}

// bindFlags binds command flags to configuration keys
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// decodeConfig decodes the merged settings over the built-in defaults
func decodeConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Output.Verbose = cfg.Output.Verbose || v.GetBool("verbose")
	return cfg, nil
}

// loadConfig decodes and validates the configuration
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg, err := decodeConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *model.Config) error {
	var errs []error
	if cfg.Concurrency.Sessions < 1 {
		errs = append(errs, fmt.Errorf("concurrency.sessions must be at least 1, got %d", cfg.Concurrency.Sessions))
	}
	if cfg.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	if !cfg.Output.NoUpload {
		switch cfg.Storage.Provider {
		case "azure", "":
			if cfg.Storage.ConnectionString == "" {
				errs = append(errs, errors.New("storage connection string is required (set PROOFPACK_STORAGE_CONNECTION_STRING or use --no-upload)"))
			}
		case "dir":
			if cfg.Storage.Dir == "" {
				errs = append(errs, errors.New("storage.dir is required for the dir provider"))
			}
		default:
			errs = append(errs, fmt.Errorf("unsupported storage provider %q", cfg.Storage.Provider))
		}
	}
	if cfg.Browser.UserDataDir == "" && cfg.Browser.RemoteURL == "" {
		errs = append(errs, errors.New("an authenticated browser is required: set browser.user_data_dir or browser.remote_url"))
	}
	return errors.Join(errs...)
}

// setup binds flags, loads configuration and installs the logger
func setup(cmd *cobra.Command, flagKeys map[string]string) (*model.Config, *slog.Logger, error) {
	v := viper.GetViper()
	if err := bindFlags(v, cmd, flagKeys); err != nil {
		return nil, nil, err
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}

	logCfg, err := logger.FromModel(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Output.Verbose && logLevel == "" {
		logCfg.Level = slog.LevelDebug
	}

	return cfg, logger.New(logCfg), nil
}
