package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/proofpack/internal/model"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PROOFPACK")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	bindEnv(v)
	return v
}

func TestConfigKeys(t *testing.T) {
	keys := configKeys(reflect.TypeOf(model.Config{}), "")

	want := []string{
		"browser.user_data_dir",
		"gate.quiet_window",
		"capture.region_selectors",
		"storage.connection_string",
		"rate_limiting.respect_robots",
		"log.format",
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	for _, k := range want {
		if !have[k] {
			t.Errorf("missing key %s", k)
		}
	}
}

func TestDecodeConfig_Env(t *testing.T) {
	t.Setenv("PROOFPACK_CONCURRENCY_SESSIONS", "3")
	t.Setenv("PROOFPACK_GATE_TIMEOUT", "5s")
	t.Setenv("PROOFPACK_BROWSER_REMOTE_URL", "ws://127.0.0.1:9222")
	t.Setenv("AZURE_STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")

	cfg, err := decodeConfig(newViper())
	if err != nil {
		t.Fatalf("decodeConfig failed: %v", err)
	}

	if cfg.Concurrency.Sessions != 3 {
		t.Errorf("expected 3 sessions, got %d", cfg.Concurrency.Sessions)
	}
	if cfg.Gate.Timeout != 5*time.Second {
		t.Errorf("expected 5s gate timeout, got %v", cfg.Gate.Timeout)
	}
	if cfg.Browser.RemoteURL != "ws://127.0.0.1:9222" {
		t.Errorf("unexpected remote url %q", cfg.Browser.RemoteURL)
	}
	if cfg.Storage.ConnectionString != "UseDevelopmentStorage=true" {
		t.Errorf("connection string not read from AZURE_STORAGE_CONNECTION_STRING")
	}
	if cfg.Gate.QuietWindow != model.DefaultConfig().Gate.QuietWindow {
		t.Errorf("unset keys should keep their defaults, got %v", cfg.Gate.QuietWindow)
	}
	if err := validateConfig(cfg); err != nil {
		t.Errorf("expected a valid config, got %v", err)
	}
}

func TestDecodeConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "output:\n  dir: /var/lib/proofpack\nstorage:\n  provider: dir\n  dir: /srv/evidence\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Dir != "/var/lib/proofpack" || cfg.Storage.Provider != "dir" || cfg.Storage.Dir != "/srv/evidence" {
		t.Errorf("file values not applied: %+v %+v", cfg.Output, cfg.Storage)
	}
	if cfg.Storage.Container != "evidence" {
		t.Errorf("default container lost: %q", cfg.Storage.Container)
	}
}

func TestBindFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addPipelineFlags(cmd)
	if err := cmd.Flags().Parse([]string{"--output-dir", "/tmp/evidence", "--no-upload"}); err != nil {
		t.Fatal(err)
	}

	v := newViper()
	if err := bindFlags(v, cmd, captureFlagKeys); err != nil {
		t.Fatalf("bindFlags failed: %v", err)
	}

	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Dir != "/tmp/evidence" || !cfg.Output.NoUpload {
		t.Errorf("flags not applied: %+v", cfg.Output)
	}

	if err := bindFlags(v, cmd, map[string]string{"nope": "x"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	err := validateConfig(cfg)
	if err == nil {
		t.Fatal("defaults lack a browser session and storage secret")
	}
	if !strings.Contains(err.Error(), "connection string") || !strings.Contains(err.Error(), "browser") {
		t.Errorf("unexpected error %v", err)
	}

	cfg.Output.NoUpload = true
	cfg.Browser.UserDataDir = "/home/me/.config/proofpack-profile"
	if err := validateConfig(cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.Concurrency.Sessions = 0
	if err := validateConfig(cfg); err == nil {
		t.Error("expected error for zero sessions")
	}
}

func TestParseEntityArg(t *testing.T) {
	e, err := parseEntityArg("12345,7", "https://events.example.com/registrants/view")
	if err != nil {
		t.Fatal(err)
	}
	if e.SourceURL != "https://events.example.com/registrants/view?collectionId=7&id=12345" {
		t.Errorf("unexpected url %s", e.SourceURL)
	}

	e, err = parseEntityArg("https://events.example.com/registrants/view?collectionId=7&id=999", "")
	if err != nil || e.ID != "999" {
		t.Errorf("unexpected entity %+v %v", e, err)
	}

	if _, err := parseEntityArg("12345", ""); err == nil {
		t.Error("expected error for bare id")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("written config does not parse: %v", err)
	}
	cfg, err := decodeConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Resolver, model.DefaultConfig().Resolver) {
		t.Errorf("round trip changed resolver config: %+v", cfg.Resolver)
	}
}
