package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/objstore/dirstore"
	"github.com/tqbf/sitesync/pkg/objstore/httpstore"
	"github.com/tqbf/sitesync/pkg/objstore/sqlstore"
)

// fileConfig is the optional YAML config. Flags and environment
// variables that are explicitly set win over file values.
type fileConfig struct {
	Store          string        `yaml:"store"`
	Token          string        `yaml:"token"`
	ManifestKey    string        `yaml:"manifest_key"`
	Workers        int           `yaml:"workers"`
	Timeout        time.Duration `yaml:"timeout"`
	Excludes       []string      `yaml:"excludes"`
	Port           int           `yaml:"port"`
	Consistent     *bool         `yaml:"consistent"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

const configKey = "config"

func readConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func loadConfig(c *cli.Context) error {
	cfg := &fileConfig{}
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = readConfigFile(path)
		if err != nil {
			return err
		}
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *fileConfig {
	if cfg, ok := c.App.Metadata[configKey].(*fileConfig); ok {
		return cfg
	}
	return &fileConfig{}
}

func stringSetting(c *cli.Context, flag, file string) string {
	if c.IsSet(flag) || file == "" {
		return c.String(flag)
	}
	return file
}

func intSetting(c *cli.Context, flag string, file int) int {
	if c.IsSet(flag) || file == 0 {
		return c.Int(flag)
	}
	return file
}

func durationSetting(
	c *cli.Context, flag string, file time.Duration,
) time.Duration {
	if c.IsSet(flag) || file == 0 {
		return c.Duration(flag)
	}
	return file
}

func boolSetting(c *cli.Context, flag string, file *bool) bool {
	if c.IsSet(flag) || file == nil {
		return c.Bool(flag)
	}
	return *file
}

// settings is the resolved configuration shared by every command.
type settings struct {
	Store       string
	Token       string
	ManifestKey string
	Workers     int
	Timeout     time.Duration
	Excludes    []string
}

func resolveSettings(c *cli.Context) settings {
	cfg := configFrom(c)
	s := settings{
		Store:       stringSetting(c, "store", cfg.Store),
		Token:       stringSetting(c, "token", cfg.Token),
		ManifestKey: stringSetting(c, "manifest-key", cfg.ManifestKey),
		Workers:     intSetting(c, "workers", cfg.Workers),
		Timeout:     durationSetting(c, "timeout", cfg.Timeout),
	}
	s.Excludes = append(s.Excludes, cfg.Excludes...)
	s.Excludes = append(s.Excludes, c.StringSlice("exclude")...)
	return s
}

func (s settings) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.Timeout)
}

var errNoStore = errors.New(
	"no store: set SITESYNC_STORE, use --store, or set store in the config file",
)

// openStore builds a Store from a URL. The returned closer releases
// whatever the backend holds open.
func openStore(
	raw, token string,
) (objstore.Store, io.Closer, error) {
	if raw == "" {
		return nil, nil, errNoStore
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("store url: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		dir := localPath(u, raw)
		st, err := dirstore.New(dir)
		if err != nil {
			return nil, nil, err
		}
		return st, nopCloser{}, nil
	case "sqlite":
		st, err := sqlstore.Open(localPath(u, raw))
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case "http", "https":
		return httpstore.New(raw, token), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
}

func localPath(u *url.URL, raw string) string {
	if u.Scheme == "" {
		return filepath.Clean(raw)
	}
	if u.Opaque != "" {
		return filepath.FromSlash(u.Opaque)
	}
	return filepath.FromSlash(u.Host + u.Path)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
