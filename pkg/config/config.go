// Package config loads the idk configuration file.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir    string = "idk"
	homeDir      string = ".idk"
	configFile   string = "config.yml"
	xdgConfigEnv string = "XDG_CONFIG_HOME"
)

// DefaultCacheSuffix is appended to a binary path to name its cache file.
const DefaultCacheSuffix = ".ac"

// DefaultExprCacheSize is the default number of address-keyed expression
// lookups memoized by a reader session.
const DefaultExprCacheSize = 1024

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string `yaml:"from"`
	// Path to which substitution is performed.
	To string `yaml:"to"`
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Pairs returns the rules as from/to pairs.
func (rules SubstitutePathRules) Pairs() [][2]string {
	r := make([][2]string, 0, len(rules))
	for _, rule := range rules {
		r = append(r, [2]string{rule.From, rule.To})
	}
	return r
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// CacheSuffix is appended to the binary path to form the cache path.
	CacheSuffix string `yaml:"cache-suffix,omitempty"`
	// RebuildStale controls whether a cache older than its binary is
	// rebuilt. When false a stale cache is an error.
	RebuildStale *bool `yaml:"rebuild-stale,omitempty"`
	// StoreCache controls whether a freshly built cache is written to disk.
	StoreCache *bool `yaml:"store-cache,omitempty"`
	// ExprCacheSize is the size of the reader's frame pointer and CFA memo.
	ExprCacheSize int `yaml:"expr-cache-size,omitempty"`
	// Source code path substitution rules.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`
}

// Default returns a configuration with every option set to its default.
func Default() *Config {
	c := &Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	if c.CacheSuffix == "" {
		c.CacheSuffix = DefaultCacheSuffix
	}
	if c.RebuildStale == nil {
		t := true
		c.RebuildStale = &t
	}
	if c.StoreCache == nil {
		t := true
		c.StoreCache = &t
	}
	if c.ExprCacheSize <= 0 {
		c.ExprCacheSize = DefaultExprCacheSize
	}
}

// CachePath returns the cache path for the binary at path.
func (c *Config) CachePath(path string) string {
	suffix := c.CacheSuffix
	if suffix == "" {
		suffix = DefaultCacheSuffix
	}
	return path + suffix
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// Options missing from the file take their default value.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return Default()
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return Default()
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return Default()
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	c, err := Read(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return Default()
	}
	return c
}

// Read decodes a configuration from f and fills in defaults.
func Read(f *os.File) (*Config, error) {
	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode decodes a YAML configuration and fills in defaults.
func Decode(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.fill()
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for idk.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Suffix appended to a binary path to name its cache file.
# cache-suffix: .ac

# Rebuild a cache that is older than its binary. When disabled a stale
# cache is reported as an error.
# rebuild-stale: true

# Write freshly built caches to disk.
# store-cache: true

# Number of frame pointer and CFA lookups remembered per session.
# expr-cache-size: 1024

# Define sources path substitution rules. Can be used to rewrite a source path stored
# in the binary's debug information, if the sources were moved to a different place
# after compilation.
substitute-path:
  # - {from: path, to: path}
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/idk is used when XDG_CONFIG_HOME is set, ~/.idk
// otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv(xdgConfigEnv); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, homeDir, file), nil
}
