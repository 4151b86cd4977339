package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Name              string
	ClusterAddr       map[string]string // map from name to host:port, its keys are the participants
	PublicKeyMap      map[string][]byte // map from name to public key
	PrivateKey        []byte
	LogLevel          int // hclog level, 1 is trace
	SessionInterval   time.Duration
	SessionTimeout    time.Duration
	PurgeAfterSession bool
	MetricsAddr       string
}

// New builds a config in code, mainly for tests.
func New(name string, clusterAddr map[string]string, publicKeyMap map[string][]byte, privateKey []byte,
	logLevel int, sessionInterval time.Duration, purgeAfterSession bool) *Config {
	return &Config{
		Name:              name,
		ClusterAddr:       clusterAddr,
		PublicKeyMap:      publicKeyMap,
		PrivateKey:        privateKey,
		LogLevel:          logLevel,
		SessionInterval:   sessionInterval,
		SessionTimeout:    5 * time.Second,
		PurgeAfterSession: purgeAfterSession,
	}
}

// LoadConfig reads <configPath>/<configName>.yaml (or any format viper knows).
// An empty configPath means the working directory.
func LoadConfig(configPath, configName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	if configPath == "" {
		configPath = "."
	}
	v.AddConfigPath(configPath)
	v.SetDefault("log_level", 3)
	v.SetDefault("session_interval", "1s")
	v.SetDefault("session_timeout", "5s")
	v.SetDefault("purge_after_session", true)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	privateKey, err := hex.DecodeString(v.GetString("private_key"))
	if err != nil {
		return nil, fmt.Errorf("private_key: %w", err)
	}
	publicKeyMap := make(map[string][]byte)
	for name, key := range v.GetStringMapString("public_keys") {
		pub, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("public key of %s: %w", name, err)
		}
		publicKeyMap[name] = pub
	}

	conf := &Config{
		Name:              v.GetString("name"),
		ClusterAddr:       v.GetStringMapString("cluster_addr"),
		PublicKeyMap:      publicKeyMap,
		PrivateKey:        privateKey,
		LogLevel:          v.GetInt("log_level"),
		SessionInterval:   v.GetDuration("session_interval"),
		SessionTimeout:    v.GetDuration("session_timeout"),
		PurgeAfterSession: v.GetBool("purge_after_session"),
		MetricsAddr:       v.GetString("metrics_addr"),
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks that the config describes a usable replica.
func (c *Config) Validate() error {
	if len(c.ClusterAddr) == 0 {
		return errors.New("config: cluster_addr is empty")
	}
	if _, ok := c.ClusterAddr[c.Name]; !ok {
		return fmt.Errorf("config: %q is not in cluster_addr", c.Name)
	}
	for name := range c.ClusterAddr {
		if len(c.PublicKeyMap[name]) == 0 {
			return fmt.Errorf("config: no public key for %q", name)
		}
	}
	if len(c.PrivateKey) == 0 {
		return errors.New("config: private_key is empty")
	}
	if c.SessionInterval <= 0 {
		return errors.New("config: session_interval must be positive")
	}
	return nil
}

// Participants returns the sorted names of every replica.
func (c *Config) Participants() []string {
	names := make([]string, 0, len(c.ClusterAddr))
	for name := range c.ClusterAddr {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
