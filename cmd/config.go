package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/concrnt/ccworld-migration/types"
)

type Config struct {
	Pod        types.PodConfig        `yaml:"pod"`
	Federation types.FederationConfig `yaml:"federation"`
	Server     Server                 `yaml:"server"`
}

type Server struct {
	Dsn           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
}

// configPaths lists the config files to load, later files overriding
// earlier ones.
func configPaths(flag string) []string {
	paths := []string{}
	if flag != "" {
		paths = append(paths, flag)
	}
	if configPath := os.Getenv("CCMIGRATE_CONFIG"); configPath != "" && configPath != flag {
		paths = append(paths, configPath)
	}
	if additional := os.Getenv("CCMIGRATE_CONFIGS"); additional != "" {
		for v := range strings.SplitSeq(additional, ":") {
			paths = append(paths, v)
		}
	}
	if len(paths) == 0 {
		paths = append(paths, "/etc/ccmigrate/config.yaml")
	}
	return paths
}

func loadConfig(paths []string) (Config, error) {
	config := Config{
		Server: Server{Port: "8000", LogLevel: "info"},
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, errors.Wrapf(err, "failed to read %s", path)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if config.Pod.Host == "" {
		return config, errors.New("pod.host is required")
	}
	if config.Pod.PrivateKey == "" && config.Pod.PrivateKeyPath != "" {
		key, err := os.ReadFile(config.Pod.PrivateKeyPath)
		if err != nil {
			return config, errors.Wrap(err, "failed to read pod private key")
		}
		config.Pod.PrivateKey = string(key)
	}
	if config.Pod.PrivateKey == "" {
		return config, errors.New("pod.privateKey or pod.privateKeyPath is required")
	}
	return config, nil
}
