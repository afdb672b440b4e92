package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file shape.
type fileConfig struct {
	Origin                   string   `yaml:"origin"`
	AppCacheName             string   `yaml:"appCacheName"`
	FontCacheName            string   `yaml:"fontCacheName"`
	FontHosts                []string `yaml:"fontHosts"`
	Precache                 []string `yaml:"precache"`
	RootDocument             string   `yaml:"rootDocument"`
	FallbackOnRevalidateMiss bool     `yaml:"fallbackOnRevalidateMiss"`
}

func getConfig(filename string) (fileConfig, error) {
	var config fileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

// envConfig holds environment overrides for deployment settings.
type envConfig struct {
	Origin   string `env:"OFFLINE_CACHE_ORIGIN"`
	Port     int    `env:"OFFLINE_CACHE_PORT"`
	Provider string `env:"OFFLINE_CACHE_PROVIDER"`
	DBFile   string `env:"OFFLINE_CACHE_DB"`
	RedisURL string `env:"OFFLINE_CACHE_REDIS_URL"`
}

func getEnvConfig() (envConfig, error) {
	var config envConfig
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}
