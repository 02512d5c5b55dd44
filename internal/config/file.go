package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// source resolves a setting from the environment, then the config file, then the default.
type source struct {
	values map[string]string
}

// fileConfig mirrors the YAML layout. Keys map onto the environment variable names.
type fileConfig struct {
	App struct {
		Name     string `yaml:"name"`
		Env      string `yaml:"env"`
		Port     string `yaml:"port"`
		BaseURL  string `yaml:"base_url"`
		BasePath string `yaml:"base_path"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`
	IdP struct {
		ConfigURL           string `yaml:"config_url"`
		ClientSecret        string `yaml:"client_secret"`
		LogoutGatewayURL    string `yaml:"logout_gateway_url"`
		MinEarlyRefresh     string `yaml:"min_early_refresh_seconds"`
		RefreshSafetyBuffer string `yaml:"refresh_safety_buffer_seconds"`
		Navigator           string `yaml:"navigator"`
	} `yaml:"idp"`
	Store struct {
		Driver      string `yaml:"driver"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
		SessionID   string `yaml:"session_id"`
		SessionTTL  string `yaml:"session_ttl_seconds"`
		SealKey     string `yaml:"seal_key"`
	} `yaml:"store"`
}

func loadFile(path string) (*source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[config loadFile] read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("[config loadFile] parse %s: %w", path, err)
	}

	values := map[string]string{
		appNameVar:             fc.App.Name,
		envVar:                 fc.App.Env,
		portEnvVar:             fc.App.Port,
		baseURLVar:             fc.App.BaseURL,
		basePathVar:            fc.App.BasePath,
		logLevelEnvVar:         fc.App.LogLevel,
		idpConfigURLVar:        fc.IdP.ConfigURL,
		clientSecretVar:        fc.IdP.ClientSecret,
		logoutGatewayURLVar:    fc.IdP.LogoutGatewayURL,
		minEarlyRefreshVar:     fc.IdP.MinEarlyRefresh,
		refreshSafetyBufferVar: fc.IdP.RefreshSafetyBuffer,
		navigatorVar:           fc.IdP.Navigator,
		storeDriverVar:         fc.Store.Driver,
		redisAddrVar:           fc.Store.RedisAddr,
		redisPrefixVar:         fc.Store.RedisPrefix,
		sessionIDVar:           fc.Store.SessionID,
		sessionTTLVar:          fc.Store.SessionTTL,
		sealKeyVar:             fc.Store.SealKey,
	}
	for k, v := range values {
		if v == "" {
			delete(values, k)
		}
	}
	return &source{values: values}, nil
}

func (s *source) get(name, defaultValue string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if s != nil {
		if v, ok := s.values[name]; ok {
			return v
		}
	}
	return defaultValue
}
