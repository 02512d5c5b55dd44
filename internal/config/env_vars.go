package config

import (
	"fmt"
	"strings"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	envVar         = "ENV"
	baseURLVar     = "BASE_URL"
	basePathVar    = "BASE_PATH"
	logLevelEnvVar = "LOG_LEVEL"
)

type EnvVars struct {
	src *source
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.src.get(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.src.get(appNameVar, "Session Keeper")
}

func (e EnvVars) GetEnv() string {
	return e.src.get(envVar, "DEV")
}

// GetBaseURL returns the externally visible URL of the application (e.g., "https://app.example.com")
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(e.src.get(baseURLVar, "http://localhost:8080"), "/")
}

// GetBasePath returns the application base path used to build the default post-logout redirect
func (e EnvVars) GetBasePath() string {
	p := e.src.get(basePathVar, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (e EnvVars) GetLogLevel() string {
	return e.src.get(logLevelEnvVar, "info")
}
