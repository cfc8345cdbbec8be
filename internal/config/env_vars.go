package config

import (
	"strings"
)

// GetPort returns the listen address, e.g. ":8080".
func (c mainConfig) GetPort() string {
	port := strings.TrimSpace(c.v.GetString(KeyPort))
	if port == "" {
		port = "8080"
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (c mainConfig) GetAppName() string {
	return c.v.GetString(KeyAppName)
}

func (c mainConfig) GetEnv() string {
	env := strings.ToUpper(strings.TrimSpace(c.v.GetString(KeyEnv)))
	if env == "" {
		return EnvDev
	}
	return env
}

func (c mainConfig) GetStore() string {
	return strings.ToLower(strings.TrimSpace(c.v.GetString(KeyStore)))
}

func (c mainConfig) GetDBPath() string {
	return c.v.GetString(KeyDBPath)
}
