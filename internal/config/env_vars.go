package config

import "fmt"

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetBaseURL() string
	GetPreviewURL() string
	GetErrorURL() string
	GetHomeURL() string
}

type EnvVars struct {
	Port       string `env:"PORT"        envDefault:"8080"`
	AppName    string `env:"APP_NAME"    envDefault:"Playlist Bridge"`
	Env        string `env:"ENV"         envDefault:"DEV"`
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info"`
	BaseURL    string `env:"BASE_URL"    envDefault:"http://localhost:8080"`
	PreviewURL string `env:"PREVIEW_URL" envDefault:"/preview"`
	ErrorURL   string `env:"ERROR_URL"   envDefault:"/error"`
	HomeURL    string `env:"HOME_URL"    envDefault:"/"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "8080"
	}
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetBaseURL returns the public base URL of this service (e.g., "https://bridge.example.com")
func (e EnvVars) GetBaseURL() string {
	return e.BaseURL
}

// GetPreviewURL is where the browser lands once both accounts are authenticated
func (e EnvVars) GetPreviewURL() string {
	return e.PreviewURL
}

func (e EnvVars) GetErrorURL() string {
	return e.ErrorURL
}

// GetHomeURL is where the browser goes after a full logout
func (e EnvVars) GetHomeURL() string {
	if e.HomeURL == "" {
		return "/"
	}
	return e.HomeURL
}
