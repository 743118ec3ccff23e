package config

type Config interface {
	EnvConfig
	AccountConfig
	SessionConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetMetricsAddr() string
}

type mainConfig struct {
	EnvVars
	Account
	Session
	Store
}

func New() Config {
	return mainConfig{}
}
