package config

type AccountConfig interface {
	GetUsername() string
	GetPassword() string
	GetService() string
}

type Account struct{}

var _ AccountConfig = Account{}

func (Account) GetUsername() string {
	return GetEnv("WECONNECT_USERNAME", "")
}

func (Account) GetPassword() string {
	return GetEnv("WECONNECT_PASSWORD", "")
}

// GetService names the backend: "WeConnect" or "MyVW".
func (Account) GetService() string {
	return GetEnv("WECONNECT_SERVICE", "WeConnect")
}
