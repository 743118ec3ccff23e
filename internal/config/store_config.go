package config

type StoreConfig interface {
	GetTokenStore() string
	GetRedisURL() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetTokenStore is the JSON file sessions are persisted to. Ignored when GetRedisURL is set.
func (Store) GetTokenStore() string {
	return GetEnv("WECONNECT_TOKENSTORE", "./data/weconnect-tokens.json")
}

func (Store) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}
