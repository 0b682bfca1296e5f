package config

type StorageConfig interface {
	GetPoolStore() string
	GetPoolStorePath() string
	GetSessionStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

const (
	PoolStoreBolt   = "bolt"
	PoolStoreSQLite = "sqlite"
	PoolStoreMemory = "memory"

	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type Storage struct {
	PoolStore     string `env:"POOL_STORE"      envDefault:"bolt"`
	PoolStorePath string `env:"POOL_STORE_PATH" envDefault:"./data/pool.db"`
	SessionStore  string `env:"SESSION_STORE"   envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"      envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"        envDefault:"0"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetPoolStore() string {
	return s.PoolStore
}

func (s Storage) GetPoolStorePath() string {
	return s.PoolStorePath
}

func (s Storage) GetSessionStore() string {
	return s.SessionStore
}

func (s Storage) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Storage) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Storage) GetRedisDB() int {
	return s.RedisDB
}
