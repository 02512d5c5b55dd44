package config

import (
	"strconv"
	"time"
)

const (
	storeDriverVar = "STORE_DRIVER"
	redisAddrVar   = "REDIS_ADDR"
	redisPrefixVar = "REDIS_PREFIX"
	sessionIDVar   = "SESSION_ID"
	sessionTTLVar  = "SESSION_TTL_SECONDS"
	sealKeyVar     = "STORE_SEAL_KEY"
)

const (
	StoreDriverMemory = "memory"
	StoreDriverRedis  = "redis"
)

type StorageConfig interface {
	GetStoreDriver() string
	GetRedisAddr() string
	GetRedisPrefix() string
	GetSessionID() string
	GetSessionTTL() time.Duration
	GetSealKey() string
}

type Storage struct {
	src *source
}

var _ StorageConfig = Storage{}

func (s Storage) GetStoreDriver() string {
	return s.src.get(storeDriverVar, StoreDriverMemory)
}

func (s Storage) GetRedisAddr() string {
	return s.src.get(redisAddrVar, "localhost:6379")
}

func (s Storage) GetRedisPrefix() string {
	return s.src.get(redisPrefixVar, "session-keeper")
}

// GetSessionID names the storage scope. Empty lets the composition root pick one per process.
func (s Storage) GetSessionID() string {
	return s.src.get(sessionIDVar, "")
}

// GetSessionTTL is the sliding lifetime of a stored session
func (s Storage) GetSessionTTL() time.Duration {
	n, err := strconv.Atoi(s.src.get(sessionTTLVar, "43200"))
	if err != nil || n <= 0 {
		n = 43200
	}
	return time.Duration(n) * time.Second
}

// GetSealKey returns the hex encoded 32 byte key used to encrypt stored tokens. Empty disables sealing.
func (s Storage) GetSealKey() string {
	return s.src.get(sealKeyVar, "")
}
