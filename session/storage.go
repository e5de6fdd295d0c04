package session

import (
	"errors"
	"log"
	"sync"

	"github.com/go-redis/redis"
)

type StorageBackendType int

const (
	StorageBackendMem StorageBackendType = iota
	StorageBackendRedis
)

// Storage persists session descriptors and last playback positions so
// a restarted service can list what was running. Lookups that miss
// return the empty string.
type Storage interface {
	BackendType() StorageBackendType
	Get(string) string
	Set(string, string)
	Del(string)
}

type memBackend struct {
	m     map[string]string
	mutex *sync.RWMutex
}

func (b *memBackend) Get(k string) string {
	b.mutex.RLock()
	v := b.m[k]
	b.mutex.RUnlock()
	return v
}

func (b *memBackend) Set(k string, v string) {
	b.mutex.Lock()
	b.m[k] = v
	b.mutex.Unlock()
}

func (b *memBackend) Del(k string) {
	b.mutex.Lock()
	delete(b.m, k)
	b.mutex.Unlock()
}

func (b *memBackend) BackendType() StorageBackendType {
	return StorageBackendMem
}

type redisBackend struct {
	client *redis.Client
}

func (b *redisBackend) Get(k string) string {
	v, err := b.client.Get(k).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("session: redis get %s: %v", k, err)
		}
		return ""
	}
	return v
}

func (b *redisBackend) Set(k string, v string) {
	if err := b.client.Set(k, v, 0).Err(); err != nil {
		log.Printf("session: redis set %s: %v", k, err)
	}
}

func (b *redisBackend) Del(k string) {
	if err := b.client.Del(k).Err(); err != nil {
		log.Printf("session: redis del %s: %v", k, err)
	}
}

func (b *redisBackend) BackendType() StorageBackendType {
	return StorageBackendRedis
}

// NewStorageBackend creates a storage backend of the given type. The
// Redis backend takes the server address as its first argument and
// verifies connectivity before use.
func NewStorageBackend(typ StorageBackendType, args ...string) (Storage, error) {
	switch typ {
	case StorageBackendMem:
		return &memBackend{
			m:     make(map[string]string),
			mutex: &sync.RWMutex{},
		}, nil
	case StorageBackendRedis:
		if len(args) < 1 || args[0] == "" {
			return nil, errors.New("redis backend requires an address")
		}
		client := redis.NewClient(&redis.Options{Addr: args[0]})
		if err := client.Ping().Err(); err != nil {
			return nil, err
		}
		return &redisBackend{client: client}, nil
	default:
		return nil, errors.New("unsupported backend type")
	}
}
