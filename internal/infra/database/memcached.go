package database

import (
	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcached opens the client backing the REST response cache.
func NewMemcached(server string) *memcache.Client {
	return memcache.New(server)
}
