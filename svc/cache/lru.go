// Package cache holds rendered archive previews. Decoding and rescaling
// an image dominates the cost of a browse request, and the same few
// entries are viewed over and over, so rendered data URIs are kept in a
// bounded LRU with a TTL.
package cache

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type LRU struct {
	c  *lru.Cache[string, item]
	mu sync.Mutex
}
type item struct {
	uri string
	exp time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(key)
	if !ok {
		return "", false
	}
	if time.Now().After(it.exp) {
		l.c.Remove(key)
		return "", false
	}
	return it.uri, true
}

func (l *LRU) Set(key, uri string, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Add(key, item{uri: uri, exp: time.Now().Add(ttl)})
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.c.Remove(key)
}
