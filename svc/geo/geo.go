// Package geo maps client addresses to coarse region codes. The primary
// source is an optional external country database opened lazily on first
// use; without one, lookups fall back to a static pre-sorted table of
// address ranges searched by binary search, since classification sits on
// every write path.
package geo

import (
	"encoding/binary"
	"net"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"checkpost/svc/util"
)

const (
	// RegionLocal marks loopback, private and link-local addresses.
	// Local clients are never region-blocked or blocklisted.
	RegionLocal = "local"
	// RegionUnknown is returned for malformed input or when no source can
	// classify the address. Classification never errors.
	RegionUnknown = "unknown"
)

// Resolver is an external country database (e.g. an mmdb reader supplied
// by the hosting layer). Implementations must be safe for concurrent use.
type Resolver interface {
	Country(ip net.IP) (string, error)
	Close() error
}

// OpenResolverFunc opens a Resolver from a database path.
type OpenResolverFunc func(path string) (Resolver, error)

type Classifier struct {
	dbPath string
	open   OpenResolverFunc

	sf       singleflight.Group
	mu       sync.RWMutex
	resolver Resolver
	loadDone bool
}

// NewClassifier builds a classifier. dbPath and open may be empty/nil, in
// which case only the static range table is consulted.
func NewClassifier(dbPath string, open OpenResolverFunc) *Classifier {
	return &Classifier{dbPath: dbPath, open: open}
}

func (c *Classifier) Classify(addr string) string {
	ip := net.ParseIP(addr)
	if ip == nil {
		return RegionUnknown
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return RegionLocal
	}

	if r := c.lazyResolver(); r != nil {
		code, err := r.Country(ip)
		if err != nil || code == "" {
			return RegionUnknown
		}
		return code
	}

	v4 := ip.To4()
	if v4 == nil {
		// The static table is IPv4-only.
		return RegionUnknown
	}
	n := binary.BigEndian.Uint32(v4)
	i := sort.Search(len(cnRanges), func(i int) bool { return cnRanges[i].end >= n })
	if i < len(cnRanges) && cnRanges[i].start <= n {
		return "CN"
	}
	return RegionUnknown
}

// lazyResolver opens the external database at most once, collapsing
// concurrent first requests onto a single load. A failed open disables
// the resolver permanently and falls back to the static table.
func (c *Classifier) lazyResolver() Resolver {
	c.mu.RLock()
	if c.loadDone {
		r := c.resolver
		c.mu.RUnlock()
		return r
	}
	c.mu.RUnlock()

	if c.dbPath == "" || c.open == nil {
		c.mu.Lock()
		c.loadDone = true
		c.mu.Unlock()
		return nil
	}

	v, _, _ := c.sf.Do("open", func() (interface{}, error) {
		c.mu.RLock()
		if c.loadDone {
			r := c.resolver
			c.mu.RUnlock()
			return r, nil
		}
		c.mu.RUnlock()
		r, err := c.open(c.dbPath)
		if err != nil {
			util.Warn().Err(err).Str("path", c.dbPath).Msg("geo database unavailable, using static ranges")
			r = nil
		}
		c.mu.Lock()
		c.resolver = r
		c.loadDone = true
		c.mu.Unlock()
		return r, nil
	})
	if r, ok := v.(Resolver); ok {
		return r
	}
	return nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolver != nil {
		err := c.resolver.Close()
		c.resolver = nil
		return err
	}
	return nil
}

type ipRange struct {
	start, end uint32
}

func u32(s string) uint32 {
	ip := net.ParseIP(s).To4()
	return binary.BigEndian.Uint32(ip)
}

// Mainland CN allocations (APNIC, coarse). Disjoint and sorted ascending;
// the binary search above depends on both properties.
var cnRanges = []ipRange{
	{u32("1.0.1.0"), u32("1.0.3.255")},
	{u32("1.0.8.0"), u32("1.0.15.255")},
	{u32("1.0.32.0"), u32("1.0.63.255")},
	{u32("1.1.0.0"), u32("1.1.0.255")},
	{u32("1.1.2.0"), u32("1.1.63.255")},
	{u32("1.2.0.0"), u32("1.2.255.255")},
	{u32("1.4.1.0"), u32("1.4.127.255")},
	{u32("1.8.0.0"), u32("1.8.255.255")},
	{u32("1.12.0.0"), u32("1.15.255.255")},
	{u32("1.24.0.0"), u32("1.31.255.255")},
	{u32("1.45.0.0"), u32("1.45.255.255")},
	{u32("1.48.0.0"), u32("1.51.255.255")},
	{u32("1.56.0.0"), u32("1.63.255.255")},
	{u32("1.68.0.0"), u32("1.71.255.255")},
	{u32("1.80.0.0"), u32("1.95.255.255")},
	{u32("1.116.0.0"), u32("1.119.255.255")},
	{u32("1.180.0.0"), u32("1.183.255.255")},
	{u32("1.188.0.0"), u32("1.191.255.255")},
	{u32("1.192.0.0"), u32("1.207.255.255")},
	{u32("14.0.0.0"), u32("14.255.255.255")},
	{u32("27.0.0.0"), u32("27.255.255.255")},
	{u32("36.0.0.0"), u32("36.255.255.255")},
	{u32("39.0.0.0"), u32("39.255.255.255")},
	{u32("42.0.0.0"), u32("42.255.255.255")},
	{u32("49.0.0.0"), u32("49.255.255.255")},
	{u32("58.0.0.0"), u32("61.255.255.255")},
	{u32("101.0.0.0"), u32("101.255.255.255")},
	{u32("103.0.0.0"), u32("103.255.255.255")},
	{u32("106.0.0.0"), u32("106.255.255.255")},
	{u32("110.0.0.0"), u32("126.255.255.255")},
	{u32("139.0.0.0"), u32("140.255.255.255")},
	{u32("144.0.0.0"), u32("144.255.255.255")},
	{u32("150.0.0.0"), u32("150.255.255.255")},
	{u32("153.0.0.0"), u32("153.255.255.255")},
	{u32("157.0.0.0"), u32("157.255.255.255")},
	{u32("159.0.0.0"), u32("159.255.255.255")},
	{u32("163.0.0.0"), u32("163.255.255.255")},
	{u32("171.0.0.0"), u32("171.255.255.255")},
	{u32("175.0.0.0"), u32("175.255.255.255")},
	{u32("180.0.0.0"), u32("180.255.255.255")},
	{u32("182.0.0.0"), u32("183.255.255.255")},
	{u32("202.0.0.0"), u32("203.255.255.255")},
	{u32("210.0.0.0"), u32("211.255.255.255")},
	{u32("218.0.0.0"), u32("223.255.255.255")},
}
