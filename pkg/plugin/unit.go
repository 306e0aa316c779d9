package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/armorclaw/stderr/pkg/configtree"
)

// SourceExt is the file extension of plugin source units.
const SourceExt = ".plugin"

// Unit is a loaded plugin source unit.
type Unit struct {
	Path     string
	Types    []string
	Defaults configtree.Attributes
}

// Defines reports whether the unit declares class.
func (u *Unit) Defines(class string) bool {
	for _, t := range u.Types {
		if t == class {
			return true
		}
	}
	return false
}

type manifest struct {
	Types    []string               `toml:"types"`
	Defaults map[string]interface{} `toml:"defaults"`
}

// LoadUnit reads and parses the manifest at path. An empty file defines the
// single type named after the file.
func LoadUnit(path string) (*Unit, error) {
	// #nosec G304 -- path is built from configured plugin directories.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, err
	}

	u := &Unit{
		Path:     path,
		Types:    m.Types,
		Defaults: make(configtree.Attributes, len(m.Defaults)),
	}
	if len(u.Types) == 0 {
		u.Types = []string{strings.TrimSuffix(filepath.Base(path), SourceExt)}
	}
	for k, v := range m.Defaults {
		u.Defaults[k] = fmt.Sprint(v)
	}
	return u, nil
}

// UnitCache remembers loaded units by resolved path.
type UnitCache interface {
	Get(path string) (*Unit, bool)
	Put(path string, u *Unit)
	Reset()
	Len() int
}

// MemoryCache is the default in-process UnitCache.
type MemoryCache struct {
	mu    sync.RWMutex
	units map[string]*Unit
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{units: make(map[string]*Unit)}
}

func (c *MemoryCache) Get(path string) (*Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[path]
	return u, ok
}

func (c *MemoryCache) Put(path string, u *Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[path] = u
}

func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units = make(map[string]*Unit)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.units)
}
