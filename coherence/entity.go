package coherence

import (
	"regexp"
	"time"

	"github.com/gaborage/go-coherence/cache"
)

// EntityConfig describes one cached entity type.
type EntityConfig struct {
	// Name is the entity segment of every cache namespace.
	Name string `validate:"required,segment"`

	// Title names the entity in not-found errors. Defaults to Name.
	Title string

	// Key is the primary key field. Defaults to "id".
	Key string `validate:"required,column"`

	// System is the first segment of every cache namespace.
	System string `validate:"required,segment"`

	// TTL of cached entries; zero keeps them until invalidated.
	TTL time.Duration `validate:"gte=0"`

	Caches CacheFields

	// Columns are loaded and cached for id reads.
	Columns []string `validate:"dive,column"`

	// Pick is the default projection returned by id reads. Defaults to Columns.
	Pick []string `validate:"dive,column"`
}

// CacheFields configures the secondary cache dimensions. Each entry is `field` or
// `field:aux1,aux2`, where the aux qualifiers are invalidated together with the row values
// of field on every write.
type CacheFields struct {
	Index []string `validate:"dive,cachespec"`
	Count []string `validate:"dive,cachespec"`
}

// withDefaults fills the optional fields.
func (c EntityConfig) withDefaults() EntityConfig {
	if c.Key == "" {
		c.Key = "id"
	}
	if c.Title == "" {
		c.Title = c.Name
	}
	if len(c.Pick) == 0 {
		c.Pick = c.Columns
	}
	return c
}

// Validate applies the defaults and checks the configuration.
func (c EntityConfig) Validate() error {
	c = c.withDefaults()
	return validateStruct(c.Name, c)
}

// CacheSpec is one parsed secondary dimension.
type CacheSpec struct {
	Dimension  string
	Field      string
	Qualifiers []string
}

var specSeparator = regexp.MustCompile(`[:,]`)

// ParseCacheSpec splits `field[:aux,...]`. Empty qualifiers are dropped.
func ParseCacheSpec(dimension, entry string) CacheSpec {
	parts := specSeparator.Split(entry, -1)
	spec := CacheSpec{Dimension: dimension, Field: parts[0]}
	for _, q := range parts[1:] {
		if q != "" {
			spec.Qualifiers = append(spec.Qualifiers, q)
		}
	}
	return spec
}

// Specs returns the parsed secondary dimensions, index entries first.
func (c CacheFields) Specs() []CacheSpec {
	specs := make([]CacheSpec, 0, len(c.Index)+len(c.Count))
	for _, e := range c.Index {
		specs = append(specs, ParseCacheSpec(cache.DimensionIndex, e))
	}
	for _, e := range c.Count {
		specs = append(specs, ParseCacheSpec(cache.DimensionCount, e))
	}
	return specs
}
