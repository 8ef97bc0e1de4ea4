package config

import "time"

// String returns the raw value at key, including keys not modelled in Config
func (c *Config) String(key string) string {
	if c.k == nil {
		return ""
	}
	return c.k.String(key)
}

// Duration returns the value at key parsed as a duration
func (c *Config) Duration(key string) time.Duration {
	if c.k == nil {
		return 0
	}
	return c.k.Duration(key)
}

// Exists reports whether key was set by any source
func (c *Config) Exists(key string) bool {
	return c.k != nil && c.k.Exists(key)
}

// All returns a flat copy of every loaded key
func (c *Config) All() map[string]any {
	if c.k == nil {
		return map[string]any{}
	}
	return c.k.All()
}
