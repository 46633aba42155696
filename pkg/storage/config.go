package storage

import "time"

// Config for the storage tiers
type Config struct {
	// Redis (fast shared tier)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Relational database (raw events, rollups)
	DatabaseDriver string // "postgres" or "sqlite3"
	DatabaseURL    string

	// S3-compatible object store (counter/audit JSON documents)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// OpTimeout bounds every outbound call to a durable tier.
	OpTimeout time.Duration

	// Timezone used for rollup bucket-key derivation.
	Timezone string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		DatabaseDriver:  "postgres",
		S3Region:        "us-east-1",
		OpTimeout:       5 * time.Second,
		Timezone:        "UTC",
	}
}

// HasRedis reports whether the fast shared tier is configured.
func (c Config) HasRedis() bool { return c.RedisURL != "" }

// HasDatabase reports whether the relational tier is configured.
func (c Config) HasDatabase() bool { return c.DatabaseURL != "" }

// HasObjectStore reports whether the durable object tier is configured.
func (c Config) HasObjectStore() bool { return c.S3Bucket != "" }

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
