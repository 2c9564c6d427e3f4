package conf

import "time"

// Bootstrap is the root configuration tree handed to the wire injector.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	GLPI      *GLPI
	Cache     *Cache
	Dashboard *Dashboard
	Auth      *Auth
	Log       *Log
}

// Server holds transport settings.
type Server struct {
	HTTP *ServerHTTP
}

// ServerHTTP configures the kratos HTTP server.
type ServerHTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds the storage backends.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database configures the optional MySQL snapshot history store.
// An empty Source disables history.
type Database struct {
	Driver string
	Source string
}

// Redis configures the shared cache backend.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GLPI configures the resilient GLPI REST client.
type GLPI struct {
	BaseURL        string
	AppToken       string
	UserToken      string
	ProxyURL       string
	SessionTimeout time.Duration
	RenewalMargin  time.Duration
	// RateLimit is the outbound request budget in requests per second (0 = unlimited).
	RateLimit      float64
	Burst          int
	CircuitBreaker *CircuitBreaker
	Retry          *Retry
}

// CircuitBreaker holds the breaker policy for one client instance.
type CircuitBreaker struct {
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
	// Timeout bounds every single attempt.
	Timeout time.Duration
}

// Retry holds the retry budget and backoff bounds.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Cache configures the layered cache.
type Cache struct {
	ProbeInterval time.Duration
	LocalSize     int
	KeyPrefix     string
	ShortTTL      time.Duration
	MediumTTL     time.Duration
	LongTTL       time.Duration
}

// Dashboard configures the metrics aggregator.
type Dashboard struct {
	Workers      int
	WarmupSpec   string
	HistoryLimit int
	Levels       []ServiceLevel
}

// ServiceLevel maps a support level name to its GLPI technician group.
type ServiceLevel struct {
	Name    string `mapstructure:"name"`
	GroupID int    `mapstructure:"group_id"`
}

// Auth holds secrets used to decrypt encrypted configuration values.
type Auth struct {
	EncryptionKey string
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
