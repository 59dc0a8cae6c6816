package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidListenAddr  = errors.New("gateway: invalid listen address")
	ErrInvalidHeartbeat   = errors.New("gateway: invalid heartbeat configuration")
	ErrTLSCertRequired    = errors.New("gateway: tls cert file required")
	ErrTLSKeyRequired     = errors.New("gateway: tls key file required")
	ErrInvalidCallTimeout = errors.New("gateway: invalid call timeout")
)

// TLSConfig enables serving the peer listener over wss.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return ErrTLSCertRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return ErrTLSKeyRequired
	}
	return nil
}

// Config defines gateway transport and reliability defaults.
type Config struct {
	// ListenAddr is the host:port the peer dials back to.
	ListenAddr string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// CallTimeout bounds one call when the caller passes no explicit
	// deadline.
	CallTimeout time.Duration

	// RetryAttempts and RetryDelay drive CallWithRetry. The delay is fixed
	// between attempts.
	RetryAttempts int
	RetryDelay    time.Duration

	// MaxInFlight caps concurrently pending calls; zero means unlimited.
	MaxInFlight int

	// PingInterval is the heartbeat probe cadence. DeadAfter is the
	// activity window after which a silent connection is declared dead;
	// it doubles as the read deadline.
	PingInterval time.Duration
	DeadAfter    time.Duration

	// EventBuffer sizes the unsolicited event channel. When full, new
	// events are dropped and counted.
	EventBuffer int

	ShutdownGrace time.Duration

	TLS TLSConfig
}

// DefaultConfig returns the stock gateway configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":3001",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		CallTimeout:      60 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       2 * time.Second,
		MaxInFlight:      64,
		PingInterval:     30 * time.Second,
		DeadAfter:        60 * time.Second,
		EventBuffer:      128,
		ShutdownGrace:    5 * time.Second,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.DeadAfter <= 0 {
		c.DeadAfter = 2 * c.PingInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return ErrInvalidListenAddr
	}
	if c.CallTimeout <= 0 {
		return ErrInvalidCallTimeout
	}
	if c.PingInterval <= 0 || c.DeadAfter <= 0 {
		return fmt.Errorf("%w: ping_interval and dead_after must be positive", ErrInvalidHeartbeat)
	}
	if c.DeadAfter <= c.PingInterval {
		return fmt.Errorf("%w: dead_after (%s) must exceed ping_interval (%s)",
			ErrInvalidHeartbeat, c.DeadAfter, c.PingInterval)
	}
	return c.TLS.Validate()
}
