package api

import "github.com/okian/txguard/pkg/logger"

type serverConfig struct {
	checks []HealthCheck
	log    logger.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

// WithHealthChecks sets the backends probed by /healthz.
func WithHealthChecks(checks ...HealthCheck) Option {
	return func(c *serverConfig) {
		c.checks = append(c.checks, checks...)
	}
}

// WithLogger sets the logger for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}
