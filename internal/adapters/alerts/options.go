package alerts

import "github.com/okian/txguard/pkg/logger"

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueCapacity bounds the number of alerts waiting to be written.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithWorkers sets the number of writer goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRetries sets how many times a failed write is retried.
func WithRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.retries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}
