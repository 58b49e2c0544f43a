package repository

import "time"

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBusyTimeout sets the SQLite busy timeout applied at connect time.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.metricsUpdateInterval = interval
		}
	}
}
