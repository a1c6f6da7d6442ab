package storage

import "time"

// Option configures either backing store. Options that only make sense for
// one backend are silently ignored by the other.
type Option interface {
	applyJSON(*Storage)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	json func(*Storage)
	pg   func(*PostgresConfig)
}

func (o optionAdapter) applyJSON(store *Storage) {
	if o.json != nil && store != nil {
		o.json(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func composeOption(json func(*Storage), pg func(*PostgresConfig)) Option {
	return optionAdapter{json: json, pg: pg}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithClock overrides the time source used for created/updated stamps.
func WithClock(clock func() time.Time) Option {
	return composeOption(
		func(s *Storage) {
			if clock != nil {
				s.clock = clock
			}
		},
		func(cfg *PostgresConfig) {
			if clock != nil {
				cfg.Clock = clock
			}
		},
	)
}

// WithMaxConnections caps the Postgres pool size.
func WithMaxConnections(max int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if max > 0 {
			cfg.MaxConnections = max
		}
	})
}

// WithMinConnections sets the minimum idle Postgres connections.
func WithMinConnections(min int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if min >= 0 {
			cfg.MinConnections = min
		}
	})
}

// WithAcquireTimeout bounds how long pool acquisition may block.
func WithAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

// WithApplicationName labels Postgres connections for diagnostics.
func WithApplicationName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if name != "" {
			cfg.ApplicationName = name
		}
	})
}

// WithHealthCheckInterval tunes how often the pool probes idle connections.
func WithHealthCheckInterval(interval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if interval > 0 {
			cfg.HealthCheckInterval = interval
		}
	})
}
