// Package postgres owns the pgx connection pool shared by the stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"scrapehub/internal/logger"
)

type Service struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

type Options struct {
	URL      string
	MaxConns int
}

// New opens a pooled connection and verifies it with a ping.
func New(opts Options) (*Service, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Service{pool: pool, log: logger.New("Postgres")}, nil
}

func (s *Service) Close()              { s.pool.Close() }
func (s *Service) Pool() *pgxpool.Pool { return s.pool }

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		s.log.LogErrorf("postgres health check failed: %v", err)
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
