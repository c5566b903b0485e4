// Package store provides the result store backends keyed by job id.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dontdude/imgcap/internal/config"
	"github.com/dontdude/imgcap/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Open returns the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (domain.ResultStore, error) {
	switch cfg.Store.Backend {
	case "fs":
		return NewFS(cfg.Store.Dir)
	case "sqlite":
		return NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return NewPostgres(ctx, cfg.Store.PostgresURL)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Broker.Addr,
			Password: cfg.Broker.Password,
			DB:       cfg.Broker.DB,
		})
		return NewRedis(rdb, cfg.Store.RedisPrefix), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown result store backend %q", cfg.Store.Backend)
	}
}

// validID rejects ids that could escape a key namespace or directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}
