package client

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"setlist-sync/channel"
	"setlist-sync/replica"
)

// SessionConfig carries everything OpenSession needs to join a document.
type SessionConfig struct {
	DocID    string
	BaseURL  string
	Token    string
	Identity channel.Identity
	Redis    *redis.Client
	Debounce time.Duration
	Logger   *log.Logger
}

// OpenSession joins a live editing session: an HTTP Store against the
// document API for persistence, a Redis-backed channel for operations and
// presence, and a replica session on top.
func OpenSession(ctx context.Context, cfg SessionConfig) (*replica.Session, error) {
	store := New(cfg.BaseURL, cfg.Token)
	ch := channel.New(cfg.Redis, cfg.Logger)
	return replica.Open(ctx, replica.Config{
		DocID:    cfg.DocID,
		Identity: cfg.Identity,
		Channel:  ch,
		Store:    store,
		Debounce: cfg.Debounce,
		Logger:   cfg.Logger,
	})
}
