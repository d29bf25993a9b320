package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/portfolio-site/projectstats/utils"
)

// ErrNotConfigured is returned when no storage connection string was provided.
var ErrNotConfigured = errors.New("storage connection string not configured")

// OpenFunc opens and verifies a new database handle for dsn.
type OpenFunc func(dsn string) (*gorm.DB, error)

const (
	pingTimeout = 5 * time.Second
	openKey     = "open"
)

// Connector owns the process-wide database handle. It connects on first use, pings the held handle
// before handing it out and reconnects once when the ping fails. The mutex only guards the handle
// itself; pings and dials run outside it and concurrent dials are collapsed into one.
type Connector struct {
	dsn  string
	open OpenFunc
	dial singleflight.Group

	mu sync.Mutex
	db *gorm.DB
}

// NewConnector creates a Connector; nothing is dialed until DB is called.
func NewConnector(dsn string, open OpenFunc) *Connector {
	return &Connector{dsn: dsn, open: open}
}

// DB returns a live handle bound to ctx.
func (c *Connector) DB(ctx context.Context) (*gorm.DB, error) {
	if c.dsn == "" {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if db := c.current(); db != nil {
		err := ping(ctx, db)
		if err == nil {
			return db.WithContext(ctx), nil
		}
		utils.Sugar.Warnw("existing database connection unhealthy, reconnecting", "error", err)
		c.Discard(db)
	}

	v, err, _ := c.dial.Do(openKey, func() (interface{}, error) {
		// Another caller may have reconnected while this one was pinging.
		if db := c.current(); db != nil {
			return db, nil
		}
		db, err := c.open(c.dsn)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.db = db
		c.mu.Unlock()
		utils.Sugar.Info("database connected")
		return db, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	return v.(*gorm.DB).WithContext(ctx), nil
}

func (c *Connector) current() *gorm.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Discard drops the held handle if it is still the one db was derived from, so the next call reconnects.
func (c *Connector) Discard(db *gorm.DB) {
	if db == nil {
		return
	}
	failed, err := db.DB()
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return
	}
	if current, err := c.db.DB(); err == nil && current == failed {
		utils.Sugar.Warn("discarding database connection after storage error")
		c.closeLocked()
	}
}

// Close releases the held handle.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connector) closeLocked() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	c.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ping checks db on a context detached from the caller, so a client going away is not mistaken for
// a dead connection.
func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// callerGone reports whether err comes from the request's own cancellation or deadline rather than
// from the database.
func callerGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
