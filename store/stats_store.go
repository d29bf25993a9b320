package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/portfolio-site/projectstats/models"
)

// StatsStore persists the per-project counters.
type StatsStore interface {
	// Get returns the counters for id; an unknown id yields zero counters and creates nothing.
	Get(ctx context.Context, id string) (models.ProjectStats, error)
	// Increment adds one to counter for id, creating the row if needed, and returns the updated row.
	Increment(ctx context.Context, id string, counter models.Counter) (models.ProjectStats, error)
	// Total sums counter over all rows.
	Total(ctx context.Context, counter models.Counter) (int64, error)
	// ResetAll zeroes every counter of every row and reports the rows touched.
	ResetAll(ctx context.Context) (int64, error)
}

// Compile-time interface check
var _ StatsStore = (*GormStatsStore)(nil)

// GormStatsStore implements StatsStore on top of a Connector.
type GormStatsStore struct {
	conn *Connector
}

// NewGormStatsStore creates a store using conn for every call.
func NewGormStatsStore(conn *Connector) *GormStatsStore {
	return &GormStatsStore{conn: conn}
}

var statsTable = models.ProjectStats{}.TableName()

func (s *GormStatsStore) Get(ctx context.Context, id string) (models.ProjectStats, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return models.ProjectStats{}, err
	}

	var row models.ProjectStats
	err = db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ProjectStats{ID: id}, nil
	}
	if err != nil {
		return models.ProjectStats{}, s.fail(ctx, db, "get stats", err)
	}
	return row, nil
}

func (s *GormStatsStore) Increment(ctx context.Context, id string, counter models.Counter) (models.ProjectStats, error) {
	col := counter.Column()
	if col == "" {
		return models.ProjectStats{}, fmt.Errorf("unknown counter %d", int(counter))
	}
	db, err := s.conn.DB(ctx)
	if err != nil {
		return models.ProjectStats{}, err
	}

	var out models.ProjectStats
	err = db.Transaction(func(tx *gorm.DB) error {
		row := models.ProjectStats{ID: id}
		switch counter {
		case models.CounterLikes:
			row.Likes = 1
		case models.CounterShares:
			row.Shares = 1
		case models.CounterViews:
			row.Views = 1
		}
		// Qualified with the table name: Postgres rejects a bare column here as ambiguous.
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{col: gorm.Expr(statsTable + "." + col + " + 1")}),
		}
		if err := tx.Clauses(upsert).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Take(&out).Error
	})
	if err != nil {
		return models.ProjectStats{}, s.fail(ctx, db, "increment "+col, err)
	}
	return out, nil
}

func (s *GormStatsStore) Total(ctx context.Context, counter models.Counter) (int64, error) {
	col := counter.Column()
	if col == "" {
		return 0, fmt.Errorf("unknown counter %d", int(counter))
	}
	db, err := s.conn.DB(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := db.Model(&models.ProjectStats{}).
		Select("COALESCE(SUM(" + col + "),0)").
		Scan(&total).Error; err != nil {
		return 0, s.fail(ctx, db, "total "+col, err)
	}
	return total, nil
}

func (s *GormStatsStore) ResetAll(ctx context.Context) (int64, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return 0, err
	}

	res := db.Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&models.ProjectStats{}).
		Updates(map[string]interface{}{"likes": 0, "shares": 0, "views": 0})
	if res.Error != nil {
		return 0, s.fail(ctx, db, "reset stats", res.Error)
	}
	return res.RowsAffected, nil
}

// fail drops the connection that produced err so the next request starts from a fresh one. Errors
// caused by the caller's own context leave the shared connection alone.
func (s *GormStatsStore) fail(ctx context.Context, db *gorm.DB, op string, err error) error {
	if !callerGone(ctx, err) {
		s.conn.Discard(db)
	}
	return fmt.Errorf("%s: %w", op, err)
}
