package dedup

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config selects the backing database for the GORM store.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// GormStore implements Store on a SQL database. The unique index on
// (consumer_group, delivery_id) plus status-guarded updates give the
// compare-and-set semantics without row locks held across processing.
type GormStore struct {
	db    *gorm.DB
	table string
}

type row struct {
	ConsumerGroup string    `gorm:"column:consumer_group;size:128;not null;uniqueIndex:idx_group_delivery"`
	DeliveryID    string    `gorm:"column:delivery_id;size:255;not null;uniqueIndex:idx_group_delivery"`
	Status        string    `gorm:"column:status;size:16;not null;index"`
	Attempts      int       `gorm:"column:attempts;not null"`
	LastAttempt   time.Time `gorm:"column:last_attempt;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

var conflictColumns = []clause.Column{{Name: "consumer_group"}, {Name: "delivery_id"}}

// Open connects to the configured database.
func Open(cfg Config) (*GormStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dedup dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pgx":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, errors.New("unsupported dedup driver: " + cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "opencr_consumption_records"
	}
	store := &GormStore{db: db, table: table}
	if cfg.AutoMigrate {
		if err := db.Table(table).AutoMigrate(&row{}); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *GormStore) Claim(ctx context.Context, group, deliveryID string) (Record, bool, error) {
	tx := s.db.WithContext(ctx).Table(s.table)

	insert := tx.Clauses(clause.OnConflict{Columns: conflictColumns, DoNothing: true}).Create(&row{
		ConsumerGroup: group,
		DeliveryID:    deliveryID,
		Status:        string(StatusPending),
		LastAttempt:   time.Now().UTC(),
	})
	if insert.Error != nil {
		return Record{}, false, insert.Error
	}

	update := s.db.WithContext(ctx).Table(s.table).
		Where("consumer_group = ? AND delivery_id = ? AND status = ?", group, deliveryID, string(StatusPending)).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + 1"),
			"last_attempt": time.Now().UTC(),
		})
	if update.Error != nil {
		return Record{}, false, update.Error
	}

	rec, found, err := s.Get(ctx, group, deliveryID)
	if err != nil {
		return Record{}, false, err
	}
	if !found {
		return Record{}, false, errors.New("consumption record vanished during claim")
	}
	// Zero rows updated means another worker resolved the record first.
	return rec, update.RowsAffected > 0 && rec.Status == StatusPending, nil
}

func (s *GormStore) MarkSucceeded(ctx context.Context, group, deliveryID string) error {
	return s.resolve(ctx, group, deliveryID, StatusSucceeded)
}

func (s *GormStore) MarkFailed(ctx context.Context, group, deliveryID string) error {
	return s.resolve(ctx, group, deliveryID, StatusFailed)
}

func (s *GormStore) resolve(ctx context.Context, group, deliveryID string, target Status) error {
	update := s.db.WithContext(ctx).Table(s.table).
		Where("consumer_group = ? AND delivery_id = ? AND status = ?", group, deliveryID, string(StatusPending)).
		Update("status", string(target))
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected > 0 {
		return nil
	}

	rec, found, err := s.Get(ctx, group, deliveryID)
	if err != nil {
		return err
	}
	if !found {
		return s.db.WithContext(ctx).Table(s.table).
			Clauses(clause.OnConflict{Columns: conflictColumns, DoNothing: true}).
			Create(&row{
				ConsumerGroup: group,
				DeliveryID:    deliveryID,
				Status:        string(target),
				LastAttempt:   time.Now().UTC(),
			}).Error
	}
	if rec.Status == target {
		return nil
	}
	return ErrResolved
}

func (s *GormStore) Get(ctx context.Context, group, deliveryID string) (Record, bool, error) {
	var r row
	err := s.db.WithContext(ctx).Table(s.table).
		Where("consumer_group = ? AND delivery_id = ?", group, deliveryID).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return Record{
		Group:       r.ConsumerGroup,
		DeliveryID:  r.DeliveryID,
		Status:      Status(r.Status),
		Attempts:    r.Attempts,
		LastAttempt: r.LastAttempt,
	}, true, nil
}

func (s *GormStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Table(s.table).
		Where("status <> ? AND last_attempt < ?", string(StatusPending), before).
		Delete(&row{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
