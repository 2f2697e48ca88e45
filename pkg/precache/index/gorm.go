package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// BackendType selects which database engine backs the tracking index.
type BackendType string

const (
	BackendSQLite   BackendType = "sqlite"
	BackendPostgres BackendType = "postgres"
)

// SQLiteConfig configures the embedded, single-writer backend.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig configures the shared-budget, multi-instance backend.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func (c PostgresConfig) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslmode)
}

// Config selects and configures a Tracking Index backend.
type Config struct {
	Type     BackendType
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = BackendSQLite
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 2
	}
}

func (c *Config) validate() error {
	switch c.Type {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return errors.New("precache index: sqlite path is required")
		}
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return errors.New("precache index: postgres host and database are required")
		}
	default:
		return fmt.Errorf("precache index: unknown backend type %q", c.Type)
	}
	return nil
}

// gormIndex is the GORM-backed Index implementation shared by both the
// SQLite and PostgreSQL backends — only dialector selection differs.
type gormIndex struct {
	db *gorm.DB
}

// New opens (and migrates) a Tracking Index backend per config.
func New(config Config) (Index, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var db *gorm.DB
	var err error

	switch config.Type {
	case BackendSQLite:
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
	case BackendPostgres:
		db, err = gorm.Open(postgres.Open(config.Postgres.dsn()), gcfg)
		if err == nil {
			sqlDB, sqlErr := db.DB()
			if sqlErr == nil {
				sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
				sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("precache index: open %s: %w", config.Type, err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("precache index: migrate: %w", err)
	}

	return &gormIndex{db: db}, nil
}

func (g *gormIndex) UpsertEntity(ctx context.Context, upstreamPath, precacheDir string) (*model.Entity, error) {
	var row entityRow
	err := g.db.WithContext(ctx).Where("upstream_path = ?", upstreamPath).First(&row).Error
	if err == nil {
		return row.toModel(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	row = entityRow{
		UpstreamPath:       upstreamPath,
		PrecacheDir:        precacheDir,
		DataStatus:         int(model.StatusQueued),
		DataUpdatedAt:      now,
		MetadataStatus:     int(model.StatusQueued),
		MetadataUpdatedAt:  now,
		ChecksumsStatus:    int(model.StatusQueued),
		ChecksumsUpdatedAt: now,
		LastAccess:         now,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (g *gormIndex) Get(ctx context.Context, upstreamPath string) (*model.Entity, error) {
	var row entityRow
	err := g.db.WithContext(ctx).Where("upstream_path = ?", upstreamPath).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (g *gormIndex) SetSize(ctx context.Context, upstreamPath string, dt model.Datatype, size uint64) error {
	col, _, err := columnsFor(dt)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ?", upstreamPath).
		Update(col+"_size", size).Error
}

func (g *gormIndex) LogStatus(ctx context.Context, upstreamPath string, dt model.Datatype, status model.Status) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entityRow
		if err := tx.Where("upstream_path = ?", upstreamPath).First(&row).Error; err != nil {
			return err
		}

		current := model.Status(statusColumn(&row, dt))
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("precache index: illegal transition %s -> %s for %s/%s", current, status, upstreamPath, dt)
		}

		col, tsCol, err := columnsFor(dt)
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]interface{}{
			col + "_status":  int(status),
			tsCol:             time.Now(),
		}).Error
	})
}

func (g *gormIndex) SetChecksum(ctx context.Context, upstreamPath, checksum string) error {
	return g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ?", upstreamPath).
		Update("checksum", checksum).Error
}

func (g *gormIndex) Reset(ctx context.Context, upstreamPath string) error {
	now := time.Now()
	return g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ?", upstreamPath).
		Updates(map[string]interface{}{
			"data_status": int(model.StatusQueued), "data_updated_at": now,
			"metadata_status": int(model.StatusQueued), "metadata_updated_at": now,
			"checksums_status": int(model.StatusQueued), "checksums_updated_at": now,
			"checksum": "",
		}).Error
}

func (g *gormIndex) Touch(ctx context.Context, upstreamPath string) (*model.Entity, error) {
	if err := g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ?", upstreamPath).
		Update("last_access", time.Now()).Error; err != nil {
		return nil, err
	}
	return g.Get(ctx, upstreamPath)
}

func (g *gormIndex) Hold(ctx context.Context, upstreamPath string) error {
	return g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ?", upstreamPath).
		Update("contention", gorm.Expr("contention + 1")).Error
}

func (g *gormIndex) Release(ctx context.Context, upstreamPath string) error {
	return g.db.WithContext(ctx).Model(&entityRow{}).
		Where("upstream_path = ? AND contention > 0", upstreamPath).
		Update("contention", gorm.Expr("contention - 1")).Error
}

func (g *gormIndex) Delete(ctx context.Context, upstreamPath string) error {
	return g.db.WithContext(ctx).Where("upstream_path = ?", upstreamPath).Delete(&entityRow{}).Error
}

func (g *gormIndex) CurrentStatus(ctx context.Context, upstreamPath string, dt model.Datatype) (model.Status, error) {
	e, err := g.Get(ctx, upstreamPath)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, fmt.Errorf("precache index: %s is not tracked", upstreamPath)
	}
	slot := e.Slot(dt)
	if slot == nil {
		return 0, fmt.Errorf("precache index: invalid datatype %q", dt)
	}
	return slot.Status, nil
}

// Commitment sums the bytes every entity currently occupies or has
// reserved: slots that are Started or Finished. A Started slot's size
// already holds the reservation set at admission, so an in-flight fetch
// counts against capacity exactly as a finished one does — otherwise
// concurrent admissions could collectively overrun the budget before any
// of them finish.
func (g *gormIndex) Commitment(ctx context.Context) (uint64, error) {
	var total uint64
	row := g.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(
			CASE WHEN data_status IN (?, ?) THEN data_size ELSE 0 END +
			CASE WHEN metadata_status IN (?, ?) THEN metadata_size ELSE 0 END +
			CASE WHEN checksums_status IN (?, ?) THEN checksums_size ELSE 0 END
		), 0) FROM precache_entities`,
		int(model.StatusStarted), int(model.StatusFinished),
		int(model.StatusStarted), int(model.StatusFinished),
		int(model.StatusStarted), int(model.StatusFinished)).Row()
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (g *gormIndex) CandidatesForEviction(ctx context.Context, olderThan time.Time, limit int) ([]*model.Entity, error) {
	var rows []entityRow
	q := g.db.WithContext(ctx).
		Where("contention = 0 AND last_access < ?", olderThan).
		Order("last_access ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	entities := make([]*model.Entity, 0, len(rows))
	for i := range rows {
		entities = append(entities, rows[i].toModel())
	}
	return entities, nil
}

func (g *gormIndex) ProductionRates(ctx context.Context) (map[string]RateSample, error) {
	var rows []entityRow
	if err := g.db.WithContext(ctx).Where("data_status = ?", int(model.StatusStarted)).Find(&rows).Error; err != nil {
		return nil, err
	}
	samples := make(map[string]RateSample, len(rows))
	for i := range rows {
		samples[rows[i].UpstreamPath] = RateSample{
			BytesSoFar: rows[i].DataSize,
			Since:      rows[i].DataUpdatedAt,
		}
	}
	return samples, nil
}

func (g *gormIndex) Repair(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, col := range []string{"data", "metadata", "checksums"} {
			res := tx.Model(&entityRow{}).
				Where(col+"_status = ?", int(model.StatusStarted)).
				Updates(map[string]interface{}{col + "_status": int(model.StatusQueued), col + "_updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			report.SlotsReset += int(res.RowsAffected)
		}

		res := tx.Where(`
			data_status = ? AND metadata_status = ? AND checksums_status = ?
			AND data_size = 0 AND metadata_size = 0 AND checksums_size = 0`,
			int(model.StatusQueued), int(model.StatusQueued), int(model.StatusQueued)).
			Delete(&entityRow{})
		if res.Error != nil {
			return res.Error
		}
		report.EntitiesPruned = int(res.RowsAffected)
		return nil
	})
	return report, err
}

func (g *gormIndex) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func columnsFor(dt model.Datatype) (col, tsCol string, err error) {
	switch dt {
	case model.DatatypeData:
		return "data", "data_updated_at", nil
	case model.DatatypeMetadata:
		return "metadata", "metadata_updated_at", nil
	case model.DatatypeChecksums:
		return "checksums", "checksums_updated_at", nil
	default:
		return "", "", fmt.Errorf("precache index: invalid datatype %q", dt)
	}
}

func statusColumn(row *entityRow, dt model.Datatype) int {
	switch dt {
	case model.DatatypeData:
		return row.DataStatus
	case model.DatatypeMetadata:
		return row.MetadataStatus
	case model.DatatypeChecksums:
		return row.ChecksumsStatus
	default:
		return 0
	}
}
