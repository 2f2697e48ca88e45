package index

import (
	"time"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// entityRow is the GORM model backing the tracking index's entity table.
// Slot state is flattened into columns rather than a child table: there
// are always exactly three slots per entity and they're read together on
// every lookup, so a join buys nothing.
type entityRow struct {
	UpstreamPath string `gorm:"primaryKey"`
	PrecacheDir  string `gorm:"not null"`

	DataSize      uint64 `gorm:"not null;default:0"`
	DataStatus    int    `gorm:"not null;default:1"`
	DataUpdatedAt time.Time

	MetadataSize      uint64 `gorm:"not null;default:0"`
	MetadataStatus    int    `gorm:"not null;default:1"`
	MetadataUpdatedAt time.Time

	ChecksumsSize      uint64 `gorm:"not null;default:0"`
	ChecksumsStatus    int    `gorm:"not null;default:1"`
	ChecksumsUpdatedAt time.Time

	LastAccess time.Time `gorm:"index"`
	Contention int        `gorm:"not null;default:0"`
	Checksum   string
}

func (entityRow) TableName() string { return "precache_entities" }

func (r *entityRow) toModel() *model.Entity {
	return &model.Entity{
		UpstreamPath: r.UpstreamPath,
		PrecacheDir:  r.PrecacheDir,
		Data: model.DatatypeSlot{
			Size: r.DataSize, Status: model.Status(r.DataStatus), UpdatedAt: r.DataUpdatedAt,
		},
		Metadata: model.DatatypeSlot{
			Size: r.MetadataSize, Status: model.Status(r.MetadataStatus), UpdatedAt: r.MetadataUpdatedAt,
		},
		Checksums: model.DatatypeSlot{
			Size: r.ChecksumsSize, Status: model.Status(r.ChecksumsStatus), UpdatedAt: r.ChecksumsUpdatedAt,
		},
		LastAccess: r.LastAccess,
		Contention: r.Contention,
		Checksum:   r.Checksum,
	}
}

func rowFromModel(e *model.Entity) *entityRow {
	return &entityRow{
		UpstreamPath:       e.UpstreamPath,
		PrecacheDir:        e.PrecacheDir,
		DataSize:           e.Data.Size,
		DataStatus:         int(e.Data.Status),
		DataUpdatedAt:      e.Data.UpdatedAt,
		MetadataSize:       e.Metadata.Size,
		MetadataStatus:     int(e.Metadata.Status),
		MetadataUpdatedAt:  e.Metadata.UpdatedAt,
		ChecksumsSize:      e.Checksums.Size,
		ChecksumsStatus:    int(e.Checksums.Status),
		ChecksumsUpdatedAt: e.Checksums.UpdatedAt,
		LastAccess:         e.LastAccess,
		Contention:         e.Contention,
		Checksum:           e.Checksum,
	}
}

// allModels lists every GORM model for AutoMigrate, the same pattern the
// teacher's control-plane store uses for models.AllModels().
func allModels() []interface{} {
	return []interface{}{&entityRow{}}
}
