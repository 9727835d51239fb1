package backfill

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"
)

// checkpointRecord is the single-table schema storing the last L2 block a
// backfill pass scanned up to, per chain (SPEC_FULL.md §2.15). Grounded on
// storage/database's wrapper structs (leveldb_database.go,
// badger_database.go): a thin typed struct around a single open handle.
type checkpointRecord struct {
	ChainName string `gorm:"primary_key"`
	Block     uint64
}

func (checkpointRecord) TableName() string {
	return "backfill_checkpoints"
}

// SQLCheckpoint persists backfill progress to MySQL via gorm (the same
// ORM dependency). Construct with NewSQLCheckpoint; a nil *Scanner.checkpoint
// is the "no database configured" fallback described in §2.15.
type SQLCheckpoint struct {
	db *gorm.DB
}

// NewSQLCheckpoint opens dsn (a standard go-sql-driver/mysql DSN) and
// ensures the checkpoint table exists.
func NewSQLCheckpoint(dsn string) (*SQLCheckpoint, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "backfill: opening checkpoint database")
	}
	if err := db.AutoMigrate(&checkpointRecord{}).Error; err != nil {
		db.Close()
		return nil, errors.Wrap(err, "backfill: migrating checkpoint table")
	}
	return &SQLCheckpoint{db: db}, nil
}

// Load returns the last saved block for chainName, found=false if no
// checkpoint has ever been saved for it.
func (c *SQLCheckpoint) Load(chainName string) (uint64, bool, error) {
	var rec checkpointRecord
	err := c.db.Where("chain_name = ?", chainName).First(&rec).Error
	if gorm.IsRecordNotFoundError(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "backfill: loading checkpoint")
	}
	return rec.Block, true, nil
}

// Save upserts the checkpoint for chainName.
func (c *SQLCheckpoint) Save(chainName string, block uint64) error {
	rec := checkpointRecord{ChainName: chainName, Block: block}
	return c.db.Save(&rec).Error
}

// Close releases the underlying database connection.
func (c *SQLCheckpoint) Close() error {
	return c.db.Close()
}
