package state

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// migrationRecord tracks which numbered migrations have already run, so a
// restart never re-applies one. AutoMigrate itself is idempotent for
// additive column changes, but a numbered registry lets us express
// migrations AutoMigrate can't (backfills, renames) in the same idempotent,
// version-gated way.
type migrationRecord struct {
	Version   int `gorm:"primaryKey"`
	Name      string
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (migrationRecord) TableName() string { return "schema_migrations" }

type migration struct {
	version int
	name    string
	run     func(*gorm.DB) error
}

// migrations is the monotonically-numbered registry. Each entry checks
// table/column existence before altering so re-running a migration that
// already applied is a no-op.
var migrations = []migration{
	{
		version: 1,
		name:    "create_core_tables",
		run: func(db *gorm.DB) error {
			return db.AutoMigrate(
				&OpenPosition{},
				&ClosedTrade{},
				&PendingEntryOrder{},
				&ActiveSLOrder{},
				&DailyState{},
				&SwingLogEntry{},
				&SwingCandidate{},
				&LatestBar{},
				&BestStrike{},
				&OrderTriggerLogEntry{},
			)
		},
	},
	{
		version: 2,
		name:    "create_operational_state",
		run: func(db *gorm.DB) error {
			if err := db.AutoMigrate(&OperationalState{}); err != nil {
				return err
			}
			// Seed the singleton row if absent so callers can always UPDATE
			// by primary key instead of branching on first-run.
			var count int64
			if err := db.Model(&OperationalState{}).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return db.Create(&OperationalState{ID: 1, State: "STARTING"}).Error
			}
			return nil
		},
	},
	{
		// Adds the two control-flag columns to operational_state; kept as
		// its own numbered step even though migration 2 already creates
		// them on a fresh database, so a database migrated before this
		// step existed still picks them up idempotently.
		version: 3,
		name:    "add_operational_control_flags",
		run: func(db *gorm.DB) error {
			m := db.Migrator()
			if !m.HasColumn(&OperationalState{}, "PauseRequested") {
				if err := m.AddColumn(&OperationalState{}, "PauseRequested"); err != nil {
					return err
				}
			}
			if !m.HasColumn(&OperationalState{}, "KillRequested") {
				if err := m.AddColumn(&OperationalState{}, "KillRequested"); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// Migrate applies every registered migration not yet recorded as applied,
// in version order.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return fmt.Errorf("migrate: create migration registry: %w", err)
	}
	for _, m := range migrations {
		var existing migrationRecord
		err := db.Where("version = ?", m.version).First(&existing).Error
		if err == nil {
			continue // already applied
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("migrate: check version %d: %w", m.version, err)
		}
		if err := m.run(db); err != nil {
			return fmt.Errorf("migrate: version %d (%s): %w", m.version, m.name, err)
		}
		if err := db.Create(&migrationRecord{Version: m.version, Name: m.name}).Error; err != nil {
			return fmt.Errorf("migrate: record version %d: %w", m.version, err)
		}
	}
	return nil
}
