package db

import (
	"fmt"
	"sync/atomic"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lifelogd/lifelog-backend/internal/platform/envutil"
	"github.com/lifelogd/lifelog-backend/internal/platform/logger"
	"github.com/lifelogd/lifelog-backend/internal/types"
)

type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSQLiteService(log *logger.Logger) (*SQLiteService, error) {
	serviceLog := log.With("service", "SQLiteService")

	path := envutil.GetEnv("SQLITE_PATH", "lifelog.db", log)

	// WAL lets the sync loops write while request handlers read; foreign keys
	// make person deletion cascade through aliases, facts and relationships.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)

	serviceLog.Info("opening sqlite database", "path", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		serviceLog.Error("failed to open sqlite database", "error", err)
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite db handle: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteService{db: gdb, log: serviceLog}, nil
}

var inMemorySeq atomic.Int64

// NewInMemory opens a throwaway database for tests. Each call gets its own
// named memory database; cache=shared only ties together the connections of
// this one pool.
func NewInMemory(log *logger.Logger) (*SQLiteService, error) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_foreign_keys=on", inMemorySeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open in-memory sqlite: %w", err)
	}
	return &SQLiteService{db: gdb, log: log.With("service", "SQLiteService")}, nil
}

// AutoMigrateAll creates every table idempotently. Gorm's AutoMigrate is
// additive (add-column-if-absent), matching the migration policy.
func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("auto migrating sqlite tables...")
	err := s.db.AutoMigrate(
		&types.Person{},
		&types.PersonAlias{},
		&types.PersonFact{},
		&types.PersonRelationship{},
		&types.PersonAsset{},
		&types.AssetAssetEdge{},
		&types.Conversation{},
		&types.ConversationTurn{},
		&types.ScheduledTask{},
		&types.TaskResult{},
		&types.PluginSetting{},
		&types.RecordingFile{},
		&types.DocFile{},
	)
	if err != nil {
		s.log.Error("auto migration failed", "error", err)
		return err
	}
	return nil
}

func (s *SQLiteService) DB() *gorm.DB {
	return s.db
}
