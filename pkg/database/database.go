package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/iziplay/crm-indexer/pkg/index"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/opentelemetry/tracing"
)

// Config holds the postgres connection settings.
type Config struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
}

func (c Config) Enabled() bool { return c.Host != "" }

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.Host, c.User, c.Password, c.Database, c.Port)
}

// Store keeps indexed documents and run history in a relational database. It
// implements index.Backend.
type Store struct {
	db *gorm.DB
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(
			log.Default(),
			logger.Config{
				SlowThreshold:             10 * time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "crm_",
		},
	}
}

// Open connects to postgres, installs tracing and migrates the schema.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("failed to install tracing: %w", err)
	}

	slog.Info("Database connection established", "host", cfg.Host, "database", cfg.Database)
	return New(db)
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.AutoMigrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// AutoMigrate runs automatic migration for all models
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&IndexSchema{},
		&StoredDocument{},
		&Run{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// sanitizeString removes null bytes which PostgreSQL rejects in text fields
func sanitizeString(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&IndexSchema{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	return count > 0, nil
}

func (s *Store) CreateIndex(ctx context.Context, name string, mapping index.Mapping) error {
	props, err := json.Marshal(mapping.Properties())
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&IndexSchema{Name: name, Mapping: datatypes.JSON(props)}).Error; err != nil {
		return fmt.Errorf("failed to create index %q: %w", name, err)
	}
	return nil
}

var documentConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "index_name"}, {Name: "id"}},
	DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
}

// BulkWrite upserts docs in one statement. If the statement fails, documents
// are written one by one so a bad document only fails itself.
func (s *Store) BulkWrite(ctx context.Context, name string, docs []index.Document) (index.BulkResponse, error) {
	rows := make([]StoredDocument, 0, len(docs))
	var resp index.BulkResponse
	for _, doc := range docs {
		row, err := newStoredDocument(name, doc)
		if err != nil {
			resp.Failures = append(resp.Failures, index.WriteFailure{ID: doc.ID, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return resp, nil
	}

	err := s.db.WithContext(ctx).Clauses(documentConflict).Create(&rows).Error
	if err == nil {
		resp.Succeeded += len(rows)
		return resp, nil
	}
	if ctx.Err() != nil {
		return index.BulkResponse{}, err
	}
	slog.Warn("Batch upsert failed, retrying documents one by one", "index", name, "documents", len(rows), "error", err)

	for i := range rows {
		if err := s.db.WithContext(ctx).Clauses(documentConflict).Create(&rows[i]).Error; err != nil {
			resp.Failures = append(resp.Failures, index.WriteFailure{ID: rows[i].ID, Reason: err.Error()})
			continue
		}
		resp.Succeeded++
	}
	return resp, nil
}

func (s *Store) Get(ctx context.Context, name, id string) (*index.Document, error) {
	var row StoredDocument
	err := s.db.WithContext(ctx).Where("index_name = ? AND id = ?", name, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", index.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", index.ErrConnection, err)
	}
	return row.Document()
}
