package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type collectionRow struct {
	Name       string `gorm:"primaryKey"`
	Dimensions int
	Metric     string
	CreatedAt  time.Time
}

func (collectionRow) TableName() string { return "vector_collections" }

type pointRow struct {
	Collection string `gorm:"primaryKey"`
	ID         string `gorm:"primaryKey"`
	Text       string
	Vector     []byte
	Metadata   string
	UpdatedAt  time.Time
}

func (pointRow) TableName() string { return "vector_points" }

// SQLiteStore persists points in SQLite and scores them by brute force.
// Suitable for corpora up to tens of thousands of examples.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the database at path. A path starting with
// "file:" is passed through as a DSN.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&collectionRow{}, &pointRow{}); err != nil {
		return nil, fmt.Errorf("migrate vector tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dims int, metric Metric) error {
	if metric != Cosine {
		return fmt.Errorf("unsupported metric %q", metric)
	}

	row := collectionRow{Name: name, Dimensions: dims, Metric: string(metric)}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	var existing collectionRow
	if err := s.db.WithContext(ctx).First(&existing, "name = ?", name).Error; err != nil {
		return fmt.Errorf("read collection %s: %w", name, err)
	}
	if existing.Dimensions != dims {
		return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, name, existing.Dimensions, dims)
	}
	return nil
}

func (s *SQLiteStore) dims(ctx context.Context, name string) (int, error) {
	var c collectionRow
	err := s.db.WithContext(ctx).First(&c, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, err
	}
	return c.Dimensions, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	dims, err := s.dims(ctx, collection)
	if err != nil {
		return err
	}

	rows := make([]pointRow, 0, len(points))
	for _, p := range points {
		if err := validatePoint(p, dims); err != nil {
			return err
		}
		md, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", p.ID, err)
		}
		rows = append(rows, pointRow{
			Collection: collection,
			ID:         p.ID,
			Text:       p.Text,
			Vector:     encodeVector(p.Vector),
			Metadata:   string(md),
		})
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float64, k int) ([]Match, error) {
	dims, err := s.dims(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d", ErrDimensionMismatch, len(vector), dims)
	}

	var rows []pointRow
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan points: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		var md map[string]any
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &md); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		matches = append(matches, Match{
			ID:       r.ID,
			Score:    CosineSimilarity(vector, decodeVector(r.Vector)),
			Text:     r.Text,
			Metadata: md,
		})
	}
	return topK(matches, k), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.dims(ctx, collection); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Where("collection = ? AND id IN ?", collection, ids).Delete(&pointRow{}).Error
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	if _, err := s.dims(ctx, collection); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&pointRow{}).Where("collection = ?", collection).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
