package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type collectionRow struct {
	Name      string `gorm:"primaryKey;size:255"`
	Metric    string `gorm:"size:16;not null"`
	Dimension int    `gorm:"not null;default:0"`
	CreatedAt time.Time
}

func (collectionRow) TableName() string {
	return "vector_collections"
}

type itemRow struct {
	Collection string                       `gorm:"primaryKey;size:255"`
	ID         string                       `gorm:"primaryKey;size:512"`
	Embedding  pgvector.Vector              `gorm:"type:vector;not null"`
	Metadata   datatypes.JSONType[Metadata] `gorm:"type:jsonb"`
	Document   string                       `gorm:"type:text"`
}

func (itemRow) TableName() string {
	return "vector_items"
}

// PgvectorIndex stores collections in Postgres with the pgvector extension.
type PgvectorIndex struct {
	db *gorm.DB
}

var _ Index = (*PgvectorIndex)(nil)

func NewPgvector(ctx context.Context, db *gorm.DB) (*PgvectorIndex, error) {
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enable pgvector extension failed: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&collectionRow{}, &itemRow{}); err != nil {
		return nil, fmt.Errorf("migrate vector tables failed: %w", err)
	}
	return &PgvectorIndex{db: db}, nil
}

func (p *PgvectorIndex) CreateCollection(ctx context.Context, name string, metric Metric) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&itemRow{}).Error; err != nil {
			return fmt.Errorf("drop collection items failed: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&collectionRow{}).Error; err != nil {
			return fmt.Errorf("drop collection failed: %w", err)
		}
		if err := tx.Create(&collectionRow{Name: name, Metric: string(metric)}).Error; err != nil {
			return fmt.Errorf("create collection failed: %w", err)
		}
		return nil
	})
}

func (p *PgvectorIndex) DeleteCollection(ctx context.Context, name string) error {
	if _, err := p.collection(ctx, p.db, name); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&itemRow{}).Error; err != nil {
			return err
		}
		return tx.Where("name = ?", name).Delete(&collectionRow{}).Error
	})
}

func (p *PgvectorIndex) Add(ctx context.Context, collection string, ids []string, vectors [][]float32, metadatas []Metadata, documents []string) error {
	dim, err := validateBatch(ids, vectors, metadatas, documents)
	if err != nil {
		return err
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := p.collection(ctx, tx, collection)
		if err != nil {
			return err
		}
		switch {
		case row.Dimension == 0:
			if err := tx.Model(row).Update("dimension", dim).Error; err != nil {
				return fmt.Errorf("set collection dimension failed: %w", err)
			}
		case row.Dimension != dim:
			return &ValidationError{
				Field:  "vector",
				Reason: fmt.Sprintf("dimension %d does not match collection dimension %d", dim, row.Dimension),
			}
		}

		rows := make([]itemRow, len(ids))
		for i := range ids {
			rows[i] = itemRow{
				Collection: collection,
				ID:         ids[i],
				Embedding:  pgvector.NewVector(vectors[i]),
				Metadata:   datatypes.NewJSONType(metadatas[i]),
				Document:   documents[i],
			}
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			UpdateAll: true,
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("upsert vector items failed: %w", err)
		}
		return nil
	})
}

func (p *PgvectorIndex) Query(ctx context.Context, collection string, vector []float32, topN int) ([]Result, error) {
	if err := validateQuery(vector, topN); err != nil {
		return nil, err
	}
	row, err := p.collection(ctx, p.db, collection)
	if err != nil {
		return nil, err
	}
	if row.Dimension == 0 {
		return []Result{}, nil
	}
	if row.Dimension != len(vector) {
		return nil, &ValidationError{
			Field:  "vector",
			Reason: fmt.Sprintf("query dimension %d does not match collection dimension %d", len(vector), row.Dimension),
		}
	}

	metric := Metric(row.Metric)
	var scored []struct {
		itemRow
		Distance float64
	}
	err = p.db.WithContext(ctx).
		Table("vector_items").
		Select("vector_items.*, (embedding "+operator(metric)+" ?) AS distance", pgvector.NewVector(vector)).
		Where("collection = ?", collection).
		Order("distance ASC, id ASC").
		Limit(topN).
		Scan(&scored).Error
	if err != nil {
		return nil, fmt.Errorf("query vector items failed: %w", err)
	}

	results := make([]Result, len(scored))
	for i, s := range scored {
		results[i] = Result{
			ID:       s.ID,
			Metadata: s.Metadata.Data(),
			Document: s.Document,
			Distance: normalizeDistance(metric, s.Distance),
		}
	}
	return results, nil
}

func (p *PgvectorIndex) Count(ctx context.Context, collection string) (int, error) {
	if _, err := p.collection(ctx, p.db, collection); err != nil {
		return 0, err
	}
	var n int64
	if err := p.db.WithContext(ctx).Model(&itemRow{}).Where("collection = ?", collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count vector items failed: %w", err)
	}
	return int(n), nil
}

func (p *PgvectorIndex) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *PgvectorIndex) collection(ctx context.Context, db *gorm.DB, name string) (*collectionRow, error) {
	var row collectionRow
	err := db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Collection: name}
	}
	if err != nil {
		return nil, fmt.Errorf("load collection failed: %w", err)
	}
	return &row, nil
}

func operator(metric Metric) string {
	switch metric {
	case MetricL2:
		return "<->"
	case MetricInnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// normalizeDistance maps pgvector operator output onto Metric.Distance semantics:
// <-> is plain euclidean and <#> is the negated inner product.
func normalizeDistance(metric Metric, raw float64) float64 {
	switch metric {
	case MetricL2:
		return raw * raw
	case MetricInnerProduct:
		return 1 + raw
	default:
		return raw
	}
}
