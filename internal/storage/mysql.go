package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/choco2105/magic-reading/internal/config"
	"github.com/choco2105/magic-reading/internal/interfaces"
)

// documentRow is one stored document; Seq breaks created_at ties
type documentRow struct {
	Seq        uint64    `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string    `gorm:"column:id;type:char(36);uniqueIndex;not null"`
	Collection string    `gorm:"column:collection;type:varchar(32);index:idx_collection_created,priority:1;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:datetime(6);index:idx_collection_created,priority:2;not null"`
	Body       string    `gorm:"column:body;type:json;not null"`
}

func (documentRow) TableName() string { return "documents" }

// MySQLStore is the shared document store backed by MySQL JSON columns
type MySQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents: %w", err)
	}

	return &MySQLStore{db: db, now: time.Now}, nil
}

func (s *MySQLStore) Save(ctx context.Context, collection string, record any) (string, error) {
	if !validField(collection) {
		return "", &ErrInvalidField{Field: collection}
	}
	body, err := encodeRecord(record)
	if err != nil {
		return "", err
	}
	row := documentRow{
		ID:         uuid.NewString(),
		Collection: collection,
		CreatedAt:  s.now().UTC(),
		Body:       string(body),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return row.ID, nil
}

func (s *MySQLStore) Query(ctx context.Context, collection string, filter interfaces.Filter, order interfaces.OrderBy, limit int) ([]interfaces.Document, error) {
	if err := checkQuery(collection, filter, order); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&documentRow{}).Where("collection = ?", collection)
	for _, c := range filter {
		v, err := scalar(c.Value)
		if err != nil {
			return nil, err
		}
		switch c.Field {
		case interfaces.FieldID:
			q = q.Where("id = ?", v)
		default:
			// JSON booleans extract as true/false, not 1/0
			if b, ok := c.Value.(bool); ok {
				q = q.Where(fmt.Sprintf("JSON_EXTRACT(body, '$.%s') = CAST(? AS JSON)", c.Field), fmt.Sprint(b))
				continue
			}
			q = q.Where(fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(body, '$.%s')) = ?", c.Field), fmt.Sprint(v))
		}
	}

	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	if order.Field != "" && order.Field != interfaces.FieldCreatedAt {
		q = q.Order(fmt.Sprintf("JSON_EXTRACT(body, '$.%s') %s", order.Field, dir))
	} else {
		q = q.Order("created_at " + dir)
	}
	q = q.Order("seq " + dir)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	docs := make([]interfaces.Document, len(rows))
	for i, r := range rows {
		docs[i] = interfaces.Document{ID: r.ID, Body: []byte(r.Body), CreatedAt: r.CreatedAt.UTC()}
	}
	return docs, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection, for health reporting
func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
