package store

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"framegate/internal/protocol"
)

// FrameRecord is one archived frame.
type FrameRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Session    string    `json:"session" gorm:"type:varchar(64);not null;index"`
	Protocol   string    `json:"protocol" gorm:"type:varchar(32);not null"`
	Seq        uint64    `json:"seq" gorm:"not null"`
	Valid      bool      `json:"valid" gorm:"not null;index"`
	Length     int       `json:"length" gorm:"not null"`
	Hex        string    `json:"hex" gorm:"type:text;not null"`
	PayloadHex string    `json:"payload_hex" gorm:"column:payload_hex;type:text"`
	Text       string    `json:"text,omitempty" gorm:"type:text"`
	ReceivedAt time.Time `json:"received_at" gorm:"not null;index"`
}

func (FrameRecord) TableName() string {
	return "frames"
}

// RecordFromMessage flattens a published frame message into its row.
func RecordFromMessage(msg *protocol.FrameMessage) FrameRecord {
	return FrameRecord{
		Session:    msg.Session,
		Protocol:   msg.Protocol,
		Seq:        msg.Seq,
		Valid:      msg.Valid,
		Length:     msg.Length,
		Hex:        msg.Hex,
		PayloadHex: msg.PayloadHex,
		Text:       msg.Text,
		ReceivedAt: time.UnixMilli(msg.Timestamp).UTC(),
	}
}

// Archive persists frames for later listing and export.
type Archive struct {
	db *gorm.DB
}

// OpenArchive connects to Postgres and migrates the frames table.
func OpenArchive(dsn string) (*Archive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return NewArchive(db)
}

// NewArchive migrates the frames table on db.
func NewArchive(db *gorm.DB) (*Archive, error) {
	if err := db.AutoMigrate(&FrameRecord{}); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Save inserts rec and fills its ID.
func (a *Archive) Save(ctx context.Context, rec *FrameRecord) error {
	return a.db.WithContext(ctx).Create(rec).Error
}

// Recent returns the newest records first. An empty session matches all.
func (a *Archive) Recent(ctx context.Context, session string, limit int) ([]FrameRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := a.db.WithContext(ctx).Model(&FrameRecord{})
	if session != "" {
		q = q.Where("session = ?", session)
	}
	var records []FrameRecord
	err := q.Order("received_at DESC, id DESC").Limit(limit).Find(&records).Error
	return records, err
}

// Close closes the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
