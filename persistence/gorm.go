package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/callflow/internal/database"
)

// TurnRecord 是 call_turns 表的一行
type TurnRecord struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	SessionID     string    `gorm:"size:64;not null;index:idx_call_turns_session,priority:1" json:"session_id"`
	CallSID       string    `gorm:"column:call_sid;size:64;index" json:"call_sid"`
	Turn          int64     `gorm:"not null;index:idx_call_turns_session,priority:2" json:"turn"`
	Transcript    string    `gorm:"type:text" json:"transcript"`
	Response      string    `gorm:"type:text" json:"response"`
	STTProvider   string    `gorm:"column:stt_provider;size:64" json:"stt_provider"`
	TTSProvider   string    `gorm:"column:tts_provider;size:64" json:"tts_provider"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
	StartedAt     time.Time `json:"started_at"`
	TranscribedAt time.Time `json:"transcribed_at"`
	RespondedAt   time.Time `json:"responded_at"`
	EndedAt       time.Time `json:"ended_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (TurnRecord) TableName() string { return "call_turns" }

// SessionRecord 是 call_sessions 表的一行
type SessionRecord struct {
	SessionID     string    `gorm:"primaryKey;size:64" json:"session_id"`
	CallSID       string    `gorm:"column:call_sid;size:64;index" json:"call_sid"`
	Reason        string    `gorm:"size:32;index" json:"reason"`
	Turns         int64     `json:"turns"`
	Completed     int64     `json:"completed"`
	InboundDrops  int64     `json:"inbound_drops"`
	OutboundDrops int64     `json:"outbound_drops"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (SessionRecord) TableName() string { return "call_sessions" }

func turnRecord(t *TurnCompleted) *TurnRecord {
	return &TurnRecord{
		ID:            t.ID,
		SessionID:     t.SessionID,
		CallSID:       t.CallSID,
		Turn:          t.Turn,
		Transcript:    t.Transcript,
		Response:      t.Response,
		STTProvider:   t.STTProvider,
		TTSProvider:   t.TTSProvider,
		BytesIn:       t.BytesIn,
		BytesOut:      t.BytesOut,
		StartedAt:     t.StartedAt,
		TranscribedAt: t.TranscribedAt,
		RespondedAt:   t.RespondedAt,
		EndedAt:       t.EndedAt,
	}
}

func sessionRecord(s *SessionEnded) *SessionRecord {
	return &SessionRecord{
		SessionID:     s.SessionID,
		CallSID:       s.CallSID,
		Reason:        s.Reason,
		Turns:         s.Turns,
		Completed:     s.Completed,
		InboundDrops:  s.InboundDrops,
		OutboundDrops: s.OutboundDrops,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
	}
}

// GormSink writes events to SQL through GORM. Inserts use ON CONFLICT DO
// NOTHING so redelivery is harmless.
type GormSink struct {
	pool       *database.PoolManager
	maxRetries int
	owned      bool
}

// NewGormSink creates the sink; autoMigrate creates or updates the tables.
func NewGormSink(pm *database.PoolManager, autoMigrate bool) (*GormSink, error) {
	if pm == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if autoMigrate {
		if err := AutoMigrate(pm.DB()); err != nil {
			return nil, err
		}
	}
	return &GormSink{pool: pm, maxRetries: 3}, nil
}

// AutoMigrate creates the call_turns and call_sessions tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&TurnRecord{}, &SessionRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *GormSink) Name() string { return "database" }

// Write implements Sink.
func (s *GormSink) Write(ctx context.Context, ev Event) error {
	var rec any
	switch {
	case ev.Turn != nil:
		rec = turnRecord(ev.Turn)
	case ev.Session != nil:
		rec = sessionRecord(ev.Session)
	default:
		return fmt.Errorf("empty %s event", ev.Type)
	}

	return s.pool.WithTransactionRetry(ctx, s.maxRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	})
}

// Turns returns the stored turns of a session ordered by turn number.
func (s *GormSink) Turns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	var out []TurnRecord
	err := s.pool.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("turn ASC").
		Find(&out).Error
	return out, err
}

// Session returns the stored summary of an ended session.
func (s *GormSink) Session(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	if err := s.pool.DB().WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping implements Pinger.
func (s *GormSink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// DBStats returns the connection pool statistics.
func (s *GormSink) DBStats() sql.DBStats { return s.pool.Stats() }

// Close implements Sink.
func (s *GormSink) Close(context.Context) error {
	if s.owned {
		return s.pool.Close()
	}
	return nil
}
