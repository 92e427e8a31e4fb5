// Package postgres provides a gorm-backed game store for PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/whoistalking-backend/internal/engine"
	"github.com/DoyleJ11/whoistalking-backend/internal/store"
)

type sessionRow struct {
	ID              string           `gorm:"primaryKey"`
	Topic           string           `gorm:"not null"`
	Status          string           `gorm:"not null;index"`
	TurnsPerSpeaker int              `gorm:"not null"`
	MaxChars        int              `gorm:"not null"`
	Difficulty      string           `gorm:"not null"`
	TurnState       engine.TurnState `gorm:"serializer:json;type:jsonb;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (sessionRow) TableName() string { return "sessions" }

type participantRow struct {
	SessionID string `gorm:"primaryKey"`
	Seat      string `gorm:"primaryKey"`
	Type      string `gorm:"not null"`
	Persona   string `gorm:"not null;default:''"`
}

func (participantRow) TableName() string { return "participants" }

type messageRow struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"not null;uniqueIndex:idx_messages_session_turn"`
	Seat      string `gorm:"not null"`
	TurnIndex int    `gorm:"not null;uniqueIndex:idx_messages_session_turn"`
	Text      string `gorm:"not null"`
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "messages" }

type resultRow struct {
	SessionID  string  `gorm:"primaryKey"`
	PickSeat   string  `gorm:"not null"`
	Confidence float64 `gorm:"not null"`
	Why        string  `gorm:"not null"`
}

func (resultRow) TableName() string { return "results" }

// Store persists game state through gorm.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL and migrates the schema. Gorm's own logging is
// routed through log at warn level.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionRow{}, &participantRow{}, &messageRow{}, &resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, in store.NewSession) (store.Session, error) {
	row := sessionRow{
		ID:              uuid.NewString(),
		Topic:           in.Topic,
		Status:          string(engine.StatusLobby),
		TurnsPerSpeaker: in.TurnsPerSpeaker,
		MaxChars:        in.MaxChars,
		Difficulty:      in.Difficulty,
		TurnState:       in.TurnState.Clone(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if len(in.Participants) == 0 {
			return nil
		}
		parts := make([]participantRow, len(in.Participants))
		for i, p := range in.Participants {
			parts[i] = participantRow{SessionID: row.ID, Seat: string(p.Seat), Type: string(p.Type), Persona: p.Persona}
		}
		if err := tx.Create(&parts).Error; err != nil {
			return fmt.Errorf("insert participants: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Session{}, err
	}
	return toSession(row), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("get session: %w", err)
	}
	return toSession(row), nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, upd store.SessionUpdate) error {
	if upd.Status == nil && upd.TurnState == nil {
		return nil
	}
	row := sessionRow{UpdatedAt: time.Now()}
	cols := []string{"updated_at"}
	if upd.Status != nil {
		row.Status = string(*upd.Status)
		cols = append(cols, "status")
	}
	if upd.TurnState != nil {
		row.TurnState = *upd.TurnState
		cols = append(cols, "turn_state")
	}
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", id).Select(cols).Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&sessionRow{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		for _, child := range []any{&participantRow{}, &messageRow{}, &resultRow{}} {
			if err := tx.Where("session_id = ?", id).Delete(child).Error; err != nil {
				return fmt.Errorf("delete session rows: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("status <> ?", string(engine.StatusFinished)).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return ids, nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]store.Participant, error) {
	var rows []participantRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("seat").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]store.Participant, len(rows))
	for i, r := range rows {
		out[i] = store.Participant{
			SessionID: r.SessionID,
			Seat:      engine.Seat(r.Seat),
			Type:      engine.ParticipantType(r.Type),
			Persona:   r.Persona,
		}
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, seat engine.Seat, text string, ts engine.TurnState) (store.Message, error) {
	row := messageRow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seat:      string(seat),
		TurnIndex: ts.TurnIndex,
		Text:      text,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).Where("id = ?", sessionID).
			Select("turn_state", "updated_at").
			Updates(&sessionRow{TurnState: ts, UpdatedAt: time.Now()})
		if res.Error != nil {
			return fmt.Errorf("update turn state: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Message{}, err
	}
	return toMessage(row), nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("turn_index, created_at").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]store.Message, len(rows))
	for i, r := range rows {
		out[i] = toMessage(r)
	}
	return out, nil
}

func (s *Store) MessageTurnIndex(ctx context.Context, sessionID, messageID string) (int, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Select("turn_index").
		First(&row, "session_id = ? AND id = ?", sessionID, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("message turn index: %w", err)
	}
	return row.TurnIndex, nil
}

func (s *Store) SaveResult(ctx context.Context, r store.Result) error {
	row := resultRow{SessionID: r.SessionID, PickSeat: string(r.PickSeat), Confidence: r.Confidence, Why: r.Why}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("save result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrResultExists
	}
	return nil
}

func (s *Store) GetResult(ctx context.Context, sessionID string) (store.Result, error) {
	var row resultRow
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Result{}, store.ErrNotFound
	}
	if err != nil {
		return store.Result{}, fmt.Errorf("get result: %w", err)
	}
	return store.Result{
		SessionID:  row.SessionID,
		PickSeat:   engine.Seat(row.PickSeat),
		Confidence: row.Confidence,
		Why:        row.Why,
	}, nil
}

func toSession(r sessionRow) store.Session {
	return store.Session{
		ID:              r.ID,
		Topic:           r.Topic,
		Status:          engine.Status(r.Status),
		TurnsPerSpeaker: r.TurnsPerSpeaker,
		MaxChars:        r.MaxChars,
		Difficulty:      r.Difficulty,
		TurnState:       r.TurnState,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toMessage(r messageRow) store.Message {
	return store.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Seat:      engine.Seat(r.Seat),
		TurnIndex: r.TurnIndex,
		Text:      r.Text,
		CreatedAt: r.CreatedAt,
	}
}
