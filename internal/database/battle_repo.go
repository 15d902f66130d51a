package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BattleRecord is one finished recording waiting in the upload queue, plus
// everything extracted about the battle it holds.
type BattleRecord struct {
	ID            string    `json:"id"`
	VideoPath     string    `json:"video_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	SubtitlePath  string    `json:"subtitle_path,omitempty"`
	StartTime     time.Time `json:"start_time"`
	BattleType    string    `json:"battle_type,omitempty"`
	Rule          string    `json:"rule,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	Kill          int       `json:"kill"`
	Death         int       `json:"death"`
	Special       int       `json:"special"`
	HasKillRecord bool      `json:"has_kill_record"`
	Rating        string    `json:"rating,omitempty"`
	Uploaded      bool      `json:"uploaded"`
	QueuedAt      time.Time `json:"queued_at"`
}

type BattleRepository struct {
	db *DB
}

func NewBattleRepository(db *DB) *BattleRepository {
	return &BattleRepository{db: db}
}

func (r *BattleRepository) Insert(ctx context.Context, record *BattleRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.QueuedAt.IsZero() {
		record.QueuedAt = time.Now()
	}

	var query string
	if r.db.dbType == "postgres" {
		query = `
			INSERT INTO battle_records (
				id, video_path, thumbnail_path, subtitle_path, start_time,
				battle_type, rule, stage, outcome,
				kill_count, death_count, special_count, has_kill_record,
				rating, uploaded, queued_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	} else {
		query = `
			INSERT INTO battle_records (
				id, video_path, thumbnail_path, subtitle_path, start_time,
				battle_type, rule, stage, outcome,
				kill_count, death_count, special_count, has_kill_record,
				rating, uploaded, queued_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	_, err := r.db.conn.ExecContext(ctx, query,
		record.ID,
		record.VideoPath,
		record.ThumbnailPath,
		record.SubtitlePath,
		record.StartTime,
		record.BattleType,
		record.Rule,
		record.Stage,
		record.Outcome,
		record.Kill,
		record.Death,
		record.Special,
		record.HasKillRecord,
		record.Rating,
		record.Uploaded,
		record.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert battle record: %w", err)
	}
	return nil
}

const battleColumns = `id, video_path, thumbnail_path, subtitle_path, start_time,
	battle_type, rule, stage, outcome,
	kill_count, death_count, special_count, has_kill_record,
	rating, uploaded, queued_at`

func scanBattle(rows interface{ Scan(...any) error }) (*BattleRecord, error) {
	record := &BattleRecord{}
	err := rows.Scan(
		&record.ID,
		&record.VideoPath,
		&record.ThumbnailPath,
		&record.SubtitlePath,
		&record.StartTime,
		&record.BattleType,
		&record.Rule,
		&record.Stage,
		&record.Outcome,
		&record.Kill,
		&record.Death,
		&record.Special,
		&record.HasKillRecord,
		&record.Rating,
		&record.Uploaded,
		&record.QueuedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *BattleRepository) GetByID(ctx context.Context, id string) (*BattleRecord, error) {
	query := `SELECT ` + battleColumns + ` FROM battle_records WHERE id = $1`
	if r.db.dbType == "sqlite" {
		query = `SELECT ` + battleColumns + ` FROM battle_records WHERE id = ?`
	}

	record, err := scanBattle(r.db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get battle record: %w", err)
	}
	return record, nil
}

// Pending lists recordings not yet uploaded, oldest first so uploads happen
// in recording order.
func (r *BattleRepository) Pending(ctx context.Context) ([]*BattleRecord, error) {
	query := `SELECT ` + battleColumns + ` FROM battle_records
		WHERE uploaded = FALSE ORDER BY queued_at`
	if r.db.dbType == "sqlite" {
		query = `SELECT ` + battleColumns + ` FROM battle_records
			WHERE uploaded = 0 ORDER BY queued_at`
	}

	rows, err := r.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending recordings: %w", err)
	}
	defer rows.Close()

	var records []*BattleRecord
	for rows.Next() {
		record, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan battle record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (r *BattleRepository) MarkUploaded(ctx context.Context, id string) error {
	query := `UPDATE battle_records SET uploaded = TRUE WHERE id = $1`
	if r.db.dbType == "sqlite" {
		query = `UPDATE battle_records SET uploaded = 1 WHERE id = ?`
	}

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark record uploaded: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("battle record not found: %s", id)
	}
	return nil
}

// List returns the most recent recordings, uploaded or not.
func (r *BattleRepository) List(ctx context.Context, limit int) ([]*BattleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + battleColumns + ` FROM battle_records ORDER BY start_time DESC LIMIT $1`
	if r.db.dbType == "sqlite" {
		query = `SELECT ` + battleColumns + ` FROM battle_records ORDER BY start_time DESC LIMIT ?`
	}

	rows, err := r.db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list battle records: %w", err)
	}
	defer rows.Close()

	var records []*BattleRecord
	for rows.Next() {
		record, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan battle record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
