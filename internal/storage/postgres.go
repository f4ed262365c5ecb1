package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/sendplan/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageFromDB(db, logger)

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

// NewPostgresStorageFromDB wraps an open handle without running migrations.
func NewPostgresStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetCreatorContext(ctx context.Context, creatorID string) (models.CreatorContext, error) {
	query := `
		SELECT id, page_name, page_type, fan_count, timezone, content_multiplier, persona_tone, persona_keywords
		FROM creators
		WHERE id = $1`

	var c models.CreatorContext
	var keywords pq.StringArray
	err := s.db.QueryRowContext(ctx, query, creatorID).Scan(
		&c.ID,
		&c.PageName,
		&c.PageType,
		&c.FanCount,
		&c.Timezone,
		&c.ContentMultiplier,
		&c.Persona.Tone,
		&keywords,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreatorContext{}, fmt.Errorf("creator %s: %w", creatorID, ErrNotFound)
	}
	if err != nil {
		return models.CreatorContext{}, fmt.Errorf("error querying creator: %w", err)
	}
	c.Persona.Keywords = keywords
	return c, nil
}

func (s *PostgresStorage) GetPerformanceSnapshots(ctx context.Context, creatorID string, horizons []models.Horizon) ([]models.PerformanceSnapshot, error) {
	query := `
		SELECT DISTINCT ON (horizon) horizon, saturation, opportunity, revenue_trend, message_count, content_rankings
		FROM performance_snapshots
		WHERE creator_id = $1 AND horizon = ANY($2)
		ORDER BY horizon, computed_at DESC`

	names := make([]string, len(horizons))
	for i, h := range horizons {
		names[i] = string(h)
	}

	rows, err := s.db.QueryContext(ctx, query, creatorID, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("error querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.PerformanceSnapshot
	for rows.Next() {
		var snap models.PerformanceSnapshot
		var rankings []byte
		if err := rows.Scan(
			&snap.Horizon,
			&snap.Saturation,
			&snap.Opportunity,
			&snap.RevenueTrend,
			&snap.MessageCount,
			&rankings,
		); err != nil {
			return nil, fmt.Errorf("error scanning snapshot: %w", err)
		}
		if len(rankings) > 0 {
			if err := json.Unmarshal(rankings, &snap.ContentRankings); err != nil {
				return nil, fmt.Errorf("error decoding content rankings: %w", err)
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStorage) GetCaptionCandidates(ctx context.Context, sendType string, filter CaptionFilter) ([]models.CaptionCandidate, error) {
	query := `
		SELECT id, text, freshness, performance, content_type
		FROM captions
		WHERE creator_id = $1 AND send_type = $2 AND freshness >= $3 AND performance >= $4
		ORDER BY id
		LIMIT $5`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, filter.CreatorID, sendType, filter.MinFreshness, filter.MinPerformance, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying captions: %w", err)
	}
	defer rows.Close()

	var out []models.CaptionCandidate
	for rows.Next() {
		var c models.CaptionCandidate
		if err := rows.Scan(&c.ID, &c.Text, &c.Freshness, &c.Performance, &c.ContentType); err != nil {
			return nil, fmt.Errorf("error scanning caption: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetTimingHistory(ctx context.Context, creatorID string) (models.TimingHistory, error) {
	query := `SELECT peak_hours, day_multipliers FROM timing_history WHERE creator_id = $1`

	var hours pq.Int64Array
	var multipliers pq.Float64Array
	err := s.db.QueryRowContext(ctx, query, creatorID).Scan(&hours, &multipliers)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TimingHistory{}, nil
	}
	if err != nil {
		return models.TimingHistory{}, fmt.Errorf("error querying timing history: %w", err)
	}

	h := models.TimingHistory{DayMultipliers: multipliers}
	for _, v := range hours {
		h.PeakHours = append(h.PeakHours, int(v))
	}
	return h, nil
}

func (s *PostgresStorage) GetCaptionPoolSummary(ctx context.Context, creatorID string) (map[string]int, error) {
	query := `SELECT send_type, COUNT(*) FROM captions WHERE creator_id = $1 GROUP BY send_type`

	rows, err := s.db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("error querying caption pool: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var sendType string
		var n int
		if err := rows.Scan(&sendType, &n); err != nil {
			return nil, fmt.Errorf("error scanning caption pool: %w", err)
		}
		out[sendType] = n
	}
	return out, rows.Err()
}

func (s *PostgresStorage) GetVolumeElasticity(ctx context.Context, creatorID string) ([]models.ElasticitySignal, error) {
	query := `SELECT category, current_weekly, marginal_return FROM volume_elasticity WHERE creator_id = $1 ORDER BY category`

	rows, err := s.db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("error querying elasticity: %w", err)
	}
	defer rows.Close()

	out := []models.ElasticitySignal{}
	for rows.Next() {
		var sig models.ElasticitySignal
		if err := rows.Scan(&sig.Category, &sig.CurrentWeekly, &sig.MarginalReturn); err != nil {
			return nil, fmt.Errorf("error scanning elasticity: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Persist writes a schedule and its items in one transaction. An approved
// week is only replaced when opts.Overwrite is set.
func (s *PostgresStorage) Persist(ctx context.Context, creatorID string, weekStart time.Time, items []models.ScheduledItem, report models.ValidationReport, opts PersistOptions) (string, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("error encoding report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	// The unique (creator_id, week_start) key decides which writer creates
	// the row; a writer that loses the race updates it like any existing week.
	week := weekStart.Format(time.DateOnly)
	id := uuid.NewString()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (id, creator_id, week_start, status, score, report, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (creator_id, week_start) DO NOTHING`,
		id, creatorID, week, string(report.Status), report.Score, reportJSON, time.Now())
	if err != nil {
		return "", fmt.Errorf("error inserting schedule: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("error inserting schedule: %w", err)
	}

	if inserted == 0 {
		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT id, status FROM schedules WHERE creator_id = $1 AND week_start = $2 FOR UPDATE`,
			creatorID, week,
		).Scan(&id, &status)
		if err != nil {
			return "", fmt.Errorf("error querying schedule: %w", err)
		}
		if status == string(models.StatusApproved) && !opts.Overwrite {
			return "", fmt.Errorf("%s: %w", WeekKey(creatorID, weekStart), ErrAlreadyApproved)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE schedules SET status = $1, score = $2, report = $3, updated_at = $4 WHERE id = $5`,
			string(report.Status), report.Score, reportJSON, time.Now(), id); err != nil {
			return "", fmt.Errorf("error updating schedule: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_items WHERE schedule_id = $1`, id); err != nil {
			return "", fmt.Errorf("error clearing schedule items: %w", err)
		}
	}

	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return "", fmt.Errorf("error encoding item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scheduled_items (schedule_id, position, item_id, payload) VALUES ($1, $2, $3, $4)`,
			id, i, item.ID, payload); err != nil {
			return "", fmt.Errorf("error inserting schedule item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("error committing schedule: %w", err)
	}
	s.logger.Info("Schedule persisted",
		zap.String("creator_id", creatorID),
		zap.String("week_start", week),
		zap.String("schedule_id", id),
		zap.Int("items", len(items)))
	return id, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
