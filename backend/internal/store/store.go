// Package store persists generated graphs and ranks them by user feedback.
// Every (topic, concept_count) pair may hold many graph rows; ranking always
// operates within that group. Topics are case-folded to lowercase before any
// lookup or insert.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"termsai/backend/internal/model"
	apperrors "termsai/backend/pkg/errors"
	"termsai/backend/pkg/logger"
)

// Store handles all SQLite database operations
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.Get(),
	}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS knowledge_graphs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic TEXT NOT NULL,
			concept_count INTEGER NOT NULL,
			concepts TEXT NOT NULL,
			relationships TEXT NOT NULL,
			is_person INTEGER NOT NULL DEFAULT 0,
			likes INTEGER NOT NULL DEFAULT 0,
			dislikes INTEGER NOT NULL DEFAULT 0,
			score REAL NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_knowledge_graphs_topic
			ON knowledge_graphs (topic, concept_count);
		CREATE TABLE IF NOT EXISTS user_views (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			graph_id INTEGER NOT NULL,
			viewed_at DATETIME NOT NULL,
			UNIQUE (user_id, graph_id)
		);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a new graph row with an initial score of 0 and returns its id
func (s *Store) Save(ctx context.Context, topic string, conceptCount int, concepts model.Concepts, relationships []model.Relation, isPerson bool) (int64, error) {
	conceptsJSON, err := json.Marshal(concepts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal concepts: %w", err)
	}
	relationshipsJSON, err := json.Marshal(relationships)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal relationships: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_graphs (topic, concept_count, concepts, relationships, is_person, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, strings.ToLower(topic), conceptCount, string(conceptsJSON), string(relationshipsJSON), isPerson, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save graph: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted graph id: %w", err)
	}

	s.logger.Debug("graph saved",
		zap.Int64("graph_id", id),
		zap.String("topic", strings.ToLower(topic)),
		zap.Int("concept_count", conceptCount),
	)
	return id, nil
}

const graphColumns = `id, topic, concept_count, concepts, relationships, is_person, likes, dislikes, score, created_at`

func scanGraph(row interface{ Scan(...any) error }) (*model.Graph, error) {
	var g model.Graph
	var conceptsJSON, relationshipsJSON string
	err := row.Scan(&g.ID, &g.Topic, &g.ConceptCount, &conceptsJSON, &relationshipsJSON,
		&g.IsPerson, &g.Likes, &g.Dislikes, &g.Score, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conceptsJSON), &g.Concepts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal concepts: %w", err)
	}
	if err := json.Unmarshal([]byte(relationshipsJSON), &g.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
	}
	return &g, nil
}

// GetByID returns a single graph by id
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Graph, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+graphColumns+` FROM knowledge_graphs WHERE id = ?`, id)
	g, err := scanGraph(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewGraphNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load graph %d: %w", id, err)
	}
	return g, nil
}

// BestGraph returns the highest-scored graph for (topic, count), optionally
// excluding specific ids, plus the number of candidates that matched the
// filter. Ties break by insertion order.
func (s *Store) BestGraph(ctx context.Context, topic string, count int, excludeIDs []int64) (*model.Graph, int, error) {
	where := `topic = ? AND concept_count = ?`
	args := []any{strings.ToLower(topic), count}
	if len(excludeIDs) > 0 {
		where += ` AND id NOT IN (?` + strings.Repeat(",?", len(excludeIDs)-1) + `)`
		for _, id := range excludeIDs {
			args = append(args, id)
		}
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_graphs WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count graphs: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+graphColumns+` FROM knowledge_graphs WHERE `+where+
			` ORDER BY score DESC, id ASC LIMIT 1`, args...)
	g, err := scanGraph(row)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load best graph: %w", err)
	}
	return g, total, nil
}

// BestUnseen returns the highest-scored graph for (topic, count) that the
// user has not viewed, plus the count of remaining unseen candidates
func (s *Store) BestUnseen(ctx context.Context, topic string, count int, userID string) (*model.Graph, int, error) {
	where := `topic = ? AND concept_count = ?
		AND id NOT IN (SELECT graph_id FROM user_views WHERE user_id = ?)`
	args := []any{strings.ToLower(topic), count, userID}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM knowledge_graphs WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count unseen graphs: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+graphColumns+` FROM knowledge_graphs WHERE `+where+
			` ORDER BY score DESC, id ASC LIMIT 1`, args...)
	g, err := scanGraph(row)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load best unseen graph: %w", err)
	}
	return g, total, nil
}

// TopNUnseen returns up to n unseen graphs for (topic, count) in strict
// descending score order, ties broken by insertion order
func (s *Store) TopNUnseen(ctx context.Context, topic string, count int, userID string, n int) ([]*model.Graph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+graphColumns+` FROM knowledge_graphs
		WHERE topic = ? AND concept_count = ?
			AND id NOT IN (SELECT graph_id FROM user_views WHERE user_id = ?)
		ORDER BY score DESC, id ASC LIMIT ?`,
		strings.ToLower(topic), count, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list unseen graphs: %w", err)
	}
	defer rows.Close()

	var graphs []*model.Graph
	for rows.Next() {
		g, err := scanGraph(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graph row: %w", err)
		}
		graphs = append(graphs, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating graph rows: %w", err)
	}
	return graphs, nil
}

// RecordView marks a graph as seen by a user. Recording the same view twice
// is a no-op.
func (s *Store) RecordView(ctx context.Context, userID string, graphID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_views (user_id, graph_id, viewed_at)
		VALUES (?, ?, ?)
	`, userID, graphID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	return nil
}

// ViewedCount returns how many graphs for (topic, count) the user has viewed
func (s *Store) ViewedCount(ctx context.Context, topic string, count int, userID string) (int, error) {
	var viewed int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_views v
		JOIN knowledge_graphs g ON v.graph_id = g.id
		WHERE g.topic = ? AND g.concept_count = ? AND v.user_id = ?
	`, strings.ToLower(topic), count, userID).Scan(&viewed)
	if err != nil {
		return 0, fmt.Errorf("failed to count views: %w", err)
	}
	return viewed, nil
}

// ApplyFeedback increments the like or dislike counter, recomputes the score
// and bumps the timestamp. The score is the like count alone; dislikes are
// recorded but never subtracted.
func (s *Store) ApplyFeedback(ctx context.Context, graphID int64, liked bool) (*model.Graph, error) {
	column := "dislikes"
	if liked {
		column = "likes"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_graphs
		SET `+column+` = `+column+` + 1, score = likes + (CASE WHEN ? THEN 1 ELSE 0 END), created_at = ?
		WHERE id = ?
	`, liked, time.Now().UTC(), graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to apply feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback result: %w", err)
	}
	if affected == 0 {
		return nil, apperrors.NewGraphNotFound(graphID)
	}
	return s.GetByID(ctx, graphID)
}

// Default graph served before the first generation request
const (
	defaultTopic        = "artificial intelligence"
	defaultConceptCount = 12
)

// DefaultGraph returns the highest-scored graph for the default topic, or
// nil when none has been generated yet
func (s *Store) DefaultGraph(ctx context.Context) (*model.Graph, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+graphColumns+` FROM knowledge_graphs
		WHERE topic = ? AND concept_count = ?
		ORDER BY score DESC, id ASC LIMIT 1`,
		defaultTopic, defaultConceptCount)
	g, err := scanGraph(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default graph: %w", err)
	}
	return g, nil
}
