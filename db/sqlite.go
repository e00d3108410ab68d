package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cyclescreen/assessment"
	"cyclescreen/policy"
)

var database *sql.DB

var (
	ErrNotInitialized = errors.New("database not initialized")
	ErrNotFound       = errors.New("assessment not found")
)

// InitDB initializes the SQLite database
func InitDB(path string) error {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	// one connection keeps ":memory:" databases shared and serializes writes
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS assessments (
        id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        variant TEXT NOT NULL,
        category TEXT NOT NULL,
        message TEXT NOT NULL,
        language TEXT NOT NULL,
        summary TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);
    CREATE TABLE IF NOT EXISTS assessment_results (
        assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
        position INTEGER NOT NULL,
        condition_key TEXT NOT NULL,
        condition_name TEXT NOT NULL,
        label INTEGER NOT NULL,
        probability REAL NOT NULL,
        PRIMARY KEY (assessment_id, position)
    );
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// SaveAssessment stores an assessment and its per-condition results in one
// transaction. Answers are not part of an Assessment and are never stored.
func SaveAssessment(ctx context.Context, a *assessment.Assessment) error {
	if database == nil {
		return ErrNotInitialized
	}
	if a == nil || a.ID == "" {
		return errors.New("assessment id required")
	}
	summary, err := json.Marshal(a.Summary)
	if err != nil {
		return err
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO assessments (id, created_at, variant, category, message, language, summary)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CreatedAt.UTC(), string(a.Variant), string(a.Category), a.Message, a.Language, string(summary))
	if err != nil {
		tx.Rollback()
		return err
	}

	for i, r := range a.Results {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO assessment_results (assessment_id, position, condition_key, condition_name, label, probability)
            VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, i, r.Key, r.Name, r.Label, r.Probability)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetAssessment loads one assessment by id
func GetAssessment(ctx context.Context, id string) (*assessment.Assessment, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	row := database.QueryRowContext(ctx, `
        SELECT id, created_at, variant, category, message, language, summary
        FROM assessments
        WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Results, err = loadResults(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// QueryAssessments returns the most recent assessments, newest first
func QueryAssessments(ctx context.Context, limit int) ([]*assessment.Assessment, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	rows, err := database.QueryContext(ctx, `
        SELECT id, created_at, variant, category, message, language, summary
        FROM assessments
        ORDER BY created_at DESC, id
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	list := make([]*assessment.Assessment, 0)
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, a)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, a := range list {
		if a.Results, err = loadResults(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

type Stats struct {
	Total      int                     `json:"total"`
	Categories map[policy.Category]int `json:"categories"`
	Since      *time.Time              `json:"since,omitempty"`
}

// CountByCategory aggregates the stored history
func CountByCategory(ctx context.Context) (Stats, error) {
	stats := Stats{Categories: make(map[policy.Category]int)}
	if database == nil {
		return stats, ErrNotInitialized
	}
	rows, err := database.QueryContext(ctx, `
        SELECT category, COUNT(*)
        FROM assessments
        GROUP BY category`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return stats, err
		}
		stats.Categories[policy.Category(category)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if stats.Total > 0 {
		var since time.Time
		err := database.QueryRowContext(ctx, `SELECT created_at FROM assessments ORDER BY created_at LIMIT 1`).Scan(&since)
		if err != nil {
			return stats, err
		}
		since = since.UTC()
		stats.Since = &since
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAssessment(s scanner) (*assessment.Assessment, error) {
	var a assessment.Assessment
	var variant, category, summary string
	if err := s.Scan(&a.ID, &a.CreatedAt, &variant, &category, &a.Message, &a.Language, &summary); err != nil {
		return nil, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Variant = policy.Variant(variant)
	a.Category = policy.Category(category)
	if err := json.Unmarshal([]byte(summary), &a.Summary); err != nil {
		return nil, fmt.Errorf("assessment %s: bad summary: %w", a.ID, err)
	}
	return &a, nil
}

func loadResults(ctx context.Context, id string) ([]assessment.ConditionResult, error) {
	rows, err := database.QueryContext(ctx, `
        SELECT condition_key, condition_name, label, probability
        FROM assessment_results
        WHERE assessment_id = ?
        ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]assessment.ConditionResult, 0, 2)
	for rows.Next() {
		var r assessment.ConditionResult
		if err := rows.Scan(&r.Key, &r.Name, &r.Label, &r.Probability); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
