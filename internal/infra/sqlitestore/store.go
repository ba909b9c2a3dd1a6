// Package sqlitestore is the single-file receipt ledger used by the CLI and by
// the server when no Postgres DSN is configured.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"certnode/internal/domain"
	"certnode/internal/graph"
	cryptoinfra "certnode/internal/infra/crypto"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - receipts and relationships
const currentSchemaVersion = 1

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ graph.Journal = (*Store)(nil)
	_ graph.Source  = (*Store)(nil)
)

// Open creates or opens a ledger at path. Pragmas and schema are applied on
// every open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AppendReceipt(ctx context.Context, receipt domain.Receipt, edges []domain.Relationship) error {
	envelope, err := json.Marshal(receipt.Envelope)
	if err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append receipt: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts
		(id, domain, kid, content_hash, issued_at, envelope_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		receipt.ID,
		string(receipt.Domain),
		receipt.KID,
		receipt.ContentHash,
		domain.FormatTimestamp(receipt.Timestamp),
		string(envelope),
		domain.FormatTimestamp(s.now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateReceipt, receipt.ID)
		}
		return fmt.Errorf("append receipt: %w", err)
	}
	for _, edge := range edges {
		if err := insertRelationship(ctx, tx, edge); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AppendRelationship(ctx context.Context, rel domain.Relationship) error {
	return insertRelationship(ctx, s.db, rel)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRelationship(ctx context.Context, db execer, rel domain.Relationship) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO relationships
		(id, parent_id, child_id, relation_type, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rel.ID,
		rel.ParentReceiptID,
		rel.ChildReceiptID,
		string(rel.RelationType),
		rel.Description,
		rel.CreatedBy,
		domain.FormatTimestamp(rel.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s -[%s]-> %s", domain.ErrDuplicateRelationship, rel.ParentReceiptID, rel.RelationType, rel.ChildReceiptID)
		}
		return fmt.Errorf("append relationship: %w", err)
	}
	return nil
}

// LoadReceipts returns receipts in insertion order.
func (s *Store) LoadReceipts(ctx context.Context) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, envelope_json FROM receipts ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("load receipts: %w", err)
		}
		receipt, err := decodeReceipt(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, receipt)
	}
	return out, rows.Err()
}

// LoadRelationships returns edges in insertion order.
func (s *Store) LoadRelationships(ctx context.Context) ([]domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, child_id, relation_type, description, created_by, created_at
		FROM relationships ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()

	var out []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		var relation, createdAt string
		if err := rows.Scan(&rel.ID, &rel.ParentReceiptID, &rel.ChildReceiptID, &relation, &rel.Description, &rel.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("load relationships: %w", err)
		}
		rel.RelationType = domain.RelationType(relation)
		if rel.CreatedAt, err = domain.ParseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("relationship %s created_at: %w", rel.ID, err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// Envelope returns the stored envelope for one receipt.
func (s *Store) Envelope(ctx context.Context, id string) (domain.Envelope, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT envelope_json FROM receipts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Envelope{}, fmt.Errorf("%w: receipt %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Envelope{}, err
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("receipt %s: %w", id, err)
	}
	return env, nil
}

func decodeReceipt(id, raw string) (domain.Receipt, error) {
	var env domain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return domain.Receipt{}, fmt.Errorf("receipt %s: %w", id, err)
	}
	receipt, err := cryptoinfra.ReceiptFromEnvelope(env)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("receipt %s: %w", id, err)
	}
	if receipt.ID != id {
		return domain.Receipt{}, fmt.Errorf("%w: stored id %s does not match envelope", domain.ErrInvalidEnvelope, id)
	}
	return receipt, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
