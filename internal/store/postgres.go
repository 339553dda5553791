package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inboundfound/hubsync/internal/db"
	"github.com/inboundfound/hubsync/internal/domain"
)

// postgresStore implements GraphStore on Postgres. One batch is one
// transaction, so batch application stays all-or-nothing and retryable.
type postgresStore struct {
	conn *db.Connection
}

// NewPostgresStore creates a GraphStore backed by the given connection.
func NewPostgresStore(conn *db.Connection) GraphStore {
	return &postgresStore{conn: conn}
}

// NewPostgresReporter exposes the reporting reads of the same store.
func NewPostgresReporter(conn *db.Connection) Reporter {
	return &postgresStore{conn: conn}
}

func (s *postgresStore) ReadCurrentIndex(ctx context.Context, entityType string) (map[string]IndexEntry, error) {
	rows, err := s.conn.Pool.Query(ctx, `
		SELECT external_id, attributes, fingerprint, valid_from
		FROM nodes
		WHERE entity_type = $1 AND is_current AND NOT is_deleted`,
		entityType,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read current index for %s: %w", entityType, err))
	}
	defer rows.Close()

	index := make(map[string]IndexEntry)
	for rows.Next() {
		var (
			id             string
			attributesJSON []byte
			fingerprint    string
			validFrom      time.Time
		)
		if err := rows.Scan(&id, &attributesJSON, &fingerprint, &validFrom); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}

		var attributes map[string]any
		if err := json.Unmarshal(attributesJSON, &attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes for %s %s: %w", entityType, id, err)
		}

		index[id] = IndexEntry{
			Fingerprint: fingerprint,
			Node: domain.VersionedNode{
				EntityType:  entityType,
				ID:          id,
				Attributes:  attributes,
				Fingerprint: fingerprint,
				ValidFrom:   validFrom,
				IsCurrent:   true,
			},
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to read current index for %s: %w", entityType, err))
	}
	return index, nil
}

func (s *postgresStore) ReadEdgeSet(ctx context.Context, trackable bool) (map[domain.EdgeIdentity]domain.RelationshipEdge, error) {
	rows, err := s.conn.Pool.Query(ctx, `
		SELECT rel_type, from_type, from_key, to_type, to_key, attributes
		FROM edges
		WHERE trackable = $1`,
		trackable,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read edge set: %w", err))
	}
	defer rows.Close()

	edges := make(map[domain.EdgeIdentity]domain.RelationshipEdge)
	for rows.Next() {
		var (
			edge           domain.RelationshipEdge
			attributesJSON []byte
		)
		if err := rows.Scan(&edge.RelType, &edge.FromType, &edge.FromKey, &edge.ToType, &edge.ToKey, &attributesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		if err := json.Unmarshal(attributesJSON, &edge.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode edge attributes: %w", err)
		}
		edge.Trackable = trackable
		edges[edge.Identity()] = edge
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to read edge set: %w", err))
	}
	return edges, nil
}

func (s *postgresStore) ApplyBatch(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for i, op := range ops {
			if err := validateOp(op); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if err := applyOp(ctx, tx, op); err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func applyOp(ctx context.Context, tx pgx.Tx, op WriteOp) error {
	switch op.Kind {
	case OpUpsertNode, OpSoftDeleteNode:
		node := op.Node
		attributesJSON, err := json.Marshal(node.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO nodes (entity_type, external_id, attributes, fingerprint, valid_from, valid_to, is_current, is_deleted)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (entity_type, external_id) DO UPDATE SET
				attributes = EXCLUDED.attributes,
				fingerprint = EXCLUDED.fingerprint,
				valid_from = EXCLUDED.valid_from,
				valid_to = EXCLUDED.valid_to,
				is_current = EXCLUDED.is_current,
				is_deleted = EXCLUDED.is_deleted`,
			node.EntityType, node.ID, attributesJSON, node.Fingerprint,
			node.ValidFrom, node.ValidTo, node.IsCurrent, node.IsDeleted,
		)
		return err

	case OpInsertSnapshot:
		snapshot := op.Snapshot
		attributesJSON, err := json.Marshal(snapshot.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		// Keyed by (entity_type, external_id, valid_from); a verbatim retry
		// of the batch lands on the same row instead of appending twice.
		_, err = tx.Exec(ctx, `
			INSERT INTO node_history (entity_type, external_id, attributes, fingerprint, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (entity_type, external_id, valid_from) DO NOTHING`,
			snapshot.EntityType, snapshot.ID, attributesJSON, snapshot.Fingerprint,
			snapshot.ValidFrom, snapshot.ValidTo,
		)
		return err

	case OpUpsertEdge:
		edge := op.Edge
		attributesJSON, err := json.Marshal(edge.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO edges (rel_type, from_type, from_key, to_type, to_key, attributes, trackable)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (rel_type, from_type, from_key, to_type, to_key) DO UPDATE SET
				attributes = EXCLUDED.attributes,
				trackable = EXCLUDED.trackable`,
			edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey,
			attributesJSON, edge.Trackable,
		)
		return err

	case OpDeleteEdge:
		edge := op.Edge
		_, err := tx.Exec(ctx, `
			DELETE FROM edges
			WHERE rel_type = $1 AND from_type = $2 AND from_key = $3 AND to_type = $4 AND to_key = $5`,
			edge.RelType, edge.FromType, edge.FromKey, edge.ToType, edge.ToKey,
		)
		return err

	case OpInsertEvent:
		event := op.Event
		attributesJSON, err := json.Marshal(event.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal attributes: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO change_events (id, change_kind, rel_type, from_type, from_key, to_type, to_key, attributes, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (rel_type, from_type, from_key, to_type, to_key, change_kind, detected_at) DO NOTHING`,
			event.ID, event.ChangeKind, event.RelType, event.FromType, event.FromKey,
			event.ToType, event.ToKey, attributesJSON, event.DetectedAt,
		)
		return err

	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
}

func (s *postgresStore) NodeTotals(ctx context.Context) ([]NodeTotal, error) {
	rows, err := s.conn.Pool.Query(ctx, `
		SELECT n.entity_type,
		       COUNT(*) FILTER (WHERE NOT n.is_deleted)            AS live,
		       COUNT(*) FILTER (WHERE n.is_deleted)                AS deleted,
		       COALESCE((SELECT COUNT(*) FROM node_history h
		                 WHERE h.entity_type = n.entity_type), 0)  AS history
		FROM nodes n
		GROUP BY n.entity_type
		ORDER BY n.entity_type`,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read node totals: %w", err))
	}
	defer rows.Close()

	var totals []NodeTotal
	for rows.Next() {
		var total NodeTotal
		if err := rows.Scan(&total.EntityType, &total.Live, &total.Deleted, &total.History); err != nil {
			return nil, fmt.Errorf("failed to scan node totals: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

func (s *postgresStore) ChangeEventsSince(ctx context.Context, since time.Time) ([]domain.ChangeEvent, error) {
	rows, err := s.conn.Pool.Query(ctx, `
		SELECT id, change_kind, rel_type, from_type, from_key, to_type, to_key, attributes, detected_at
		FROM change_events
		WHERE detected_at >= $1
		ORDER BY detected_at`,
		since,
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read change events: %w", err))
	}
	defer rows.Close()

	var events []domain.ChangeEvent
	for rows.Next() {
		var (
			event          domain.ChangeEvent
			attributesJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.ChangeKind, &event.RelType, &event.FromType,
			&event.FromKey, &event.ToType, &event.ToKey, &attributesJSON, &event.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		if err := json.Unmarshal(attributesJSON, &event.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode event attributes: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// classify wraps connection-level and serialization failures with ErrTransient
// so the engine retries them; everything else surfaces as-is.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "40") || strings.HasPrefix(code, "57") {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}
