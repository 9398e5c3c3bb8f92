package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domscope/internal/mirror"
)

// ErrNotFound is returned when no snapshot has the requested id.
var ErrNotFound = errors.New("snapshot not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists document snapshots in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dom_snapshots (
    id          UUID PRIMARY KEY,
    session_id  UUID NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    captured_at TIMESTAMPTZ NOT NULL,
    node_count  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dom_snapshot_nodes (
    snapshot_id      UUID NOT NULL REFERENCES dom_snapshots (id) ON DELETE CASCADE,
    node_id          BIGINT NOT NULL,
    parent_id        BIGINT NOT NULL,
    depth            INTEGER NOT NULL,
    position         INTEGER NOT NULL,
    node_type        INTEGER NOT NULL,
    node_name        TEXT NOT NULL,
    local_name       TEXT NOT NULL,
    node_value       TEXT NOT NULL,
    attributes       JSONB NOT NULL,
    child_node_count INTEGER NOT NULL,
    materialized     BOOLEAN NOT NULL,
    PRIMARY KEY (snapshot_id, node_id)
);
`

const (
	insertSnapshotSQL = `
        INSERT INTO dom_snapshots (id, session_id, url, captured_at, node_count)
        VALUES ($1, $2, $3, $4, $5);
    `
	selectSnapshotSQL = `
        SELECT session_id, url, captured_at
        FROM dom_snapshots
        WHERE id = $1;
    `
	selectNodesSQL = `
        SELECT node_id, parent_id, node_type, node_name, local_name, node_value, attributes, child_node_count, materialized
        FROM dom_snapshot_nodes
        WHERE snapshot_id = $1
        ORDER BY depth ASC, position ASC;
    `
	listSnapshotsSQL = `
        SELECT id, session_id, url, captured_at, node_count
        FROM dom_snapshots
        ORDER BY captured_at DESC
        LIMIT $1;
    `
)

var nodeColumns = []string{
	"snapshot_id", "node_id", "parent_id", "depth", "position",
	"node_type", "node_name", "local_name", "node_value",
	"attributes", "child_node_count", "materialized",
}

// Summary is one row of ListSnapshots.
type Summary struct {
	ID         uuid.UUID
	Session    uuid.UUID
	URL        string
	CapturedAt time.Time
	NodeCount  int
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the snapshot tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveSnapshot writes the snapshot header and all of its nodes in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap *mirror.Snapshot) error {
	if snap.Root == nil {
		return fmt.Errorf("snapshot %s has no root", snap.ID)
	}

	rows, err := nodeRows(snap)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertSnapshotSQL,
		snap.ID, snap.Session, snap.URL, snap.CapturedAt.UTC(), len(rows),
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"dom_snapshot_nodes"}, nodeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy snapshot nodes: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied node count: expected %d, got %d", len(rows), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Snapshot persisted", zap.String("snapshot_id", snap.ID.String()), zap.Int("nodes", len(rows)))
	return nil
}

// nodeRows flattens the tree in pre-order. The root's parent_id is 0.
func nodeRows(snap *mirror.Snapshot) ([][]interface{}, error) {
	var (
		rows    [][]interface{}
		walkErr error
	)
	snap.Root.Walk(func(n, parent *mirror.NodeSnapshot, depth, position int) {
		if walkErr != nil {
			return
		}
		attrs := n.Attributes
		if attrs == nil {
			attrs = []mirror.AttributeSnapshot{}
		}
		encoded, err := json.Marshal(attrs)
		if err != nil {
			walkErr = fmt.Errorf("failed to encode attributes of node %d: %w", n.ID, err)
			return
		}
		var parentID int64
		if parent != nil {
			parentID = int64(parent.ID)
		}
		rows = append(rows, []interface{}{
			snap.ID, int64(n.ID), parentID, depth, position,
			int(n.Type), n.Name, n.LocalName, n.Value,
			encoded, n.ChildNodeCount, n.Materialized(),
		})
	})
	return rows, walkErr
}

// LoadSnapshot reads a snapshot back and rebuilds its tree.
func (s *Store) LoadSnapshot(ctx context.Context, id uuid.UUID) (*mirror.Snapshot, error) {
	snap := &mirror.Snapshot{ID: id}

	rows, err := s.pool.Query(ctx, selectSnapshotSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	found := false
	for rows.Next() {
		if err := rows.Scan(&snap.Session, &snap.URL, &snap.CapturedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	root, err := s.loadNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	snap.Root = root
	return snap, nil
}

func (s *Store) loadNodes(ctx context.Context, id uuid.UUID) (*mirror.NodeSnapshot, error) {
	rows, err := s.pool.Query(ctx, selectNodesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot nodes: %w", err)
	}
	defer rows.Close()

	var root *mirror.NodeSnapshot
	byID := make(map[int64]*mirror.NodeSnapshot)
	for rows.Next() {
		var (
			nodeID, parentID int64
			nodeType         int
			childCount       int
			attrs            []byte
			materialized     bool
		)
		n := &mirror.NodeSnapshot{}
		if err := rows.Scan(&nodeID, &parentID, &nodeType, &n.Name, &n.LocalName, &n.Value, &attrs, &childCount, &materialized); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		n.ID = mirror.NodeID(nodeID)
		n.Type = mirror.NodeType(nodeType)
		n.ChildNodeCount = childCount
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &n.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode attributes of node %d: %w", nodeID, err)
			}
			if len(n.Attributes) == 0 {
				n.Attributes = nil
			}
		}
		if materialized {
			n.Children = []*mirror.NodeSnapshot{}
		}

		if root == nil {
			root = n
		} else {
			parent, ok := byID[parentID]
			if !ok {
				return nil, fmt.Errorf("node %d references unknown parent %d", nodeID, parentID)
			}
			parent.Children = append(parent.Children, n)
		}
		byID[nodeID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("snapshot %s has no nodes", id)
	}
	return root, nil
}

// ListSnapshots returns the most recent snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, listSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.Session, &sum.URL, &sum.CapturedAt, &sum.NodeCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
