package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath indicates a path with empty or reserved segments.
var ErrInvalidPath = errors.New("invalid path")

// Get returns the value at path, rebuilding maps from descendant leaves.
// It returns nil when nothing is stored at or below path.
func (s *Store) Get(ctx context.Context, path string) (any, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if path == "" {
		rows, err = s.QueryContext(ctx, `SELECT path, value FROM nodes`)
	} else {
		prefix := path + "/"
		rows, err = s.QueryContext(ctx, `
			SELECT path, value FROM nodes
			WHERE path = ? OR substr(path, 1, length(?)) = ?
		`, path, prefix, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }()

	var tree map[string]any
	for rows.Next() {
		var p, raw string
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decoding node %s: %w", p, err)
		}

		if p == path {
			return v, nil
		}

		rel := p
		if path != "" {
			rel = strings.TrimPrefix(p, path+"/")
		}
		if tree == nil {
			tree = make(map[string]any)
		}
		insert(tree, strings.Split(rel, "/"), v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}

	if tree == nil {
		return nil, nil
	}
	return tree, nil
}

// Set replaces everything at path with value. A nil value or empty map
// deletes the path.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: cannot set root", ErrInvalidPath)
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replace(ctx, tx, path, value); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// Update merges fields into the map at path, leaving other children intact.
func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range fields {
		if !validSegment(k) {
			return fmt.Errorf("%w: field %q", ErrInvalidPath, k)
		}
		child := k
		if path != "" {
			child = path + "/" + k
		}
		if err := replace(ctx, tx, child, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func replace(ctx context.Context, tx *sql.Tx, path string, value any) error {
	normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", path, err)
	}

	leaves := make(map[string]string)
	if err := flatten(path, normalized, leaves); err != nil {
		return err
	}

	prefix := path + "/"
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM nodes WHERE path = ? OR substr(path, 1, length(?)) = ?
	`, path, prefix, prefix); err != nil {
		return fmt.Errorf("clearing %s: %w", path, err)
	}

	// A scalar stored at an ancestor would shadow the new children.
	segs := strings.Split(path, "/")
	for i := 1; i < len(segs); i++ {
		ancestor := strings.Join(segs[:i], "/")
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE path = ?`, ancestor); err != nil {
			return fmt.Errorf("clearing ancestor %s: %w", ancestor, err)
		}
	}

	for p, raw := range leaves {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (path, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		`, p, raw); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}
	return nil
}

// normalize round-trips value through JSON so structs and typed maps become
// plain map[string]any trees.
func normalize(value any) (any, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func flatten(path string, value any, out map[string]string) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range v {
			if !validSegment(k) {
				return fmt.Errorf("%w: key %q under %s", ErrInvalidPath, k, path)
			}
			if err := flatten(path+"/"+k, child, out); err != nil {
				return err
			}
		}
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", path, err)
		}
		out[path] = string(b)
		return nil
	}
}

func insert(tree map[string]any, segs []string, v any) {
	cur := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", nil
	}
	for _, seg := range strings.Split(path, "/") {
		if !validSegment(seg) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return path, nil
}

func validSegment(seg string) bool {
	return seg != "" && !strings.ContainsAny(seg, "/.#$[]")
}
