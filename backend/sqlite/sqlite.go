// Package sqlite provides a SQLite-backed attribute store for local, durable use.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jacentio/attrmap/backend"
)

//go:embed schema.sql
var schemaSQL string

// DefaultPageSize is the number of items or container names returned per page.
const DefaultPageSize = 100

// Client is a backend.Client over a SQLite database.
type Client struct {
	db       *sql.DB
	pageSize int
}

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement, so dropping a container drops its attributes
func Open(path string) (*Client, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Client{db: db, pageSize: DefaultPageSize}, nil
}

// SetPageSize sets the number of results per page.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
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
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// DropContainer removes a container and all of its attributes.
func (c *Client) DropContainer(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM containers WHERE name = ?`, name)
	return err
}

// CreateContainer creates a container if it doesn't exist.
func (c *Client) CreateContainer(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO containers (name) VALUES (?)`, name)
	if err != nil {
		return fmt.Errorf("create container %s: %w", name, err)
	}
	return nil
}

// ListContainers returns container names in lexical order, one page at a time.
func (c *Client) ListContainers(ctx context.Context, token string) ([]string, string, error) {
	offset, err := parseToken(token)
	if err != nil {
		return nil, "", err
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM containers ORDER BY name LIMIT ? OFFSET ?`, c.pageSize+1, offset)
	if err != nil {
		return nil, "", fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, "", err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	names, next := trimPage(names, offset, c.pageSize)
	return names, next, nil
}

// Put writes one item, checking cond inside the same transaction.
func (c *Client) Put(ctx context.Context, container string, item backend.Item, cond *backend.Condition) error {
	return c.withTx(ctx, container, func(tx *sql.Tx) error {
		if cond != nil {
			ok, err := holds(ctx, tx, container, item.Name, cond)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s.%s", backend.ErrConditionFailed, item.Name, cond.Name)
			}
		}
		return put(ctx, tx, container, item)
	})
}

// BatchPut writes several items in one transaction.
func (c *Client) BatchPut(ctx context.Context, container string, items []backend.Item) error {
	return c.withTx(ctx, container, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := put(ctx, tx, container, item); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the attributes of one item ordered by name and insertion.
func (c *Client) Get(ctx context.Context, container, itemName string, names []string, _ bool) ([]backend.Attribute, error) {
	if err := c.exists(ctx, c.db, container); err != nil {
		return nil, err
	}
	query := `SELECT name, value FROM attributes WHERE container = ? AND item = ?`
	args := []any{container, itemName}
	if len(names) > 0 {
		query += ` AND name IN (` + placeholders(len(names)) + `)`
		for _, n := range names {
			args = append(args, n)
		}
	}
	query += ` ORDER BY name, id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", container, itemName, err)
	}
	defer rows.Close()

	var attrs []backend.Attribute
	for rows.Next() {
		var a backend.Attribute
		if err := rows.Scan(&a.Name, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// Delete removes attributes or the whole item.
func (c *Client) Delete(ctx context.Context, container, itemName string, attrs []backend.Attribute) error {
	return c.withTx(ctx, container, func(tx *sql.Tx) error {
		return remove(ctx, tx, container, itemName, attrs)
	})
}

// BatchDelete removes attributes of several items in one transaction.
func (c *Client) BatchDelete(ctx context.Context, container string, items []backend.Item) error {
	return c.withTx(ctx, container, func(tx *sql.Tx) error {
		for _, item := range items {
			if err := remove(ctx, tx, container, item.Name, item.Attributes); err != nil {
				return err
			}
		}
		return nil
	})
}

// Query translates a select expression to SQL and returns one page of items in item name
// order. Count queries count one page at a time.
func (c *Client) Query(ctx context.Context, container, expression, token string, _ bool) (*backend.Page, error) {
	sel, err := backend.ParseSelect(expression)
	if err != nil {
		return nil, err
	}
	if container == "" {
		container = sel.Container
	}
	if err := c.exists(ctx, c.db, container); err != nil {
		return nil, err
	}
	offset, err := parseToken(token)
	if err != nil {
		return nil, err
	}
	size := c.pageSize
	if sel.Limit > 0 {
		size = sel.Limit
	}

	where, args := whereClause(container, sel.Where)
	query := `SELECT DISTINCT item FROM attributes WHERE ` + where + ` ORDER BY item LIMIT ? OFFSET ?`
	args = append(args, size+1, offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", container, err)
	}
	var itemNames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		itemNames = append(itemNames, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	itemNames, next := trimPage(itemNames, offset, size)

	if sel.Projection == backend.ProjectCount {
		return &backend.Page{
			Items: []backend.Item{{
				Name:       "Domain",
				Attributes: []backend.Attribute{{Name: backend.CountAttribute, Value: strconv.Itoa(len(itemNames))}},
			}},
			NextToken: next,
		}, nil
	}

	items, err := c.load(ctx, container, itemNames)
	if err != nil {
		return nil, err
	}
	page := &backend.Page{NextToken: next}
	for _, item := range items {
		page.Items = append(page.Items, sel.Project(item))
	}
	return page, nil
}

func (c *Client) load(ctx context.Context, container string, itemNames []string) ([]backend.Item, error) {
	if len(itemNames) == 0 {
		return nil, nil
	}
	args := []any{container}
	for _, n := range itemNames {
		args = append(args, n)
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT item, name, value FROM attributes WHERE container = ? AND item IN (`+placeholders(len(itemNames))+`)
		 ORDER BY item, name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", container, err)
	}
	defer rows.Close()

	var items []backend.Item
	for rows.Next() {
		var (
			itemName string
			a        backend.Attribute
		)
		if err := rows.Scan(&itemName, &a.Name, &a.Value); err != nil {
			return nil, err
		}
		if len(items) == 0 || items[len(items)-1].Name != itemName {
			items = append(items, backend.Item{Name: itemName})
		}
		last := &items[len(items)-1]
		last.Attributes = append(last.Attributes, a)
	}
	return items, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Client) exists(ctx context.Context, q queryer, container string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM containers WHERE name = ?`, container).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", backend.ErrContainerNotFound, container)
	}
	return err
}

func (c *Client) withTx(ctx context.Context, container string, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := c.exists(ctx, tx, container); err != nil {
		tx.Rollback()
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func holds(ctx context.Context, tx *sql.Tx, container, itemName string, cond *backend.Condition) (bool, error) {
	query := `SELECT COUNT(*) FROM attributes WHERE container = ? AND item = ? AND name = ?`
	args := []any{container, itemName, cond.Name}
	if cond.Exists {
		query += ` AND value = ?`
		args = append(args, cond.Value)
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	if cond.Exists {
		return n > 0, nil
	}
	return n == 0, nil
}

func put(ctx context.Context, tx *sql.Tx, container string, item backend.Item) error {
	replaced := make(map[string]bool)
	for _, a := range item.Attributes {
		if a.Replace && !replaced[a.Name] {
			replaced[a.Name] = true
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM attributes WHERE container = ? AND item = ? AND name = ?`,
				container, item.Name, a.Name); err != nil {
				return fmt.Errorf("replace %s.%s: %w", item.Name, a.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO attributes (container, item, name, value) VALUES (?, ?, ?, ?)`,
			container, item.Name, a.Name, a.Value); err != nil {
			return fmt.Errorf("put %s.%s: %w", item.Name, a.Name, err)
		}
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, container, itemName string, attrs []backend.Attribute) error {
	if len(attrs) == 0 {
		_, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE container = ? AND item = ?`, container, itemName)
		return err
	}
	for _, a := range attrs {
		query := `DELETE FROM attributes WHERE container = ? AND item = ? AND name = ?`
		args := []any{container, itemName, a.Name}
		if a.Value != "" {
			query += ` AND value = ?`
			args = append(args, a.Value)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete %s.%s: %w", itemName, a.Name, err)
		}
	}
	return nil
}

// whereClause renders predicates as conditions on the item column.
func whereClause(container string, preds []backend.Predicate) (string, []any) {
	clauses := []string{"container = ?"}
	args := []any{container}
	for _, p := range preds {
		if p.ItemName {
			switch p.Op {
			case backend.Equal:
				clauses = append(clauses, "item = ?")
				args = append(args, p.Value)
			case backend.NotEqual:
				clauses = append(clauses, "item <> ?")
				args = append(args, p.Value)
			case backend.IsNull:
				clauses = append(clauses, "0")
			}
			continue
		}
		sub := "SELECT item FROM attributes WHERE container = ? AND name = ?"
		switch p.Op {
		case backend.Equal:
			clauses = append(clauses, "item IN ("+sub+" AND value = ?)")
			args = append(args, container, p.Name, p.Value)
		case backend.NotEqual:
			clauses = append(clauses, "item IN ("+sub+" AND value <> ?)")
			args = append(args, container, p.Name, p.Value)
		case backend.IsNull:
			clauses = append(clauses, "item NOT IN ("+sub+")")
			args = append(args, container, p.Name)
		case backend.IsNotNull:
			clauses = append(clauses, "item IN ("+sub+")")
			args = append(args, container, p.Name)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func parseToken(token string) (int, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", backend.ErrInvalidToken, token)
	}
	return n, nil
}

// trimPage drops the look-ahead row fetched to detect a following page.
func trimPage[T any](rows []T, offset, size int) ([]T, string) {
	if len(rows) <= size {
		return rows, ""
	}
	return rows[:size], strconv.Itoa(offset + size)
}
