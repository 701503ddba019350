package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"spiegel/internal/domain"
)

//go:embed schema.sql
var schema string

// DefaultHotkey is seeded into settings on first open.
const (
	SettingHotkey = "global_hotkey"
	SettingAPIKey = "llm_api_key"
	SettingModel  = "llm_model"

	DefaultHotkey = "CommandOrControl+Shift+S"
)

// Store handles database operations. All mutations are serialized
// through a single writer lock; reads run concurrently against
// whatever state last committed.
type Store struct {
	db *sql.DB
	mu sync.Mutex // guards the write path
}

// New creates a new Store with the given database path and seeds
// default settings.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedDefaults(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) seedDefaults() error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)",
		SettingHotkey, DefaultHotkey,
	)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// CreateItem persists a new clip and returns it with id and creation
// time filled in. An id already present on the item is kept (never
// overwritten); image payloads go to the blobs table.
func (s *Store) CreateItem(item domain.Item) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.Tags = domain.NormalizeTags(item.Tags)

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return domain.Item{}, fmt.Errorf("marshal tags: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return domain.Item{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO clips (id, kind, plain, width, height, category, summary, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Content.Kind), item.Content.Plain,
		item.Content.Width, item.Content.Height,
		item.Category, item.Summary, string(tagsJSON), item.CreatedAt,
	)
	if err != nil {
		return domain.Item{}, fmt.Errorf("insert clip: %w", err)
	}

	if item.Content.Kind == domain.KindImage {
		if _, err := tx.Exec(
			"INSERT INTO blobs (item_id, data) VALUES (?, ?)",
			item.ID, item.Content.Data,
		); err != nil {
			return domain.Item{}, fmt.Errorf("insert blob: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Item{}, fmt.Errorf("commit: %w", err)
	}
	return item, nil
}

// UpdateEnrichment applies derived fields to an existing item. It is
// a no-op (not an error) when the item was deleted in the meantime,
// and never touches content or creation time.
func (s *Store) UpdateEnrichment(id, category string, tags []string, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tagsJSON, err := json.Marshal(domain.NormalizeTags(tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE clips SET category = ?, tags = ?, summary = ? WHERE id = ?",
		category, string(tagsJSON), summary, id,
	)
	if err != nil {
		return fmt.Errorf("update enrichment: %w", err)
	}
	return nil
}

// DeleteItem removes an item and its blob. Deleting an absent id is
// a no-op.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM blobs WHERE item_id = ?", id); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM clips WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete clip: %w", err)
	}
	return nil
}

const itemColumns = `c.id, c.kind, c.plain, c.width, c.height,
	c.category, c.summary, c.tags, c.created_at, b.data`

// ListItems returns a full snapshot of all items, newest first.
func (s *Store) ListItems() ([]domain.Item, error) {
	rows, err := s.db.Query(`
		SELECT ` + itemColumns + `
		FROM clips c LEFT JOIN blobs b ON b.item_id = c.id
		ORDER BY c.created_at DESC, c.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetItem retrieves one item by id.
func (s *Store) GetItem(id string) (domain.Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM clips c LEFT JOIN blobs b ON b.item_id = c.id
		WHERE c.id = ?
	`, id)
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return domain.Item{}, err
	}
	if len(items) == 0 {
		return domain.Item{}, sql.ErrNoRows
	}
	return items[0], nil
}

// SearchItems performs a simple text search over content, category
// and summary, newest first.
func (s *Store) SearchItems(query string) ([]domain.Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM clips c LEFT JOIN blobs b ON b.item_id = c.id
		WHERE c.plain LIKE ? OR c.category LIKE ? OR c.summary LIKE ?
		ORDER BY c.created_at DESC, c.id DESC
	`, "%"+query+"%", "%"+query+"%", "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		var (
			it       domain.Item
			kind     string
			plain    string
			w, h     int
			tagsJSON string
			blob     []byte
		)
		if err := rows.Scan(
			&it.ID, &kind, &plain, &w, &h,
			&it.Category, &it.Summary, &tagsJSON, &it.CreatedAt, &blob,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}

		switch domain.Kind(kind) {
		case domain.KindImage:
			it.Content = domain.Image(blob, w, h)
		default:
			it.Content = domain.Text(plain)
		}

		if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// GetSetting returns the value for key and whether it exists.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting: %w", err)
	}
	return value, true, nil
}

// SetSetting creates or overwrites a setting.
func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// AllSettings returns every stored key/value pair.
func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}
