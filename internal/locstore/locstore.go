package locstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"

	"raksha.dev/sosclient/internal/geo"
)

// slotKey is the fixed storage key of the single persisted fix.
const slotKey = "last_known_location"

const schema = `
CREATE TABLE IF NOT EXISTS slot (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

// Store persists the last known fix across process restarts. One slot,
// last-write-wins; corrupt or missing data reads as "no cached fix".
type Store struct {
	db  *sql.DB
	log log.Logger
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("locstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("locstore: schema: %w", err)
	}
	s := &Store{db: db}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "locstore").Value()
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the cached fix. Any failure is treated as an empty cache,
// never an error to the caller.
func (s *Store) Load() (geo.Fix, bool) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM slot WHERE key = ?`, slotKey).Scan(&raw)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Warn().Err(err).Msg("cache read failed, treating as empty")
		}
		return geo.Fix{}, false
	}
	var fix geo.Fix
	if err := json.Unmarshal([]byte(raw), &fix); err != nil {
		s.log.Warn().Err(err).Msg("corrupt cached fix, treating as empty")
		return geo.Fix{}, false
	}
	return fix, true
}

// Save overwrites the slot with the given fix.
func (s *Store) Save(fix geo.Fix) {
	raw, err := json.Marshal(fix)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal fix")
		return
	}
	_, err = s.db.Exec(`INSERT INTO slot (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, slotKey, string(raw))
	if err != nil {
		s.log.Warn().Err(err).Msg("cache write failed")
	}
}
