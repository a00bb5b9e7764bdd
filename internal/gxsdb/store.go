// Package gxsdb is the surface the core consumes from the encrypted
// SQLite layer holding GXS groups and messages. The page-cipher itself is
// supplied by the SQLite build; this package passes the PGP-decrypted
// passphrase through as the key and issues the documented queries.
package gxsdb

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// schemaRelease is the newest on-disk release this build can open.
const schemaRelease = 1

// ErrFutureRelease is returned at open time when the database was written
// by a newer release.
var ErrFutureRelease = errors.New("gxsdb: database release is newer than this build supports")

// GroupRow is one row of the GROUPS table.
type GroupRow struct {
	GrpID     string
	TimeStamp int64
	GrpName   string
	NxsData   []byte
	KeySet    []byte
	Meta      []byte
}

// MessageRow is one row of the MESSAGES table.
type MessageRow struct {
	MsgID     string
	GrpID     string
	TimeStamp int64
	NxsData   []byte
	Meta      []byte
}

// Store wraps one open GXS database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path, keyed with the
// supplied passphrase, and refuses databases written by a future release.
// Open failure is fatal at startup; per-query failures afterwards are
// logged and skipped by callers.
func Open(path, passphrase string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_key=%s", path, url.QueryEscape(passphrase))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("gxsdb: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS DATABASE_RELEASE (id INTEGER PRIMARY KEY, release INTEGER)`,
		`CREATE TABLE IF NOT EXISTS GROUPS (
			grpId TEXT PRIMARY KEY,
			timeStamp INTEGER,
			grpName TEXT,
			nxsData BLOB,
			nxsDataLen INTEGER,
			keySet BLOB,
			meta BLOB)`,
		`CREATE TABLE IF NOT EXISTS MESSAGES (
			msgId TEXT PRIMARY KEY,
			grpId TEXT,
			timeStamp INTEGER,
			nxsData BLOB,
			meta BLOB)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("gxsdb: init schema: %w", err)
		}
	}

	var release int
	err := s.db.QueryRow(`SELECT release FROM DATABASE_RELEASE WHERE id = 1`).Scan(&release)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO DATABASE_RELEASE (id, release) VALUES (1, ?)`, schemaRelease); err != nil {
			return fmt.Errorf("gxsdb: stamp release: %w", err)
		}
	case err != nil:
		return fmt.Errorf("gxsdb: read release: %w", err)
	case release > schemaRelease:
		return fmt.Errorf("%w: found %d, support %d", ErrFutureRelease, release, schemaRelease)
	}
	return nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Groups returns every stored group row.
func (s *Store) Groups() ([]GroupRow, error) {
	rows, err := s.db.Query(`SELECT grpId, timeStamp, grpName, nxsData, keySet, meta FROM GROUPS`)
	if err != nil {
		return nil, fmt.Errorf("gxsdb: query groups: %w", err)
	}
	defer rows.Close()
	var out []GroupRow
	for rows.Next() {
		var g GroupRow
		if err := rows.Scan(&g.GrpID, &g.TimeStamp, &g.GrpName, &g.NxsData, &g.KeySet, &g.Meta); err != nil {
			logrus.Warnf("gxsdb: bad group row skipped: %v", err)
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GroupsSince returns groups updated at or after ts, the filter a
// group-list-request carries.
func (s *Store) GroupsSince(ts int64) ([]GroupRow, error) {
	rows, err := s.db.Query(`SELECT grpId, timeStamp, grpName, nxsData, keySet, meta FROM GROUPS WHERE timeStamp >= ?`, ts)
	if err != nil {
		return nil, fmt.Errorf("gxsdb: query groups since %d: %w", ts, err)
	}
	defer rows.Close()
	var out []GroupRow
	for rows.Next() {
		var g GroupRow
		if err := rows.Scan(&g.GrpID, &g.TimeStamp, &g.GrpName, &g.NxsData, &g.KeySet, &g.Meta); err != nil {
			logrus.Warnf("gxsdb: bad group row skipped: %v", err)
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpsertGroup inserts or replaces one group row.
func (s *Store) UpsertGroup(g GroupRow) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO GROUPS (grpId, timeStamp, grpName, nxsData, nxsDataLen, keySet, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.GrpID, g.TimeStamp, g.GrpName, g.NxsData, len(g.NxsData), g.KeySet, g.Meta,
	)
	if err != nil {
		return fmt.Errorf("gxsdb: upsert group %s: %w", g.GrpID, err)
	}
	return nil
}

// Messages returns the stored messages of one group.
func (s *Store) Messages(grpID string) ([]MessageRow, error) {
	rows, err := s.db.Query(`SELECT msgId, grpId, timeStamp, nxsData, meta FROM MESSAGES WHERE grpId = ?`, grpID)
	if err != nil {
		return nil, fmt.Errorf("gxsdb: query messages of %s: %w", grpID, err)
	}
	defer rows.Close()
	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.MsgID, &m.GrpID, &m.TimeStamp, &m.NxsData, &m.Meta); err != nil {
			logrus.Warnf("gxsdb: bad message row skipped: %v", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertMessage stores one message row, ignoring duplicates.
func (s *Store) InsertMessage(m MessageRow) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO MESSAGES (msgId, grpId, timeStamp, nxsData, meta) VALUES (?, ?, ?, ?, ?)`,
		m.MsgID, m.GrpID, m.TimeStamp, m.NxsData, m.Meta,
	)
	if err != nil {
		return fmt.Errorf("gxsdb: insert message %s: %w", m.MsgID, err)
	}
	return nil
}
