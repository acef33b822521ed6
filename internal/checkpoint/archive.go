// Package checkpoint is the hierarchical named-group archive that holds
// per-iteration snapshots, the parameter snapshot and the backend state.
//
// Entries live in a single SQLite table keyed by slash-separated path.
// Values are framed, checksummed TLV blobs (see internal/protocol).
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/dmftctl/internal/cmat"
	"github.com/danmuck/dmftctl/internal/gf"
	"github.com/danmuck/dmftctl/internal/interaction"
	"github.com/danmuck/dmftctl/internal/protocol/frame"
	"github.com/danmuck/dmftctl/internal/protocol/tlv"

	_ "modernc.org/sqlite"
)

var (
	ErrIO       = errors.New("checkpoint: archive i/o failed")
	ErrNotFound = errors.New("checkpoint: entry not found")
	ErrNotGroup = errors.New("checkpoint: entry is not a group")
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Archive is an open checkpoint file.
type Archive struct {
	db   *sql.DB
	path string
}

// Open opens or creates the archive at file.
func Open(file string) (*Archive, error) {
	db, err := openDB("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, file, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrIO, p, err)
		}
	}
	a := &Archive{db: db, path: file}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			path       TEXT PRIMARY KEY,
			parent     TEXT NOT NULL,
			is_group   INTEGER NOT NULL,
			value      BLOB,
			written_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entries_parent ON entries(parent);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrIO, err)
	}
	return nil
}

func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}

// File returns the path the archive was opened from.
func (a *Archive) File() string { return a.path }

// Join builds an entry path from its segments.
func Join(parts ...string) string {
	return strings.Trim(path.Join(parts...), "/")
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Exists reports whether p names a group or a value.
func (a *Archive) Exists(ctx context.Context, p string) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM entries WHERE path = ?`, Join(p)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %v", ErrIO, p, err)
	}
	return n > 0, nil
}

// CreateGroup creates p and any missing ancestors. Existing groups are kept.
func (a *Archive) CreateGroup(ctx context.Context, p string) error {
	return a.inTx(ctx, func(tx *sql.Tx) error {
		return ensureGroups(ctx, tx, Join(p))
	})
}

// Delete removes p and everything below it. Missing entries are not an error.
func (a *Archive) Delete(ctx context.Context, p string) error {
	p = Join(p)
	return a.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			p, escapeLike(p)+"/%")
		return err
	})
}

// Children lists the names directly below group p in lexical order.
func (a *Archive) Children(ctx context.Context, p string) ([]string, error) {
	p = Join(p)
	if p != "" {
		isGroup, err := a.isGroup(ctx, p)
		if err != nil {
			return nil, err
		}
		if !isGroup {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, p)
		}
	}
	rows, err := a.db.QueryContext(ctx, `SELECT path FROM entries WHERE parent = ?`, p)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, p, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrIO, p, err)
		}
		names = append(names, path.Base(child))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", ErrIO, p, err)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Archive) isGroup(ctx context.Context, p string) (bool, error) {
	var g int
	err := a.db.QueryRowContext(ctx, `SELECT is_group FROM entries WHERE path = ?`, p).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrIO, p, err)
	}
	return g == 1, nil
}

func (a *Archive) put(ctx context.Context, p string, blob []byte, encErr error) error {
	if encErr != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", p, encErr)
	}
	p = Join(p)
	return a.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureGroups(ctx, tx, parentOf(p)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entries (path, parent, is_group, value, written_at) VALUES (?, ?, 0, ?, ?)
			ON CONFLICT(path) DO UPDATE SET is_group = 0, value = excluded.value, written_at = excluded.written_at`,
			p, parentOf(p), blob, now())
		return err
	})
}

func (a *Archive) get(ctx context.Context, p string) ([]byte, error) {
	p = Join(p)
	var blob []byte
	var g int
	err := a.db.QueryRowContext(ctx, `SELECT is_group, value FROM entries WHERE path = ?`, p).Scan(&g, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, p, err)
	}
	if g == 1 {
		return nil, fmt.Errorf("checkpoint: %s is a group", p)
	}
	return blob, nil
}

func ensureGroups(ctx context.Context, tx *sql.Tx, p string) error {
	for cur := p; cur != ""; cur = parentOf(cur) {
		var g int
		err := tx.QueryRowContext(ctx, `SELECT is_group FROM entries WHERE path = ?`, cur).Scan(&g)
		if err == nil {
			if g != 1 {
				return fmt.Errorf("%w: %s", ErrNotGroup, cur)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries (path, parent, is_group, value, written_at) VALUES (?, ?, 1, NULL, ?)`,
			cur, parentOf(cur), now()); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrIO, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotGroup) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrIO, err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (a *Archive) PutFloat(ctx context.Context, p string, v float64) error {
	b, err := encodeFloat(v)
	return a.put(ctx, p, b, err)
}

func (a *Archive) Float(ctx context.Context, p string) (float64, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return 0, err
	}
	return decodeFloat(b)
}

func (a *Archive) PutInt(ctx context.Context, p string, v int) error {
	b, err := frame.Marshal(frame.New(frame.KindScalar, tlv.EncodeFields([]tlv.Field{tlv.U64(fieldValue, uint64(int64(v)))})))
	return a.put(ctx, p, b, err)
}

func (a *Archive) Int(ctx context.Context, p string) (int, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return 0, err
	}
	fields, err := payloadFields(b, frame.KindScalar)
	if err != nil {
		return 0, err
	}
	f, err := tlv.Require(fields, fieldValue, tlv.TypeU64)
	if err != nil {
		return 0, err
	}
	v, err := tlv.U64FromBytes(f.Value)
	return int(int64(v)), err
}

func (a *Archive) PutText(ctx context.Context, p, s string) error {
	b, err := encodeText(s)
	return a.put(ctx, p, b, err)
}

func (a *Archive) Text(ctx context.Context, p string) (string, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return "", err
	}
	return decodeText(b)
}

func (a *Archive) PutBlockGf(ctx context.Context, p string, g *gf.BlockGf) error {
	b, err := encodeBlockGf(g)
	return a.put(ctx, p, b, err)
}

func (a *Archive) BlockGf(ctx context.Context, p string) (*gf.BlockGf, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return nil, err
	}
	return decodeBlockGf(b)
}

func (a *Archive) PutLegendre(ctx context.Context, p string, g *gf.Legendre) error {
	b, err := encodeLegendre(g)
	return a.put(ctx, p, b, err)
}

func (a *Archive) Legendre(ctx context.Context, p string) (*gf.Legendre, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return nil, err
	}
	return decodeLegendre(b)
}

func (a *Archive) PutTensor(ctx context.Context, p string, u *interaction.Tensor) error {
	b, err := encodeTensor(u)
	return a.put(ctx, p, b, err)
}

func (a *Archive) Tensor(ctx context.Context, p string) (*interaction.Tensor, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return nil, err
	}
	return decodeTensor(b)
}

// PutMatrices stores one static matrix per block name, keeping names order.
func (a *Archive) PutMatrices(ctx context.Context, p string, names []string, m map[string]*cmat.Dense) error {
	b, err := encodeMatrices(names, m)
	return a.put(ctx, p, b, err)
}

func (a *Archive) Matrices(ctx context.Context, p string) ([]string, map[string]*cmat.Dense, error) {
	b, err := a.get(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return decodeMatrices(b)
}
