// Package index builds a sqlite catalog of a DAT archive.
//
// The database holds three tables: file_types and file_subtypes name the
// classifications the reader knows, and files holds one row per catalog
// record with its type, decoded subtype, location and payload fingerprint.
// Textures are decoded to decide their subtype; a texture whose payload
// cannot be decoded is indexed with the unknown subtype instead of aborting
// the build.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-acdat"
)

const schema = `
DROP TABLE IF EXISTS file_types;
CREATE TABLE file_types (
	id   INTEGER NOT NULL PRIMARY KEY,
	name TEXT NOT NULL
);
DROP TABLE IF EXISTS file_subtypes;
CREATE TABLE file_subtypes (
	id           INTEGER NOT NULL,
	file_type_id INTEGER,
	name         TEXT NOT NULL
);
DROP TABLE IF EXISTS files;
CREATE TABLE files (
	id          INTEGER NOT NULL PRIMARY KEY,
	position    INTEGER NOT NULL,
	type        INTEGER NOT NULL,
	subtype     INTEGER,
	file_offset INTEGER NOT NULL,
	file_size   INTEGER NOT NULL,
	iteration   INTEGER NOT NULL,
	width       INTEGER,
	height      INTEGER,
	fingerprint INTEGER
);
CREATE INDEX files_subtype ON files(subtype);
`

// Stats summarizes a Build.
type Stats struct {
	Files    int
	Textures int
	Icons    int

	// Undecodable counts textures indexed with the unknown subtype
	// because their payload could not be decoded.
	Undecodable int
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return db, nil
}

// Build replaces the contents of db with the catalog of a.
//
// The whole build runs in one transaction, so a failure leaves the previous
// contents in place.
func Build(ctx context.Context, db *sql.DB, a *acdat.Archive, log *logrus.Entry) (Stats, error) {
	var st Stats
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cat, err := a.Catalog(ctx)
	if err != nil {
		return st, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return st, fmt.Errorf("migrate: %w", err)
	}
	if err := seed(ctx, tx); err != nil {
		return st, fmt.Errorf("seed: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO files
		(id, position, type, subtype, file_offset, file_size, iteration, width, height, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return st, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	it := cat.Iter()
	for {
		i, rec, ok, _ := it.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}

		var (
			subtype       = acdat.SubtypeUnknown
			width, height sql.NullInt64
			fingerprint   sql.NullInt64
		)
		if rec.Type() == acdat.FileTypeTexture {
			st.Textures++
			p, err := a.Asset(rec)
			switch {
			case err == nil:
				subtype = p.Subtype()
				width = sql.NullInt64{Int64: int64(p.Width), Valid: true}
				height = sql.NullInt64{Int64: int64(p.Height), Valid: true}
				// sqlite integers are signed; keep the bit pattern.
				fingerprint = sql.NullInt64{Int64: int64(p.Fingerprint()), Valid: true}
				if subtype == acdat.SubtypeIcon {
					st.Icons++
				}
			case acdat.IsRecordError(err):
				st.Undecodable++
				log.WithField("object_id", rec.ObjectID.String()).WithError(err).Warn("indexing texture without subtype")
			default:
				return st, err
			}
		}

		if _, err := stmt.ExecContext(ctx,
			int64(rec.ObjectID), i, int64(rec.Type()), int64(subtype),
			int64(rec.FileOffset), int64(rec.FileSize), int64(rec.Iteration),
			width, height, fingerprint,
		); err != nil {
			return st, fmt.Errorf("insert %s: %w", rec.ObjectID, err)
		}
		st.Files++
	}

	if err := tx.Commit(); err != nil {
		return st, fmt.Errorf("commit: %w", err)
	}
	log.WithFields(logrus.Fields{
		"files":       st.Files,
		"textures":    st.Textures,
		"icons":       st.Icons,
		"undecodable": st.Undecodable,
	}).Info("index built")
	return st, nil
}

func seed(ctx context.Context, tx *sql.Tx) error {
	for _, t := range acdat.FileTypes() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO file_types VALUES (?, ?)", int64(t), t.String()); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, "INSERT INTO file_subtypes VALUES (?, ?, ?)",
		int64(acdat.SubtypeIcon), int64(acdat.FileTypeTexture), acdat.SubtypeIcon.String())
	return err
}

// Row is one indexed file.
type Row struct {
	ID          acdat.ObjectID
	Position    int
	Type        acdat.FileType
	Subtype     acdat.Subtype
	FileOffset  uint32
	FileSize    uint32
	Iteration   uint32
	Fingerprint uint64
}

// Lookup returns the indexed row for id, or sql.ErrNoRows.
func Lookup(ctx context.Context, db *sql.DB, id acdat.ObjectID) (Row, error) {
	var (
		r                         Row
		typ, sub, off, size, iter int64
		fp                        sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `SELECT position, type, subtype, file_offset, file_size, iteration, fingerprint
		FROM files WHERE id = ? LIMIT 1`, int64(id)).Scan(&r.Position, &typ, &sub, &off, &size, &iter, &fp)
	if err != nil {
		return Row{}, err
	}
	r.ID = id
	r.Type = acdat.FileType(typ)
	r.Subtype = acdat.Subtype(sub)
	r.FileOffset = uint32(off)
	r.FileSize = uint32(size)
	r.Iteration = uint32(iter)
	if fp.Valid {
		r.Fingerprint = uint64(fp.Int64)
	}
	return r, nil
}

// Icons returns the ids of every icon texture in ascending order.
func Icons(ctx context.Context, db *sql.DB) ([]acdat.ObjectID, error) {
	rows, err := db.QueryContext(ctx, "SELECT id FROM files WHERE subtype = ? AND type = ? ORDER BY id",
		int64(acdat.SubtypeIcon), int64(acdat.FileTypeTexture))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []acdat.ObjectID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, acdat.ObjectID(id))
	}
	return ids, rows.Err()
}

// Count returns the number of indexed files.
func Count(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT count(1) FROM files").Scan(&n)
	return n, err
}
