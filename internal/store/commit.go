package store

import (
	"database/sql"

	"github.com/cockroachdb/errors"
)

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction. Fake (negative) IDs are remapped to real
// (positive) IDs, and location constant_ids within the batch are rewritten
// using the fakeToReal mapping.
//
// Insert order respects FK dependencies:
//  1. Constants (depend on run_id only, which is already real)
//  2. Locations (depend on constant_id)
//  3. Outputs (depend on run_id only)
func (s *Store) CommitBatch(batch *BatchedStore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "commit batch: begin")
	}
	defer tx.Rollback()

	fakeToReal := make(map[int64]int64)

	for _, c := range batch.Constants {
		realID, err := insertConstantTx(tx, &c)
		if err != nil {
			return errors.Wrapf(err, "commit batch: constant %q", c.Name)
		}
		fakeToReal[c.ID] = realID
	}

	for _, loc := range batch.Locations {
		if loc.ConstantID < 0 {
			realID, ok := fakeToReal[loc.ConstantID]
			if !ok {
				return errors.Newf("commit batch: location %s:%d has constant_id=%d not in fakeToReal map (have %d constants)",
					loc.Path, loc.Line, loc.ConstantID, len(batch.Constants))
			}
			loc.ConstantID = realID
		}
		if _, err := insertLocationTx(tx, &loc); err != nil {
			return errors.Wrapf(err, "commit batch: location %s:%d", loc.Path, loc.Line)
		}
	}

	for _, out := range batch.Outputs {
		if _, err := insertOutputTx(tx, &out); err != nil {
			return errors.Wrapf(err, "commit batch: output %q", out.Constant)
		}
	}

	return tx.Commit()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertConstantTx(db execer, c *Constant) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO constants (run_id, handle, name, kind) VALUES (?, ?, ?, ?)",
		c.RunID, c.Handle, c.Name, c.Kind,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertLocationTx(db execer, loc *Location) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO locations (constant_id, path, line) VALUES (?, ?, ?)",
		loc.ConstantID, loc.Path, loc.Line,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertOutputTx(db execer, out *Output) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO outputs (run_id, constant, compilers, path, hash, content) VALUES (?, ?, ?, ?, ?, ?)",
		out.RunID, out.Constant, marshalStrings(out.Compilers), out.Path, out.Hash, out.Content,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
