package store

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// BeginRun records the start of a generation run and returns it with a
// fresh ID.
func (s *Store) BeginRun(command string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
	}
	_, err := s.db.Exec(
		"INSERT INTO runs (id, command, started_at, status) VALUES (?, ?, ?, ?)",
		run.ID, run.Command, run.StartedAt, run.Status,
	)
	if err != nil {
		return nil, errors.Wrap(err, "begin run")
	}
	return run, nil
}

// FinishRun stamps the run's finish time and final status.
func (s *Store) FinishRun(runID, status string) error {
	res, err := s.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, runID,
	)
	if err != nil {
		return errors.Wrapf(err, "finish run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf("finish run %s: no such run", runID)
	}
	return nil
}

const runColumns = "id, command, started_at, finished_at, status"

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Command, &r.StartedAt, &finished, &r.Status); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// LatestRun returns the most recent successfully finished run, or nil when
// there is none.
func (s *Store) LatestRun() (*Run, error) {
	row := s.db.QueryRow(
		"SELECT "+runColumns+" FROM runs WHERE status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1",
		RunOK,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest run")
	}
	return r, nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(limit int) ([]*Run, error) {
	rows, err := s.db.Query("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertConstant writes a constant directly.
func (s *Store) InsertConstant(c *Constant) (int64, error) {
	id, err := insertConstantTx(s.db, c)
	if err != nil {
		return 0, errors.Wrapf(err, "insert constant %q", c.Name)
	}
	c.ID = id
	return id, nil
}

// InsertLocation writes a location directly.
func (s *Store) InsertLocation(loc *Location) (int64, error) {
	id, err := insertLocationTx(s.db, loc)
	if err != nil {
		return 0, errors.Wrapf(err, "insert location %s:%d", loc.Path, loc.Line)
	}
	loc.ID = id
	return id, nil
}

// InsertOutput writes an output directly.
func (s *Store) InsertOutput(out *Output) (int64, error) {
	id, err := insertOutputTx(s.db, out)
	if err != nil {
		return 0, errors.Wrapf(err, "insert output %q", out.Constant)
	}
	out.ID = id
	return id, nil
}

// ConstantsByRun returns the constants generated in a run ordered by name.
func (s *Store) ConstantsByRun(runID string) ([]*Constant, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, handle, name, kind FROM constants WHERE run_id = ? ORDER BY name, handle",
		runID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "constants by run")
	}
	defer rows.Close()
	var out []*Constant
	for rows.Next() {
		var c Constant
		if err := rows.Scan(&c.ID, &c.RunID, &c.Handle, &c.Name, &c.Kind); err != nil {
			return nil, errors.Wrap(err, "scan constant")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// LocationsByName returns the definition sites recorded for the named
// constant in a run, ordered by path then line.
func (s *Store) LocationsByName(runID, name string) ([]*Location, error) {
	rows, err := s.db.Query(`
		SELECT l.id, l.constant_id, l.path, l.line
		FROM locations l
		JOIN constants c ON c.id = l.constant_id
		WHERE c.run_id = ? AND c.name = ?
		ORDER BY l.path, l.line`,
		runID, name,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "locations for %s", name)
	}
	defer rows.Close()
	var out []*Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.ConstantID, &loc.Path, &loc.Line); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, &loc)
	}
	return out, rows.Err()
}

const outputColumns = "id, run_id, constant, compilers, path, hash, content"

func scanOutput(row interface{ Scan(...any) error }) (*Output, error) {
	var (
		o         Output
		compilers string
	)
	if err := row.Scan(&o.ID, &o.RunID, &o.Constant, &compilers, &o.Path, &o.Hash, &o.Content); err != nil {
		return nil, err
	}
	o.Compilers = unmarshalStrings(compilers)
	return &o, nil
}

// OutputByConstant returns the most recently committed output for the
// named constant across all runs, or nil.
func (s *Store) OutputByConstant(name string) (*Output, error) {
	row := s.db.QueryRow("SELECT "+outputColumns+" FROM outputs WHERE constant = ? ORDER BY id DESC LIMIT 1", name)
	o, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "output for %s", name)
	}
	return o, nil
}

// OutputHash returns the content hash of the latest output for name, or ""
// when none was recorded.
func (s *Store) OutputHash(name string) (string, error) {
	o, err := s.OutputByConstant(name)
	if err != nil || o == nil {
		return "", err
	}
	return o.Hash, nil
}

// OutputsByRun returns a run's outputs, optionally restricted to the given
// constant names, ordered by constant.
func (s *Store) OutputsByRun(runID string, names ...string) ([]*Output, error) {
	q := "SELECT " + outputColumns + " FROM outputs WHERE run_id = ?"
	args := []any{runID}
	if len(names) > 0 {
		q += " AND constant IN (" + placeholderList(len(names)) + ")"
		args = append(args, stringsToArgs(names)...)
	}
	rows, err := s.db.Query(q+" ORDER BY constant", args...)
	if err != nil {
		return nil, errors.Wrap(err, "outputs by run")
	}
	defer rows.Close()
	var out []*Output
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan output")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
