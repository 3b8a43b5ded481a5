package store

import "time"

// Run statuses.
const (
	RunRunning  = "running"
	RunOK       = "ok"
	RunFailed   = "failed"
	RunVerified = "verified"
)

type Run struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// Constant is a class or module generated in a run. Handle is the
// object-space handle, meaningful only within that run.
type Constant struct {
	ID     int64
	RunID  string
	Handle int64
	Name   string
	Kind   string
}

type Location struct {
	ID         int64
	ConstantID int64
	Path       string
	Line       int
}

// Output is the RBI written for one constant.
type Output struct {
	ID        int64
	RunID     string
	Constant  string
	Compilers []string
	Path      string
	Hash      string
	Content   string
}
