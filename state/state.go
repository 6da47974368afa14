// Package state tracks migration progress in a persisted JSON ledger.
//
// The state document is the sole source of truth for resume: overall run
// status, per logical table status and counters, and per entity cursors.
// Every operation loads the document, applies one mutation and writes the
// whole document back atomically.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/NixM0nk3y/chinook-migrate/log"
	"go.uber.org/zap"
)

// DefaultFile is the state document written next to the config file.
const DefaultFile = "migration_state.json"

// Status of the overall migration or of one logical table.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// EntityProgress tracks one source entity type within a logical table.
type EntityProgress struct {
	Total    int64  `json:"total"`
	Migrated int64  `json:"migrated"`
	LastID   *int64 `json:"last_id"`
}

// TableState tracks one logical table.
type TableState struct {
	Status          Status                     `json:"status"`
	TotalRecords    int64                      `json:"total_records"`
	RecordsMigrated int64                      `json:"records_migrated"`
	LastProcessedID *int64                     `json:"last_processed_id"`
	StartTime       *time.Time                 `json:"start_time,omitempty"`
	EndTime         *time.Time                 `json:"end_time,omitempty"`
	Entities        map[string]*EntityProgress `json:"entities,omitempty"`
}

// ErrorEntry is one recorded migration error.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Table     string    `json:"table,omitempty"`
}

// MigrationState is the persisted process-wide migration ledger.
type MigrationState struct {
	Status     Status                 `json:"status"`
	RunID      string                 `json:"run_id,omitempty"`
	StartTime  *time.Time             `json:"start_time,omitempty"`
	EndTime    *time.Time             `json:"end_time,omitempty"`
	LastUpdate *time.Time             `json:"last_update,omitempty"`
	Tables     map[string]*TableState `json:"tables"`
	Errors     []ErrorEntry           `json:"errors"`
}

// Default returns the initial ledger: every table not started, the music
// catalog decomposed into its artist/album/track entity cursors.
func Default() *MigrationState {
	return &MigrationState{
		Status: StatusNotStarted,
		Tables: map[string]*TableState{
			"MusicCatalog": {
				Status: StatusNotStarted,
				Entities: map[string]*EntityProgress{
					"artists": {},
					"albums":  {},
					"tracks":  {},
				},
			},
			"CustomerOrders":     {Status: StatusNotStarted},
			"Playlists":          {Status: StatusNotStarted},
			"EmployeeManagement": {Status: StatusNotStarted},
		},
		Errors: []ErrorEntry{},
	}
}

// Store persists MigrationState to a single JSON file.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted state. A missing or unreadable document yields
// the default state, never an error: a corrupt ledger is treated as absent
// rather than partially trusted.
func (s *Store) Load() *MigrationState {

	b, err := os.ReadFile(s.path)
	if err != nil {
		return Default()
	}

	var st MigrationState
	if err := json.Unmarshal(b, &st); err != nil {
		log.Logger(nil).Warn("state file unreadable, starting from empty state",
			zap.String("path", s.path), zap.Error(err))
		return Default()
	}

	if st.Tables == nil {
		return Default()
	}

	return &st
}

// Save writes the whole state document atomically (temp file then rename),
// so an interrupted write can never leave a structurally invalid ledger.
// Persistence failure is fatal to the run.
func (s *Store) Save(st *MigrationState) error {

	now := time.Now().UTC()
	st.LastUpdate = &now

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal migration state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("unable to write migration state: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("unable to replace migration state: %w", err)
	}

	return nil
}

// Initialize writes a fresh default state document.
func (s *Store) Initialize() error {
	return s.Save(Default())
}

// Reset discards any persisted state and reinitializes.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove migration state: %w", err)
	}
	return s.Initialize()
}

// StartMigration marks the run in progress and stamps the run ID.
func (s *Store) StartMigration(runID string) error {
	st := s.Load()
	now := time.Now().UTC()
	st.Status = StatusInProgress
	st.RunID = runID
	if st.StartTime == nil {
		st.StartTime = &now
	}
	st.EndTime = nil
	return s.Save(st)
}

// CompleteMigration marks the whole run completed.
func (s *Store) CompleteMigration() error {
	st := s.Load()
	now := time.Now().UTC()
	st.Status = StatusCompleted
	st.EndTime = &now
	return s.Save(st)
}

// FailMigration records the error and marks the run failed.
func (s *Store) FailMigration(msg string) error {
	st := s.Load()
	now := time.Now().UTC()
	st.Errors = append(st.Errors, ErrorEntry{Timestamp: now, Message: msg})
	st.Status = StatusFailed
	st.EndTime = &now
	return s.Save(st)
}

// AddError records a non-terminal error, optionally against a table.
func (s *Store) AddError(msg, table string) error {
	st := s.Load()
	st.Errors = append(st.Errors, ErrorEntry{
		Timestamp: time.Now().UTC(),
		Message:   msg,
		Table:     table,
	})
	return s.Save(st)
}

// StartTable marks a table in progress and snapshots its total record count.
// The total is captured once at table start and not re-queried mid-run.
func (s *Store) StartTable(table string, total int64) error {
	st := s.Load()
	ts := st.table(table)
	now := time.Now().UTC()
	ts.Status = StatusInProgress
	ts.TotalRecords = total
	if ts.StartTime == nil {
		ts.StartTime = &now
	}
	return s.Save(st)
}

// CompleteTable marks a table completed.
func (s *Store) CompleteTable(table string) error {
	st := s.Load()
	ts := st.table(table)
	now := time.Now().UTC()
	ts.Status = StatusCompleted
	ts.EndTime = &now
	return s.Save(st)
}

// UpdateTableProgress records migrated counts and, when non-nil, advances the
// table cursor. Callers persist only after the batch behind the cursor has
// been acknowledged by the target.
func (s *Store) UpdateTableProgress(table string, migrated int64, lastID *int64) error {
	st := s.Load()
	ts := st.table(table)
	ts.RecordsMigrated = migrated
	if lastID != nil {
		ts.LastProcessedID = lastID
	}
	return s.Save(st)
}

// SetEntityTotal snapshots the source count for one entity within a table.
func (s *Store) SetEntityTotal(table, entity string, total int64) error {
	st := s.Load()
	ep := st.entity(table, entity)
	if ep == nil {
		return fmt.Errorf("table %s has no entity %s", table, entity)
	}
	ep.Total = total
	return s.Save(st)
}

// UpdateEntityProgress records migrated counts and advances the cursor for
// one entity within a table. The table-level migrated counter is kept as the
// sum over entities.
func (s *Store) UpdateEntityProgress(table, entity string, migrated int64, lastID *int64) error {
	st := s.Load()
	ep := st.entity(table, entity)
	if ep == nil {
		return fmt.Errorf("table %s has no entity %s", table, entity)
	}
	ep.Migrated = migrated
	if lastID != nil {
		ep.LastID = lastID
	}

	ts := st.table(table)
	var sum int64
	for _, e := range ts.Entities {
		sum += e.Migrated
	}
	ts.RecordsMigrated = sum

	return s.Save(st)
}

// LastProcessedID returns the resume cursor for a table, or for one entity
// within it when entity is non-empty. Nil means start from the beginning.
func (s *Store) LastProcessedID(table, entity string) *int64 {
	st := s.Load()
	ts, ok := st.Tables[table]
	if !ok {
		return nil
	}
	if entity != "" {
		if ep, ok := ts.Entities[entity]; ok {
			return ep.LastID
		}
		return nil
	}
	return ts.LastProcessedID
}

// EntityMigrated returns the persisted migrated count for one entity, so a
// resumed run continues the counter instead of restarting it.
func (s *Store) EntityMigrated(table, entity string) int64 {
	st := s.Load()
	if ts, ok := st.Tables[table]; ok {
		if ep, ok := ts.Entities[entity]; ok {
			return ep.Migrated
		}
	}
	return 0
}

// TableMigrated returns the persisted migrated count for a table.
func (s *Store) TableMigrated(table string) int64 {
	st := s.Load()
	if ts, ok := st.Tables[table]; ok {
		return ts.RecordsMigrated
	}
	return 0
}

// IsTableCompleted reports whether a table already finished migrating.
func (s *Store) IsTableCompleted(table string) bool {
	st := s.Load()
	ts, ok := st.Tables[table]
	return ok && ts.Status == StatusCompleted
}

// CanResume reports whether an interrupted run exists to pick up.
func (s *Store) CanResume() bool {
	return s.Load().Status == StatusInProgress
}

func (st *MigrationState) table(name string) *TableState {
	ts, ok := st.Tables[name]
	if !ok {
		ts = &TableState{Status: StatusNotStarted}
		st.Tables[name] = ts
	}
	return ts
}

func (st *MigrationState) entity(table, entity string) *EntityProgress {
	ts := st.table(table)
	if ts.Entities == nil {
		return nil
	}
	ep, ok := ts.Entities[entity]
	if !ok {
		ep = &EntityProgress{}
		ts.Entities[entity] = ep
	}
	return ep
}

// Summary aggregates progress for the status command.
type Summary struct {
	Status          Status
	TotalTables     int
	CompletedTables int
	TotalRecords    int64
	MigratedRecords int64
	ErrorCount      int
}

// Summarize computes an overall progress summary from the state document.
func (st *MigrationState) Summarize() Summary {
	sum := Summary{
		Status:      st.Status,
		TotalTables: len(st.Tables),
		ErrorCount:  len(st.Errors),
	}
	for _, ts := range st.Tables {
		sum.TotalRecords += ts.TotalRecords
		sum.MigratedRecords += ts.RecordsMigrated
		if ts.Status == StatusCompleted {
			sum.CompletedTables++
		}
	}
	return sum
}
