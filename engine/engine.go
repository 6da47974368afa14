// Package engine orchestrates the migration: it walks each logical table's
// source entities in primary key order from the persisted cursor, feeds
// transformed items through the batch writer, and advances the state ledger
// only after the target has acknowledged each flush.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/NixM0nk3y/chinook-migrate/config"
	"github.com/NixM0nk3y/chinook-migrate/dynamo"
	"github.com/NixM0nk3y/chinook-migrate/log"
	"github.com/NixM0nk3y/chinook-migrate/source"
	"github.com/NixM0nk3y/chinook-migrate/state"
	"github.com/NixM0nk3y/chinook-migrate/transform"
	"github.com/oklog/ulid"
	"go.uber.org/zap"
)

// ErrNothingToResume reports a resume attempt with no interrupted run on
// record.
var ErrNothingToResume = errors.New("no in-progress migration to resume")

// Target is the engine's view of the destination store, implemented by
// dynamo.Manager and substituted by fakes in tests.
type Target interface {
	EnsureTable(ctx context.Context, name string, schema config.TableSchema, force bool) (bool, error)
	BatchWrite(ctx context.Context, table string, items []dynamo.Item) error
	ItemCount(ctx context.Context, name string) (int64, error)
}

// Engine drives the migration of all logical tables.
type Engine struct {
	cfg    *config.Config
	states *state.Store
	src    *source.DB
	target Target
}

// New assembles an engine over an opened source database and target store.
func New(cfg *config.Config, states *state.Store, src *source.DB, target Target) *Engine {
	return &Engine{
		cfg:    cfg,
		states: states,
		src:    src,
		target: target,
	}
}

// RunOptions control one migration invocation.
type RunOptions struct {
	// Force drops and recreates target tables even when present.
	Force bool
	// Table restricts the run to one logical table.
	Table string
}

// Run executes or continues the migration. Tables already completed are
// skipped without re-querying the source; everything else picks up from its
// persisted cursor. The first table failure records the error, marks the
// run failed and halts the remaining tables.
func (e *Engine) Run(ctx context.Context, opts RunOptions) error {

	runID := newRunID()
	ctx = log.WithRunID(ctx, runID)
	logger := log.Logger(ctx)

	tables := config.LogicalTables
	if opts.Table != "" {
		if _, err := e.cfg.PhysicalTable(opts.Table); err != nil {
			return err
		}
		tables = []string{opts.Table}
	}

	if err := e.states.StartMigration(runID); err != nil {
		return err
	}

	logger.Info("starting migration", zap.Strings("tables", tables))

	if err := e.ensureTables(ctx, tables, opts.Force); err != nil {
		return e.fail(ctx, "", err)
	}

	for _, table := range tables {

		if e.states.IsTableCompleted(table) {
			logger.Info("table already completed, skipping", zap.String("table", table))
			continue
		}

		logger.Info("migrating table", zap.String("table", table))

		if err := e.migrateTable(ctx, table); err != nil {
			return e.fail(ctx, table, fmt.Errorf("error migrating %s: %w", table, err))
		}
	}

	for _, table := range config.LogicalTables {
		if !e.states.IsTableCompleted(table) {
			logger.Info("run finished with tables still pending", zap.String("pending", table))
			return nil
		}
	}

	if err := e.states.CompleteMigration(); err != nil {
		return err
	}

	logger.Info("migration completed")
	return nil
}

// Resume continues an interrupted run. It is a thin entry point into the
// same run loop: completed tables are skipped and everything else restarts
// from its persisted cursor, so no resume-specific walk is needed.
func (e *Engine) Resume(ctx context.Context) error {
	if !e.states.CanResume() {
		return ErrNothingToResume
	}
	return e.Run(ctx, RunOptions{})
}

func (e *Engine) fail(ctx context.Context, table string, err error) error {
	logger := log.Logger(ctx)
	logger.Error("migration failed", zap.String("table", table), zap.Error(err))

	if table != "" {
		if serr := e.states.AddError(err.Error(), table); serr != nil {
			return serr
		}
	}
	if serr := e.states.FailMigration(err.Error()); serr != nil {
		return serr
	}
	return err
}

func (e *Engine) ensureTables(ctx context.Context, tables []string, force bool) error {
	logger := log.Logger(ctx)

	for _, table := range tables {
		physical, err := e.cfg.PhysicalTable(table)
		if err != nil {
			return err
		}

		created, err := e.target.EnsureTable(ctx, physical, e.cfg.Schema(table), force)
		if err != nil {
			return fmt.Errorf("unable to prepare table %s: %w", physical, err)
		}

		logger.Info("target table ready",
			zap.String("table", physical), zap.Bool("created", created))
	}
	return nil
}

func (e *Engine) migrateTable(ctx context.Context, table string) error {
	switch table {
	case "MusicCatalog":
		return e.migrateMusicCatalog(ctx)
	case "CustomerOrders":
		return e.migrateCustomerOrders(ctx)
	case "Playlists":
		return e.migratePlaylists(ctx)
	case "EmployeeManagement":
		return e.migrateEmployees(ctx)
	default:
		return fmt.Errorf("unknown logical table %q", table)
	}
}

// migrateMusicCatalog walks the artist/album/track hierarchy in order,
// parents before children, each entity type from its own cursor.
func (e *Engine) migrateMusicCatalog(ctx context.Context) error {

	const table = "MusicCatalog"

	physical, err := e.cfg.PhysicalTable(table)
	if err != nil {
		return err
	}

	counts := map[string]int64{}
	var total int64
	for entity, src := range map[string]string{"artists": "Artist", "albums": "Album", "tracks": "Track"} {
		n, err := e.src.Count(ctx, src)
		if err != nil {
			return err
		}
		counts[entity] = n
		total += n
	}

	if err := e.states.StartTable(table, total); err != nil {
		return err
	}
	for _, entity := range []string{"artists", "albums", "tracks"} {
		if err := e.states.SetEntityTotal(table, entity, counts[entity]); err != nil {
			return err
		}
	}

	if err := e.runEntity(ctx, table, "artists", physical, func(after int64, emit emitFunc) error {
		return e.src.EachArtist(ctx, after, func(r source.ArtistRow) error {
			return emit(r.ArtistID, transform.Artist(r))
		})
	}); err != nil {
		return err
	}

	if err := e.runEntity(ctx, table, "albums", physical, func(after int64, emit emitFunc) error {
		return e.src.EachAlbum(ctx, after, func(r source.AlbumRow) error {
			return emit(r.AlbumID, transform.Album(r))
		})
	}); err != nil {
		return err
	}

	if err := e.runEntity(ctx, table, "tracks", physical, func(after int64, emit emitFunc) error {
		return e.src.EachTrack(ctx, after, func(r source.TrackRow) error {
			return emit(r.TrackID, transform.Track(r))
		})
	}); err != nil {
		return err
	}

	return e.states.CompleteTable(table)
}

// migrateCustomerOrders writes each customer's profile item plus one item
// per order. Flushes land on customer boundaries so the cursor stays in the
// customer id domain.
func (e *Engine) migrateCustomerOrders(ctx context.Context) error {

	const table = "CustomerOrders"

	physical, err := e.cfg.PhysicalTable(table)
	if err != nil {
		return err
	}

	customers, err := e.src.Count(ctx, "Customer")
	if err != nil {
		return err
	}
	invoices, err := e.src.Count(ctx, "Invoice")
	if err != nil {
		return err
	}

	if err := e.states.StartTable(table, customers+invoices); err != nil {
		return err
	}

	if err := e.runTable(ctx, table, physical, func(after int64, emit emitFunc) error {
		return e.src.EachCustomer(ctx, after, func(r source.CustomerRow) error {
			items := make([]dynamo.Item, 0, len(r.Orders)+1)
			items = append(items, transform.CustomerProfile(r))
			for _, o := range r.Orders {
				items = append(items, transform.Order(r.CustomerID, o))
			}
			return emit(r.CustomerID, items...)
		})
	}); err != nil {
		return err
	}

	return e.states.CompleteTable(table)
}

func (e *Engine) migratePlaylists(ctx context.Context) error {

	const table = "Playlists"

	physical, err := e.cfg.PhysicalTable(table)
	if err != nil {
		return err
	}

	playlists, err := e.src.Count(ctx, "Playlist")
	if err != nil {
		return err
	}

	if err := e.states.StartTable(table, playlists); err != nil {
		return err
	}

	if err := e.runTable(ctx, table, physical, func(after int64, emit emitFunc) error {
		return e.src.EachPlaylist(ctx, after, func(r source.PlaylistRow) error {
			return emit(r.PlaylistID, transform.Playlist(r))
		})
	}); err != nil {
		return err
	}

	return e.states.CompleteTable(table)
}

func (e *Engine) migrateEmployees(ctx context.Context) error {

	const table = "EmployeeManagement"

	physical, err := e.cfg.PhysicalTable(table)
	if err != nil {
		return err
	}

	employees, err := e.src.Count(ctx, "Employee")
	if err != nil {
		return err
	}

	if err := e.states.StartTable(table, employees); err != nil {
		return err
	}

	if err := e.runTable(ctx, table, physical, func(after int64, emit emitFunc) error {
		return e.src.EachEmployee(ctx, after, func(r source.EmployeeRow) error {
			return emit(r.EmployeeID, transform.Employee(r))
		})
	}); err != nil {
		return err
	}

	return e.states.CompleteTable(table)
}

// emitFunc hands the batcher one source record's items together with the
// record's cursor id.
type emitFunc func(id int64, items ...dynamo.Item) error

// iterFunc streams source records with ids greater than after.
type iterFunc func(after int64, emit emitFunc) error

// runEntity migrates one entity type within a table, tracking progress on
// the entity's own cursor.
func (e *Engine) runEntity(ctx context.Context, table, entity, physical string, iter iterFunc) error {

	logger := log.Logger(ctx).With(zap.String("table", table), zap.String("entity", entity))

	var after int64
	if last := e.states.LastProcessedID(table, entity); last != nil {
		after = *last
		logger.Info("resuming from cursor", zap.Int64("lastID", after))
	}

	migrated := e.states.EntityMigrated(table, entity)

	b := &batcher{
		size: e.cfg.BatchSize,
		flush: func(items []dynamo.Item, lastID int64) error {
			if err := e.target.BatchWrite(ctx, physical, items); err != nil {
				return err
			}
			migrated += int64(len(items))
			if err := e.states.UpdateEntityProgress(table, entity, migrated, &lastID); err != nil {
				return err
			}
			logger.Info("progress", zap.Int64("migrated", migrated), zap.Int64("lastID", lastID))
			return nil
		},
	}

	if err := iter(after, b.add); err != nil {
		return err
	}
	return b.finish()
}

// runTable migrates a table without entity decomposition, tracking progress
// on the table-level cursor.
func (e *Engine) runTable(ctx context.Context, table, physical string, iter iterFunc) error {

	logger := log.Logger(ctx).With(zap.String("table", table))

	var after int64
	if last := e.states.LastProcessedID(table, ""); last != nil {
		after = *last
		logger.Info("resuming from cursor", zap.Int64("lastID", after))
	}

	migrated := e.states.TableMigrated(table)

	b := &batcher{
		size: e.cfg.BatchSize,
		flush: func(items []dynamo.Item, lastID int64) error {
			if err := e.target.BatchWrite(ctx, physical, items); err != nil {
				return err
			}
			migrated += int64(len(items))
			if err := e.states.UpdateTableProgress(table, migrated, &lastID); err != nil {
				return err
			}
			logger.Info("progress", zap.Int64("migrated", migrated), zap.Int64("lastID", lastID))
			return nil
		},
	}

	if err := iter(after, b.add); err != nil {
		return err
	}
	return b.finish()
}

// batcher accumulates items until the configured flush size is reached.
// One add call's items always land in the same flush, so the cursor id
// passed to flush never splits a source record.
type batcher struct {
	size   int
	items  []dynamo.Item
	lastID int64
	flush  func(items []dynamo.Item, lastID int64) error
}

func (b *batcher) add(id int64, items ...dynamo.Item) error {
	b.items = append(b.items, items...)
	b.lastID = id
	if len(b.items) >= b.size {
		return b.doFlush()
	}
	return nil
}

// finish flushes the trailing partial batch at end of stream.
func (b *batcher) finish() error {
	return b.doFlush()
}

func (b *batcher) doFlush() error {
	if len(b.items) == 0 {
		return nil
	}
	if err := b.flush(b.items, b.lastID); err != nil {
		return err
	}
	b.items = nil
	return nil
}

func newRunID() string {
	t := time.Now().UTC()
	entropy := rand.New(rand.NewSource(t.UnixNano()))
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
