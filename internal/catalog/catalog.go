// Package catalog fronts the on-disk schema store (internal/storage's
// .dbf catalog) with a read-through cache and a foreign-key reference
// graph, so DDL/DML/query code never rescans every schema in the
// database just to find out who references a table.
//
// Schemas are cached with ristretto rather than a plain in-memory map.
// Every DDL write invalidates the affected table's entry synchronously,
// so the cache can never observe a schema it has not itself dropped
// first.
package catalog

import (
	"github.com/dgraph-io/ristretto/v2"

	"relsql/internal/dbtypes"
	"relsql/internal/errs"
	"relsql/internal/storage"
)

// Catalog is a per-database schema cache plus FK reference index.
type Catalog struct {
	db    string
	cache *ristretto.Cache[string, dbtypes.TableSchema]
	fk    *FKGraph
}

// New builds a Catalog for db, sized for a modest number of tables (a
// single database in this engine rarely has more than a few hundred).
func New(db string) (*Catalog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, dbtypes.TableSchema]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errs.Wrap(errs.IoError, err, "create schema cache for %q", db)
	}
	c := &Catalog{db: db, cache: cache, fk: NewFKGraph()}
	if err := c.Rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// Rebuild reloads every schema from disk, repopulating both the cache
// and the FK graph. Called at catalog construction, at the end of every
// Put and Drop, and by DDL operations that write the .dbf file directly.
func (c *Catalog) Rebuild() error {
	schemas, err := storage.LoadSchemas(c.db)
	if err != nil {
		return err
	}
	c.cache.Clear()
	c.fk = NewFKGraph()
	for _, s := range schemas {
		c.cache.Set(s.Name, s, 1)
		c.fk.Add(s)
	}
	c.cache.Wait()
	return nil
}

// Get returns a table or view's schema, hitting the cache first and
// falling back to disk (and repopulating the cache) on a miss.
func (c *Catalog) Get(table string) (dbtypes.TableSchema, error) {
	if s, ok := c.cache.Get(table); ok {
		return s, nil
	}
	s, err := storage.LoadSchema(c.db, table)
	if err != nil {
		return dbtypes.TableSchema{}, err
	}
	c.cache.Set(s.Name, s, 1)
	c.cache.Wait()
	return s, nil
}

// All returns every schema currently on disk. Bypasses the cache since
// callers that need the full set (DDL, SHOW TABLES) are rare enough that
// a cache isn't worth the staleness risk.
func (c *Catalog) All() ([]dbtypes.TableSchema, error) {
	return storage.LoadSchemas(c.db)
}

// Put persists a new or replaced schema and refreshes the cache and FK
// graph for it. Called by every DDL operation after it updates the .dbf
// file on disk.
func (c *Catalog) Put(schema dbtypes.TableSchema) error {
	schemas, err := storage.LoadSchemas(c.db)
	if err != nil {
		return err
	}
	replaced := false
	for i, s := range schemas {
		if dbtypes.EqualFold(s.Name, schema.Name) {
			schemas[i] = schema
			replaced = true
			break
		}
	}
	if !replaced {
		schemas = append(schemas, schema)
	}
	if err := storage.SaveSchemas(c.db, schemas); err != nil {
		return err
	}
	c.cache.Set(schema.Name, schema, 1)
	c.cache.Wait()
	return c.Rebuild()
}

// Drop removes table from both disk and cache.
func (c *Catalog) Drop(table string) error {
	schemas, err := storage.LoadSchemas(c.db)
	if err != nil {
		return err
	}
	out := schemas[:0]
	found := false
	for _, s := range schemas {
		if dbtypes.EqualFold(s.Name, table) {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		return errs.New(errs.NotFound, "table %q not found", table)
	}
	if err := storage.SaveSchemas(c.db, out); err != nil {
		return err
	}
	c.cache.Del(table)
	return c.Rebuild()
}

// FK returns the foreign-key reference graph, recomputed on every
// Rebuild/Put/Drop.
func (c *Catalog) FK() *FKGraph { return c.fk }

// DB returns the name of the database this catalog fronts.
func (c *Catalog) DB() string { return c.db }

// FKGraph maps a table name to the (table, constraint) pairs that
// reference it, letting DELETE enforcement check referrers in
// O(referrers) instead of O(every schema in the database). DROP TABLE
// does not consult it; ddl.DropTable walks every schema.
type FKGraph struct {
	referrers map[string][]Referrer
}

// Referrer names one foreign key that points at a parent table.
type Referrer struct {
	Table      string
	Constraint string
	OnDelete   dbtypes.ReferentialAction
	OnUpdate   dbtypes.ReferentialAction
}

func NewFKGraph() *FKGraph {
	return &FKGraph{referrers: make(map[string][]Referrer)}
}

// Add indexes every foreign key schema declares, keyed by the parent
// table it references.
func (g *FKGraph) Add(schema dbtypes.TableSchema) {
	for _, fk := range schema.ForeignKeys {
		g.referrers[fk.RefTable] = append(g.referrers[fk.RefTable], Referrer{
			Table:      schema.Name,
			Constraint: fk.Name,
			OnDelete:   fk.OnDelete,
			OnUpdate:   fk.OnUpdate,
		})
	}
}

// Referrers returns every (table, constraint) that has a foreign key
// pointing at table.
func (g *FKGraph) Referrers(table string) []Referrer {
	return g.referrers[table]
}
