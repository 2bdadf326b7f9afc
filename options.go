package lantern

import (
	"path/filepath"

	"go.uber.org/zap"

	"go.lanterndb.dev/lantern/internal/backend"
)

// Options configures Open, following spec.md §6's recognized open options
// and the teacher's BackendConfig-as-plain-struct convention rather than a
// flags/viper layer — this engine is embedded, not a standalone server, so
// there is no process to bind command-line flags to (see SPEC_FULL.md's
// Ambient Stack section).
type Options struct {
	// Name is the database's logical name; also the default file name
	// under Dir when BackendFactory is nil.
	Name string
	// Dir is the directory the default bbolt backend stores its file in.
	// Ignored if BackendFactory is set.
	Dir string
	// BackendName distinguishes backend implementations in the process-wide
	// handle registry (spec.md §4.A); defaults to "bolt".
	BackendName string
	// BackendFactory, if set, overrides the default bbolt backend. It is
	// invoked at most once per (BackendName, Name) pair thanks to the
	// registry.
	BackendFactory func() (backend.Backend, error)
	// CreateIfMissing mirrors spec.md §6. DefaultOptions sets it to true;
	// an Options literal that leaves it unset opens existing files only.
	CreateIfMissing bool
	// NoMigrate mirrors spec.md §6. The distilled spec treats pre-existing
	// database migration as external; this engine has no legacy format to
	// migrate from, so NoMigrate is accepted but has no effect, recorded
	// here only so callers porting options structs compile unchanged.
	NoMigrate bool
	// AutoCompaction enables step 6 of the bulk-write pipeline (spec.md
	// §4.D): after every accepted revision, compactable ancestors of the
	// touched document are pruned in the same transaction.
	AutoCompaction bool
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// DefaultOptions returns Options with spec.md §6's documented defaults
// applied (CreateIfMissing: true), following backend.DefaultConfig()'s
// plain-struct-constructor convention. Callers who build an Options{}
// literal directly and want CreateIfMissing should set it explicitly.
func DefaultOptions(name string) Options {
	return Options{Name: name, CreateIfMissing: true}
}

func (o Options) withDefaults() Options {
	if o.BackendName == "" {
		o.BackendName = "bolt"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dir == "" {
		o.Dir = "."
	}
	return o
}

func (o Options) path() string {
	return filepath.Join(o.Dir, o.Name+".lantern")
}
