package cli

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/roach88/tidemark/internal/config"
	"github.com/roach88/tidemark/internal/dialect"
	"github.com/roach88/tidemark/internal/hwm"
	"github.com/roach88/tidemark/internal/logger"
	"github.com/roach88/tidemark/internal/metrics"
	"github.com/roach88/tidemark/internal/planner"
	"github.com/roach88/tidemark/internal/source"
	"github.com/roach88/tidemark/internal/store"
	"github.com/roach88/tidemark/internal/yamlstore"
)

const (
	defaultSQLitePath = "tidemark.db"
	defaultYAMLDir    = "hwm"
	pushJob           = "tidemark"
)

// recordStore is an HWM store that can also list what it holds.
type recordStore interface {
	hwm.Store
	History(ctx context.Context, id hwm.Identity) ([]hwm.Record, error)
	List(ctx context.Context) ([]hwm.Record, error)
}

// memoryRecords adds listing to a MemoryStore. It keeps no history beyond the
// current value.
type memoryRecords struct {
	*hwm.MemoryStore
}

func (m memoryRecords) History(ctx context.Context, id hwm.Identity) ([]hwm.Record, error) {
	st, err := m.Load(ctx, id)
	if err != nil || st == nil || st.Value == nil {
		return []hwm.Record{}, err
	}
	rec, err := hwm.EncodeState(id, *st)
	if err != nil {
		return nil, err
	}
	return []hwm.Record{rec}, nil
}

func (m memoryRecords) List(ctx context.Context) ([]hwm.Record, error) {
	records := []hwm.Record{}
	for _, id := range m.Identities() {
		history, err := m.History(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, history...)
	}
	return records, nil
}

// openStore opens the HWM store. The kind and path come from the flags (or
// TIDEMARK_* env), then from the config's store section, then the defaults.
func openStore(opts *RootOptions, cfg config.StoreConfig, registry *hwm.Registry) (recordStore, func() error, error) {
	sc := config.StoreConfig{Kind: opts.StoreKind, Path: opts.Store}
	if sc.Kind == "" {
		sc.Kind = cfg.Kind
	}
	if sc.Kind == "" {
		sc.Kind = config.StoreSQLite
	}
	if sc.Path == "" && sc.Kind == cfg.Kind {
		sc.Path = cfg.Path
	}
	if sc.Path == "" {
		switch sc.Kind {
		case config.StoreSQLite:
			sc.Path = defaultSQLitePath
		case config.StoreYAML:
			sc.Path = defaultYAMLDir
		}
	}
	if err := sc.Validate(); err != nil {
		return nil, nil, err
	}

	nop := func() error { return nil }
	switch sc.Kind {
	case config.StoreMemory:
		return memoryRecords{hwm.NewMemoryStore()}, nop, nil
	case config.StoreYAML:
		st, err := yamlstore.New(sc.Path, registry)
		if err != nil {
			return nil, nil, err
		}
		return st, nop, nil
	default:
		st, err := store.Open(sc.Path, registry)
		if err != nil {
			return nil, nil, fmt.Errorf("open hwm store %s: %w", sc.Path, err)
		}
		return st, st.Close, nil
	}
}

// session is everything a command needs to plan the reads of one config.
type session struct {
	cfg     *config.Config
	db      *source.DB
	store   recordStore
	planner *planner.Planner
	metrics *metrics.Metrics
	log     *logger.Logger

	closers []func() error
}

// openSession opens the HWM store and, when withSource is set, the source
// connection used for schema lookups and bound probes.
func openSession(ctx context.Context, opts *RootOptions, cfg *config.Config, withSource bool) (s *session, err error) {
	s = &session{cfg: cfg, log: logger.GetLogger("cli")}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
			s = nil
		}
	}()

	registry := hwm.NewRegistry()
	st, closeStore, err := openStore(opts, cfg.Store, registry)
	if err != nil {
		return s, err
	}
	s.store = st
	s.closers = append(s.closers, closeStore)

	if s.metrics, err = metrics.New(); err != nil {
		return s, err
	}

	pcfg := planner.Config{
		Store:    st,
		Registry: registry,
		Logger:   logger.GetLogger(),
		Metrics:  s.metrics,
		IDs:      opts.IDs,
		Source:   cfg.Source.InstanceName(),
		Process:  opts.Process,
	}
	if withSource {
		if s.db, err = source.Open(ctx, cfg.Source); err != nil {
			return s, err
		}
		s.closers = append(s.closers, s.db.Close)
		pcfg.Dialect = s.db.Dialect()
		pcfg.Schema = s.db
		pcfg.Probe = s.db
	} else if pcfg.Dialect, err = dialect.Lookup(cfg.Source.Dialect); err != nil {
		return s, err
	}

	s.planner, err = planner.New(pcfg)
	return s, err
}

// push sends the session metrics to the Pushgateway, if one is configured.
// Push failures are logged, not returned.
func (s *session) push(ctx context.Context, url string) {
	if url == "" {
		return
	}
	if err := s.metrics.Push(ctx, url, pushJob); err != nil {
		s.log.Warn().Err(err).Msg("metrics push failed")
	}
}

// Close releases the source connection and the store.
func (s *session) Close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	s.closers = nil
	return errs
}
