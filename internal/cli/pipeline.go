package cli

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/engine"
	"github.com/roach88/referral/internal/events"
	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/store"
)

// StoreOptions holds the database flag shared by store-backed commands.
type StoreOptions struct {
	*RootOptions
	Database string
}

func addDatabaseFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVar(path, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
}

// openStore opens (creating if needed) the database named by --db.
func openStore(formatter *OutputFormatter, path string) (*store.Store, func(), error) {
	slog.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, formatter.Fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	closeFn := func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}
	return st, closeFn, nil
}

// pipeline wires the record source, the rule engine and the aggregator
// over one store.
type pipeline struct {
	store      *store.Store
	agg        *aggregate.Aggregator
	engine     *engine.Engine
	source     *events.Source
	dispatcher *events.Dispatcher // nil unless async
	metrics    *metrics.Metrics
}

// newPipeline builds the components around st. With async the source
// publishes into a Dispatcher whose Run loop feeds the engine; otherwise
// the engine runs inline after each commit. reg may be nil when metrics
// are not exported.
func newPipeline(st *store.Store, reg prometheus.Registerer, async bool) *pipeline {
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	p := &pipeline{store: st, metrics: m}
	p.agg = aggregate.New(aggregate.WithMetrics(m))
	p.engine = engine.New(st, p.agg, engine.WithMetrics(m))

	var handler events.Handler = p.engine
	if async {
		p.dispatcher = events.NewDispatcher(p.engine, events.WithDispatcherMetrics(m))
		handler = p.dispatcher
	}
	p.source = events.NewSource(st, p.agg, handler)
	return p
}
