package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/runlog"
	"github.com/sells-group/placeresolve/internal/serving"
	"github.com/sells-group/placeresolve/internal/venue"
)

// appEnv holds the stores and collectors shared by the commands.
type appEnv struct {
	Pool     *pgxpool.Pool
	Golden   *golden.PostgresStore
	Serving  *serving.PostgresStore
	Venues   *venue.PostgresStore
	Runs     runlog.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// Close releases the run log and the pool.
func (e *appEnv) Close() {
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// initEnv validates the config for mode, connects to Postgres when the mode
// needs it and opens the run log. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, eris.Wrap(err, "register metrics")
	}
	env := &appEnv{Registry: reg, Metrics: m}

	if cfg.Store.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		env.Pool = pool
		env.Golden = golden.NewPostgresStore(pool)
		env.Serving = serving.NewPostgresStore(pool)
		env.Venues = venue.NewPostgresStore(pool)
	}

	runs, err := initRunLog(env.Pool)
	if err != nil {
		env.Close()
		return nil, err
	}
	if err := runs.Migrate(ctx); err != nil {
		_ = runs.Close()
		env.Close()
		return nil, eris.Wrap(err, "migrate run log")
	}
	env.Runs = runs

	return env, nil
}

func initRunLog(pool *pgxpool.Pool) (runlog.Store, error) {
	switch cfg.RunLog.Driver {
	case "sqlite":
		return runlog.NewSQLite(cfg.RunLog.Path)
	case "postgres":
		if pool == nil {
			return nil, eris.New("postgres run log requires store.database_url")
		}
		return runlog.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported run log driver: %s", cfg.RunLog.Driver)
	}
}
