package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/db"
	"github.com/sells-group/cma-engine/internal/deepening"
	"github.com/sells-group/cma-engine/internal/market"
	"github.com/sells-group/cma-engine/internal/pipeline"
	"github.com/sells-group/cma-engine/internal/provider"
	"github.com/sells-group/cma-engine/internal/resilience"
	"github.com/sells-group/cma-engine/internal/session"
	"github.com/sells-group/cma-engine/internal/store"
	"github.com/sells-group/cma-engine/internal/valuation"
)

// analysisEnv holds the store, session backend, providers and pipeline
// needed by the analyze and serve commands.
type analysisEnv struct {
	Store    store.Store
	Sessions session.Store
	Breakers *resilience.Registry
	Pipeline *pipeline.Pipeline

	redis  *session.Redis
	market *pgxpool.Pool
}

// Close waits for background recording and releases every connection.
func (e *analysisEnv) Close() {
	if e.Pipeline != nil {
		e.Pipeline.Wait()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.market != nil {
		e.market.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, session backend, market database and all API
// clients, and builds the Pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*analysisEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &analysisEnv{}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if err := initSessions(ctx, env); err != nil {
		env.Close()
		return nil, err
	}

	var markets provider.MarketRepository
	if cfg.Market.DatabaseURL != "" {
		repo, pool, err := initMarket(ctx)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.market = pool
		markets = repo
	}

	env.Breakers = provider.NewRegistry(cfg.Breaker)
	providers := provider.Build(cfg, env.Breakers, st, markets)

	env.Pipeline = pipeline.New(cfg.Pipeline, env.Sessions,
		deepening.NewEngine(st, cfg.Deepening),
		providers,
		pipeline.WithArchive(st),
		pipeline.WithValuation(valuation.New(cfg.Valuation)),
	)

	zap.L().Info("analysis environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("sessions", cfg.Session.Backend),
		zap.Bool("market", markets != nil),
	)
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cma.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, eris.Wrap(err, "connect store")
		}
		return store.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSessions(ctx context.Context, env *analysisEnv) error {
	if cfg.Session.Backend != "redis" {
		env.Sessions = session.NewMemory(cfg.Session)
		return nil
	}

	r := session.NewRedis(session.NewRedisClient(cfg.Session.Redis), cfg.Session.TTL)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return eris.Wrap(err, "connect session redis")
	}
	env.redis = r
	env.Sessions = r
	return nil
}

func initMarket(ctx context.Context) (*market.Repository, *pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.Market.DatabaseURL, cfg.Store.Pool)
	if err != nil {
		return nil, nil, eris.Wrap(err, "connect market database")
	}
	return market.New(pool, market.Config{
		MaxComparables: cfg.Market.MaxComparables,
		AreaTolerance:  cfg.Market.AreaTolerance,
	}), pool, nil
}
