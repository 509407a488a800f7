package cli

import (
	"context"
	"log"

	"insightgraph/internal/cache"
	"insightgraph/internal/config"
	"insightgraph/internal/extract"
	"insightgraph/internal/graphstore"
	"insightgraph/internal/jobs"
	"insightgraph/internal/kvstore"
	"insightgraph/internal/metrics"
	"insightgraph/internal/model"
	"insightgraph/internal/ratelimit"
	"insightgraph/internal/service"
	"insightgraph/internal/worker"
)

// app holds every wired component. serve runs all of them; worker mode runs
// only the pool.
type app struct {
	cfg     config.Config
	kv      kvstore.Store
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	store   *jobs.Store
	queue   *jobs.Queue
	coord   *service.Coordinator
	pool    *worker.Pool
	graphs  *graphstore.Store // nil when persistence is disabled
	mx      *metrics.Collector
}

func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	kv := dialStore(ctx, cfg)
	mx := metrics.NewCollector()

	limiter := ratelimit.New(kv,
		ratelimit.Window{Limit: cfg.RateLimit.PerIP.Limit, Window: cfg.RateLimit.PerIP.Window.D()},
		ratelimit.Window{Limit: cfg.RateLimit.Global.Limit, Window: cfg.RateLimit.Global.Window.D()},
		cfg.RateLimit.FailOpen)
	resultCache := cache.New(kv, cfg.Cache.TTL.D(), cfg.Cache.LocalSize, cfg.Cache.LocalTTL.D())
	jobStore := jobs.NewStore(kv, cfg.Jobs.TTL.D(), cfg.Worker.MaxAttempts)
	queue := jobs.NewQueue(kv, cfg.Jobs.QueueName)

	extractor, err := buildExtractor(cfg)
	if err != nil {
		return nil, err
	}

	var graphs *graphstore.Store
	if cfg.Graphs.Path != "" {
		graphs, err = graphstore.Open(cfg.Graphs.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("✅ Graph store open at %s", cfg.Graphs.Path)
	}

	var sink worker.GraphSink
	if graphs != nil {
		sink = graphSink{graphs}
	}
	pool := worker.New(jobStore, queue, resultCache, limiter, extractor, sink, mx, worker.Options{
		Count:        cfg.Worker.Count,
		PopTimeout:   cfg.Worker.PopTimeout.D(),
		BackoffBase:  cfg.Worker.BackoffBase.D(),
		Grace:        cfg.Worker.Grace.D(),
		ReapInterval: cfg.Worker.ReapInterval.D(),
		StaleAfter:   cfg.Worker.StaleAfter.D(),
	})

	coord := service.NewCoordinator(limiter, resultCache, jobStore, queue, extractor, mx)

	return &app{
		cfg: cfg, kv: kv, limiter: limiter, cache: resultCache,
		store: jobStore, queue: queue, coord: coord, pool: pool,
		graphs: graphs, mx: mx,
	}, nil
}

func (a *app) close() {
	if a.graphs != nil {
		a.graphs.Close()
	}
	a.kv.Close()
}

// dialStore connects to Redis, falling back to the in-process store so the
// service stays usable on a dev box without one. Shared windows and queues
// need the real thing in production.
func dialStore(ctx context.Context, cfg config.Config) kvstore.Store {
	if cfg.Redis.Memory {
		log.Printf("⚠️ Using in-memory store by configuration; state is process-local")
		return kvstore.NewMemory()
	}
	kv, err := kvstore.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("⚠️ Redis unavailable (%v), falling back to in-memory store", err)
		return kvstore.NewMemory()
	}
	return kv
}

func buildExtractor(cfg config.Config) (extract.Extractor, error) {
	switch cfg.Extractor.Kind {
	case "remote":
		return extract.NewRemote(cfg.Extractor.Endpoint, cfg.Extractor.APIKey, cfg.Extractor.Timeout.D()), nil
	default:
		return extract.NewRuleBased(), nil
	}
}

// graphSink adapts the SQLite store to the worker's persistence hook.
type graphSink struct {
	store *graphstore.Store
}

func (g graphSink) Save(ctx context.Context, jobID, text string, graph *model.Graph) error {
	return g.store.Save(ctx, jobID, text, graph)
}
