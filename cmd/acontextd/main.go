package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"goa.design/acontext/features/convert/anthropic"
	"goa.design/acontext/features/convert/gemini"
	"goa.design/acontext/features/convert/openai"
	mongostore "goa.design/acontext/features/store/mongo"
	clientsmongo "goa.design/acontext/features/store/mongo/clients/mongo"
	anthropictokens "goa.design/acontext/features/tokens/anthropic"
	"goa.design/acontext/features/tokens/ratelimit"
	redistokens "goa.design/acontext/features/tokens/redis"
	"goa.design/acontext/runtime/config"
	"goa.design/acontext/runtime/convert"
	"goa.design/acontext/runtime/editing"
	"goa.design/acontext/runtime/service"
	"goa.design/acontext/runtime/store"
	"goa.design/acontext/runtime/store/inmem"
	"goa.design/acontext/runtime/telemetry"
	"goa.design/acontext/runtime/tokens"
)

func main() {
	var (
		configF = flag.String("config", "", "Path to the YAML configuration file")
		addrF   = flag.String("http-addr", "", "HTTP listen address (overrides http_addr)")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *addrF != "" {
		cfg.HTTPAddr = *addrF
	}
	dbg := *dbgF || cfg.Debug
	if dbg {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTPAddr}, log.KV{K: "store", V: cfg.Store.Kind}, log.KV{K: "counter", V: cfg.Tokens.Counter})

	tel := telemetry.Clue()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Backends.
	var (
		st      store.Store
		pingers []health.Pinger
		rdb     *redis.Client
	)
	{
		switch cfg.Store.Kind {
		case config.StoreMongo:
			mc, err := mongo.Connect(options.Client().ApplyURI(cfg.Store.MongoURI))
			if err != nil {
				log.Fatalf(ctx, err, "failed to connect to MongoDB")
			}
			defer func() { _ = mc.Disconnect(context.Background()) }()
			ms, err := mongostore.NewStoreFromMongo(clientsmongo.Options{
				Client:     mc,
				Database:   cfg.Store.Database,
				Collection: cfg.Store.Collection,
				Timeout:    cfg.Store.Timeout,
			})
			if err != nil {
				log.Fatalf(ctx, err, "failed to initialize the mongo store")
			}
			st = ms
			pingers = append(pingers, ms.Client())
		default:
			st = inmem.New()
		}
		if cfg.Tokens.RedisAddr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Tokens.RedisAddr})
			defer func() { _ = rdb.Close() }()
			pingers = append(pingers, redisPinger{rdb})
		}
	}

	counter, closeCounter := newCounter(ctx, cfg.Tokens, rdb)
	defer closeCounter()

	var presets editing.Presets
	if cfg.PresetsFile != "" {
		f, err := os.Open(cfg.PresetsFile)
		if err != nil {
			log.Fatalf(ctx, err, "failed to open presets")
		}
		presets, err = editing.LoadPresets(f)
		_ = f.Close()
		if err != nil {
			log.Fatalf(ctx, err, "failed to load presets from %s", cfg.PresetsFile)
		}
		log.Printf(ctx, "loaded %d edit strategy presets", len(presets))
	}

	// Initialize the service.
	var svc *service.Service
	{
		svc, err = service.New(service.Options{
			Store:      st,
			Converters: convert.NewRegistry(convert.NewCanonical(), openai.New(), anthropic.New(), gemini.New()),
			Pipeline:   editing.New(counter, editing.WithTelemetry(tel)),
			Presets:    presets,
			Telemetry:  tel,
		})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create service")
		}
	}

	endpoints := service.NewEndpoints(svc)
	endpoints.Use(debug.LogPayloads())
	endpoints.Use(log.Endpoint)

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	handleHTTPServer(ctx, cfg.HTTPAddr, endpoints, health.NewChecker(pingers...), &wg, errc, dbg)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// newCounter builds the token counter chain: the estimator, or the Anthropic
// counter behind an adaptive rate limiter, optionally behind a Redis cache.
// The returned function releases the shared rate budget.
func newCounter(ctx context.Context, cfg config.Tokens, rdb *redis.Client) (tokens.Counter, func()) {
	var (
		counter tokens.Counter = tokens.NewEstimator()
		release                = func() {}
		ns                     = "estimate"
	)
	if cfg.Counter == config.CounterAnthropic {
		ac, err := anthropictokens.NewFromAPIKey(os.Getenv(cfg.Anthropic.APIKeyEnv), cfg.Anthropic.Model)
		if err != nil {
			log.Fatalf(ctx, err, "failed to create the anthropic token counter")
		}
		var budget *rmap.Map
		if cfg.Anthropic.SharedBudget != "" && rdb != nil {
			budget, err = rmap.Join(ctx, cfg.Anthropic.SharedBudget, rdb)
			if err != nil {
				log.Fatalf(ctx, err, "failed to join shared rate budget %q", cfg.Anthropic.SharedBudget)
			}
			release = budget.Close
		}
		limiter := ratelimit.New(ctx, budget, cfg.Anthropic.Model, cfg.Anthropic.RPM, cfg.Anthropic.MaxRPM)
		counter = limiter.Wrap(ac)
		ns = "anthropic:" + cfg.Anthropic.Model
	}
	if rdb != nil {
		cached, err := redistokens.New(rdb, counter, redistokens.Options{Namespace: ns, TTL: cfg.CacheTTL})
		if err != nil {
			log.Fatalf(ctx, err, "failed to create the token cache")
		}
		counter = cached
	}
	return counter, release
}

// redisPinger reports the health of the Redis server backing the token cache
// and the shared rate budget.
type redisPinger struct{ rdb *redis.Client }

func (redisPinger) Name() string { return "redis" }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
