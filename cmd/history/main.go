package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/ntentasd/nostradamus-history/internal/cache"
	"github.com/ntentasd/nostradamus-history/internal/config"
	"github.com/ntentasd/nostradamus-history/internal/db"
	"github.com/ntentasd/nostradamus-history/internal/history"
	"github.com/ntentasd/nostradamus-history/internal/kafka"
	"github.com/ntentasd/nostradamus-history/internal/pipeline"
	"github.com/ntentasd/nostradamus-history/internal/routes"
	"github.com/ntentasd/nostradamus-history/internal/topology"
	"github.com/ntentasd/nostradamus-history/internal/tracing"
	"github.com/ntentasd/nostradamus-history/internal/window"
	"github.com/ntentasd/nostradamus-history/internal/worker"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const serviceName = "nostradamus-history"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(os.Stdout).
		Level(cfg.LogLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("history service failed")
	}
}

type repositories struct {
	raw        *db.Repository[types.ActivePowerRecord]
	aggregated *db.Repository[types.AggregatedActivePowerRecord]
	windowed   map[string]*db.Repository[types.WindowedActivePowerRecord]
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, serviceName, cfg.TempoEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	repos, err := openRepositories(ctx, store, cfg.TimeWindows, logger)
	if err != nil {
		return err
	}

	c := openCache(cfg, logger)
	if c != nil {
		defer c.Close()
	}

	app := routes.New(repos.raw, repos.aggregated, repos.windowed, c, logger)
	app.CORS = cfg.WebserverCORS
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           routes.NewMux(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn().Msg("no Kafka brokers configured, serving the read API only")
		return g.Wait()
	}

	st, err := startStreaming(gctx, g, cfg, repos, c, logger)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	err = g.Wait()
	st.shutdown(logger)
	return err
}

func openStore(cfg *config.Config, logger zerolog.Logger) (db.Session, error) {
	if len(cfg.ScyllaNodes) == 0 {
		logger.Warn().Msg("no Scylla nodes configured, using the in-memory store")
		return db.NewMemory(), nil
	}

	store, err := db.Connect(cfg.ScyllaNodes, cfg.ScyllaKeyspace, 10*time.Second)
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("nodes", cfg.ScyllaNodes).Str("keyspace", cfg.ScyllaKeyspace).Msg("connected to scylla")
	return store, nil
}

func openRepositories(ctx context.Context, store db.Session, windows []types.WindowConfig, logger zerolog.Logger) (*repositories, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repos := &repositories{
		raw:        db.NewRepository(store, db.ActivePower(), logger),
		aggregated: db.NewRepository(store, db.AggregatedActivePower(), logger),
		windowed:   make(map[string]*db.Repository[types.WindowedActivePowerRecord], len(windows)),
	}
	if err := repos.raw.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	if err := repos.aggregated.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	for _, wc := range windows {
		repo := db.NewRepository(store, db.WindowedActivePower(wc), logger)
		if err := repo.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
		repos.windowed[wc.Name] = repo
	}
	return repos, nil
}

// openCache prefers Valkey and falls back to Memcached. It returns nil if
// neither is configured.
func openCache(cfg *config.Config, logger zerolog.Logger) cache.Cache {
	addrs, err := cache.ResolveValkeyAddrs(cfg.ValkeyNodes, cfg.ValkeyService)
	switch {
	case err == nil:
		logger.Info().Strs("addrs", addrs).Msg("using valkey cache")
		return cache.NewValkey(addrs)
	case !errors.Is(err, cache.ErrNoValkeyDiscovery):
		logger.Warn().Err(err).Msg("valkey discovery failed")
	}

	if cfg.MemcachedAddr != "" {
		logger.Info().Str("addr", cfg.MemcachedAddr).Msg("using memcached cache")
		return cache.NewMemcached(cfg.MemcachedAddr)
	}

	logger.Warn().Msg("no cache configured, aggregation state is kept in memory only")
	return nil
}

// loadTopology fills proxy from the topology file and reloads it on SIGHUP.
func loadTopology(ctx context.Context, path string, proxy *topology.Proxy, logger zerolog.Logger) error {
	if path == "" {
		logger.Warn().Msg("no topology file configured, all readings will be dropped")
		return nil
	}

	reg, err := topology.Load(path)
	if err != nil {
		return err
	}
	proxy.Set(reg)
	logger.Info().Str("file", path).Int("sensors", reg.MachineSensors()).Msg("topology loaded")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reg, err := topology.Load(path)
				if err != nil {
					logger.Error().Err(err).Msg("topology reload failed, keeping the previous one")
					continue
				}
				proxy.Set(reg)
				logger.Info().Int("sensors", reg.MachineSensors()).Msg("topology reloaded")
			}
		}
	}()
	return nil
}

type streaming struct {
	runner       *kafka.Runner
	emitter      *kafka.Emitter
	pipeline     *pipeline.Pipeline
	writer       *history.Writer
	checkpointer *worker.Checkpointer
}

func startStreaming(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	repos *repositories,
	c cache.Cache,
	logger zerolog.Logger,
) (*streaming, error) {
	kcfg := kafka.NewConfig("history")
	topics := []string{cfg.KafkaInputTopic, cfg.KafkaOutputTopic}

	admin, err := sarama.NewClusterAdmin(cfg.KafkaBrokers, kcfg)
	if err != nil {
		return nil, fmt.Errorf("kafka admin: %w", err)
	}
	specs := make([]kafka.TopicSpec, 0, len(topics))
	for _, t := range topics {
		specs = append(specs, kafka.TopicSpec{
			Name:              t,
			Partitions:        cfg.KafkaTopicPartitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
		})
	}
	err = kafka.EnsureTopics(admin, specs, logger)
	admin.Close()
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.KafkaBrokers, kcfg)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	err = kafka.WaitForTopics(ctx, client, topics, 5*time.Second, logger)
	client.Close()
	if err != nil {
		return nil, err
	}

	proxy := &topology.Proxy{}
	if err := loadTopology(ctx, cfg.TopologyFile, proxy, logger); err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, kcfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	s := &streaming{emitter: kafka.NewEmitter(producer, cfg.KafkaOutputTopic)}

	var snapshots pipeline.Snapshots
	if c != nil {
		snapshots = c
	}
	s.pipeline = pipeline.New(pipeline.Config{
		Workers:   cfg.PipelineWorkers,
		QueueSize: cfg.PipelineQueueSize,
	}, proxy, s.emitter, snapshots, logger)
	// workers keep draining after the signal
	s.pipeline.Start(context.WithoutCancel(ctx))

	windows := make([]history.Windowed, 0, len(cfg.TimeWindows))
	for _, wc := range cfg.TimeWindows {
		windows = append(windows, history.Windowed{
			Windower: window.New(wc, logger),
			Repo:     repos.windowed[wc.Name],
		})
	}
	s.writer = history.NewWriter(repos.raw, repos.aggregated, windows, s.pipeline, logger)

	group, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaGroupID, kcfg)
	if err != nil {
		s.pipeline.Close()
		s.emitter.Close()
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	s.runner = kafka.NewRunner(group, map[string]kafka.Handler{
		cfg.KafkaInputTopic: func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			return s.writer.HandleRaw(ctx, msg.Value)
		},
		cfg.KafkaOutputTopic: func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			return s.writer.HandleAggregated(ctx, msg.Value)
		},
	}, logger)

	s.checkpointer = worker.NewCheckpointer(s.pipeline, cfg.CheckpointInterval, logger)
	s.checkpointer.Start(ctx)

	g.Go(func() error {
		return s.runner.Run(ctx)
	})
	return s, nil
}

// shutdown stops consuming, persists the aggregation states after the
// queued readings were applied and flushes the open windows.
func (s *streaming) shutdown(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.runner.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing consumer group failed")
	}
	s.checkpointer.Stop()

	if err := s.pipeline.Checkpoint(ctx); err != nil {
		logger.Error().Err(err).Msg("final checkpoint failed")
	}
	s.pipeline.Close()

	if err := s.writer.Flush(ctx); err != nil {
		logger.Error().Err(err).Msg("flushing windows failed")
	}
	if err := s.emitter.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing producer failed")
	}
	logger.Info().Msg("streaming stopped")
}
