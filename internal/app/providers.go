package app

import (
	"fmt"
	"log/slog"

	"github.com/sirupsen/logrus"

	"brokle/internal/config"
	"brokle/internal/core/services/cost"
	"brokle/internal/core/services/persistence"
	"brokle/internal/core/services/security"
	"brokle/internal/infrastructure/database"
	"brokle/internal/infrastructure/eventbus"
	"brokle/internal/infrastructure/keydirectory"
	"brokle/internal/infrastructure/repository/columnar"
	"brokle/internal/transport/http/handlers/health"
	"brokle/internal/transport/http/handlers/ingress"
	"brokle/internal/transport/http/middleware"
	"brokle/internal/transport/ws"
)

// DeploymentMode selects which of the two process shapes §5 describes an
// App instance runs as.
type DeploymentMode string

const (
	ModeServer DeploymentMode = "server"
	ModeWorker DeploymentMode = "worker"
)

// WorkerRole selects which single consumer a worker process runs, per §5's
// "cmd/worker --role=persistence|security|cost|broadcast" contract.
type WorkerRole string

const (
	RolePersistence WorkerRole = "persistence"
	RoleSecurity    WorkerRole = "security"
	RoleCost        WorkerRole = "cost"
	RoleBroadcast   WorkerRole = "broadcast"
)

// DatabaseContainer holds the three backing-store connections §4's modules
// are built on: Redis (EventBus), Postgres (metadata store), ClickHouse
// (columnar store).
type DatabaseContainer struct {
	Redis      *database.RedisDB
	Postgres   *database.PostgresDB
	ClickHouse *database.ClickHouseDB
}

// Close tears down every connection, collecting (not short-circuiting on)
// individual failures, following the teacher's DatabaseContainer.Close
// aggregate-error shape.
func (d *DatabaseContainer) Close() error {
	var errs []error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if d.Postgres != nil {
		if err := d.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if d.ClickHouse != nil {
		if err := d.ClickHouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("database shutdown errors: %v", errs)
}

// HealthCheck reports each connection's liveness, used by App.Health.
func (d *DatabaseContainer) HealthCheck() map[string]string {
	status := make(map[string]string, 3)
	check := func(name string, err error) {
		if err != nil {
			status[name] = "unhealthy: " + err.Error()
			return
		}
		status[name] = "healthy"
	}
	check("redis", d.Redis.Health())
	check("postgres", d.Postgres.Health())
	check("clickhouse", d.ClickHouse.Health())
	return status
}

// CoreContainer holds every shared dependency both the server and worker
// processes are built from: the connections, the EventBus, KeyDirectory,
// and the three columnar repositories.
type CoreContainer struct {
	Databases    *DatabaseContainer
	EventBus     eventbus.EventBus
	KeyDirectory *keydirectory.KeyDirectory
	SpanRepo     *columnar.SpanRepository
	AlertRepo    *columnar.AlertRepository
	CostRepo     *columnar.CostMetricRepository
	Logger       *logrus.Logger
}

// keyDirectoryCacheSize bounds KeyDirectory's verified-key fast-path cache.
const keyDirectoryCacheSize = 10_000

// ProvideCore wires the connections and the shared domain components every
// mode depends on, following the teacher's ProvideCore staged-construction
// shape (connect, then build domain components on top). slogLogger backs
// the GORM-facing PostgresDB (which follows the teacher's newer slog
// convention); logger backs every other component, matching the
// logrus-based worker-loop logging the rest of the pipeline uses.
func ProvideCore(cfg *config.Config, logger *logrus.Logger, slogLogger *slog.Logger) (*CoreContainer, error) {
	redisDB, err := database.NewRedisDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect eventbus redis: %w", err)
	}

	postgresDB, err := database.NewPostgresDB(cfg, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect metadata store postgres: %w", err)
	}

	clickhouseDB, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect columnar store clickhouse: %w", err)
	}

	databases := &DatabaseContainer{Redis: redisDB, Postgres: postgresDB, ClickHouse: clickhouseDB}

	bus := eventbus.NewRedisEventBus(redisDB.Client, logger, cfg.EventBus.StreamMaxLen)

	metadataStore := keydirectory.NewGormMetadataStore(postgresDB.DB)
	directory, err := keydirectory.New(metadataStore, keyDirectoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key directory: %w", err)
	}

	return &CoreContainer{
		Databases:    databases,
		EventBus:     bus,
		KeyDirectory: directory,
		SpanRepo:     columnar.NewSpanRepository(clickhouseDB.Conn),
		AlertRepo:    columnar.NewAlertRepository(clickhouseDB.Conn),
		CostRepo:     columnar.NewCostMetricRepository(clickhouseDB.Conn),
		Logger:       logger,
	}, nil
}

// ServerContainer holds everything NewServer assembles on top of
// CoreContainer: the Ingress handler, the API-key auth middleware, and the
// /health + /ready handler.
type ServerContainer struct {
	Ingress    *ingress.Handler
	KeyAuth    *middleware.KeyAuthMiddleware
	Health     *health.Handler
	BroadcastHub *ws.Hub
}

// ProvideServer wires Ingress and the health handler on top of a
// CoreContainer. The BroadcastHub runs its consumer loop in a dedicated
// worker process (role=broadcast per §5), but the server process also holds
// a reference so it can serve the WebSocket upgrade endpoint and fan alerts
// out to subscribers connected to *this* process.
func ProvideServer(cfg *config.Config, core *CoreContainer) *ServerContainer {
	ingressHandler := ingress.NewHandler(core.EventBus, core.Logger, ingress.Config{
		MaxBodyBytes: cfg.Ingress.MaxBodyBytes,
	})

	keyAuth := middleware.NewKeyAuthMiddleware(core.KeyDirectory)

	hub := ws.NewHub(core.EventBus, core.Logger, "broadcast-server")

	healthHandler := health.NewHandler(core.KeyDirectory, core.EventBus)

	return &ServerContainer{
		Ingress:      ingressHandler,
		KeyAuth:      keyAuth,
		Health:       healthHandler,
		BroadcastHub: hub,
	}
}

// WorkerContainer holds exactly one of the four consumer components,
// selected by WorkerRole, per §5.
type WorkerContainer struct {
	Role        WorkerRole
	Writer      *persistence.Writer
	Analyzer    *security.Analyzer
	Aggregator  *cost.Aggregator
	BroadcastHub *ws.Hub
}

// ProvideWorker builds the single consumer component role selects.
func ProvideWorker(cfg *config.Config, core *CoreContainer, role WorkerRole, consumerName string) (*WorkerContainer, error) {
	switch role {
	case RolePersistence:
		writer := persistence.NewWriter(core.EventBus, core.SpanRepo, core.Logger, persistence.Config{
			ConsumerName:   consumerName,
			FlushBatchSize: cfg.Worker.BatchSize,
			FlushInterval:  cfg.Worker.FlushInterval,
			RetryBudget:    cfg.ColumnarStore.InsertRetryBudget,
		})
		return &WorkerContainer{Role: role, Writer: writer}, nil

	case RoleSecurity:
		analyzer := security.NewAnalyzer(core.EventBus, core.AlertRepo, core.Logger, consumerName)
		return &WorkerContainer{Role: role, Analyzer: analyzer}, nil

	case RoleCost:
		aggregator := cost.NewAggregator(core.EventBus, core.CostRepo, cost.NewPriceTable(), core.Logger, consumerName)
		return &WorkerContainer{Role: role, Aggregator: aggregator}, nil

	case RoleBroadcast:
		hub := ws.NewHub(core.EventBus, core.Logger, consumerName)
		return &WorkerContainer{Role: role, BroadcastHub: hub}, nil

	default:
		return nil, fmt.Errorf("unknown worker role %q", role)
	}
}
