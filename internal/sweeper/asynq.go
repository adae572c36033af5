package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeSweep is the asynq task type of a sweep.
const TaskTypeSweep = "tradeauth:sweep_refresh_tokens"

const sweepQueue = "maintenance"

// AsynqConfig controls the distributed sweeper.
type AsynqConfig struct {
	Redis asynq.RedisConnOpt
	// Cronspec is an asynq schedule such as "@every 10m".
	Cronspec string
	// UniqueFor suppresses duplicate sweep tasks enqueued by other replicas.
	UniqueFor time.Duration
}

// Asynq runs a scheduler and a worker for sweep tasks. Every replica may run
// one; the unique option keeps at most one sweep task pending.
type Asynq struct {
	target    Target
	logger    *slog.Logger
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
}

func NewAsynq(cfg AsynqConfig, target Target, logger *slog.Logger) (*Asynq, error) {
	if target == nil {
		return nil, errors.New("sweeper: nil target")
	}
	if cfg.Redis == nil {
		return nil, errors.New("sweeper: redis connection required")
	}
	if cfg.Cronspec == "" {
		cfg.Cronspec = "@every 10m"
	}
	if cfg.UniqueFor <= 0 {
		cfg.UniqueFor = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Asynq{
		target: target,
		logger: logger,
		scheduler: asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{
			LogLevel: asynq.WarnLevel,
		}),
		server: asynq.NewServer(cfg.Redis, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{sweepQueue: 1},
			LogLevel:    asynq.WarnLevel,
		}),
		mux: asynq.NewServeMux(),
	}

	task := asynq.NewTask(TaskTypeSweep, nil)
	if _, err := a.scheduler.Register(cfg.Cronspec, task,
		asynq.Queue(sweepQueue),
		asynq.Unique(cfg.UniqueFor),
		asynq.MaxRetry(0),
	); err != nil {
		return nil, fmt.Errorf("sweeper: register schedule: %w", err)
	}
	a.mux.HandleFunc(TaskTypeSweep, a.HandleSweep)

	return a, nil
}

// HandleSweep is the asynq handler for TaskTypeSweep.
func (a *Asynq) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	_, err := sweepOnce(ctx, a.target, a.logger)
	return err
}

// Start runs the scheduler and worker in the background.
func (a *Asynq) Start() error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("sweeper: start scheduler: %w", err)
	}
	if err := a.server.Start(a.mux); err != nil {
		a.scheduler.Shutdown()
		return fmt.Errorf("sweeper: start worker: %w", err)
	}
	return nil
}

func (a *Asynq) Shutdown() {
	a.scheduler.Shutdown()
	a.server.Shutdown()
}
