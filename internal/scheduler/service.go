package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentcron/internal/engine"
	"agentcron/internal/eventbus"
	"agentcron/internal/output"
	"agentcron/internal/registry"
)

// Config controls the scheduler loop.
type Config struct {
	Timezone     string        // IANA TZ for fire-time computation; "" = local
	GraceTimeout time.Duration // drain budget on Stop; 0 = 30s
}

// Service coordinates the registry, engine and output dispatcher.
type Service struct {
	cfg Config
	reg *registry.Registry
	eng *engine.Engine
	out *output.Dispatcher
	bus eventbus.Bus
	log *slog.Logger
	loc *time.Location

	mu      sync.Mutex
	running bool
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	// execCtx outlives the loop context so in-flight executions can drain
	// gracefully after Stop; execCancel forces them down when the grace
	// period expires.
	execCtx    context.Context
	execCancel context.CancelFunc
	inflight   sync.WaitGroup
}

func New(cfg Config, reg *registry.Registry, eng *engine.Engine, out *output.Dispatcher, bus eventbus.Bus, log *slog.Logger) *Service {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid timezone; falling back to Local", slog.String("tz", tz), slog.Any("err", err))
		}
	}
	return &Service{
		cfg:  cfg,
		reg:  reg,
		eng:  eng,
		out:  out,
		bus:  bus,
		log:  log,
		loc:  loc,
		wake: make(chan struct{}, 1),
	}
}

// Start launches the scheduler loop. It is an error to start twice.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.execCtx, s.execCancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx)
	s.log.Info("scheduler started", slog.Int("jobs", s.reg.Len()), slog.String("tz", s.loc.String()))
	return nil
}

// Stop halts dispatching and drains in-flight executions. Executions still
// running when the grace period (or ctx) expires have their contexts
// canceled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	execCancel := s.execCancel
	s.mu.Unlock()

	cancel()
	<-done

	grace := s.cfg.GraceTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Info("scheduler stopped, all executions drained")
	case <-time.After(grace):
		s.log.Warn("grace period expired, canceling in-flight executions", slog.Duration("grace", grace))
		execCancel()
		<-drained
	case <-ctx.Done():
		s.log.Warn("stop context canceled, canceling in-flight executions")
		execCancel()
		<-drained
	}
	execCancel()
}

// wakeLoop nudges the loop to recompute its sleep deadline.
func (s *Service) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) now() time.Time { return time.Now().In(s.loc) }
