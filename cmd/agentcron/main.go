package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"agentcron/internal/agent"
	"agentcron/internal/config"
	"agentcron/internal/engine"
	"agentcron/internal/eventbus"
	"agentcron/internal/logging"
	"agentcron/internal/notify"
	"agentcron/internal/output"
	"agentcron/internal/registry"
	"agentcron/internal/scheduler"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to scheduler config (yaml or json)")
		list    = flag.Bool("list", false, "print the configured jobs and exit")
		runJob  = flag.String("run", "", "run one job immediately and exit")
		history = flag.String("history", "", "print recent hub sessions for a job and exit")
		daemon  = flag.Bool("daemon", false, "run the scheduler loop until interrupted")
		verbose = flag.Bool("verbose", false, "force debug logging")
	)
	flag.Parse()

	if err := run(*cfgPath, *list, *runJob, *history, *daemon, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, list bool, runJob, history string, daemon, verbose bool) error {
	_ = godotenv.Load()

	if cfgPath == "" {
		p, err := config.FindDefault()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logging.New(cfg.Logging, verbose)
	defer logSvc.Close()

	app, err := build(cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	jobs, err := config.BuildJobs(cfg)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := app.sched.AddJob(job); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case list:
		printJobs(app.sched.Snapshot())
		return nil
	case runJob != "":
		log.Info("running job once", slog.String("job", runJob))
		return app.sched.RunOnce(ctx, runJob)
	case history != "":
		return printHistory(ctx, app, jobs, history)
	case daemon:
		return runDaemon(ctx, cfgPath, app, logSvc, log)
	default:
		// No mode flag: behave like -daemon, matching cron-alike expectations.
		return runDaemon(ctx, cfgPath, app, logSvc, log)
	}
}

// app bundles the wired components so modes share one construction path.
type app struct {
	sched *scheduler.Service
	store *agent.Store
	bus   eventbus.Bus
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func build(cfg *config.Config, log *slog.Logger) (*app, error) {
	bus := eventbus.New()

	var store *agent.Store
	if cfg.Hub.SessionDB != "" {
		s, err := agent.OpenStore(cfg.Hub.SessionDB)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		store = s
	}

	hubTimeout, err := config.ParseDurationField("hub.timeout", cfg.Hub.Timeout)
	if err != nil {
		return nil, err
	}
	defs := config.BuildDefinitions(cfg)
	defList := make([]agent.Definition, 0, len(defs))
	for _, d := range defs {
		defList = append(defList, d)
	}
	hub, err := agent.NewHubClient(agent.HubConfig{
		URL:     cfg.Hub.URL,
		Token:   cfg.Hub.ResolveToken(),
		Timeout: hubTimeout,
	}, defList, store, log)
	if err != nil {
		return nil, err
	}

	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	defaultTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	grace, err := config.ParseDurationField("scheduler.grace_timeout", cfg.Scheduler.GraceTimeout)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{DefaultTimeout: defaultTimeout}, hub, notifier, bus, log)
	out := output.NewDispatcher(log)
	reg := registry.New()
	sched := scheduler.New(scheduler.Config{
		Timezone:     cfg.Timezone,
		GraceTimeout: grace,
	}, reg, eng, out, bus, log)

	return &app{sched: sched, store: store, bus: bus}, nil
}

func buildNotifier(cfg *config.Config, log *slog.Logger) (*notify.Service, error) {
	if cfg.Notify == nil {
		return notify.NewService(log, 0), nil
	}
	var channels []notify.Notifier
	if tg := cfg.Notify.Telegram; tg != nil {
		t, err := notify.NewTelegram(notify.TelegramConfig{Token: tg.ResolveToken(), ChatID: tg.ChatID})
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		channels = append(channels, t)
	}
	if wh := cfg.Notify.Webhook; wh != nil {
		timeout, err := config.ParseDurationField("notify.webhook.timeout", wh.Timeout)
		if err != nil {
			return nil, err
		}
		w, err := notify.NewWebhook(notify.WebhookConfig{URL: wh.URL, Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("webhook notifier: %w", err)
		}
		channels = append(channels, w)
	}
	return notify.NewService(log, cfg.Notify.RatePerMin, channels...), nil
}

func runDaemon(ctx context.Context, cfgPath string, a *app, logSvc *logging.Service, log *slog.Logger) error {
	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	go reportEvents(ctx, a.bus, log)

	watcher := config.NewWatcher(cfgPath, log, func(next *config.Config) {
		logSvc.Apply(next.Logging)
		jobs, err := config.BuildJobs(next)
		if err != nil {
			log.Error("reload: job build failed, keeping previous job set", slog.Any("err", err))
			return
		}
		a.sched.ApplyJobs(jobs)
	})
	go watcher.Run(ctx)

	if sent, err := sdaemon.SdNotify(false, sdaemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify unavailable", slog.Any("err", err))
	} else if sent {
		log.Debug("sd_notify ready sent")
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	a.sched.Stop(stopCtx)
	return nil
}

// reportEvents mirrors job lifecycle events into the systemd status line so
// `systemctl status` shows the last outcome without reading logs.
func reportEvents(ctx context.Context, bus eventbus.Bus, log *slog.Logger) {
	ch, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			status := eventStatus(ev)
			if status == "" {
				continue
			}
			if _, err := sdaemon.SdNotify(false, "STATUS="+status); err != nil {
				log.Debug("sd_notify status failed", slog.Any("err", err))
			}
		}
	}
}

// eventStatus renders a job lifecycle event as a one-line status, or "" for
// event types that don't change the headline.
func eventStatus(ev eventbus.Event) string {
	je, ok := ev.Data.(eventbus.JobEvent)
	if !ok {
		return ""
	}
	switch ev.Type {
	case eventbus.JobFinished:
		return fmt.Sprintf("last run: %s ok in %s", je.Name, je.Duration.Round(time.Millisecond))
	case eventbus.JobFailed:
		return fmt.Sprintf("last run: %s failed: %s", je.Name, je.Error)
	case eventbus.JobDisabled:
		return fmt.Sprintf("job %s disabled: %s", je.Name, je.Error)
	default:
		return ""
	}
}

func printHistory(ctx context.Context, a *app, jobs []*registry.Job, name string) error {
	var target string
	for _, j := range jobs {
		if j.Name == name {
			target = j.Target.String()
			break
		}
	}
	if target == "" {
		return fmt.Errorf("unknown job %q", name)
	}
	if a.store == nil {
		return fmt.Errorf("hub.session_db is not configured")
	}
	runs, err := a.store.RecentRuns(ctx, target, 20)
	if err != nil {
		return err
	}
	fmt.Print(formatHistory(target, runs))
	return nil
}

func formatHistory(target string, runs []agent.RunSession) string {
	var b strings.Builder
	if len(runs) == 0 {
		fmt.Fprintf(&b, "no recorded sessions for %s\n", target)
		return b.String()
	}
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tCHARS\tRESULT")
	for _, r := range runs {
		result := "ok"
		if r.Error != "" {
			result = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			r.Started.Format("2006-01-02 15:04:05"),
			r.Finished.Sub(r.Started).Round(time.Second),
			r.Chars, result)
	}
	w.Flush()
	return b.String()
}

func printJobs(jobs []scheduler.JobStatus) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tTARGET\tOUTPUT\tNEXT FIRE\tSTATE")
	for _, j := range jobs {
		state := "ok"
		switch {
		case j.Disabled:
			state = "disabled: " + j.LastError
		case j.LastError != "":
			state = "error: " + j.LastError
		}
		next := "-"
		if !j.NextFire.IsZero() {
			next = j.NextFire.Format("2006-01-02 15:04")
		}
		out := j.Output
		if out == "" {
			out = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", j.Name, j.Schedule, j.Target, out, next, state)
	}
	w.Flush()
}
