package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/events"
	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/api"
)

// =============================================================================
// ▶️ run 命令：在本进程中运行一个蜂群
// =============================================================================

// swarmFailedError 蜂群以失败终态结束
type swarmFailedError struct {
	id     string
	reason string
}

func (e *swarmFailedError) Error() string {
	return fmt.Sprintf("swarm %s failed: %s", e.id, e.reason)
}

type runOptions struct {
	configPath string
	request    api.CreateSwarmRequest
	allEvents  bool
	jsonOutput bool
}

func parseRunArgs(args []string) (runOptions, error) {
	var opts runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.request.ConsensusAlgorithm, "algorithm", "", "Consensus algorithm")
	fs.StringVar(&opts.request.QueenType, "queen", "", "Queen type")
	fs.IntVar(&opts.request.MaxWorkers, "workers", 0, "Maximum number of workers")
	fs.Uint64Var(&opts.request.Seed, "seed", 0, "Fixed random seed")
	fs.BoolVar(&opts.allEvents, "events", false, "Print every event")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print the final status as JSON")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	opts.request.Objective = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if opts.request.Objective == "" {
		return opts, errors.New("usage: swarmflow run [options] <objective>")
	}
	return opts, nil
}

func runSwarm(args []string, out io.Writer) error {
	opts, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// 本地运行时日志只输出警告以上，进度由事件打印
	cfg.Log.Level = "warn"
	cfg.Log.Format = "console"
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close(logger)

	manager := swarm.NewManager(cfg.SwarmDefaults(), b.Deps(nil), 0, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracePeriod())
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	}()

	return followSwarm(ctx, manager, opts, out, logger)
}

// followSwarm 启动蜂群并打印事件直到结束；ctx 取消时停止蜂群
func followSwarm(ctx context.Context, manager *swarm.Manager, opts runOptions, out io.Writer, logger *zap.Logger) error {
	feed := make(chan events.Event, 256)
	manager.OnStart(func(s *swarm.Swarm) {
		s.Events().SubscribeFunc(func(ev events.Event) {
			select {
			case feed <- ev:
			default:
				// 打印跟不上时丢弃中间事件，终态从 Status 读取
			}
		})
	})

	s, err := manager.Start(opts.request.ApplyTo(manager.Defaults()))
	if err != nil {
		return err
	}

	p := newEventPrinter(out, opts.allEvents)
	p.header(s)

	stopped := false
	for done := false; !done; {
		select {
		case ev := <-feed:
			p.print(ev)
		case <-s.Done():
			done = true
		case <-ctx.Done():
			if !stopped {
				stopped = true
				fmt.Fprintln(out, color.YellowString("interrupted, stopping swarm %s", s.ID()))
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := manager.Stop(stopCtx, s.ID()); err != nil {
					logger.Warn("stop swarm failed", zap.Error(err))
				}
				cancel()
			}
		}
	}

	// 回调按序投递，终态事件可能晚于 Done 到达
	grace := time.NewTimer(time.Second)
	defer grace.Stop()
	for drained := false; !drained; {
		select {
		case ev := <-feed:
			p.print(ev)
			if ev.Type == events.SwarmCompleted || ev.Type == events.SwarmFailed {
				drained = true
			}
		case <-grace.C:
			drained = true
		}
	}

	st := s.Status()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		p.summary(st)
	}

	if st.State == swarm.StateFailed {
		return &swarmFailedError{id: st.ID, reason: st.Error}
	}
	return nil
}

// =============================================================================
// 🎨 事件打印
// =============================================================================

type eventPrinter struct {
	out       io.Writer
	allEvents bool
	started   time.Time
}

func newEventPrinter(out io.Writer, allEvents bool) *eventPrinter {
	return &eventPrinter{out: out, allEvents: allEvents, started: time.Now()}
}

// 默认只打印里程碑事件，任务级事件需要 --events
var milestoneEvents = map[events.Type]bool{
	events.SwarmStarted:      true,
	events.ObjectiveAnalyzed: true,
	events.PlanCreated:       true,
	events.WorkersSpawned:    true,
	events.PhaseStarted:      true,
	events.PhaseCompleted:    true,
	events.PhaseAbandoned:    true,
	events.DecisionMade:      true,
	events.DecisionFailed:    true,
	events.TaskFailed:        true,
	events.ScaleUp:           true,
	events.WorkerOffline:     true,
	events.WorkerOnline:      true,
	events.SwarmCompleted:    true,
	events.SwarmFailed:       true,
}

func eventColor(t events.Type) *color.Color {
	switch t {
	case events.SwarmFailed, events.TaskFailed, events.DecisionFailed, events.PhaseAbandoned, events.WorkerOffline:
		return color.New(color.FgRed)
	case events.SwarmCompleted, events.PhaseCompleted, events.DecisionMade, events.WorkerOnline:
		return color.New(color.FgGreen)
	case events.TaskRetry, events.TaskRequeued, events.ScaleUp, events.ScaleDownAdvised:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func (p *eventPrinter) header(s *swarm.Swarm) {
	cfg := s.Config()
	bold := color.New(color.Bold)
	bold.Fprintf(p.out, "swarm %s\n", s.ID())
	fmt.Fprintf(p.out, "  objective: %s\n", cfg.Objective)
	fmt.Fprintf(p.out, "  queen: %s  consensus: %s  max workers: %d\n", cfg.QueenType, cfg.ConsensusAlgorithm, cfg.MaxWorkers)
}

func (p *eventPrinter) print(ev events.Event) {
	if !p.allEvents && !milestoneEvents[ev.Type] {
		return
	}
	elapsed := ev.Timestamp.Sub(p.started).Truncate(time.Millisecond)
	fmt.Fprintf(p.out, "%9s  %s %s\n", elapsed, eventColor(ev.Type).Sprintf("%-20s", ev.Type), formatData(ev.Data))
}

// formatData 按键排序输出 k=v
func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

func (p *eventPrinter) summary(st swarm.Status) {
	fmt.Fprintln(p.out)
	state := color.New(color.Bold, color.FgGreen)
	if st.State == swarm.StateFailed {
		state = color.New(color.Bold, color.FgRed)
	}
	state.Fprintf(p.out, "%s", st.State)
	fmt.Fprintf(p.out, " (health: %s) in %s\n", st.Health, st.FinishedAt.Sub(st.StartedAt).Truncate(time.Millisecond))
	fmt.Fprintf(p.out, "  phases: %d/%d  tasks: %d completed, %d failed  workers: %d\n",
		st.PhasesDone, st.PhasesTotal, st.Tasks.Completed, st.Tasks.Failed, st.Workers.Total)

	for _, d := range st.Decisions {
		mark := color.GreenString("✓")
		if !d.Reached {
			mark = color.RedString("✗")
		}
		fmt.Fprintf(p.out, "  %s %s -> %s (%.2f)\n", mark, d.Topic, d.Outcome, d.Confidence)
	}
	if st.Error != "" {
		fmt.Fprintf(p.out, "  error: %s\n", color.RedString(st.Error))
	}
}
