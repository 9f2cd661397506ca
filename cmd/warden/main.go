package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/apiforge/warden/internal/daemon"
	"github.com/apiforge/warden/internal/events"
	"github.com/apiforge/warden/internal/ipc"
	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/monitor"
	"github.com/apiforge/warden/internal/notify"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/quarantine"
	"github.com/apiforge/warden/internal/setup"
	"github.com/apiforge/warden/internal/sla"
	"github.com/apiforge/warden/internal/store"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "quarantine":
		runQuarantine(os.Args[2:])
	case "sla":
		runSla(os.Args[2:])
	case "collect":
		runCollect(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "ping":
		runPing(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	name := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "usage: warden init [dir] [--name <project>]")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			dir = args[i]
		}
	}
	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .warden/ in %s\n", absDir)
}

func runDaemon(_ []string) {
	wardenDir, cfg := mustLoad()

	d, err := daemon.New(wardenDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runValidate(args []string) {
	jsonOut := false
	var files []string
	for _, a := range args {
		if a == "--json" {
			jsonOut = true
			continue
		}
		files = append(files, a)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: warden validate <file.py> [...] [--json]")
		os.Exit(1)
	}

	_, cfg := mustLoad()
	engine := quality.NewEngine(cfg.Quality)

	exitCode := 0
	for _, file := range files {
		result, err := engine.ValidateFile(context.Background(), file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "validate %s: %v\n", file, err)
			exitCode = 1
			continue
		}
		if jsonOut {
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
		} else {
			printResult(file, result)
		}
		if !result.Passed {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func printResult(file string, result *quality.Result) {
	fmt.Printf("%s: score=%.1f grade=%s passed=%v action=%s\n",
		file, result.Score.Overall, result.Score.Grade, result.Passed, result.Action)
	for _, issue := range result.Issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Category, issue.Description)
	}
	for _, rec := range result.Recommendations {
		fmt.Printf("  -> %s\n", rec)
	}
}

func runQuarantine(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden quarantine <stats|process|fail> [options]")
		os.Exit(1)
	}

	wardenDir, cfg := mustLoad()
	qm := newQuarantineManager(wardenDir, cfg)

	switch args[0] {
	case "stats":
		stats, err := qm.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "quarantine stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("quarantined: %d\n", stats.TotalQuarantined())
		for _, tier := range model.TiersByPriority {
			fmt.Printf("  %s_priority: %d\n", tier, stats.PerTier[tier])
		}
		fmt.Printf("recovered: %d\nfailed_recovery: %d\n", stats.Recovered, stats.FailedRecovery)

	case "process":
		report, err := qm.ProcessQuarantined(context.Background())
		if report != nil {
			fmt.Printf("processed=%d recovered=%d failed=%d manual_review=%d\n",
				report.Processed, report.Recovered, report.Failed, report.ManualReview)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "quarantine process: %v\n", err)
			os.Exit(1)
		}

	case "fail":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: warden quarantine fail <file.py>")
			os.Exit(1)
		}
		if err := qm.FailOut(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "quarantine fail: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("moved %s to failed_recovery\n", args[1])

	default:
		fmt.Fprintf(os.Stderr, "unknown quarantine subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: warden quarantine <stats|process|fail> [options]")
		os.Exit(1)
	}
}

func runSla(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden sla <event|check|metrics|policies> [options]")
		os.Exit(1)
	}

	wardenDir, cfg := mustLoad()
	st := store.New(filepath.Join(wardenDir, "state"))
	level := model.ParseLogLevel(cfg.Logging.Level)
	logger := newStderrLogger()
	fanout := notify.NewFanout([]notify.Sender{notify.NewLogSender(logger)}, 0, logger, level)
	svc := sla.NewService(st, fanout, logger, level)

	switch args[0] {
	case "event":
		runSlaEvent(args[1:], wardenDir, svc, st, logger, level)

	case "check":
		transitions, err := svc.CheckBreaches(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "sla check: %v\n", err)
			os.Exit(1)
		}
		if len(transitions) == 0 {
			fmt.Println("no SLA transitions")
			return
		}
		for _, tr := range transitions {
			fmt.Printf("%s: %s -> %s\n", tr.WorkflowID, tr.From, tr.To)
		}

	case "metrics":
		days := 7
		priority := model.SlaPriority("")
		for i := 1; i < len(args); i++ {
			switch args[i] {
			case "--days":
				i++
				if i >= len(args) {
					fmt.Fprintln(os.Stderr, "usage: warden sla metrics [--days N] [--priority P]")
					os.Exit(1)
				}
				n, err := strconv.Atoi(args[i])
				if err != nil || n <= 0 {
					fmt.Fprintf(os.Stderr, "invalid --days value: %s\n", args[i])
					os.Exit(1)
				}
				days = n
			case "--priority":
				i++
				if i >= len(args) {
					fmt.Fprintln(os.Stderr, "usage: warden sla metrics [--days N] [--priority P]")
					os.Exit(1)
				}
				priority = model.SlaPriority(args[i])
				if err := model.ValidatePriority(priority); err != nil {
					fmt.Fprintf(os.Stderr, "sla metrics: %v\n", err)
					os.Exit(1)
				}
			}
		}
		report, err := svc.Metrics(days, priority)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sla metrics: %v\n", err)
			os.Exit(1)
		}
		printYAML(report)

	case "policies":
		policies, err := st.ListPolicies()
		if err != nil {
			fmt.Fprintf(os.Stderr, "sla policies: %v\n", err)
			os.Exit(1)
		}
		printYAML(policies)

	default:
		fmt.Fprintf(os.Stderr, "unknown sla subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "usage: warden sla <event|check|metrics|policies> [options]")
		os.Exit(1)
	}
}

func runSlaEvent(args []string, wardenDir string, svc *sla.Service, st *store.Store, logger *log.Logger, level model.LogLevel) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: warden sla event <type> [--field value ...]")
		os.Exit(1)
	}
	eventType := events.EventType(args[0])

	payload := map[string]interface{}{}
	for i := 1; i+1 < len(args); i += 2 {
		key := args[i]
		if len(key) < 3 || key[:2] != "--" {
			fmt.Fprintf(os.Stderr, "expected --field value pairs, got %q\n", key)
			os.Exit(1)
		}
		payload[key[2:]] = args[i+1]
	}

	audit, err := events.NewAuditLogger(filepath.Join(wardenDir, "audit"), 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sla event: %v\n", err)
		os.Exit(1)
	}
	handler, err := events.NewHandler(svc, st, audit, logger, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sla event: %v\n", err)
		os.Exit(1)
	}
	if !handler.HandleEvent(context.Background(), eventType, payload) {
		fmt.Fprintf(os.Stderr, "event %s rejected (see log for details)\n", eventType)
		os.Exit(1)
	}
	fmt.Printf("event %s handled\n", eventType)
}

func runCollect(_ []string) {
	// Prefer the daemon's collector when it is running so cache state is
	// shared; fall back to an in-process scan.
	if resp, ok := tryDaemon(ipc.CommandCollect, nil); ok {
		fmt.Println(string(resp))
		return
	}

	wardenDir, cfg := mustLoad()
	mon := newMonitor(wardenDir, cfg)
	snap, err := mon.Collect(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect: %v\n", err)
		os.Exit(1)
	}
	printYAML(snap)
}

func runReport(args []string) {
	period := "week"
	for i := 0; i < len(args); i++ {
		if args[i] == "--period" && i+1 < len(args) {
			i++
			period = args[i]
		}
	}

	if period == "week" {
		if resp, ok := tryDaemon(ipc.CommandReport, nil); ok {
			fmt.Println(string(resp))
			return
		}
	}

	wardenDir, cfg := mustLoad()
	mon := newMonitor(wardenDir, cfg)
	report, err := mon.GenerateReport(context.Background(), period)
	if err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
	printYAML(report)
}

func runPing(_ []string) {
	wardenDir := findWardenDir()
	if wardenDir == "" {
		fmt.Fprintln(os.Stderr, "error: .warden/ directory not found. Run 'warden init' first.")
		os.Exit(1)
	}
	client := ipc.NewClient(filepath.Join(wardenDir, ipc.DefaultSocketName))
	resp, err := client.SendCommand(ipc.CommandPing, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ping: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "ping failed: %s\n", resp.Error.Message)
		os.Exit(1)
	}
	fmt.Println("daemon is running")
}

func runShutdown(_ []string) {
	wardenDir := findWardenDir()
	if wardenDir == "" {
		fmt.Fprintln(os.Stderr, "error: .warden/ directory not found. Run 'warden init' first.")
		os.Exit(1)
	}
	client := ipc.NewClient(filepath.Join(wardenDir, ipc.DefaultSocketName))
	resp, err := client.SendCommand(ipc.CommandShutdown, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "shutdown failed: %s\n", resp.Error.Message)
		os.Exit(1)
	}
	fmt.Println("shutdown accepted")
}

// tryDaemon sends a command to the daemon socket, returning the raw response
// data and true only when the daemon answered successfully.
func tryDaemon(command string, params any) (json.RawMessage, bool) {
	wardenDir := findWardenDir()
	if wardenDir == "" {
		return nil, false
	}
	socketPath := filepath.Join(wardenDir, ipc.DefaultSocketName)
	if _, err := os.Stat(socketPath); err != nil {
		return nil, false
	}
	client := ipc.NewClient(socketPath)
	resp, err := client.SendCommand(command, params)
	if err != nil || !resp.Success {
		return nil, false
	}
	return resp.Data, true
}

func newQuarantineManager(wardenDir string, cfg model.Config) *quarantine.Manager {
	level := model.ParseLogLevel(cfg.Logging.Level)
	logger := newStderrLogger()
	engine := quality.NewEngine(cfg.Quality)
	return quarantine.NewManager(resolvePath(wardenDir, cfg.Quarantine.Root),
		cfg.Quarantine.MaxRecoveryAttempts, engine, logger, level)
}

func newMonitor(wardenDir string, cfg model.Config) *monitor.Monitor {
	level := model.ParseLogLevel(cfg.Logging.Level)
	logger := newStderrLogger()
	engine := quality.NewEngine(cfg.Quality)
	qm := quarantine.NewManager(resolvePath(wardenDir, cfg.Quarantine.Root),
		cfg.Quarantine.MaxRecoveryAttempts, engine, logger, level)
	st := store.New(filepath.Join(wardenDir, "state"))
	return monitor.New(engine, qm, st, resolvePath(wardenDir, cfg.Quality.CollectionDir), logger, level)
}

func newStderrLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func resolvePath(wardenDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(wardenDir, p)
}

func mustLoad() (string, model.Config) {
	wardenDir := findWardenDir()
	if wardenDir == "" {
		fmt.Fprintln(os.Stderr, "error: .warden/ directory not found. Run 'warden init' first.")
		os.Exit(1)
	}
	cfg, err := model.LoadConfig(filepath.Join(wardenDir, "warden.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return wardenDir, cfg
}

func findWardenDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, setup.WardenDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printYAML(v any) {
	out, err := yamlv3.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(out))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `warden %s - API test quality gate and SLA tracking

Usage: warden <command> [options]

Project:
  init [dir] [--name <project>]   Initialize .warden/ directory
  daemon                          Run the warden daemon (foreground)
  ping                            Check whether the daemon is running
  shutdown                        Ask the daemon to shut down

Quality:
  validate <file.py> [...]        Validate test files against the quality gate
  collect                         Collect fleet-wide quality metrics
  report [--period week|month]    Generate a quality report

Quarantine:
  quarantine stats                Show quarantine tier counts
  quarantine process              Run a recovery pass over quarantined files
  quarantine fail <file.py>       Move an exhausted artifact to failed_recovery

SLA:
  sla event <type> [--field value ...]   Feed a workflow event
  sla check                              Run a breach sweep now
  sla metrics [--days N] [--priority P]  Windowed SLA aggregates
  sla policies                           List configured policies

  version                         Print version
`, version)
}
