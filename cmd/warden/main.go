// warden - single-life Minecraft server operations bot
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mcwarden/warden/internal/analyzer"
	"github.com/mcwarden/warden/internal/api"
	"github.com/mcwarden/warden/internal/auth"
	"github.com/mcwarden/warden/internal/bus"
	"github.com/mcwarden/warden/internal/config"
	"github.com/mcwarden/warden/internal/death"
	"github.com/mcwarden/warden/internal/dispatch"
	"github.com/mcwarden/warden/internal/domain"
	"github.com/mcwarden/warden/internal/history"
	"github.com/mcwarden/warden/internal/loop"
	"github.com/mcwarden/warden/internal/monitor"
	"github.com/mcwarden/warden/internal/notify"
	"github.com/mcwarden/warden/internal/process"
	"github.com/mcwarden/warden/internal/rcon"
	"github.com/mcwarden/warden/internal/stats"
	"github.com/mcwarden/warden/internal/world"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/warden/config.yml"

// readyStabilization is how long to wait after the RCON-ready line before
// connecting; the listener line appears slightly before the port accepts.
const readyStabilization = 3 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "stats":
		cmdStats(os.Args[2:])
	case "deaths":
		cmdDeaths(os.Args[2:])
	case "reset":
		cmdReset(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("warden %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: warden <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                         Run the server supervisor")
	fmt.Println("  status                        Show server and challenge status")
	fmt.Println("  stats                         Show challenge statistics")
	fmt.Println("  deaths [--recent N]           Show recent deaths across all challenges")
	fmt.Println("  reset --token <jwt>           Trigger the world reset workflow via the API")
	fmt.Println("  user add [--admin] <username> Add an API user (prompts for password)")
	fmt.Println("  user remove <username>        Remove an API user")
	fmt.Println("  user list                     List API users")
	fmt.Println("  version                       Show version")
	fmt.Println("  help                          Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/warden/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  warden serve --config /etc/warden/config.yml")
	fmt.Println("  warden deaths --recent 50")
	fmt.Println("  warden user add --admin myuser")
}

// supervisor ties the process manager to a per-start monitor so the reset
// workflow can restart the server and keep the console readers attached.
type supervisor struct {
	cfg      *config.Config
	loop     *loop.Loop
	proc     *process.Manager
	rcon     *rcon.Client
	store    *stats.Store
	orch     *death.Orchestrator
	board    *death.Scoreboard
	notifier *notify.Router
	events   *bus.Bus
	console  *api.ConsoleHub

	mon *monitor.Monitor
}

// StartServer launches the process, attaches a fresh monitor to its console
// streams, and re-arms the death latch for the new challenge.
func (s *supervisor) StartServer() error {
	streams, err := s.proc.Start()
	if err != nil {
		return err
	}

	s.mon = monitor.New(streams.Stdout, streams.Stderr, s.loop,
		s.orch.HandleDeath, s.onServerReady)
	if s.console != nil {
		s.mon.OnLine = s.console.Publish
	}
	s.mon.Start()

	// The challenge clock runs from server start, not from the first death.
	if err := s.store.MarkChallengeStart(); err != nil {
		log.Printf("[warden] failed to stamp challenge start: %v", err)
	}
	s.orch.ResetLatch()
	return nil
}

// Restart satisfies the reset workflow's process control.
func (s *supervisor) Restart() error {
	return s.StartServer()
}

// Stop halts the console readers, then escalates the process shutdown.
func (s *supervisor) Stop() error {
	if s.mon != nil {
		s.mon.Stop()
	}
	s.rcon.Disconnect()
	err := s.proc.Stop()
	if err == nil && s.events != nil {
		s.events.Publish(domain.EventServerStopped, domain.ServerEvent{})
	}
	return err
}

// onServerReady runs on the loop when the RCON-ready line appears. The
// connect and scoreboard push block, so they run on their own goroutine
// after a short stabilization delay.
func (s *supervisor) onServerReady() {
	log.Printf("[warden] server reports ready, initializing in %v", readyStabilization)
	go func() {
		time.Sleep(readyStabilization)
		if err := s.rcon.Connect(); err != nil {
			log.Printf("[warden] rcon connect after ready failed: %v", err)
			return
		}
		counts := make(map[string]int)
		for name, p := range s.store.Snapshot().Players {
			counts[name] = p.DeathCount
		}
		s.board.Init(counts)
		if s.events != nil {
			s.events.Publish(domain.EventServerReady, domain.ServerEvent{PID: s.proc.PID()})
		}
		if err := s.notifier.AdminLog(context.Background(), notify.LevelSuccess,
			"Server is up and the challenge is live."); err != nil {
			log.Printf("[warden] ready notice failed: %v", err)
		}
	}()
}

// cmdServe runs the supervisor daemon
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Script == "" {
		log.Fatalf("server.script is not configured")
	}
	if cfg.Server.WorldPath == "" {
		log.Fatalf("server.world_path is not configured")
	}

	log.Printf("Warden %s starting...", version)

	store, err := stats.Open(cfg.Data.StatsPath)
	if err != nil {
		log.Fatalf("Failed to open stats store: %v", err)
	}
	log.Printf("Stats store at %s", cfg.Data.StatsPath)

	hist, err := history.Open(cfg.Data.HistoryPath)
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer hist.Close()
	log.Printf("History database at %s", cfg.Data.HistoryPath)

	users, err := auth.OpenUsers(cfg.API.UsersPath)
	if err != nil {
		log.Fatalf("Failed to open users file: %v", err)
	}

	rconClient := rcon.New(cfg.Rcon.Addr, cfg.Rcon.Password, cfg.Rcon.Timeout)
	proc := process.NewManager(cfg.Server.Script, rconClient)
	notifier := notify.NewRouter(cfg.Notify.NoticeWebhook, cfg.Notify.AdminWebhook, cfg.Notify.OperatorWebhook)
	confirms := notify.NewConfirmations()
	causes := analyzer.New(cfg.Analyzer.BaseURL, cfg.Analyzer.APIKey, cfg.Analyzer.Model, cfg.Analyzer.Timeout)
	dispatcher := dispatch.New()

	var events *bus.Bus
	if cfg.Bus.Enabled {
		events, err = bus.Start(cfg.Bus.Port)
		if err != nil {
			log.Fatalf("Failed to start event bus: %v", err)
		}
		defer events.Close()
	}

	l := loop.New()
	board := death.NewScoreboard(rconClient)
	actions := death.NewActions(rconClient, cfg.Effects)

	sup := &supervisor{
		cfg:      cfg,
		loop:     l,
		proc:     proc,
		rcon:     rconClient,
		store:    store,
		board:    board,
		notifier: notifier,
		events:   events,
	}

	orch := death.NewOrchestrator(death.Deps{
		Store:          store,
		Notifier:       notifier,
		Actions:        actions,
		Scoreboard:     board,
		Analyzer:       causes,
		Confirm:        confirms,
		Dispatcher:     dispatcher,
		ConfirmTimeout: cfg.Notify.ConfirmTimeout,
	})
	sup.orch = orch

	resetter := world.NewManager(cfg.Server.WorldPath, store, sup, notifier, orch.ResetLatch)
	runReset := func(ctx context.Context) bool {
		if events != nil {
			events.Publish(domain.EventResetStarted, domain.ResetEvent{Trigger: "request"})
		}
		ok := resetter.ExecuteReset(ctx)
		if err := hist.RecordReset(ctx, "request", ok); err != nil {
			log.Printf("[warden] failed to record reset: %v", err)
		}
		if events != nil {
			events.Publish(domain.EventResetFinished, domain.ResetEvent{Trigger: "request", Success: ok})
		}
		return ok
	}
	orch.SetResetRunner(runReset)

	// Collaborators reacting after the core death sequence.
	dispatcher.Register("history", func(ev domain.DeathEvent) {
		rec := history.DeathRecord{
			EventID:     ev.ID,
			Player:      ev.Player,
			RawLine:     ev.RawLine,
			LogTime:     ev.LogTime,
			ChallengeNo: store.ChallengeCount(),
			DeathCount:  store.PlayerDeathCount(ev.Player),
		}
		if err := hist.RecordDeath(context.Background(), rec); err != nil {
			log.Printf("[warden] failed to archive death: %v", err)
		}
	})
	if events != nil {
		dispatcher.Register("bus", func(ev domain.DeathEvent) {
			events.Publish(domain.EventDeath, ev)
		})
	}

	authService := auth.NewService(cfg.API.JWTSecret, cfg.API.TokenDuration)
	if cfg.API.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	router := api.NewRouter(api.Deps{
		Auth:    authService,
		Users:   users,
		Stats:   store,
		History: hist,
		Proc:    proc,
		Rcon:    rconClient,
		Confirm: confirms,
		Reset:   runReset,
	})
	sup.console = router.Console()
	go router.Console().Run()

	server := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(loopDone)
	}()

	if err := sup.StartServer(); err != nil {
		log.Fatalf("Failed to start server process: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Admin API listening on %s", cfg.API.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("Admin API error: %v", err)
	}

	// Sequential shutdown
	log.Println("Shutting down admin API...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("Admin API shutdown error: %v", err)
	}

	log.Println("Stopping server process...")
	if err := sup.Stop(); err != nil {
		log.Printf("Server stop error: %v", err)
	}

	cancel()
	<-loopDone
	orch.Wait()
	log.Println("Shutdown complete")
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rconState := "UNREACHABLE"
	client := rcon.New(cfg.Rcon.Addr, cfg.Rcon.Password, 5*time.Second)
	if err := client.Connect(); err == nil {
		if client.TestConnection() {
			rconState = "OK"
		}
		client.Disconnect()
	}

	store, err := stats.Open(cfg.Data.StatsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RCON (%s)\t%s\n", cfg.Rcon.Addr, rconState)
	fmt.Fprintf(w, "Challenge\t#%d\n", store.ChallengeCount())
	fmt.Fprintf(w, "Started\t%s\n", orDash(store.CurrentStart()))
	fmt.Fprintf(w, "Running for\t%s\n", store.Elapsed())
	w.Flush()
}

func cmdStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := stats.Open(cfg.Data.StatsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	data := store.Snapshot()

	fmt.Printf("Challenge #%d\n", data.ChallengeCount)
	fmt.Printf("This challenge: %s\n", store.Elapsed())
	fmt.Printf("All challenges: %s\n", store.TotalElapsed())
	fmt.Println()

	if len(data.Players) == 0 {
		fmt.Println("No deaths recorded")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tDEATHS")
	fmt.Fprintln(w, "------\t------")
	for name, p := range data.Players {
		fmt.Fprintf(w, "%s\t%d\n", name, p.DeathCount)
	}
	w.Flush()
}

func cmdDeaths(args []string) {
	fs := flag.NewFlagSet("deaths", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	limit := fs.Int("recent", 20, "number of recent deaths to show")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hist, err := history.Open(cfg.Data.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer hist.Close()

	records, err := hist.RecentDeaths(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No deaths recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tCHALLENGE\tPLAYER\tCAUSE")
	fmt.Fprintln(w, "----\t---------\t------\t-----")
	for _, r := range records {
		cause := r.Summary
		if cause == "" {
			cause = r.RawLine
		}
		fmt.Fprintf(w, "%s\t#%d\t%s\t%s\n",
			r.RecordedAt.Format("2006-01-02 15:04"), r.ChallengeNo, r.Player, cause)
	}
	w.Flush()
}

// cmdReset triggers the world reset workflow through the running daemon
func cmdReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	token := fs.String("token", "", "admin API token")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: --token is required (login via POST /api/auth/login)")
		os.Exit(1)
	}

	if !*yes {
		fmt.Print("This deletes the world and resets all statistics. Type 'reset' to continue: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "reset" {
			fmt.Println("Aborted")
			return
		}
	}

	url := fmt.Sprintf("http://%s/api/reset", cfg.API.ListenAddr)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+*token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	fmt.Println("World reset started; watch the admin channel for progress")
}

// cmdUser handles user subcommands
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list\n")
		os.Exit(1)
	}
	subCmd := args[0]

	fs := flag.NewFlagSet("user", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	isAdmin := fs.Bool("admin", false, "create as admin user")
	fs.Parse(args[1:])
	remaining := fs.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	users, err := auth.OpenUsers(cfg.API.UsersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch subCmd {
	case "add":
		if err := cmdUserAdd(users, remaining, *isAdmin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "remove":
		if len(remaining) < 1 {
			fmt.Fprintln(os.Stderr, "usage: warden user remove <username>")
			os.Exit(1)
		}
		if err := users.Remove(remaining[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("User '%s' removed\n", remaining[0])
	case "list":
		list := users.List()
		if len(list) == 0 {
			fmt.Println("No users configured")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tROLE")
		fmt.Fprintln(w, "--------\t----")
		for _, u := range list {
			role := "user"
			if u.IsAdmin {
				role = "admin"
			}
			fmt.Fprintf(w, "%s\t%s\n", u.Username, role)
		}
		w.Flush()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown user command: %s (use: add, remove, list)\n", subCmd)
		os.Exit(1)
	}
}

func cmdUserAdd(users *auth.Users, args []string, isAdmin bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: warden user add [--admin] <username>")
	}
	username := args[0]

	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	if err := users.Add(username, string(password), isAdmin); err != nil {
		return err
	}

	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created successfully (role: %s)\n", username, roleStr)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
