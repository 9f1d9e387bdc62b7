package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/cycle"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/downloader"
	"github.com/bilisync/bilisync/internal/governor"
	"github.com/bilisync/bilisync/internal/mux"
	"github.com/bilisync/bilisync/internal/observer"
	"github.com/bilisync/bilisync/internal/repository"
	"github.com/bilisync/bilisync/internal/scheduler"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	if code := dispatch(args[0], args[1:]); code != 0 {
		os.Exit(code)
	}
}

func dispatch(cmd string, rest []string) int {
	switch cmd {
	case "run":
		return runCmd(rest)
	case "add-favorite":
		return addFavoriteCmd(rest)
	case "add-collection":
		return addCollectionCmd(rest)
	case "add-submission":
		return addSubmissionCmd(rest)
	case "watch-later":
		return watchLaterCmd(rest)
	case "list":
		return listCmd(rest)
	case "enable", "disable":
		return setEnabledCmd(cmd == "enable", rest)
	case "trigger":
		return triggerCmd(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		return 2
	}
}

func isHelp(s string) bool { return s == "-h" || s == "--help" || s == "help" }

func printUsage() {
	fmt.Fprint(os.Stdout, `usage:
  bilisync run [config-dir]
  bilisync add-favorite <media-id> <title> <root-path>
  bilisync add-collection <collection-id> <mid> <title> <root-path> [--season]
  bilisync add-submission <mid> <title> <root-path> [--cursor]
  bilisync watch-later <root-path>
  bilisync list [config-dir]
  bilisync enable|disable <subscription-id> [config-dir]
  bilisync trigger <subscription-id> [config-dir]

commands:
  run     start the Task Manager and run scheduled cycles until interrupted
  list    print every configured subscription
  trigger run one subscription's cycle immediately, outside its schedule
`)
}

// openRepository opens the sqlite database under configDir, the same
// {config_dir}/data.sqlite location main_test checks
// (spec.md §6).
func openRepository(configDir string) (*repository.Repository, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return repository.Open(filepath.Join(configDir, "data.sqlite"))
}

// loadOrDefaultConfig loads the persisted snapshot, falling back to
// config.DefaultSnapshot on first run (spec.md §4.10).
func loadOrDefaultConfig(repo *repository.Repository, configDir string) (config.Snapshot, error) {
	snap, ok, err := repo.LoadConfig()
	if err != nil {
		return config.Snapshot{}, err
	}
	if !ok {
		snap = config.DefaultSnapshot(configDir)
		if err := repo.SaveConfig(snap); err != nil {
			return config.Snapshot{}, err
		}
	}
	return snap, nil
}

func defaultConfigDir() string {
	if dir := os.Getenv("BILISYNC_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bilisync"
	}
	return filepath.Join(home, ".bilisync")
}

func runCmd(args []string) int {
	configDir := defaultConfigDir()
	if len(args) > 0 {
		configDir = args[0]
	}

	repo, err := openRepository(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	snap, err := loadOrDefaultConfig(repo, configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	cfgStore := config.NewStore(snap)

	gov := governor.New(governor.Limits(snap.Concurrency))
	obs := newLogObserver(os.Stderr)

	newDeps := func(sub domain.Subscription) cycle.Deps {
		cfg := cfgStore.Current()
		httpClient := &http.Client{
			Transport: governor.GatedTransport(nil, gov),
			Timeout:   time.Duration(cfg.AttemptDeadlineChunkSeconds) * time.Second,
		}
		bili := governor.GateClient(client.New(httpClient, cfg.Credential), gov)
		return cycle.Deps{
			Repo:       repo,
			Client:     bili,
			Governor:   gov,
			Downloader: downloader.New(httpClient),
			Muxer:      mux.New("ffmpeg"),
			HTTPClient: httpClient,
			Observer:   obs,
			Cfg:        cfg,
		}
	}

	sched := scheduler.New(repo, cfgStore, newDeps, func(r observer.CycleReport) {})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start scheduler: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr, "bilisync running, config dir %s (ctrl-c to stop)\n", configDir)
	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "shutting down")
	return 0
}

func addFavoriteCmd(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: bilisync add-favorite <media-id> <title> <root-path>")
		return 2
	}
	mediaID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid media id %q: %v\n", args[0], err)
		return 2
	}
	repo, err := openRepository(defaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	id, err := repo.CreateFavorite(domain.Subscription{
		FavoritesMediaID: mediaID,
		Title:            args[1],
		RootPath:         args[2],
		Enabled:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create favorite: %v\n", err)
		return 1
	}
	fmt.Printf("created favorites subscription %d\n", id)
	return 0
}

func addCollectionCmd(args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: bilisync add-collection <collection-id> <mid> <title> <root-path> [--season]")
		return 2
	}
	collectionID, err1 := strconv.ParseInt(args[0], 10, 64)
	mid, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Fprintln(os.Stderr, "collection-id and mid must be numeric")
		return 2
	}
	kind := domain.CollectionSeries
	for _, a := range args[4:] {
		if a == "--season" {
			kind = domain.CollectionSeason
		}
	}
	repo, err := openRepository(defaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	id, err := repo.CreateCollection(domain.Subscription{
		CollectionID:   collectionID,
		CollectionMid:  mid,
		CollectionKind: kind,
		Title:          args[2],
		RootPath:       args[3],
		Enabled:        true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create collection: %v\n", err)
		return 1
	}
	fmt.Printf("created collection subscription %d\n", id)
	return 0
}

func addSubmissionCmd(args []string) int {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: bilisync add-submission <mid> <title> <root-path> [--cursor]")
		return 2
	}
	mid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid mid %q: %v\n", args[0], err)
		return 2
	}
	flavor := domain.SubmissionsLegacy
	for _, a := range args[3:] {
		if a == "--cursor" {
			flavor = domain.SubmissionsCursor
		}
	}
	repo, err := openRepository(defaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	id, err := repo.CreateSubmission(domain.Subscription{
		SubmissionsMid:    mid,
		SubmissionsFlavor: flavor,
		Title:             args[1],
		RootPath:          args[2],
		Enabled:           true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create submission: %v\n", err)
		return 1
	}
	fmt.Printf("created submissions subscription %d\n", id)
	return 0
}

func watchLaterCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bilisync watch-later <root-path>")
		return 2
	}
	repo, err := openRepository(defaultConfigDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	if err := repo.EnsureWatchLater(domain.Subscription{Kind: domain.KindWatchLater, RootPath: args[0], Enabled: true}); err != nil {
		fmt.Fprintf(os.Stderr, "ensure watch later: %v\n", err)
		return 1
	}
	fmt.Println("watch-later subscription configured")
	return 0
}

func listCmd(args []string) int {
	configDir := defaultConfigDir()
	if len(args) > 0 {
		configDir = args[0]
	}
	repo, err := openRepository(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	subs, err := repo.ListAllSubscriptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list subscriptions: %v\n", err)
		return 1
	}
	for _, s := range subs {
		fmt.Printf("%d\t%s\t%s\t%s\tenabled=%v\t%s\n", s.ID, s.Kind, s.Title, s.RootPath, s.Enabled, s.ScheduleExpr)
	}
	return 0
}

func setEnabledCmd(enabled bool, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bilisync enable|disable <subscription-id> [config-dir]")
		return 2
	}
	sub, repo, code := findSubscriptionByID(args)
	if repo != nil {
		defer repo.Close()
	}
	if code != 0 {
		return code
	}
	if err := repo.SetSubscriptionEnabled(sub, enabled); err != nil {
		fmt.Fprintf(os.Stderr, "set enabled: %v\n", err)
		return 1
	}
	fmt.Printf("subscription %d enabled=%v\n", sub.ID, enabled)
	return 0
}

func triggerCmd(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: bilisync trigger <subscription-id> [config-dir]")
		return 2
	}
	configDir := defaultConfigDir()
	if len(args) > 1 {
		configDir = args[1]
	}
	subscriptionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid subscription id %q: %v\n", args[0], err)
		return 2
	}

	repo, err := openRepository(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return 1
	}
	defer repo.Close()

	snap, err := loadOrDefaultConfig(repo, configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	cfgStore := config.NewStore(snap)
	gov := governor.New(governor.Limits(snap.Concurrency))
	obs := newLogObserver(os.Stderr)

	newDeps := func(sub domain.Subscription) cycle.Deps {
		cfg := cfgStore.Current()
		httpClient := &http.Client{Transport: governor.GatedTransport(nil, gov)}
		bili := governor.GateClient(client.New(httpClient, cfg.Credential), gov)
		return cycle.Deps{
			Repo:       repo,
			Client:     bili,
			Governor:   gov,
			Downloader: downloader.New(httpClient),
			Muxer:      mux.New("ffmpeg"),
			HTTPClient: httpClient,
			Observer:   obs,
			Cfg:        cfg,
		}
	}

	done := make(chan observer.CycleReport, 1)
	sched := scheduler.New(repo, cfgStore, newDeps, func(r observer.CycleReport) { done <- r })
	if err := sched.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "reload: %v\n", err)
		return 1
	}
	sched.TriggerNow(subscriptionID)

	select {
	case report := <-done:
		fmt.Printf("cycle finished: discovered=%d processed=%d failed=%d\n", report.Discovered, report.Summary.Processed, report.Summary.Failed)
	case <-time.After(10 * time.Minute):
		fmt.Fprintln(os.Stderr, "timed out waiting for the cycle to finish")
		return 1
	}
	return 0
}

func findSubscriptionByID(args []string) (domain.Subscription, *repository.Repository, int) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid subscription id %q: %v\n", args[0], err)
		return domain.Subscription{}, nil, 2
	}
	configDir := defaultConfigDir()
	if len(args) > 1 {
		configDir = args[1]
	}
	repo, err := openRepository(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open repository: %v\n", err)
		return domain.Subscription{}, nil, 1
	}
	subs, err := repo.ListAllSubscriptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list subscriptions: %v\n", err)
		return domain.Subscription{}, repo, 1
	}
	for _, s := range subs {
		if s.ID == id {
			return s, repo, 0
		}
	}
	fmt.Fprintf(os.Stderr, "subscription %d not found\n", id)
	return domain.Subscription{}, repo, 1
}
