// Command duoagent turns Jira stories into GitLab merge requests with
// phase-ordered Duo instructions, then tracks implementation progress
// in the merge-request description.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/api"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/gitlab"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/jira"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/monitor"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/progress"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/prompt"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/refiner"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/render"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/report"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/storage"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/watcher"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "config/config.yaml", "path to the configuration file")
		batchFile   = flag.String("batch", "", "file with one story key per line")
		projectID   = flag.Int("project", 0, "GitLab project ID")
		baseBranch  = flag.String("base-branch", "", "target branch (overrides config)")
		logFile     = flag.String("log-file", "", "log file path (overrides config)")
		dbPath      = flag.String("db", "", "SQLite database path for run history (empty disables persistence)")
		monitorMode = flag.Bool("monitor", false, "keep running and poll merge requests for progress")
		interval    = flag.Duration("interval", 5*time.Minute, "polling interval in monitor mode")
		apiPort     = flag.Int("api-port", 0, "serve the HTTP API on this port (0 disables it)")
	)
	flag.Usage = usage
	flag.Parse()

	keys, err := storyKeys(*batchFile, flag.Args())
	if err != nil {
		return err
	}
	if *projectID <= 0 {
		return fmt.Errorf("--project is required")
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logPath := cfg.Logging.File
	if *logFile != "" {
		logPath = *logFile
	}
	log, err := logging.New(logPath, logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer log.Close()

	target := cfg.Features.GitLabDuo.DefaultBranch
	if *baseBranch != "" {
		target = *baseBranch
	}

	orch, tracker, hosting, err := buildOrchestrator(cfg, creds, log)
	if err != nil {
		return err
	}

	var store *storage.SQLiteStorage
	var recorder workflow.Recorder
	if *dbPath != "" {
		store, err = storage.NewSQLiteStorage(*dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := workflow.NewBatchRunner(orch, recorder, log)
	outcomes := runner.Run(ctx, keys, *projectID, target)
	fmt.Print(report.Render(outcomes))

	failed := 0
	for _, outcome := range outcomes {
		if !outcome.OK() {
			failed++
		}
	}

	if *monitorMode {
		if err := runMonitor(ctx, cfg, orch, hosting, tracker, store, outcomes, *batchFile, *projectID, target, *interval, *apiPort, log); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d stories failed", failed, len(outcomes))
	}
	return nil
}

func buildOrchestrator(cfg *config.Config, creds *config.Credentials, log *logging.Logger) (*workflow.Orchestrator, workflow.IssueTracker, workflow.Hosting, error) {
	tracker := jira.NewClient(creds.JiraURL, creds.JiraUsername, creds.JiraAPIToken,
		cfg.Features.Jira, time.Duration(cfg.Timeouts.Jira)*time.Second, log)
	hosting := gitlab.NewClient(creds.GitLabURL, creds.GitLabToken,
		time.Duration(cfg.Timeouts.GitLab)*time.Second, log)

	catalog, err := prompt.NewCatalog(cfg.Prompts.Base, cfg.Prompts.Directives)
	if err != nil {
		return nil, nil, nil, err
	}

	var ref prompt.Refiner
	if cfg.Features.LLMRefinement.Enabled {
		client, err := refiner.NewClient(creds.OpenAIAPIKey, cfg.Features.LLMRefinement,
			cfg.LLM, time.Duration(cfg.Timeouts.Refiner)*time.Second, log)
		if err != nil {
			return nil, nil, nil, err
		}
		ref = client
	}

	policy := prompt.Policy{
		AllowedPhases:  make(map[domain.PromptPhase]bool),
		FallbackToBase: cfg.Features.LLMRefinement.FallbackToBase,
	}
	for _, phase := range domain.AllPhases() {
		policy.AllowedPhases[phase] = cfg.RefinementAllowed(phase)
	}
	selector := prompt.NewSelector(catalog, ref, policy, log)

	model := progress.NewModel(cfg.Progress)
	renderer := render.NewRenderer(creds.JiraURL, model.Score)

	orch := workflow.NewOrchestrator(tracker, hosting, selector, model, renderer,
		cfg.Features.GitLabDuo.Labels, log)
	return orch, tracker, hosting, nil
}

func runMonitor(ctx context.Context, cfg *config.Config, orch *workflow.Orchestrator, hosting workflow.Hosting, tracker workflow.IssueTracker, store *storage.SQLiteStorage, outcomes []domain.Outcome, batchFile string, projectID int, baseBranch string, interval time.Duration, apiPort int, log *logging.Logger) error {
	mon := monitor.New(orch, hosting, tracker, interval, log)
	for _, outcome := range outcomes {
		if outcome.OK() {
			mon.Track(outcome.Run)
		}
	}

	if apiPort > 0 {
		var srv *api.Server
		if store != nil {
			srv = api.NewServer(store, mon, log)
		} else {
			srv = api.NewServer(nil, mon, log)
		}
		go func() {
			if err := srv.Start(apiPort); err != nil {
				log.Errorf("api server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	// In monitor mode new keys appended to the batch file are picked up
	// and processed without a restart.
	if batchFile != "" {
		w := watcher.New([]string{batchFile}, time.Second)
		if err := w.Start(); err != nil {
			log.Warnf("batch file watcher: %v", err)
		} else {
			defer w.Stop()
			seen := make(map[string]bool)
			for _, outcome := range outcomes {
				seen[outcome.StoryKey] = true
			}
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-w.Events():
						keys, err := readKeysFile(batchFile)
						if err != nil {
							log.Warnf("reread batch file: %v", err)
							continue
						}
						for _, key := range keys {
							if seen[key] {
								continue
							}
							seen[key] = true
							log.Infof("new story %s from batch file", key)
							run, err := orch.Process(ctx, key, projectID, baseBranch)
							if err != nil {
								log.Errorf("story %s failed: %v", key, err)
								continue
							}
							mon.Track(run)
						}
					}
				}
			}()
		}
	}

	mon.Start(ctx)
	return nil
}

// storyKeys resolves the story list: a batch file, or positional keys.
func storyKeys(batchFile string, args []string) ([]string, error) {
	if batchFile != "" {
		keys, err := readKeysFile(batchFile)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("batch file %s contains no story keys", batchFile)
		}
		return keys, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("a story key or --batch file is required")
	}
	return args, nil
}

// readKeysFile parses one story key per line, skipping blanks and
// comment lines.
func readKeysFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}

	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `duoagent - Jira story to GitLab Duo merge-request automation

Usage:
  duoagent [flags] STORY-KEY [STORY-KEY...]
  duoagent [flags] --batch stories.txt

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  JIRA_URL, JIRA_USERNAME, JIRA_API_TOKEN   Jira credentials (required)
  GITLAB_URL, GITLAB_TOKEN                  GitLab credentials (required)
  OPENAI_API_KEY                            needed when LLM refinement is enabled

A .env file in the working directory is honored.
`)
}
