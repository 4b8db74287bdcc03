package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vthunder/scribe/internal/audit"
	"github.com/vthunder/scribe/internal/budget"
	"github.com/vthunder/scribe/internal/capability"
	"github.com/vthunder/scribe/internal/config"
	"github.com/vthunder/scribe/internal/embedcache"
	"github.com/vthunder/scribe/internal/index"
	"github.com/vthunder/scribe/internal/integrity"
	"github.com/vthunder/scribe/internal/merge"
	"github.com/vthunder/scribe/internal/quality"
	"github.com/vthunder/scribe/internal/store"
)

const usage = `Usage: scribe <command> [flags]

Commands:
  merge      Detect and consolidate near-duplicate records
  quality    Score records and report stale/incomplete/contradicting ones
  integrity  Check record well-formedness, optionally repair
  archive    Archive active records older than a given age
  audit      Show recent audit trail events, prune old archives
  stats      Print record counts
`

func main() {
	log.SetPrefix("[scribe] ")

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cfg := config.FromEnv()

	var err error
	switch os.Args[1] {
	case "merge":
		err = runMerge(cfg, os.Args[2:])
	case "quality":
		err = runQuality(cfg, os.Args[2:])
	case "integrity":
		err = runIntegrity(cfg, os.Args[2:])
	case "archive":
		err = runArchive(cfg, os.Args[2:])
	case "audit":
		err = runAudit(cfg, os.Args[2:])
	case "stats":
		err = runStats(cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func openStore(cfg *config.Config) (*store.Store, *audit.Trail, error) {
	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	trail := audit.New(cfg.StatePath)
	st.SetAuditTrail(trail)
	return st, trail, nil
}

func runMerge(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	threshold := fs.Float64("threshold", cfg.MergeThreshold, "Semantic similarity threshold for merge candidacy")
	dryRun := fs.Bool("dry-run", false, "Print merge groups without consolidating")
	throttle := fs.Bool("throttle", true, "Back off scanning while the CPU is busy")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	st, trail, err := openStore(cfg)
	if err != nil {
		return err
	}

	idx := index.New()
	idx.Rebuild(st.ListActive())
	log.Printf("Loaded %d active records", idx.Len())

	ollama := capability.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.GenModel)
	var summarizer capability.Summarizer
	var embedder capability.Embedder
	if ollama.Available() {
		summarizer = ollama
		embedder = ollama
		log.Printf("Ollama available (embed model %s)", ollama.Model())
	} else {
		log.Println("Ollama unavailable, using file overlap + concatenation")
	}

	coord := merge.NewCoordinator(st, idx, summarizer, embedder)
	coord.Trail = trail
	coord.SummarizeTimeout = cfg.SummarizeTimeout
	if cache, err := embedcache.Open(cfg.StatePath); err != nil {
		log.Printf("Embedding cache unavailable: %v", err)
	} else {
		coord.Cache = cache
		defer cache.Close()
	}
	if *throttle {
		t := budget.NewThrottler()
		t.Start()
		defer t.Stop()
		coord.Throttle = t
	}

	ctx := context.Background()

	if *dryRun {
		groups, err := coord.Preview(ctx, *threshold)
		if err != nil {
			return err
		}
		log.Printf("%d merge groups at threshold %.2f", len(groups), *threshold)
		for i, g := range groups {
			log.Printf("Group %d (score %.2f, %s):", i+1, g.Score, strings.Join(g.Reasons, "+"))
			for _, m := range g.Members {
				log.Printf("  [%s] %s", m.ID, m.UltraSummary)
			}
		}
		return nil
	}

	report, err := coord.Run(ctx, *threshold)
	if err != nil {
		return fmt.Errorf("stopped at %s: %w", report.Stage, err)
	}
	log.Printf("Merge cycle complete:")
	log.Printf("  Groups detected:      %d", report.GroupsDetected)
	log.Printf("  Groups processed:     %d", report.GroupsProcessed)
	log.Printf("  Records consolidated: %d", report.RecordsConsolidated)
	if *verbose {
		for _, id := range report.MergedIDs {
			log.Printf("  merged into %s", id)
		}
	}
	for _, issue := range report.Issues {
		log.Printf("  issue: %s", issue)
	}
	return nil
}

func runQuality(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("quality", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	fix := fs.Bool("fix", false, "Cache computed scores onto the records")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}

	scorer := quality.NewScorer(st)
	report := scorer.Report(st.ListActive(), *fix)

	log.Printf("%d active records, average score %.1f", report.TotalDocuments, report.AverageScore)
	for _, issue := range report.Issues {
		target := issue.RecordID
		if target == "" {
			target = issue.File
		}
		log.Printf("  %s: %s: %s", issue.Kind, target, issue.Detail)
	}
	for _, rec := range report.Recommendations {
		log.Printf("  recommend: %s", rec)
	}
	return nil
}

func runIntegrity(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("integrity", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	repair := fs.Bool("repair", false, "Attempt bounded auto-repair of the issues found")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	st, trail, err := openStore(cfg)
	if err != nil {
		return err
	}

	auditor := integrity.NewAuditor(st, trail)
	report := auditor.Check()
	log.Printf("%d issues, severity %s", len(report.Issues), report.Severity)
	for _, issue := range report.Issues {
		log.Printf("  %s %s: %s", issue.Kind, issue.RecordID, issue.Detail)
	}
	if *repair && len(report.Issues) > 0 {
		result := auditor.Recover(report.Issues)
		log.Printf("Repaired %d/%d issues", result.Recovered, result.Total)
	}
	return nil
}

func runArchive(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	olderThan := fs.Duration("older-than", cfg.ArchiveMaxAge, "Archive active records not updated within this duration")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	if *olderThan <= 0 {
		return fmt.Errorf("-older-than must be positive (e.g. -older-than 2160h)")
	}

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}

	n, err := st.ArchiveOlderThan(*olderThan, "cli")
	if err != nil {
		log.Printf("Archived %d records before error", n)
		return err
	}
	log.Printf("Archived %d records older than %s", n, olderThan)
	return nil
}

func runAudit(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	n := fs.Int("n", 20, "Number of recent events to show")
	prune := fs.Bool("prune", false, "Prune rotated audit archives past the retention age")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	trail := audit.New(cfg.StatePath)
	events, err := trail.Recent(*n)
	if err != nil {
		return err
	}
	for _, ev := range events {
		log.Printf("%s  %-8s %-18s %s", ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Impact, ev.Action, ev.Actor)
	}
	if *prune {
		removed, err := trail.Prune(cfg.AuditMaxAge)
		if err != nil {
			return err
		}
		log.Printf("Pruned %d rotated audit files", removed)
	}
	return nil
}

func runStats(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	stateDir := fs.String("state", cfg.StatePath, "Path to state directory")
	fs.Parse(args)
	cfg.StatePath = *stateDir

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}

	stats := st.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	log.Printf("Record store at %s:", cfg.StatePath)
	for _, k := range keys {
		log.Printf("  %-10s %d", k+":", stats[k])
	}

	idx := index.New()
	idx.Rebuild(st.ListActive())
	for _, rec := range idx.Recent(5) {
		age := time.Since(rec.UpdatedAt).Round(time.Hour)
		log.Printf("  recent: [%s] %s (%s ago)", rec.ID, rec.UltraSummary, age)
	}
	return nil
}
