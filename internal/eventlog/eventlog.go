// Package eventlog implements the eventlog command: offline inspection and
// maintenance of a bus's SQLite event log.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/randalmurphal/eventbus/pkg/eventbus/config"
	"github.com/randalmurphal/eventbus/pkg/eventbus/event"
	"github.com/randalmurphal/eventbus/pkg/eventbus/filter"
	"github.com/randalmurphal/eventbus/pkg/eventbus/store"
)

// Commands understood by Run.
const (
	CommandList    = "list"
	CommandShow    = "show"
	CommandStats   = "stats"
	CommandCleanup = "cleanup"
)

const usage = `usage: eventlog [flags] <list|show|stats|cleanup>

  list     print envelope summaries, newest first
  show     print one envelope with its payload (-id)
  stats    print row counts by status and kind
  cleanup  delete rows older than -days
`

// Config holds the parsed command line.
type Config struct {
	Command       string
	DBPath        string
	ID            string
	Limit         int
	Kinds         []string
	Sources       []string
	Tags          []string
	Status        string
	Since         time.Duration
	RetentionDays int
}

// ParseConfig parses flags and the command name. Defaults come from
// settings, so EVENTBUS_DB_PATH and EVENTBUS_RETENTION_DAYS apply.
func ParseConfig(fs *flag.FlagSet, args []string, settings config.Settings) (Config, error) {
	cfg := Config{
		DBPath:        settings.DBPath,
		Limit:         50,
		RetentionDays: settings.RetentionDays,
	}
	var kinds, sources, tags string

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the SQLite event log (env: EVENTBUS_DB_PATH)")
	fs.StringVar(&cfg.ID, "id", "", "event id for show")
	fs.IntVar(&cfg.Limit, "limit", cfg.Limit, "maximum rows for list (0 for all)")
	fs.StringVar(&kinds, "kind", "", "comma-separated kinds to list")
	fs.StringVar(&sources, "source", "", "comma-separated sources to list")
	fs.StringVar(&tags, "tag", "", "comma-separated tags to list (any match)")
	fs.StringVar(&cfg.Status, "status", "", "status to list (pending, processing, processed, failed, cancelled)")
	fs.DurationVar(&cfg.Since, "since", 0, "only list rows created within this duration")
	fs.IntVar(&cfg.RetentionDays, "days", cfg.RetentionDays, "retention in days for cleanup (env: EVENTBUS_RETENTION_DAYS)")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() != 1 {
		return Config{}, errors.New("exactly one command is required")
	}

	cfg.Command = fs.Arg(0)
	cfg.Kinds = splitList(kinds)
	cfg.Sources = splitList(sources)
	cfg.Tags = splitList(tags)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Command {
	case CommandList, CommandStats:
	case CommandShow:
		if c.ID == "" {
			return errors.New("show requires -id")
		}
	case CommandCleanup:
		if _, err := config.RetentionAge(c.RetentionDays); err != nil {
			return fmt.Errorf("-days: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", c.Command)
	}
	if c.DBPath == "" {
		return errors.New("db path is required (-db or EVENTBUS_DB_PATH)")
	}
	if c.Status != "" {
		if _, err := event.ParseStatus(c.Status); err != nil {
			return err
		}
	}
	if c.Since < 0 {
		return fmt.Errorf("since must not be negative, got %s", c.Since)
	}
	return nil
}

// Run executes the command against the log and writes JSON to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	log, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer log.Close()

	result, err := execute(ctx, cfg, log)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func execute(ctx context.Context, cfg Config, log store.Log) (any, error) {
	switch cfg.Command {
	case CommandList:
		return list(ctx, cfg, log)
	case CommandShow:
		return log.Get(ctx, cfg.ID)
	case CommandStats:
		return log.Stats(ctx)
	case CommandCleanup:
		age, err := config.RetentionAge(cfg.RetentionDays)
		if err != nil {
			return nil, err
		}
		deleted, err := log.CleanupOlderThan(ctx, age)
		if err != nil {
			return nil, err
		}
		return cleanupResult{RetentionDays: cfg.RetentionDays, Deleted: deleted}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}
}

type cleanupResult struct {
	RetentionDays int   `json:"retention_days"`
	Deleted       int64 `json:"deleted"`
}

func list(ctx context.Context, cfg Config, log store.Log) ([]event.Summary, error) {
	spec := filter.New().
		AddKind(cfg.Kinds...).
		AddSource(cfg.Sources...).
		AddTag(cfg.Tags...)
	if cfg.Since > 0 {
		spec.SetTimeRange(time.Now().Add(-cfg.Since), time.Time{})
	}

	q := store.Query{Filter: spec, Limit: cfg.Limit}
	if cfg.Status != "" {
		status, err := event.ParseStatus(cfg.Status)
		if err != nil {
			return nil, err
		}
		q.Statuses = []event.Status{status}
	}

	envs, err := log.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]event.Summary, len(envs))
	for i, env := range envs {
		out[i] = env.Summary()
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
