package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ragbridge/pkg/config"
	"ragbridge/pkg/eventlog"
)

// eventsConfig holds configuration for the events command.
type eventsConfig struct {
	eventType  string
	instanceID string
	since      time.Duration
	limit      int
	follow     bool
	asJSON     bool
}

// followInterval is how often --follow polls the journal.
const followInterval = time.Second

// newEventsCmd creates the "ragbridge events" subcommand.
func newEventsCmd(flags *globalFlags) *cobra.Command {
	var cfg eventsConfig

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the bridge event journal",
		Long:  "Prints recent worker lifecycle events (starts, exits, restarts, health failures)\nfrom the SQLite journal written by serve, oldest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := journalPath(flags)
			if err != nil {
				return err
			}
			r, err := eventlog.OpenReader(path)
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			p := newEventPrinter(out, cfg.asJSON, isTerminal(out))
			opts := eventlog.QueryOpts{Type: cfg.eventType, InstanceID: cfg.instanceID, Limit: cfg.limit}
			if cfg.since > 0 {
				after := time.Now().Add(-cfg.since)
				opts.After = &after
			}

			if cfg.follow {
				return followEvents(cmd.Context(), r, p, opts)
			}
			_, err = printEvents(cmd.Context(), r, p, opts, true)
			return err
		},
	}

	cmd.Flags().StringVar(&cfg.eventType, "type", "", "only events of this type (e.g. exited, restarting)")
	cmd.Flags().StringVar(&cfg.instanceID, "instance", "", "only events from this bridge instance")
	cmd.Flags().DurationVar(&cfg.since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVarP(&cfg.limit, "limit", "n", 20, "number of recent events to show (0 = all)")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every second")
	cmd.Flags().BoolVar(&cfg.asJSON, "json", false, "one JSON object per line")

	return cmd
}

// journalPath resolves the journal from the config without building a
// logger; read-only commands stay quiet.
func journalPath(flags *globalFlags) (string, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return "", err
	}
	return cfg.EventLogPath()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// printEvents prints matching events oldest first and returns the highest
// id printed.
func printEvents(ctx context.Context, r *eventlog.Reader, p *eventPrinter, opts eventlog.QueryOpts, announceEmpty bool) (int64, error) {
	events, err := r.Query(ctx, opts)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 && announceEmpty && !p.asJSON {
		fmt.Fprintln(p.w, "no events found")
		return 0, nil
	}

	slices.Reverse(events)
	var last int64
	for i := range events {
		if err := p.print(&events[i]); err != nil {
			return last, err
		}
		last = events[i].ID
	}
	return last, nil
}

// followEvents prints the initial batch then polls for newer rows until
// ctx is done.
func followEvents(ctx context.Context, r *eventlog.Reader, p *eventPrinter, opts eventlog.QueryOpts) error {
	last, err := printEvents(ctx, r, p, opts, false)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	opts.Limit = 0
	opts.After = nil
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			opts.AfterID = last
			newest, err := printEvents(ctx, r, p, opts, false)
			if err != nil {
				return err
			}
			if newest > last {
				last = newest
			}
		}
	}
}

// eventPrinter renders journal rows as aligned text or JSON lines.
type eventPrinter struct {
	w      io.Writer
	asJSON bool
	styles eventStyles
}

type eventStyles struct {
	time    lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	message lipgloss.Style
}

func newEventPrinter(w io.Writer, asJSON, color bool) *eventPrinter {
	theme := defaultTheme()
	plain := lipgloss.NewStyle()
	s := eventStyles{time: plain, muted: plain, ok: plain, warn: plain, bad: plain, message: plain}
	if color {
		s = eventStyles{
			time:    lipgloss.NewStyle().Foreground(theme.Muted),
			muted:   lipgloss.NewStyle().Foreground(theme.Muted),
			ok:      lipgloss.NewStyle().Foreground(theme.Success).Bold(true),
			warn:    lipgloss.NewStyle().Foreground(theme.Warning),
			bad:     lipgloss.NewStyle().Foreground(theme.Error).Bold(true),
			message: plain,
		}
	}
	return &eventPrinter{w: w, asJSON: asJSON, styles: s}
}

func (p *eventPrinter) print(e *eventlog.Event) error {
	if p.asJSON {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.ID, err)
		}
		_, err = fmt.Fprintf(p.w, "%s\n", data)
		return err
	}

	msg := e.Message
	if e.Error != "" && e.Error != e.Message {
		if msg != "" {
			msg += ": "
		}
		msg += e.Error
	}
	pid := ""
	if e.PID != 0 {
		pid = fmt.Sprintf("pid %d", e.PID)
	}

	// Pad before styling so ANSI codes do not break alignment.
	_, err := fmt.Fprintf(p.w, "%s | %s | %s | %s | %s\n",
		p.styles.time.Render(e.CreatedAt.Local().Format("2006-01-02 15:04:05.000")),
		p.styles.muted.Render(fmt.Sprintf("%-8s gen %-3d", shortID(e.InstanceID), e.Generation)),
		p.typeStyle(e.Type).Render(fmt.Sprintf("%-15s", e.Type)),
		p.styles.muted.Render(fmt.Sprintf("%-9s", pid)),
		p.styles.message.Render(msg),
	)
	return err
}

func (p *eventPrinter) typeStyle(t string) lipgloss.Style {
	switch t {
	case "running":
		return p.styles.ok
	case "exited", "health_failed", "error", "restarting":
		return p.styles.warn
	case "budget_exceeded":
		return p.styles.bad
	default:
		return p.styles.muted
	}
}

// shortID trims a UUID to its first group.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
