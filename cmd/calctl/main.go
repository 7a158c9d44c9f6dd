package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/campuscal/campuscal/internal/app"
	"github.com/campuscal/campuscal/internal/calfeed"
	"github.com/campuscal/campuscal/internal/config"
	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/observability"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		slog.Error("calctl failed", "err", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "calctl",
		Usage: "Manage the campus club calendar from the command line.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "settings", Usage: "settings file path", EnvVars: []string{"SETTINGS_PATH"}},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging on stderr"},
		},
		Writer: out,
		Commands: []*cli.Command{
			listCommand(),
			addCommand(),
			deleteCommand(),
			syncCommand(),
			configureCommand(),
			exportCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	if path := c.String("settings"); path != "" && path != cfg.SettingsPath {
		s, err := config.LoadSettings(path)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg.SettingsPath = path
		cfg.Storage = s.WithEnv()
	}

	env := "prod"
	if c.Bool("verbose") {
		env = "dev"
	}
	log := observability.NewLogger(env, os.Stderr)
	slog.SetDefault(log)

	return cfg, log, nil
}

// withApp opens the configured backend, loads the current events and hands
// over the app.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx := c.Context

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Sync.ForceSyncNow(ctx); err != nil {
		log.Warn("initial load failed", "err", err)
	}

	return fn(ctx, a)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print events, optionally filtered.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD"},
			&cli.StringFlag{Name: "month", Usage: "YYYY-MM"},
			&cli.StringFlag{Name: "club"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				var f event.Filter
				if v := c.String("date"); v != "" {
					f.Date = &v
				}
				if v := c.String("month"); v != "" {
					f.Month = &v
				}
				if v := c.String("club"); v != "" {
					f.Club = &v
				}

				events := f.Apply(a.Sync.AllEvents(ctx))
				event.Sort(events)

				if c.Bool("json") {
					return writeJSON(c.App.Writer, events)
				}
				return writeTable(c.App.Writer, events)
			})
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Create an event.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "club", Required: true},
			&cli.StringFlag{Name: "date", Required: true, Usage: "YYYY-MM-DD"},
			&cli.StringFlag{Name: "start", Usage: "HH:MM"},
			&cli.StringFlag{Name: "end", Usage: "HH:MM"},
			&cli.StringFlag{Name: "location"},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "image", Usage: "http(s) URL or data:image URI"},
		},
		Action: func(c *cli.Context) error {
			req := event.CreateEventRequest{
				Title:       c.String("title"),
				ClubName:    c.String("club"),
				Date:        c.String("date"),
				StartTime:   c.String("start"),
				EndTime:     c.String("end"),
				Location:    c.String("location"),
				Description: c.String("description"),
				Image:       c.String("image"),
			}

			if err := event.Validate(req); err != nil {
				return fmt.Errorf("invalid event: %w", err)
			}

			return withApp(c, func(ctx context.Context, a *app.App) error {
				e, err := a.Sync.AddEvent(ctx, req)
				if err != nil {
					return err
				}

				fmt.Fprintln(c.App.Writer, e.ID)
				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an event by id. Unknown ids are ignored.",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id := strings.TrimSpace(c.Args().First())
			if id == "" {
				return errors.New("event id is required")
			}

			return withApp(c, func(ctx context.Context, a *app.App) error {
				return a.Sync.DeleteEvent(ctx, id)
			})
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a sync pass and print the status.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "watch", Usage: "keep syncing until interrupted"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				if c.Bool("watch") {
					ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
					defer stop()

					a.Log.Info("watching for changes", "backend", a.Settings.Backend, "interval", a.Config.SyncInterval)
					if err := a.Sync.Run(ctx); err != nil {
						return err
					}
				}

				st := a.Sync.Status()
				if err := writeJSON(c.App.Writer, st); err != nil {
					return err
				}
				if st.LastError != "" {
					return fmt.Errorf("last sync failed: %s", st.LastError)
				}
				return nil
			})
		},
	}
}

func configureCommand() *cli.Command {
	return &cli.Command{
		Name:  "configure",
		Usage: "Write storage settings to the settings file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Usage: "local, memory, redis, airtable or postgres"},
			&cli.StringFlag{Name: "calendar-name"},
			&cli.StringFlag{Name: "timezone", Usage: "IANA zone, e.g. America/Toronto"},
			&cli.StringFlag{Name: "data-dir"},
			&cli.StringFlag{Name: "airtable-api-key"},
			&cli.StringFlag{Name: "airtable-base-id"},
			&cli.StringFlag{Name: "airtable-table"},
			&cli.StringFlag{Name: "database-url"},
			&cli.StringFlag{Name: "redis-addr"},
			&cli.StringFlag{Name: "redis-password"},
			&cli.IntFlag{Name: "redis-db"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("settings")
			if path == "" {
				path = config.DefaultSettingsPath()
			}

			s, err := config.LoadSettings(path)
			if err != nil {
				return err
			}

			set := func(dst *string, flag string) {
				if c.IsSet(flag) {
					*dst = c.String(flag)
				}
			}

			set(&s.Backend, "backend")
			set(&s.CalendarName, "calendar-name")
			set(&s.Timezone, "timezone")
			set(&s.Local.DataDir, "data-dir")
			set(&s.Airtable.APIKey, "airtable-api-key")
			set(&s.Airtable.BaseID, "airtable-base-id")
			set(&s.Airtable.Table, "airtable-table")
			set(&s.Postgres.URL, "database-url")
			set(&s.Redis.Addr, "redis-addr")
			set(&s.Redis.Password, "redis-password")
			if c.IsSet("redis-db") {
				s.Redis.DB = c.Int("redis-db")
			}

			if err := config.SaveSettings(path, s); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "saved %s (backend=%s)\n", path, s.Backend)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export-ics",
		Usage: "Write all events as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file, stdout when empty"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				opts, err := a.CalendarOptions()
				if err != nil {
					return err
				}

				body := calfeed.Render(a.Sync.AllEvents(ctx), opts)

				if path := c.String("out"); path != "" {
					return os.WriteFile(path, []byte(body), 0o644)
				}

				_, err = io.WriteString(c.App.Writer, body)
				return err
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, events []event.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTIME\tCLUB\tTITLE\tLOCATION")

	for _, e := range events {
		when := "all day"
		if e.StartTime != "" {
			when = e.StartTime
			if e.EndTime != "" {
				when += "-" + e.EndTime
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Date, when, e.ClubName, e.Title, e.Location)
	}

	return tw.Flush()
}
