package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/adapters/gocommand"
	"github.com/goliatone/go-relay/adapters/gojob"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
	relayquery "github.com/goliatone/go-relay/query"
	"github.com/goliatone/go-relay/snapshot"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// flagKeys maps CLI flags to settings keys. Flags only override settings
// when set on the command line or through their environment variable.
var flagKeys = map[string]string{
	"database-url":         "database.url",
	"host":                 "http.host",
	"port":                 "http.port",
	"log-level":            "log.level",
	"github-token":         "github.token",
	"github-repo":          "github.repository",
	"backup-ref":           "github.ref",
	"restore-admins-url":   "restore.administrators_url",
	"restore-guilds-url":   "restore.servers_url",
	"restore-webhooks-url": "restore.bindings_url",
	"ingest-secret":        "ingest.secret",
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "relay channel events to registered webhooks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Sources: cli.EnvVars("RELAY_CONFIG"),
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "relay.yaml",
				Usage:   "YAML config file, skipped when missing",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("DATABASE_URL"),
				Name:    "database-url",
				Usage:   "postgres URL or sqlite path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("GITHUB_TOKEN"),
				Name:    "github-token",
				Usage:   "token for the GitHub snapshot remote",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("GITHUB_REPO"),
				Name:    "github-repo",
				Usage:   "owner/name of the GitHub snapshot repository",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("BACKUP_COMMIT_REF"),
				Name:    "backup-ref",
				Usage:   "branch the GitHub remote commits to",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("RESTORE_ADMINS_URL"),
				Name:    "restore-admins-url",
				Usage:   "administrators table URL for restores",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("RESTORE_GUILDS_URL"),
				Name:    "restore-guilds-url",
				Usage:   "servers table URL for restores",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("RESTORE_WEBHOOKS_URL"),
				Name:    "restore-webhooks-url",
				Usage:   "bindings table URL for restores",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			snapshotCommand(),
			restoreCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the relay: event ingest, delivery and scheduled snapshots",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "listen host",
			},
			&cli.IntFlag{
				Sources: cli.EnvVars("PORT"),
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "listen port",
			},
			&cli.StringFlag{
				Sources: cli.EnvVars("INGEST_SECRET"),
				Name:    "ingest-secret",
				Usage:   "shared secret for signed /events requests",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, cmd, serve)
		},
	}
}

func snapshotCommand() *cli.Command {
	sourceFlag := &cli.StringFlag{
		Name:  "source",
		Usage: "snapshot source: github, urls or local",
	}
	return &cli.Command{
		Name:  "snapshot",
		Usage: "export, list and import registry snapshots",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list snapshots, newest first",
				Flags: []cli.Flag{sourceFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
						listing, err := gocommand.Query[relayquery.ListSnapshotsMessage, relayquery.SnapshotListing](ctx,
							relayquery.ListSnapshotsMessage{Source: cmd.String("source")})
						if err != nil {
							return err
						}
						w := output(cmd)
						for _, name := range listing.Names {
							fmt.Fprintln(w, name)
						}
						if len(listing.Names) == 0 {
							fmt.Fprintf(w, "no snapshots in %s\n", listing.Source)
						}
						return nil
					})
				},
			},
			{
				Name:  "latest",
				Usage: "print the newest snapshot name",
				Flags: []cli.Flag{sourceFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
						listing, err := gocommand.Query[relayquery.ListSnapshotsMessage, relayquery.SnapshotListing](ctx,
							relayquery.ListSnapshotsMessage{Source: cmd.String("source")})
						if err != nil {
							return err
						}
						if listing.Latest == "" {
							return fmt.Errorf("relay: no snapshots in %s", listing.Source)
						}
						fmt.Fprintln(output(cmd), listing.Latest)
						return nil
					})
				},
			},
			{
				Name:      "details",
				Usage:     "describe a local snapshot",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := strings.TrimSpace(cmd.Args().First())
					if name == "" {
						return fmt.Errorf("relay: snapshot name is required")
					}
					return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
						details, err := gocommand.Query[relayquery.SnapshotDetailsMessage, snapshot.Details](ctx,
							relayquery.SnapshotDetailsMessage{Name: name})
						if err != nil {
							return err
						}
						return printJSON(output(cmd), details)
					})
				},
			},
			{
				Name:  "export",
				Usage: "write a snapshot now",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
						result, err := gocommand.DispatchWithResult[relaycommand.ExportSnapshotMessage, core.SnapshotExportResult](ctx,
							relaycommand.ExportSnapshotMessage{})
						if err != nil {
							return err
						}
						return printJSON(output(cmd), result)
					})
				},
			},
			{
				Name:  "import",
				Usage: "import a snapshot (merge by default)",
				Flags: []cli.Flag{
					sourceFlag,
					&cli.StringFlag{Name: "name", Usage: "snapshot name, newest when empty"},
					&cli.StringFlag{Name: "mode", Value: string(core.ImportModeMerge), Usage: "merge or replace"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
						return restore(ctx, cmd, core.RestoreRequest{
							Source: cmd.String("source"),
							Name:   cmd.String("name"),
							Mode:   core.ImportMode(cmd.String("mode")),
						})
					})
				},
			},
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "restore the newest snapshot; --force wipes the registry first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "snapshot source: github, urls or local"},
			&cli.StringFlag{Name: "name", Usage: "snapshot name, newest when empty"},
			&cli.BoolFlag{Name: "force", Usage: "replace the registry instead of merging"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			mode := core.ImportModeMerge
			if cmd.Bool("force") {
				mode = core.ImportModeReplace
			}
			return withRuntime(ctx, cmd, func(ctx context.Context, rt *runtime, cmd *cli.Command) error {
				return restore(ctx, cmd, core.RestoreRequest{
					Source: cmd.String("source"),
					Name:   cmd.String("name"),
					Mode:   mode,
				})
			})
		},
	}
}

func restore(ctx context.Context, cmd *cli.Command, req core.RestoreRequest) error {
	report, err := gocommand.DispatchWithResult[relaycommand.RestoreSnapshotMessage, core.ImportReport](ctx,
		relaycommand.RestoreSnapshotMessage{Request: req})
	if err != nil {
		return err
	}
	return printJSON(output(cmd), report)
}

type runtimeAction func(ctx context.Context, rt *runtime, cmd *cli.Command) error

// withRuntime loads settings, opens the runtime and registers the relay
// command and query handlers before running action.
func withRuntime(ctx context.Context, cmd *cli.Command, action runtimeAction) error {
	settings, err := LoadSettings(cmd.String("config"), flagOverrides(cmd))
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, settings)
	if err != nil {
		return err
	}
	defer rt.Close()

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	listers := make([]relayquery.SnapshotLister, 0, len(rt.sources))
	for _, source := range rt.sources {
		listers = append(listers, source)
	}
	subs, err := gocommand.RegisterRelayHandlers(adapter, gocommand.RelayHandlers{
		Service:         rt.service,
		Snapshots:       rt.snapshots,
		SnapshotSources: listers,
		Archive:         rt.archive,
	})
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		return err
	}
	return action(ctx, rt, cmd)
}

func serve(ctx context.Context, rt *runtime, _ *cli.Command) error {
	logger := rt.logger.GetLogger("relay.serve")

	if rt.config.Snapshot.ColdStartRestore {
		report, restored, err := rt.snapshots.ColdStart(ctx, rt.factory.RegistryStore())
		switch {
		case err != nil:
			return err
		case restored:
			logger.Info("cold start restore complete",
				"source", report.Source,
				"bindings", report.Inserted.Bindings,
				"servers", report.Inserted.Servers,
				"administrators", report.Inserted.Administrators,
			)
		default:
			logger.Info("cold start restore skipped")
		}
	}

	dispatcher, err := rt.service.NewDispatcher(func(report core.DeliveryReport) {
		if report.Status == core.DeliveryStatusErrored {
			logger.Error("delivery errored", "channel_id", report.ChannelID, "error", report.Err)
		}
	})
	if err != nil {
		return err
	}

	runner, err := core.NewSnapshotJobRunner(core.SnapshotJobConfig{
		Snapshots: rt.snapshots,
		Logger:    rt.logger.GetLogger("relay.snapshot.jobs"),
		Metrics:   rt.metrics,
	})
	if err != nil {
		return err
	}
	jobs, err := gojob.OpenSQLQueue(ctx, rt.client.DB().DB, gojob.SQLQueueConfig{Dialect: rt.settings.Database.Driver})
	if err != nil {
		return err
	}
	scheduler := newSnapshotScheduler(jobs.Enqueuer(), rt.logger.GetLogger("relay.scheduler"))
	if spec := strings.TrimSpace(rt.config.Snapshot.Schedule); spec != "" {
		if err := scheduler.Start(ctx, spec); err != nil {
			return fmt.Errorf("relay: schedule snapshots: %w", err)
		}
		defer scheduler.Stop()
	}

	receiverOpts := []inbound.Option{
		inbound.WithLogger(rt.logger.GetLogger("relay.inbound")),
		inbound.WithMetricsRecorder(rt.metrics),
		inbound.WithClaimStore(inbound.NewMemoryClaimStore(), rt.settings.Ingest.IdempotencyTTL),
	}
	if secret := strings.TrimSpace(rt.settings.Ingest.Secret); secret != "" {
		receiverOpts = append(receiverOpts, inbound.WithVerifier(inbound.NewSharedSecretVerifier(secret)))
	}
	receiver := inbound.NewReceiver(dispatcher, receiverOpts...)

	server := &http.Server{
		Addr:    rt.settings.ListenAddr(),
		Handler: newRouter(receiver, rt.registry, rt.settings.Ingest.MaxBodyBytes, nil),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runner.Run(groupCtx, jobs.Dequeuer(gojob.DefaultRetryPolicy()))
	})
	group.Go(func() error {
		logger.Info("relay listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.settings.HTTP.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		return errors.Join(err, dispatcher.Close(shutdownCtx))
	})
	return group.Wait()
}

func flagOverrides(cmd *cli.Command) map[string]any {
	overrides := map[string]any{}
	for flag, key := range flagKeys {
		if !cmd.IsSet(flag) {
			continue
		}
		if flag == "port" {
			overrides[key] = cmd.Int(flag)
			continue
		}
		if value := strings.TrimSpace(cmd.String(flag)); value != "" {
			overrides[key] = value
		}
	}
	return overrides
}

func output(cmd *cli.Command) io.Writer {
	if cmd.Writer != nil {
		return cmd.Writer
	}
	return os.Stdout
}

func printJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
