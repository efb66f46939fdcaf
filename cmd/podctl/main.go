package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"podcast-illustrator/internal/bootstrap"
	"podcast-illustrator/internal/config"
	"podcast-illustrator/internal/events"
	"podcast-illustrator/internal/migrate"
	"podcast-illustrator/internal/retention"
)

var (
	configPath string
	jsonOutput bool
	app        *bootstrap.App
)

var rootCmd = &cobra.Command{
	Use:   "podctl",
	Short: "Operate the podcast-illustrator job store",
	Long:  `podctl runs segmentation jobs locally and inspects the job store shared with the API server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Name() == "migrate" {
			return
		}
		cfg := config.Load(configPath)
		logger := bootstrap.NewLogger(cfg.Log, os.Stderr)

		var err error
		app, err = bootstrap.Build(cmd.Context(), cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
}

var segmentCmd = &cobra.Command{
	Use:   "segment audio-file",
	Short: "Upload a local audio file and segment it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatalf("Failed to open input: %v", err)
		}
		defer f.Close()

		u, err := app.Orchestrator.Accept(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			log.Fatalf("Failed to store input: %v", err)
		}
		fmt.Printf("Job created: %s\n", u.JobID)

		res, err := app.Orchestrator.Process(cmd.Context(), u.JobID)
		if err != nil {
			log.Fatalf("Job %s failed: %v", u.JobID, err)
		}
		printResult(res.Record.Status, res.Record.Progress, res.Record.Message)
		for _, s := range res.Segments {
			fmt.Println(s)
		}
	},
}

var processCmd = &cobra.Command{
	Use:   "process job-id",
	Short: "Segment a previously uploaded job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := app.Orchestrator.Process(cmd.Context(), args[0])
		if err != nil {
			log.Fatalf("Job %s failed: %v", args[0], err)
		}
		printResult(res.Record.Status, res.Record.Progress, res.Record.Message)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status job-id",
	Short: "Show the status record of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rec, err := app.Orchestrator.Status(args[0])
		if err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}
		if jsonOutput {
			printJSON(rec)
			return
		}
		printResult(rec.Status, rec.Progress, rec.Message)
		fmt.Printf("Updated:  %s\n", rec.Timestamp.Format(time.RFC3339))
	},
}

var segmentsCmd = &cobra.Command{
	Use:   "segments job-id",
	Short: "List the segment files of a job in order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		segs, err := app.Orchestrator.Segments(args[0])
		if err != nil {
			log.Fatalf("Failed to list segments: %v", err)
		}
		if jsonOutput {
			printJSON(segs)
			return
		}
		if len(segs) == 0 {
			fmt.Println("No segments")
			return
		}
		for _, s := range segs {
			fmt.Println(s)
		}
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the store, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		infos, err := app.Orchestrator.Jobs()
		if err != nil {
			log.Fatalf("Failed to list jobs: %v", err)
		}
		if jsonOutput {
			printJSON(infos)
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILE\tSTATUS\tPROGRESS\tUPDATED")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", info.Dir.ID, info.Meta.Filename, info.Record.Status,
				info.Record.Progress, info.Record.Timestamp.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail jobs left processing by a stopped server",
	Long:  `Only run this while no API server is using the same storage root.`,
	Run: func(cmd *cobra.Command, args []string) {
		n, err := app.Orchestrator.RecoverInterrupted(cmd.Context())
		if err != nil {
			log.Fatalf("Recovery failed: %v", err)
		}
		fmt.Printf("Recovered %d interrupted job(s)\n", n)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete jobs older than the configured retention",
	Run: func(cmd *cobra.Command, args []string) {
		stats := retention.CleanupExpired(cmd.Context(), app.Config, app.Store, app.Orchestrator.Reserve, app.Pruner(), app.Logger)
		if jsonOutput {
			printJSON(stats)
			return
		}
		fmt.Printf("Deleted %d job(s)\n", stats.Total())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [job-id]",
	Short: "Stream job events published by the server",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if app.Redis == nil {
			log.Fatalln("watch requires redis.url to be configured")
		}
		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		err := events.Subscribe(cmd.Context(), app.Redis, events.DefaultChannel, func(ev events.Event) bool {
			if filter != "" && ev.JobID != filter {
				return true
			}
			fmt.Printf("%s %s %-10s %3d%% %s\n", ev.Timestamp.Format(time.RFC3339), ev.JobID, ev.Status, ev.Progress, ev.Message)
			return filter == "" || !ev.Terminal()
		})
		if err != nil && err != context.Canceled {
			log.Fatalf("Watch failed: %v", err)
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load(configPath)
		if cfg.Database.DSN == "" {
			log.Fatalln("database.dsn is not configured")
		}
		if err := migrate.Run(cfg.Database.DSN); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		fmt.Println("Migrations applied")
	},
}

func printResult(status any, progress int, message string) {
	fmt.Printf("Status:   %v\n", status)
	fmt.Printf("Progress: %d%%\n", progress)
	fmt.Printf("Message:  %s\n", message)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(segmentCmd, processCmd, statusCmd, segmentsCmd, listCmd,
		recoverCmd, cleanupCmd, watchCmd, migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
