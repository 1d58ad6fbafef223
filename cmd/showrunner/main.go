// Command showrunner renders one show file and exits.
//
// Usage:
//
//	showrunner [-outputs dir] [-keep] [-archive] [-no-render] show.yaml
//
// Process settings come from the same environment variables as the server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/showrunner/internal/bootstrap"
	"github.com/maauso/showrunner/internal/config"
	"github.com/maauso/showrunner/internal/show"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("showrunner", flag.ContinueOnError)
	outputs := fs.String("outputs", "", "outputs folder (overrides OUTPUTS_DIR)")
	keep := fs.Bool("keep", false, "keep intermediate clips")
	archive := fs.Bool("archive", false, "upload the episode to the bucket")
	noRender := fs.Bool("no-render", false, "build the timeline without rendering")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: showrunner [flags] show.yaml\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one show file, got %d", fs.NArg())
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *outputs != "" {
		cfg.OutputsDir = *outputs
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	showCfg, err := show.LoadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if *keep {
		showCfg.KeepIntermediate = true
	}
	if *archive {
		showCfg.Archive = true
	}
	if *noRender {
		render := false
		showCfg.Render = &render
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	j, err := deps.EpisodeService.Process(ctx, showCfg)
	if err != nil {
		return err
	}

	fmt.Printf("run folder: %s\n", j.RunDir)
	if j.AudioPath != "" {
		fmt.Printf("episode:    %s (%d entries, %.1fs)\n", j.AudioPath, j.Entries, float64(j.DurationMs)/1000)
	}
	if j.TimelinePath != "" {
		fmt.Printf("timeline:   %s\n", j.TimelinePath)
	}
	if j.ArchiveURL != "" {
		fmt.Printf("archived:   %s\n", j.ArchiveURL)
	}
	return nil
}
