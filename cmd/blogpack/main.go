package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timf34/blogpack/internal/config"
	"github.com/timf34/blogpack/internal/export"
	"github.com/timf34/blogpack/internal/pipeline"
)

func main() {
	outputDir := flag.String("o", "./archive", "output directory")
	formats := flag.String("f", "all", "formats to export: all, or a comma list of html,epub,pdf")
	maxPosts := flag.Int("n", 0, "maximum number of posts to archive (0 = no limit)")
	platformHint := flag.String("platform", "", "skip detection and use this platform (ghost, substack, wordpress)")
	noImages := flag.Bool("no-images", false, "do not download images")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	configPath := flag.String("config", "", "path to config file (defaults to built-in settings)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *insecure {
		cfg.Fetch.InsecureSkipVerify = true
	}

	fmts, err := export.ParseFormats(*formats)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Ctrl-C cancels the run; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &pipeline.Runner{
		Config: cfg,
		Progress: func(stage string) {
			fmt.Fprintf(os.Stderr, "==> %s\n", stage)
		},
	}

	summary, err := runner.Run(ctx, pipeline.Request{
		URL:          flag.Arg(0),
		OutputDir:    *outputDir,
		Formats:      fmts,
		MaxPosts:     *maxPosts,
		PlatformHint: *platformHint,
		SkipImages:   *noImages,
	})
	if err != nil {
		slog.Error("archive failed", "error", err)
		os.Exit(1)
	}

	printSummary(summary)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: blogpack [flags] <blog-url>\n\n")
	fmt.Fprintf(os.Stderr, "Archives a Ghost, Substack, or WordPress blog into offline artifacts.\n\n")
	flag.PrintDefaults()
}

func printSummary(s *pipeline.Summary) {
	fmt.Printf("\n%s (%s)\n", s.Title, s.Platform)
	fmt.Printf("  posts: %d of %d discovered\n", s.PostsFetched, s.PostsDiscovered)
	fmt.Printf("  images: %d\n", s.ImagesStored)
	for _, f := range s.FailedPosts {
		fmt.Printf("  failed post: %s (%s)\n", f.URL, f.Reason)
	}
	for _, f := range s.FailedImages {
		fmt.Printf("  failed image: %s (%s)\n", f.URL, f.Reason)
	}
	for _, o := range s.Formats {
		if o.Skipped {
			fmt.Printf("  %s: skipped (%s)\n", o.Format, o.Reason)
			continue
		}
		fmt.Printf("  %s: %s\n", o.Format, o.Path)
		for _, w := range o.Warnings {
			fmt.Printf("    warning: %s\n", w)
		}
	}
	fmt.Printf("  elapsed: %s\n", s.Elapsed.Round(time.Millisecond))
}
