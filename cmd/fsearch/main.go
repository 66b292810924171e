// Package main is the entry point for the fsearch CLI.
//
// Usage:
//
//	fsearch rebuild            — rescan configured roots and rebuild the index
//	fsearch search QUERY       — ranked token search with substring fallback
//	fsearch regex PATTERN      — regular-expression search
//	fsearch stats              — index statistics
//	fsearch version            — print version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/fsearch/fsearch/internal/config"
	"github.com/fsearch/fsearch/internal/index"
	"github.com/fsearch/fsearch/internal/observability"
	"github.com/fsearch/fsearch/internal/searcher"
)

const (
	version = "0.1.0"
	appName = "fsearch"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "rebuild":
		err = runRebuild(args)
	case "search":
		err = runSearch(args)
	case "regex":
		err = runRegex(args)
	case "stats":
		err = runStats(args)
	case "version":
		fmt.Printf("%s v%s\n", appName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — filesystem index and search

Usage:
  %s <command> [flags]

Commands:
  rebuild    Rescan configured roots and rebuild the index
  search     Ranked token search ("car front" requires both tokens)
  regex      Regular-expression search over indexed paths
  stats      Show index statistics
  version    Print version

Environment variables:
  FSEARCH_DATA            Data directory (default: ~/.fsearch)
  FSEARCH_ROOTS           Override configured roots (comma separated)
  FSEARCH_FILE_EXTENSIONS Override extension allow-list
  FSEARCH_MAX_RESULTS     Override result cap
  FSEARCH_DB_PATH         Override index database path

`, appName, version, appName)
}

// newSearcher builds the facade from the config file, optionally at an
// explicit path.
func newSearcher(configPath string) (*searcher.Searcher, error) {
	store := config.NewStore("", configPath)
	return searcher.New(store, observability.NewLogger(appName, os.Stderr))
}

// signalContext is cancelled on interrupt so a long rebuild can stop
// between directories.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRebuild(args []string) error {
	fs := pflag.NewFlagSet("rebuild", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	quiet := fs.BoolP("quiet", "q", false, "suppress progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := newSearcher(*configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	var onProgress func(string)
	if !*quiet {
		onProgress = func(msg string) { fmt.Println(msg) }
	}
	_, err = s.Rebuild(ctx, onProgress)
	return err
}

func runSearch(args []string) error {
	fs := pflag.NewFlagSet("search", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.IntP("limit", "n", 0, "max results (default: configured max_results)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("search: empty query")
	}

	s, err := newSearcher(*configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := autoRebuild(ctx, s); err != nil {
		return err
	}

	results, err := s.Search(ctx, query, *limit)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func runRegex(args []string) error {
	fs := pflag.NewFlagSet("regex", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.IntP("limit", "n", 0, "max results (default: configured max_results)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("regex: exactly one pattern argument required")
	}

	s, err := newSearcher(*configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := autoRebuild(ctx, s); err != nil {
		return err
	}

	results, err := s.RegexSearch(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	printResults(results)
	return nil
}

func runStats(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := newSearcher(*configPath)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}

	lastIndexed := "never"
	if stats.LastIndexTime != nil {
		lastIndexed = humanize.Time(*stats.LastIndexTime)
	}
	fmt.Printf("Location:     %s\n", stats.Location)
	fmt.Printf("Entries:      %s\n", humanize.Comma(int64(stats.TotalItems)))
	fmt.Printf("Last indexed: %s\n", lastIndexed)
	fmt.Printf("Size on disk: %s\n", humanize.Bytes(uint64(stats.StorageSizeBytes)))
	return nil
}

// autoRebuild rebuilds before the first query when the config asks for it
// and the index is still empty.
func autoRebuild(ctx context.Context, s *searcher.Searcher) error {
	cfg := s.Config()
	if cfg == nil || !cfg.AutoRebuildOnLaunch {
		return nil
	}
	indexed, err := s.IsIndexed(ctx)
	if err != nil || indexed {
		return err
	}
	_, err = s.Rebuild(ctx, nil)
	return err
}

func printResults(results []index.SearchResult) {
	for _, r := range results {
		kind := humanize.Bytes(uint64(r.Size))
		if r.IsDir {
			kind = "dir"
		}
		fmt.Printf("%s\t%s\n", r.Path, kind)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
	}
}
