// Command mamctl creates, inspects, verifies, backs up and restores
// mamstore page files.
//
// Usage:
//
//	mamctl create  [-page-size N] <file>
//	mamctl inspect [-page-size N] <file>
//	mamctl verify  [-page-size N] <file>
//	mamctl backup  [-page-size N] [-codec zstd] [-name NAME] <file> <location>
//	mamctl restore [-name NAME] [-force] <location> <file>
//	mamctl list    <location>
//
// A location is a directory, file:///dir, s3://bucket/prefix or
// minio://endpoint/bucket/prefix. For s3 locations -ddb-table commits
// CURRENT through a DynamoDB table, and directory buckets (--x-s3) get
// conditional manifest writes. Credentials come from the default AWS chain.
// MinIO credentials come from MINIO_ACCESS_KEY and MINIO_SECRET_KEY.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"create", "create a new page file", runCreate},
	{"inspect", "print header, clients and free list statistics", runInspect},
	{"verify", "check the free list, client chain and page tags", runVerify},
	{"backup", "snapshot a page file into a location", runBackup},
	{"restore", "rebuild a page file from a snapshot", runRestore},
	{"list", "list the snapshots in a location", runList},
}

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return errUsage
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, args[1:], out)
		}
	}
	printUsage(os.Stderr)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: mamctl <command> [options] <args>\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.usage)
	}
}

// commonFlags are shared by every command.
type commonFlags struct {
	verbose bool
	ddb     string
	workers int
}

func newFlagSet(name string, cf *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.BoolVar(&cf.verbose, "v", false, "verbose output")
	fs.StringVar(&cf.ddb, "ddb-table", "", "DynamoDB table committing CURRENT for s3 locations")
	fs.IntVar(&cf.workers, "workers", 0, "parallel chunk jobs (default: GOMAXPROCS)")
	return fs
}

func (cf *commonFlags) logLevel() slog.Level {
	if cf.verbose {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

func needArgs(fs *flag.FlagSet, n int, names string) error {
	if fs.NArg() != n {
		fmt.Fprintf(fs.Output(), "Usage: mamctl %s [options] %s\n", fs.Name(), names)
		fs.PrintDefaults()
		return errUsage
	}
	return nil
}
