package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/voices"
)

var version = "0.1.0-dev"

const usage = "expected 'validate', 'import', 'list', 'remove' or 'version'"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	var (
		manifestPath string
		dbPath       string
	)
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&manifestPath, "file", "voices.yaml", "Path to voice manifest")
	fs.StringVar(&dbPath, "db", envOr("LOQA_VOICES_PATH", "./data/voices.db"), "Path to the voice profile database")

	switch cmd {
	case "version":
		fmt.Fprintln(out, version)
		return nil
	case "validate", "import", "list", "remove":
	default:
		return fmt.Errorf("unknown command %q: %s", cmd, usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd == "validate" {
		m, err := voices.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(out, "manifest valid (%d profiles)\n", len(m.Profiles))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := voices.Open(ctx, dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer store.Close()

	switch cmd {
	case "import":
		m, err := voices.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		n, err := store.Import(ctx, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %d profiles\n", n)
	case "list":
		profiles, err := store.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "USER\tVOICE\tPROVIDER\tSTATUS\tUPDATED")
		for _, p := range profiles {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.UserID, p.VoiceID, p.Provider, p.Status, p.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	case "remove":
		if fs.NArg() != 1 {
			return fmt.Errorf("remove expects exactly one user id")
		}
		removed, err := store.Delete(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no profile for user %q", fs.Arg(0))
		}
		fmt.Fprintf(out, "removed %s\n", fs.Arg(0))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
