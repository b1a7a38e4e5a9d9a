package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/client"
	"logistics/api/internal/logger"
)

const usage = `usage: logisticsctl [-addr URL] [-session ID] <command> [flags]

commands:
  import -file companies.json   upload a JSON company list (-file - reads stdin)
  import -text '[...]'          submit pasted JSON text
  status                        show sync status
  lookup -q text                search the company registry
  export -format html|pdf -out file
  reset -confirm                delete all companies and restore the SOP template
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "logisticsctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("logisticsctl", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	addr := global.String("addr", envOr("LOGISTICS_API_URL", "http://localhost:8787"), "API base URL")
	sessionID := global.String("session", os.Getenv("LOGISTICS_SESSION_ID"), "session id sent as X-Session-ID")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("missing command")
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(level, "console", "logisticsctl")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	c := client.New(*addr, *sessionID, log)
	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "import":
		return runImport(ctx, c, rest, os.Stdin)
	case "status":
		status, err := c.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(status)
	case "lookup":
		return runLookup(ctx, c, rest)
	case "export":
		return runExport(ctx, c, rest, log)
	case "reset":
		return runReset(ctx, c, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runImport(ctx context.Context, c *client.Client, args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	file := fs.String("file", "", "JSON file to upload, or - for stdin")
	text := fs.String("text", "", "JSON text to submit as pasted input")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		res *client.ImportResult
		err error
	)
	switch {
	case *file != "" && *text != "":
		return fmt.Errorf("import: -file and -text are mutually exclusive")
	case *text != "":
		res, err = c.ImportText(ctx, *text)
	case *file == "-":
		data, readErr := io.ReadAll(stdin)
		if readErr != nil {
			return fmt.Errorf("import: read stdin: %w", readErr)
		}
		res, err = c.ImportText(ctx, string(data))
	case *file != "":
		data, readErr := os.ReadFile(filepath.Clean(*file))
		if readErr != nil {
			return fmt.Errorf("import: %w", readErr)
		}
		res, err = c.ImportFile(ctx, filepath.Base(*file), data)
	default:
		return fmt.Errorf("import: -file or -text is required")
	}
	if err != nil {
		return err
	}
	fmt.Printf("imported %d companies\n", res.Imported)
	return nil
}

func runLookup(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("lookup", flag.ContinueOnError)
	query := fs.String("q", "", "search text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := c.Lookup(ctx, *query)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runExport(ctx context.Context, c *client.Client, args []string, log *zap.Logger) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "html", "html or pdf")
	out := fs.String("out", "", "output file (default sop-guide.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := c.Export(ctx, *format)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = "sop-guide." + *format
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	log.Debug("export written", zap.String("path", path), zap.Int("bytes", len(data)))
	fmt.Println(path)
	return nil
}

func runReset(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	confirm := fs.Bool("confirm", false, "confirm the reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := c.Reset(ctx, *confirm); err != nil {
		return err
	}
	fmt.Println("all data reset")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
