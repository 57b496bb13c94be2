// histkv is an interactive shell around the history storage adapter.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage"
	"github.com/ryltsov/histkv/internal/storage/config"
	"github.com/ryltsov/histkv/internal/storage/query"
	"github.com/ryltsov/histkv/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dbPath := flag.String("db", "", "database file path (overrides config)")
	table := flag.String("table", "", "history table name (overrides config)")
	keyExpr := flag.String("key-expr", "", "key expression scope (overrides config)")
	prefix := flag.String("key-prefix", "", "stripped key prefix (overrides config)")
	user := flag.String("user", "", "store username (prompts for password)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Init(level, false)
	log.SetFlags(log.Ldate | log.Ltime)
	log.Printf("histkv %s starting...", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *table != "" {
		cfg.Store.Table = *table
	}
	if *keyExpr != "" {
		cfg.KeyExpr = *keyExpr
	}
	if *prefix != "" {
		cfg.KeyPrefix = *prefix
	}

	// A username given on the command line is paired with an
	// interactively read password, never a plaintext flag.
	if *user != "" {
		fmt.Printf("Password for %s: ", *user)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			log.Fatalf("Read password: %v", err)
		}
		cfg.Store.Username = *user
		cfg.Store.Password = string(pw)
	}

	svc, err := storage.New(cfg)
	if err != nil {
		log.Fatalf("Open storage: %v", err)
	}
	defer svc.Close()

	sh := &shell{svc: svc}
	fmt.Println("Type 'help' for commands, 'exit' to quit.")
	p := prompt.New(sh.execute, completer,
		prompt.OptionPrefix("histkv> "),
		prompt.OptionTitle("histkv"),
	)
	p.Run()
}

var suggestions = []prompt.Suggest{
	{Text: "put", Description: "put <key> <value> - store a value"},
	{Text: "get", Description: "get <key-expr> [start] [stop] - query values"},
	{Text: "del", Description: "del <key> - delete a key"},
	{Text: "export", Description: "export <key-expr> <file> - snapshot to parquet"},
	{Text: "stats", Description: "show operation statistics"},
	{Text: "status", Description: "show effective configuration"},
	{Text: "help", Description: "show command help"},
	{Text: "exit", Description: "quit"},
}

func completer(d prompt.Document) []prompt.Suggest {
	if d.TextBeforeCursor() != d.GetWordBeforeCursor() {
		return nil // only complete the command word
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

type shell struct {
	svc *storage.Service
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	ctx := context.Background()

	switch args[0] {
	case "put":
		if len(args) < 3 {
			fmt.Println("usage: put <key> <value>")
			return
		}
		err := s.svc.Apply(ctx, types.Change{
			Key:       args[1],
			Kind:      types.Put,
			Timestamp: s.svc.NewTimestamp(),
			Payload:   []byte(strings.Join(args[2:], " ")),
		})
		s.report(err)

	case "del", "delete":
		if len(args) != 2 {
			fmt.Println("usage: del <key>")
			return
		}
		err := s.svc.Apply(ctx, types.Change{
			Key:       args[1],
			Kind:      types.Delete,
			Timestamp: s.svc.NewTimestamp(),
		})
		s.report(err)

	case "get":
		if len(args) < 2 || len(args) > 4 {
			fmt.Println("usage: get <key-expr> [start] [stop]")
			return
		}
		var opts query.Options
		if len(args) > 2 {
			opts.StartTime = args[2]
		}
		if len(args) > 3 {
			opts.StopTime = args[3]
		}
		s.get(ctx, args[1], opts)

	case "export":
		if len(args) != 3 {
			fmt.Println("usage: export <key-expr> <file>")
			return
		}
		n, err := s.svc.ExportSnapshot(ctx, args[1], args[2])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("wrote %d records to %s\n", n, args[2])

	case "stats":
		s.dump(s.svc.Stats())

	case "status":
		s.dump(s.svc.AdminStatus())

	case "help":
		for _, sg := range suggestions {
			fmt.Printf("  %-8s %s\n", sg.Text, sg.Description)
		}

	case "exit", "quit":
		s.svc.Close()
		os.Exit(0)

	default:
		fmt.Printf("unknown command %q, try 'help'\n", args[0])
	}
}

func (s *shell) get(ctx context.Context, expr string, opts query.Options) {
	rs, err := s.svc.Query(ctx, expr, opts)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer rs.Close()

	n := 0
	for rs.Next() {
		e := rs.Entry()
		fmt.Printf("%s @ %s = %s\n", e.Key, e.Timestamp, e.Payload)
		n++
	}
	if err := rs.Err(); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("(%d entries)\n", n)
}

func (s *shell) report(err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (s *shell) dump(v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Print(string(out))
}
