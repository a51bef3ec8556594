package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"OIWatch/internal/repository"
	"OIWatch/internal/usecase"
	"OIWatch/pkg/config"
	xlogger "OIWatch/pkg/logger"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] dedup|normalize\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	symbolsFlag := flag.String("symbols", "", "comma separated symbols (default: every file in the store)")
	format := flag.String("format", "csv", "snapshot format for normalize: csv or parquet")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	l, err := xlogger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := repository.NewCSVStore(cfg.Store.DataDir, l)
	symbols, err := pickSymbols(ctx, *symbolsFlag, store)
	if err != nil {
		log.Fatalf("symbols: %v", err)
	}

	m := usecase.NewMaintenance(store, store, repository.WriteSnapshot, cfg.Store.DataDir, l)

	var results []usecase.MaintenanceResult
	switch cmd {
	case "dedup":
		results = m.Dedup(ctx, symbols)
	case "normalize":
		if *format != "csv" && *format != "parquet" {
			log.Fatalf("unsupported snapshot format %q", *format)
		}
		results = m.Normalize(ctx, symbols, *format)
	default:
		usage()
		os.Exit(2)
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("%s: error: %v\n", r.Symbol, r.Err)
		case cmd == "dedup":
			fmt.Printf("%s: removed %d\n", r.Symbol, r.Removed)
		default:
			fmt.Printf("%s: %d rows (%d skipped) -> %s\n", r.Symbol, r.Rows, r.Skipped, r.Path)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func pickSymbols(ctx context.Context, list string, store *repository.CSVStore) ([]string, error) {
	if list == "" {
		return store.Symbols(ctx)
	}
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
