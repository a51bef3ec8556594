package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"OIWatch/internal/repository"
	"OIWatch/internal/usecase"
	"OIWatch/pkg/config"
	xlogger "OIWatch/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	file := flag.String("f", "", "single history file to mine")
	dir := flag.String("d", "", "directory of history files to mine")
	format := flag.String("format", "", "window format: csv, parquet or json (default from config)")
	out := flag.String("out", "", "output directory (default next to each input)")
	flag.Parse()

	if (*file == "") == (*dir == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -f or -d is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *format != "" {
		cfg.Extract.Format = *format
	}
	if *out != "" {
		cfg.Extract.OutDir = *out
	}

	saver := repository.NewWindowSaver(cfg.Extract.Format)
	if saver == nil {
		fmt.Fprintf(os.Stderr, "unsupported format %q\n", cfg.Extract.Format)
		flag.Usage()
		os.Exit(2)
	}

	l, err := xlogger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := usecase.NewWindowExtractor(
		repository.NewCSVStore(cfg.Store.DataDir, l),
		saver,
		usecase.ExtractConfig{
			WindowLen:     cfg.Extract.WindowLen,
			TriggerSpan:   cfg.Extract.TriggerSpan,
			RiseThreshold: cfg.Extract.RiseThreshold,
			OutDir:        cfg.Extract.OutDir,
		},
		l,
	)

	var rep usecase.ExtractReport
	if *file != "" {
		rep, err = ex.ExtractFile(ctx, *file)
	} else {
		rep, err = ex.ExtractDir(ctx, *dir)
	}
	if err != nil {
		log.Fatalf("extract: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep)
	if len(rep.FailedFiles) > 0 {
		os.Exit(1)
	}
}
