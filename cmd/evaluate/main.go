package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"OIWatch/internal/repository"
	analytics "OIWatch/internal/services/analytics"
	"OIWatch/pkg/config"
)

var windowExts = map[string]bool{".csv": true, ".json": true, ".parquet": true}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	dir := flag.String("d", "", "directory of window files")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "-d is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	base := analytics.NewHTTPServiceBase(cfg.Scorer.URL,
		analytics.WithRequestTimeout(cfg.Scorer.Timeout),
		analytics.WithAttempts(cfg.Scorer.Attempts),
	)
	scorer, err := analytics.NewReconstructionScorer(
		analytics.NewHTTPReconstructor(base, cfg.Scorer.Path),
		cfg.Alert.Metric,
		cfg.Alert.Threshold,
		cfg.Alert.SequenceLength,
		cfg.Alert.FeatureCount,
	)
	if err != nil {
		log.Fatalf("scorer: %v", err)
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && windowExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		window, err := repository.LoadWindow(filepath.Join(*dir, name))
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		score, err := scorer.Score(ctx, strings.TrimSuffix(name, filepath.Ext(name)), window)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		fmt.Printf("%s: %.4f\n", name, score.Value)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
