package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"hipmetrics/internal/logger"
	"hipmetrics/pkg/config"
	"hipmetrics/pkg/pipeline"
	"hipmetrics/pkg/registry"
	"hipmetrics/pkg/report"
	"hipmetrics/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	input := flag.String("input", "", "Study JSON file or directory of study files")
	outputDir := flag.String("output", "", "Directory for JSON reports (overrides output.dir)")
	dbPath := flag.String("db", "", "SQLite report database (overrides store.path)")
	profilesPath := flag.String("profiles", "", "YAML metric profile table (overrides profiles.path)")
	workers := flag.Int("workers", 0, "Number of studies analysed concurrently (overrides processing.numWorkers)")
	listKeyphrase := flag.String("list", "", "List stored studies analysed with this keyphrase and exit")
	showMetrics := flag.String("metrics", "", "Print the stored metrics of a study and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *profilesPath != "" {
		cfg.Profiles.Path = *profilesPath
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}

	lg, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.NewStore(cfg.Store.Path, cfg.Store.BaseURL)
		if err != nil {
			lg.Fatal("Failed to open report store", "path", cfg.Store.Path, "error", err)
		}
		defer st.Close()
	}

	if *listKeyphrase != "" || *showMetrics != "" {
		if st == nil {
			lg.Fatal("Querying requires a report store; set store.path or -db")
		}
		if err := query(st, *listKeyphrase, *showMetrics); err != nil {
			lg.Fatal("Query failed", "error", err)
		}
		return
	}

	if *input == "" {
		flag.Usage()
		os.Exit(1)
	}

	reg := registry.DefaultRegistry()
	if cfg.Profiles.Path != "" {
		if err := reg.LoadFile(cfg.Profiles.Path); err != nil {
			lg.Fatal("Failed to load metric profiles", "path", cfg.Profiles.Path, "error", err)
		}
	}

	studies, err := pipeline.LoadStudies(*input)
	if err != nil {
		lg.Fatal("Failed to load studies", "input", *input, "error", err)
	}

	params := &pipeline.Params{
		Registry:   reg,
		NumWorkers: cfg.Processing.NumWorkers,
		Log:        lg,
	}
	if st != nil {
		params.Sink = st
	}
	analyzer := pipeline.NewAnalyzer(params)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lg.Info("Analysing studies", "count", len(studies), "workers", cfg.Processing.NumWorkers,
		"profiles", reg.Keyphrases())
	startTime := time.Now()
	results, err := analyzer.AnalyzeAll(ctx, studies)
	if err != nil {
		lg.Error("Analysis interrupted", "error", err)
	}

	sum := writeReports(results, cfg.Output.Dir, cfg.Output.Pretty, lg)
	fmt.Printf("Analysed %d studies in %.2f seconds, %d failed, %d skipped\n",
		sum.analysed, time.Since(startTime).Seconds(), sum.failed, sum.skipped)
	if sum.failed > 0 || sum.skipped > 0 || err != nil {
		// os.Exit skips deferred calls
		if st != nil {
			if err := st.Close(); err != nil {
				lg.Error("Failed to close report store", "error", err)
			}
		}
		lg.Sync()
		os.Exit(1)
	}
}

// summary counts the outcome of a batch run
type summary struct {
	analysed, failed, skipped int
}

// writeReports writes every produced report to dir. Studies left unprocessed
// by an interrupted run have neither a report nor an error and count as skipped.
func writeReports(results []pipeline.Result, dir string, pretty bool, lg *logger.Logger) summary {
	var sum summary
	for _, res := range results {
		if res.Err != nil {
			sum.failed++
			continue
		}
		if res.Report == nil {
			sum.skipped++
			continue
		}
		path, err := pipeline.WriteReport(dir, res.StudyID, res.Report, pretty)
		if err != nil {
			lg.Error("Failed to write report", "study", res.StudyID, "error", err)
			sum.failed++
			continue
		}
		if res.Report.RecordedError != nil {
			lg.Warn("Report written with recorded error", "study", res.StudyID, "path", path,
				"recorded_error", *res.Report.RecordedError)
		} else {
			lg.Info("Report written", "study", res.StudyID, "path", path)
		}
		sum.analysed++
	}
	return sum
}

func query(st *store.Store, keyphrase, studyID string) error {
	if keyphrase != "" {
		refs, err := st.StudiesByKeyphrase(keyphrase)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Printf("%s\t%s\t%s\n", ref.ID, ref.Status, ref.URL)
		}
	}
	if studyID != "" {
		rows, err := st.Metrics(studyID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			value := report.NotAvailable
			if !row.Value.NA {
				value = fmt.Sprintf("%g", row.Value.Number)
			}
			fmt.Printf("%s\t%s\t%s\n", row.Name, row.Slot, value)
		}
	}
	return nil
}
