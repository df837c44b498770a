package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/uiscope/uiscope"
	"github.com/uiscope/uiscope/internal/config"
	"github.com/uiscope/uiscope/internal/utils"
	"github.com/uiscope/uiscope/pkg/batch"
)

func main() {
	var in, cfgPath, backend, url, model, apiKey, lang, outDir, ext string
	var quality int
	var lossless bool
	var verbose bool

	flag.StringVar(&in, "in", "", "input image file, directory or URL")
	flag.StringVar(&cfgPath, "config", "", "config file path (JSON)")
	flag.StringVar(&backend, "backend", "", "backend to use: ollama or llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "", "model name")
	flag.StringVar(&apiKey, "apikey", "", "bearer token for hosted llamacpp-compatible servers")
	flag.StringVar(&lang, "lang", "", "output language for labels and descriptions")
	flag.StringVar(&outDir, "out", "", "output directory for annotated exports")
	flag.StringVar(&ext, "ext", "", "export format: jpg|png|webp")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP export quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP export lossless mode")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.Parse()

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if in == "" && flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [-in input|dir|URL] [image...] [-backend ollama|llamacpp] [-url server_url] [-out outdir]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}
	applyFlags(cfg, backend, url, model, apiKey, lang, outDir, ext, quality, lossless)

	ws, err := uiscope.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create workspace")
	}

	ids, err := ingest(ws, in, flag.Args(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestion failed")
	}
	if len(ids) == 0 {
		log.Fatal().Msg("no images to analyze")
	}

	if err := utils.EnsureDir(cfg.Export.OutDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Export.OutDir).Msg("failed to create output directory")
	}

	// Ctrl-C cancels the run; the in-flight model call is interrupted, not
	// waited out.
	ctx := context.Background()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Warn().Msg("cancellation requested")
		ws.CancelAnalysis()
	}()

	if err := ws.Analyze(ctx, ids); err != nil {
		log.Fatal().Err(err).Msg("failed to start batch run")
	}
	ws.Runner.Wait()

	summary, _ := ws.Runner.Summary()
	if summary.Err != nil {
		log.Fatal().Err(summary.Err).Msg("batch run aborted")
	}
	log.Info().Int("completed", summary.Completed).Int("total", summary.Total).Msg("analysis done")

	for _, id := range ids {
		if st, _ := ws.Runner.Status(id); st != batch.StatusCompleted {
			continue
		}
		if err := writeOutputs(ws, cfg, id); err != nil {
			log.Error().Err(err).Int("doc_id", id).Msg("export failed")
			continue
		}
		log.Info().Int("doc_id", id).Msg("wrote annotated export")
	}

	if summary.Canceled {
		os.Exit(1)
	}
}

func applyFlags(cfg *config.Config, backend, url, model, apiKey, lang, outDir, ext string, quality int, lossless bool) {
	if backend != "" {
		cfg.Analyzer.Backend = backend
	}
	if url != "" {
		cfg.Analyzer.URL = url
	} else if cfg.Analyzer.Backend == "llamacpp" && strings.Contains(cfg.Analyzer.URL, "11434") {
		cfg.Analyzer.URL = "http://localhost:8080"
	}
	if model != "" {
		cfg.Analyzer.Model = model
	}
	if apiKey != "" {
		cfg.Analyzer.APIKey = apiKey
	}
	if lang != "" {
		cfg.Analyzer.Language = lang
	}
	if outDir != "" {
		cfg.Export.OutDir = outDir
	}
	if ext != "" {
		cfg.Export.Format = ext
	}
	if quality > 0 {
		cfg.Export.Quality = quality
	}
	if lossless {
		cfg.Export.Lossless = true
	}
}

// ingest loads -in (file, directory or URL) plus any positional arguments.
func ingest(ws *uiscope.Workspace, in string, args []string, log zerolog.Logger) ([]int, error) {
	sources := append([]string(nil), args...)
	if in != "" {
		if info, err := os.Stat(in); err == nil && info.IsDir() {
			files, err := utils.ListImageFiles(in)
			if err != nil {
				return nil, err
			}
			sources = append(sources, files...)
		} else {
			sources = append(sources, in)
		}
	}

	var ids []int
	for _, src := range sources {
		doc, err := ws.LoadFile(src)
		if err != nil {
			log.Warn().Err(err).Str("source", src).Msg("skipping input")
			continue
		}
		log.Debug().Int("doc_id", doc.ID).Str("source", src).Int("w", doc.Width).Int("h", doc.Height).Msg("ingested")
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func writeOutputs(ws *uiscope.Workspace, cfg *config.Config, id int) error {
	doc, ok := ws.Documents.Get(id)
	if !ok {
		return fmt.Errorf("document %d not found", id)
	}
	base := utils.SanitizeFilename(strings.TrimSuffix(filepath.Base(doc.Name), filepath.Ext(doc.Name)))

	imgPath := filepath.Join(cfg.Export.OutDir, fmt.Sprintf("%03d_%s_annotated.%s", id, base, strings.ToLower(cfg.Export.Format)))
	if err := ws.SaveExport(id, imgPath); err != nil {
		return err
	}

	js, err := json.MarshalIndent(doc.Result, "", "  ")
	if err != nil {
		return err
	}
	jsonPath := filepath.Join(cfg.Export.OutDir, fmt.Sprintf("%03d_%s_result.json", id, base))
	return os.WriteFile(jsonPath, js, 0o644)
}
