package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/importer"
	"github.com/glottech/hybridtm/internal/ingest"
)

var (
	importFormat    string
	importBatchSize int
	importKeepEmpty bool
	importMinState  string
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import an XLIFF 2.x or TMX 1.4b file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "", "file format: xliff or tmx (default: by extension)")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "entries per store batch (default: from config)")
	importCmd.Flags().BoolVar(&importKeepEmpty, "keep-empty", false, "keep segments with empty targets")
	importCmd.Flags().StringVar(&importMinState, "min-state", "", "minimum workflow state (initial|translated|reviewed|final)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]

	format := importFormat
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tmx":
			format = "tmx"
		default:
			format = "xliff"
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	opts := ingest.Options{
		SkipEmpty:       cfg.Import.SkipEmpty && !importKeepEmpty,
		SkipUnconfirmed: cfg.Import.SkipUnconfirmed,
		ExtractMetadata: cfg.Import.ExtractMetadata,
	}
	minState := importMinState
	if minState == "" {
		minState = cfg.Import.MinState
	}
	if minState != "" {
		state, ok := entry.NormalizeState(minState)
		if !ok {
			return fmt.Errorf("invalid min-state %q", minState)
		}
		opts.MinState = state
	}

	staging, err := ingest.DefaultStaging()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx := context.Background()

	var res *ingest.Result
	switch format {
	case "xliff":
		res, err = ingest.NewXLIFF(staging, opts).Ingest(ctx, f)
	case "tmx":
		res, err = ingest.NewTMX(staging, ingest.TMXConfig{
			FileID:   filepath.Base(path),
			Original: path,
		}, opts).Ingest(ctx, f)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	cmd.Printf("staged %d entries from %s\n", res.Count, path)

	en, err := openEngine(ctx)
	if err != nil {
		staging.Remove(res.Path)
		return err
	}
	defer en.Close()

	im := importer.New(en.Store(), en.Embedder(), staging)
	if importBatchSize > 0 {
		im.BatchSize = importBatchSize
	} else if cfg.Import.BatchSize > 0 {
		im.BatchSize = cfg.Import.BatchSize
	}

	if err := im.Run(ctx, res); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}
