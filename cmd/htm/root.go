package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glottech/hybridtm/internal/config"
	"github.com/glottech/hybridtm/internal/embed"
	"github.com/glottech/hybridtm/internal/engine"
	"github.com/glottech/hybridtm/internal/logger"
	"github.com/glottech/hybridtm/internal/registry"
	"github.com/glottech/hybridtm/internal/store"
)

var (
	flagConfig   string
	flagInstance string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "htm",
	Short: "Hybrid translation memory engine",
	Long: `htm stores bilingual segments and retrieves them by combining
lexical similarity with dense-vector semantic similarity.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(flagVerbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&flagInstance, "instance", "", "registered instance to use")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging to stderr")
}

// loadConfig resolves the effective configuration, overlaying the
// selected registry instance when one is named.
func loadConfig() (*config.Config, string, error) {
	path := flagConfig
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	name := flagInstance
	if name == "" {
		name = "default"
		return cfg, name, nil
	}

	regPath, err := registry.DefaultPath()
	if err != nil {
		return nil, "", err
	}
	reg, err := registry.Open(regPath)
	if err != nil {
		return nil, "", err
	}
	inst, ok := reg.Get(name)
	if !ok {
		return nil, "", fmt.Errorf("unknown instance %q", name)
	}
	cfg.StorePath = inst.StorePath
	cfg.Embedder = inst.Embedder
	return cfg, name, nil
}

// newEmbedder builds the embedding adapter named by the config.
func newEmbedder(cfg config.EmbedderConfig) (embed.Embedder, error) {
	switch cfg.Kind {
	case "", "ollama":
		return embed.NewOllama(embed.OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil
	case "openai":
		return embed.NewOpenAI(embed.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil
	case "fake":
		dim := cfg.FakeDimension
		if dim <= 0 {
			dim = 256
		}
		return embed.NewFake(dim), nil
	}
	return nil, fmt.Errorf("unknown embedder kind %q", cfg.Kind)
}

// openEngine wires a full engine from the effective configuration.
func openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, name, err := loadConfig()
	if err != nil {
		return nil, err
	}

	em, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	var st store.VectorStore
	if cfg.StorePath == "" {
		logger.Warn("no store_path configured, using a transient in-memory store")
		st = store.NewMemStore()
	} else {
		st, err = store.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
	}

	en, err := engine.Open(ctx, name, st, em)
	if err != nil {
		st.Close()
		return nil, err
	}
	return en, nil
}
