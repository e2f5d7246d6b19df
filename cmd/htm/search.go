package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glottech/hybridtm/internal/engine"
	"github.com/glottech/hybridtm/internal/entry"
)

var (
	searchLang     string
	searchLimit    int
	searchMinState string
	searchContext  []string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search within one language",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var (
	translateSrc      string
	translateTgt      string
	translateMinScore int
	translateLimit    int
	translateJSON     bool
)

var translateCmd = &cobra.Command{
	Use:   "translate [query]",
	Short: "Bilingual translation search with target pairing",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranslate,
}

var (
	concordanceLang  string
	concordanceLimit int
)

var concordanceCmd = &cobra.Command{
	Use:   "concordance [fragment]",
	Short: "Find segments containing a fragment, with all language variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runConcordance,
}

func init() {
	searchCmd.Flags().StringVar(&searchLang, "lang", "en", "language to search")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchMinState, "min-state", "", "minimum workflow state")
	searchCmd.Flags().StringSliceVar(&searchContext, "context", nil, "context fragments that must all match")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)

	translateCmd.Flags().StringVar(&translateSrc, "src", "en", "source language")
	translateCmd.Flags().StringVar(&translateTgt, "tgt", "", "target language (required)")
	translateCmd.Flags().IntVar(&translateMinScore, "min-score", 50, "minimum hybrid score")
	translateCmd.Flags().IntVarP(&translateLimit, "limit", "n", 5, "maximum number of matches")
	translateCmd.Flags().BoolVar(&translateJSON, "json", false, "output results as JSON")
	translateCmd.MarkFlagRequired("tgt")
	rootCmd.AddCommand(translateCmd)

	concordanceCmd.Flags().StringVar(&concordanceLang, "lang", "en", "language of the fragment")
	concordanceCmd.Flags().IntVarP(&concordanceLimit, "limit", "n", 10, "maximum number of segments")
	rootCmd.AddCommand(concordanceCmd)
}

func buildFilter() (*entry.Filter, error) {
	f := &entry.Filter{ContextIncludes: searchContext}
	if searchMinState != "" {
		state, ok := entry.NormalizeState(searchMinState)
		if !ok {
			return nil, fmt.Errorf("invalid min-state %q", searchMinState)
		}
		f.MinState = state
	}
	if f.IsZero() {
		return nil, nil
	}
	return f, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	en, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer en.Close()

	results, err := en.SemanticSearch(ctx, args[0], searchLang, searchLimit, filter)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for _, e := range results {
		cmd.Printf("%s\t%s\n", e.ID, e.PureText)
	}
	return nil
}

func runTranslate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	en, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer en.Close()

	matches, err := en.SemanticTranslationSearch(ctx, args[0],
		translateSrc, translateTgt, translateMinScore, translateLimit, nil)
	if err != nil {
		return fmt.Errorf("translation search failed: %w", err)
	}

	if translateJSON {
		type jsonMatch struct {
			Source   string `json:"source"`
			Target   string `json:"target"`
			Origin   string `json:"origin"`
			Semantic int    `json:"semantic"`
			Fuzzy    int    `json:"fuzzy"`
			Hybrid   int    `json:"hybrid"`
		}
		out := make([]jsonMatch, len(matches))
		for i, m := range matches {
			out[i] = jsonMatch{
				Source:   m.Source.Element,
				Target:   m.Target.Element,
				Origin:   m.Origin,
				Semantic: m.Semantic,
				Fuzzy:    m.Fuzzy,
				Hybrid:   m.HybridScore(),
			}
		}
		return printJSON(cmd, out)
	}

	if len(matches) == 0 {
		cmd.Println("No matches found.")
		return nil
	}
	for _, m := range matches {
		printMatch(cmd, m)
	}
	return nil
}

func printMatch(cmd *cobra.Command, m *engine.TranslationMatch) {
	cmd.Printf("[%3d]  %s\n  =>   %s\n", m.HybridScore(), m.Source.PureText, m.Target.PureText)
}

func runConcordance(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	en, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer en.Close()

	results, err := en.ConcordanceSearch(ctx, args[0], concordanceLang, concordanceLimit, nil)
	if err != nil {
		return fmt.Errorf("concordance search failed: %w", err)
	}

	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, mapping := range results {
		cmd.Printf("--- %d ---\n", i+1)
		for lang, element := range mapping {
			cmd.Printf("%s: %s\n", lang, element)
		}
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(raw))
	return nil
}
