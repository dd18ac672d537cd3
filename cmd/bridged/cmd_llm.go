package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"oraclebridge/internal/llm"
	"oraclebridge/internal/search"
)

var searchQuery string

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List the models offered by the configured decision engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := decisionClient(cfg)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("%w: set llm.provider and its API key", llm.ErrNoCredential)
		}
		lister, ok := client.(llm.ModelLister)
		if !ok {
			return fmt.Errorf("provider %s cannot list models", client.Provider())
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		models, err := lister.ListModels(ctx)
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), client, models)
		return nil
	},
}

func printModels(out io.Writer, client llm.Client, models []string) {
	sort.Strings(models)
	fmt.Fprintf(out, "%d models from %s\n", len(models), client.Provider())
	for _, m := range models {
		marker := " "
		if m == client.Model() {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %s\n", marker, m)
	}
}

var testSearchCmd = &cobra.Command{
	Use:   "test-search",
	Short: "Run one web search and, when a decision engine is configured, answer with it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Search.Enabled = true
		searcher, err := webSearch(cfg)
		if err != nil {
			if errors.Is(err, search.ErrNoKey) {
				return fmt.Errorf("%w: set TAVILY_API_KEY or search.api_key", err)
			}
			return err
		}
		client, err := decisionClient(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		return testSearch(ctx, cmd.OutOrStdout(), searcher, client, searchQuery)
	},
}

func testSearch(ctx context.Context, out io.Writer, s search.Searcher, client llm.Client, query string) error {
	results, err := s.Search(ctx, query)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "query: %s\n\n", query)
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	fmt.Fprint(out, search.Context(results))
	if client == nil {
		return nil
	}
	answer, err := client.Generate(ctx, llm.Prompt{
		System: "You are a helpful assistant. Use the provided web search results when relevant.",
		User:   search.Preamble(results) + "\nBased on this information, please answer: " + query,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "answer (%s/%s):\n%s\n", client.Provider(), client.Model(), answer)
	return nil
}

func init() {
	testSearchCmd.Flags().StringVar(&searchQuery, "query", "What is the current price of Bitcoin?", "Search query")
}
