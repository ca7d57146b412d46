package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/semkit/chunkstore/pkg/chunkstore"
	"github.com/semkit/chunkstore/pkg/core"
)

var (
	dbPath    string
	dimension int
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkstore",
	Short: "Hybrid retrieval storage for document chunks",
	Long: `chunkstore manages a SQLite database of documents, chunks, embedding
vectors and a full-text index, and runs vector, text, and hybrid queries
against it.`,
}

func openStore(ctx context.Context) (*core.Store, error) {
	config := core.Config{Path: dbPath, Dimension: dimension}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		config.Logger = logger
	}
	store, err := core.OpenWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document and chunk counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a text, vector, or hybrid query",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		vectorFile, _ := cmd.Flags().GetString("vector-file")
		limit, _ := cmd.Flags().GetInt("limit")
		filterPairs, _ := cmd.Flags().GetStringSlice("filter")
		docs, _ := cmd.Flags().GetBool("docs")

		var vector []float32
		if vectorFile != "" {
			data, err := os.ReadFile(vectorFile)
			if err != nil {
				return fmt.Errorf("failed to read vector file: %w", err)
			}
			if err := json.Unmarshal(data, &vector); err != nil {
				return fmt.Errorf("failed to parse vector file: %w", err)
			}
		}

		filter, err := parseFilter(filterPairs)
		if err != nil {
			return err
		}
		opts := core.HybridOptions{SearchOptions: core.SearchOptions{Limit: limit, Filter: filter}}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if docs {
			results, err := store.HybridSearchDocuments(ctx, vector, text, opts)
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Printf("%2d. %.4f  %s  %s\n", i+1, r.Score, r.ID, truncate(r.Content, 80))
			}
			return nil
		}

		results, err := store.HybridSearch(ctx, vector, text, opts)
		if err != nil {
			return err
		}
		for i, r := range results {
			fmt.Printf("%2d. %.4f  %s  [%s]  %s\n", i+1, r.Score, r.ID, r.EmbeddingStatus, truncate(r.Content, 80))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Delete a document by id, or chunks by metadata filter",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filterPairs, _ := cmd.Flags().GetStringSlice("filter")

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			removed, err := store.Delete(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Deleted document %s (%d chunks)\n", args[0], removed)
			return nil
		}

		if len(filterPairs) == 0 {
			return fmt.Errorf("either a document id or --filter is required")
		}
		filter := make(map[string]any, len(filterPairs))
		for _, pair := range filterPairs {
			k, v, err := splitPair(pair)
			if err != nil {
				return err
			}
			filter[k] = v
		}
		removed, err := store.DeleteByMetadata(ctx, filter)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d chunks\n", removed)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Split files into chunks and store them",
	Long: `Splits each file on paragraph boundaries and saves it as a document.
Chunks are stored Pending; deliver vectors later with an embedding batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metaPairs, _ := cmd.Flags().GetStringSlice("meta")
		maxChars, _ := cmd.Flags().GetInt("max-chars")

		metadata := make(map[string]any, len(metaPairs))
		for _, pair := range metaPairs {
			k, v, err := splitPair(pair)
			if err != nil {
				return err
			}
			metadata[k] = v
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pipeline := chunkstore.NewPipeline(store, chunkstore.ParagraphSplitter{MaxChars: maxChars})
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			fileMeta := make(map[string]any, len(metadata)+1)
			for k, v := range metadata {
				fileMeta[k] = v
			}
			fileMeta["path"] = path

			doc, chunks, err := pipeline.Ingest(ctx, string(content), core.MediaText, fileMeta)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}
			fmt.Printf("Ingested %s as %s (%d chunks)\n", path, doc.ID, len(chunks))
		}
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild the full-text index from the chunks table",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Opening the store reconciles the text index against the chunks
		// table and rebuilds it on any divergence.
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Text index checked: %d chunks indexed\n", stats.Chunks)
		return nil
	},
}

func parseFilter(pairs []string) (*core.Filter, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	f := core.NewFilter()
	for _, pair := range pairs {
		k, v, err := splitPair(pair)
		if err != nil {
			return nil, err
		}
		f.Eq(k, v)
	}
	return f, nil
}

func splitPair(pair string) (string, string, error) {
	k, v, ok := strings.Cut(pair, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", pair)
	}
	return k, v, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "chunks.db", "Database file path")
	rootCmd.PersistentFlags().IntVarP(&dimension, "dimension", "n", 768, "Vector dimension")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	searchCmd.Flags().String("text", "", "Query text")
	searchCmd.Flags().String("vector-file", "", "JSON file holding the query vector")
	searchCmd.Flags().Int("limit", 0, "Maximum results (0 for default)")
	searchCmd.Flags().StringSlice("filter", nil, "Metadata filter, key=value (repeatable)")
	searchCmd.Flags().Bool("docs", false, "Return documents instead of chunks")

	deleteCmd.Flags().StringSlice("filter", nil, "Chunk metadata filter, key=value (repeatable)")

	ingestCmd.Flags().StringSlice("meta", nil, "Document metadata, key=value (repeatable)")
	ingestCmd.Flags().Int("max-chars", 0, "Chunk size target in characters (0 for default)")

	rootCmd.AddCommand(
		statsCmd,
		searchCmd,
		deleteCmd,
		ingestCmd,
		backfillCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
