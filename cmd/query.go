package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rufuslabs/rufus/internal/config"
	"github.com/rufuslabs/rufus/internal/index"
	"github.com/rufuslabs/rufus/internal/logging"
)

// newQueryCmd creates the 'query' subcommand: nearest-neighbor search over a
// previously built vector index.
func newQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Searches the vector index for fragments similar to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			store, err := index.Open(index.Config{
				Path:             cfg.Index.Path,
				EmbeddingBaseURL: cfg.Index.EmbeddingBaseURL,
				EmbeddingAPIKey:  cfg.Index.EmbeddingAPIKey,
				EmbeddingModel:   cfg.Index.EmbeddingModel,
			}, nil, logger)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}

			matches, err := store.Search(cmd.Context(), strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("search index: %w", err)
			}
			if len(matches) == 0 {
				cmd.Println("no matches")
				return nil
			}
			for i, match := range matches {
				cmd.Printf("%2d. [%.3f] %s\n    %s\n", i+1, match.Similarity, match.URL, match.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", 5, "number of nearest fragments to return")
	return cmd
}
