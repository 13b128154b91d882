package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/corpus"
	"github.com/JakeFAU/pubsearch/internal/index"
	"github.com/JakeFAU/pubsearch/internal/storage"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Builds the inverted index from the stored corpus",
		Long: `Reads publications.json from the data directory, falling back to
publications_links.json, and writes inverted_index.json next to it.`,
		RunE: runIndexCommand,
	}
}

func runIndexCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	records, source, err := corpus.Load(cfg.CorpusPath(), cfg.ListingPath())
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}

	ix := index.Build(records)
	data, err := index.Encode(ix)
	if err != nil {
		return err
	}
	uri, err := storage.PutBytes(cmd.Context(), appInstance.GetStorage(), index.File, jsonContentType, data)
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	logger.Info("Index built",
		zap.String("source", source),
		zap.Int("documents", ix.Len()),
		zap.Int("terms", len(ix.Terms)),
		zap.String("uri", uri),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents (%d terms) from %s into %s\n", ix.Len(), len(ix.Terms), source, uri)
	return err
}

const jsonContentType = "application/json"
