package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/randalmurphal/taskguide/pkg/planner/config"
)

func newIngestCommand(opts *rootOptions) *cobra.Command {
	var (
		catalog    string
		guides     string
		chunkChars int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a tool catalog and guides into the persistent knowledge base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := opts.settings.Embedding
			if e.DBPath == "" {
				return errors.New("embedding.db_path must be set; an in-memory knowledge base would be discarded")
			}
			if catalog == "" && guides == "" {
				return errors.New("nothing to ingest: pass --catalog and/or --guides")
			}

			var client *genai.Client
			if e.Backend == config.EmbedderGenAI {
				var err error
				if client, err = newGenAIClient(cmd.Context(), opts.settings.Gemini); err != nil {
					return err
				}
			}
			kb, err := openKnowledgeBase(e, client)
			if err != nil {
				return err
			}

			start := time.Now()
			nTools, nChunks, err := ingest(cmd.Context(), kb, catalog, guides, chunkChars)
			if err != nil {
				return err
			}
			opts.logger.Info("ingest complete",
				"tools", nTools,
				"guide_chunks", nChunks,
				"total_tools", kb.ToolCount(),
				"total_guide_chunks", kb.GuideCount(),
				"duration", time.Since(start),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d tools and %d guide chunks into %s\n", nTools, nChunks, e.DBPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "tool catalog JSON file")
	cmd.Flags().StringVar(&guides, "guides", "", "directory of .md/.txt guides")
	cmd.Flags().IntVar(&chunkChars, "chunk-chars", 800, "maximum guide chunk size")
	return cmd
}
