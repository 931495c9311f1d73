package main

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/stream"
)

func newExportCommand() *cobra.Command {
	var format string

	exportCmd := &cobra.Command{
		Use:   "export [topic id]",
		Short: "Write a topic's transcript to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicCache, cleanup, err := loadCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			topicCache.SetCurrentTopic(cmd.Context(), args[0])

			s := session.New(topicCache, stream.NewController())
			return s.ExportTranscript(cmd.OutOrStdout(), format)
		},
	}

	exportCmd.Flags().StringVar(&format, "format", "json", "output format (json, yaml)")
	return exportCmd
}
