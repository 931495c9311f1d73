package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/cache"
)

func newTopicsCommand() *cobra.Command {
	topicsCmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage conversation topics",
	}

	topicsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all topics, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			topicCache, cleanup, err := loadCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			for _, topic := range topicCache.Topics() {
				marker := " "
				if topic.ID == topicCache.CurrentTopicID() {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %s  %s  (%d messages, last accessed %s)\n",
					marker, topic.ID, topic.Name,
					len(topicCache.MessagesByTopic(topic.ID)),
					topic.LastAccessedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	})

	topicsCmd.AddCommand(&cobra.Command{
		Use:   "add [name]",
		Short: "Create a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicCache, cleanup, err := loadCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			topic, err := topicCache.AddTopic(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topic.ID)
			return nil
		},
	})

	topicsCmd.AddCommand(&cobra.Command{
		Use:   "rename [id] [name]",
		Short: "Rename a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicCache, cleanup, err := loadCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return topicCache.EditTopicName(cmd.Context(), args[0], args[1])
		},
	})

	topicsCmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Delete a topic and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topicCache, cleanup, err := loadCache(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return topicCache.RemoveTopic(cmd.Context(), args[0])
		},
	})

	return topicsCmd
}

func loadCache(ctx context.Context) (*cache.TopicCache, func(), error) {
	backend, closeStore, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	topicCache := cache.New(backend)
	if err := topicCache.LoadAll(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return topicCache, closeStore, nil
}
