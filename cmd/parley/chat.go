package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/parley/pkg/cache"
	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/events"
	"github.com/go-go-golems/parley/pkg/provider"
	openai_provider "github.com/go-go-golems/parley/pkg/provider/openai"
	"github.com/go-go-golems/parley/pkg/session"
	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/store/memstore"
	"github.com/go-go-golems/parley/pkg/store/sqlite"
	"github.com/go-go-golems/parley/pkg/stream"
)

const eventsTopic = "chat"

func openStore() (store.Store, func(), error) {
	dsn := viper.GetString("db")
	if dsn == "" {
		log.Debug().Msg("no database configured, using in-memory store")
		return memstore.New(), func() {}, nil
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}, nil
}

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [topic name]",
		Short: "Start an interactive chat session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, closeStore, err := openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			router, err := events.NewEventRouter(events.WithVerbose())
			if err != nil {
				return err
			}
			defer func() {
				_ = router.Close()
			}()

			controller := stream.NewController()
			controller.Attach(router, eventsTopic)

			publisher := events.NewPublisherManager()
			publisher.SubscribePublisher(eventsTopic, events.CorrelationPublisherDecorator{
				Publisher: router.Publisher,
			})

			topicCache := cache.New(backend, cache.WithPublisher(publisher))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				if err := router.Run(ctx); err != nil {
					log.Error().Err(err).Msg("event router stopped")
				}
			}()
			<-router.Running()

			var engine provider.Engine
			if apiKey := viper.GetString("openai-api-key"); apiKey != "" {
				opts := []openai_provider.Option{
					openai_provider.WithSubscriptionManager(publisher),
				}
				if model := viper.GetString("model"); model != "" {
					opts = append(opts, openai_provider.WithModel(model))
				}
				engine = openai_provider.New(apiKey, opts...)
			} else {
				log.Warn().Msg("no API key configured, messages will not get replies")
			}

			sessionOpts := []session.Option{}
			if engine != nil {
				sessionOpts = append(sessionOpts, session.WithEngine(engine))
			}
			s := session.New(topicCache, controller, sessionOpts...)

			if err := s.Load(ctx); err != nil {
				return errors.Wrap(err, "could not load topics")
			}

			if len(args) == 1 {
				topic, err := s.AddTopic(ctx, args[0])
				if err != nil {
					return err
				}
				log.Info().Str("topic_id", topic.ID).Str("name", topic.Name).Msg("created topic")
			}

			return runRepl(ctx, cmd, s, controller)
		},
	}
}

func runRepl(ctx context.Context, cmd *cobra.Command, s *session.Session, controller *stream.Controller) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "type a message and press enter, /quit to exit")

	// chunks arrive as cumulative text; printing only the unseen suffix turns
	// that back into incremental output
	printed := 0
	cancelSub := controller.Subscribe(func(buf stream.Buffer) {
		if buf.Text == "" {
			printed = 0
			return
		}
		if text := s.StreamingText(); len(text) > printed {
			fmt.Fprint(out, text[printed:])
			printed = len(text)
		}
	})
	defer cancelSub()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		reply, err := s.SendMessage(ctx, line)
		if err != nil {
			log.Error().Err(err).Msg("message failed")
			continue
		}
		if reply.Role == chat.RoleAssistant {
			fmt.Fprintln(out)
		}
	}
}
