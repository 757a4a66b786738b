// Package chat implements the interactive terminal loop on top of the
// conversation engine.
package chat

import (
	"context"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/paulchrisluke/quillsync/client"
	"github.com/paulchrisluke/quillsync/configuration"
	"github.com/paulchrisluke/quillsync/conversation"
	"github.com/paulchrisluke/quillsync/internal/cli"
	"github.com/paulchrisluke/quillsync/store"
)

// NewCmd instantiates and returns the chat command.
func NewCmd(config *configuration.Config, s *store.Store, c *client.Client) *cobra.Command {
	var opts struct {
		ConversationID string
		Mode           string
		Continue       bool
	}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Back and forth chat",
		Long:  "Back and forth chat",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parse a conversation if relevant.
			var stored *store.Conversation
			var err error
			if opts.ConversationID != "" {
				stored, err = s.Get(opts.ConversationID)
				cobra.CheckErr(err)
			} else if opts.Continue {
				conversations, err := s.List(1)
				cobra.CheckErr(err)
				if len(conversations) == 0 {
					cobra.CheckErr(errors.New("no conversation to continue"))
				}
				stored = conversations[0]
				opts.ConversationID = stored.ID
			} else {
				opts.ConversationID = uuid.New().String()[:8]
			}
			if stored == nil {
				stored = s.NewConversation(opts.ConversationID)
			}
			if opts.Mode == "" {
				opts.Mode = config.Chat.DefaultMode
			}

			engine := conversation.New(conversation.Options{
				Transport: c,
				OnProgress: func(message string) {
					cli.ProgressInfo("%s\n", message)
				},
			})
			engine.HydrateConversation(stored.ID, stored.Messages, false)

			// Headers.
			cli.Title("QUILLSYNC CHAT [%s](%s)", opts.Mode, opts.ConversationID)

			// Print history.
			printMessages(stored.Messages)

			ctx := cmd.Context()
			for {
				// Query user for prompt.
				text, err := cli.PromptUser()
				cobra.CheckErr(err)

				interrupted, err := runTurn(ctx, engine, text, opts.Mode)
				if err != nil {
					cli.ErrorInfo("error: %s\n", engine.ErrorMessage())
					continue
				}
				printReply(engine)

				if !interrupted {
					// Persist the reconciled log.
					stored.Messages = engine.Messages()
					err := s.Write(stored)
					cobra.CheckErr(err)
				}
			}
		},
	}

	cmd.Flags().StringVar(&opts.ConversationID, "id", "", "specify a conversation id")
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "", "mode sent with each turn (defaults to config)")
	cmd.Flags().BoolVarP(&opts.Continue, "continue", "c", false, "Continue previous conversation")

	cmd.AddCommand(newListCmd(config, s))
	return cmd
}

// runTurn sends one message, aborting it if the user hits Ctrl-C while the
// response streams. Reports whether the turn was interrupted.
func runTurn(ctx context.Context, engine *conversation.Conversation, text, mode string) (bool, error) {
	interruptSignalChannel := make(chan os.Signal, 1)
	signal.Notify(interruptSignalChannel, os.Interrupt)
	defer signal.Stop(interruptSignalChannel)

	doneChannel := make(chan error, 1)
	go func() {
		doneChannel <- engine.SendMessage(ctx, text, conversation.SendOptions{Mode: mode})
	}()

	interrupted := false
	for {
		select {
		case <-interruptSignalChannel:
			// We've detected an interrupt, kill the stream.
			cli.UserCommand("#Interrupted\n")
			engine.StopResponse()
			interrupted = true
		case err := <-doneChannel:
			return interrupted, err
		}
	}
}

// printReply prints the last assistant message of the log.
func printReply(engine *conversation.Conversation) {
	messages := engine.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleAssistant {
			printMessage(messages[i])
			return
		}
	}
}

func printMessages(messages []*conversation.ChatMessage) {
	for _, message := range messages {
		if message.Role == conversation.RoleUser {
			cli.UserInput("> %s\n", message.Text())
			continue
		}
		printMessage(message)
	}
}

func printMessage(message *conversation.ChatMessage) {
	for _, part := range message.Parts {
		switch p := part.(type) {
		case conversation.TextPart:
			if p.Text != "" {
				cli.AIOutput(p.Text + "\n")
			}
		case conversation.ToolCallPart:
			cli.ToolInfo("[tool %s: %s]\n", p.ToolName, p.Status)
		}
	}
}
