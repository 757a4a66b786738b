package chat

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/paulchrisluke/quillsync/configuration"
	"github.com/paulchrisluke/quillsync/conversation"
	"github.com/paulchrisluke/quillsync/internal/cli"
	"github.com/paulchrisluke/quillsync/store"
)

// newListCmd instantiates and returns the chat list command.
func newListCmd(config *configuration.Config, s *store.Store) *cobra.Command {
	var opts struct {
		PageSize int
	}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all conversations",
		Long:  "List all conversations",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			// Headers.
			cli.Title("QUILLSYNC CONVERSATIONS")

			conversations, err := s.List(opts.PageSize)
			cobra.CheckErr(err)
			for _, c := range conversations {
				cli.AIOutput("conversation (%s) - %s\n", c.ID, time.UnixMicro(c.UpdateTimestamp).String())
				description := ""
				for i := 0; i < 10 && i < len(c.Messages); i++ {
					if c.Messages[i].Role == conversation.RoleUser {
						description += "> " + c.Messages[i].Text() + "\n"
					}
				}
				cli.UserInput(description)
			}
		},
	}

	cmd.Flags().IntVarP(&opts.PageSize, "page-size", "p", 50, "Page size")
	return cmd
}
