package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/paulchrisluke/quillsync/chat"
	"github.com/paulchrisluke/quillsync/client"
	"github.com/paulchrisluke/quillsync/configuration"
	"github.com/paulchrisluke/quillsync/store"
)

const configFilepath = "~/.config/quillsync/config.json"

var rootCmd = &cobra.Command{
	Use:     "quillsync",
	Short:   "A CLI for streamed conversations against a quill server",
	Version: "1.0",
}

func main() {
	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}

	// Create store
	store, err := store.New(config.Database)
	if err != nil {
		panic(err)
	}
	// Ensure store is closed when the program exits normally
	defer store.Close()

	client := client.New(
		config.APIBaseURL,
		client.WithAuthToken(config.APIToken),
		client.WithResponseHeaderTimeout(time.Duration(config.RequestTimeout)*time.Second),
	)

	rootCmd.AddCommand(chat.NewCmd(config, store, client))
	rootCmd.Execute()
}
