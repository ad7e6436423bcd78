package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/dayplan/internal/config"
	"github.com/kalambet/dayplan/internal/storage"
	"github.com/kalambet/dayplan/internal/task"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [text]",
	Short: "Send a scheduling request to the running server",
	Long: `Send a natural-language scheduling request to the running dayplan server.

With arguments, sends a single message and prints the reply. Without
arguments, starts an interactive session; the conversation cookie is
kept for the whole session so follow-ups share context.

Examples:
  dayplan chat "schedule lunch with Sarah tomorrow at noon"
  dayplan chat "what's on my calendar today" --token ya29...
  dayplan chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			return sendChat(cmd, client, strings.Join(args, " "), token)
		}

		// Interactive mode.
		fmt.Fprintln(os.Stderr, "dayplan chat — type a request, or 'exit' to quit")
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Fprint(os.Stderr, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				return nil
			}
			if err := sendChat(cmd, client, line, token); err != nil {
				printError("%v", err)
			}
		}
	},
}

func sendChat(cmd *cobra.Command, client *apiClient, text, token string) error {
	body := map[string]any{"text": text}
	if token != "" {
		body["accessToken"] = token
	}

	resp, err := client.post(cmd.Context(), "/api/chat", body)
	if err != nil {
		return err
	}

	var reply task.ChatResponse
	if err := decodeEnvelope(resp, &reply); err != nil {
		return err
	}

	fmt.Println(reply.Message)
	for _, a := range reply.SuggestedActions {
		fmt.Printf("  %s\n", colorize(colorCyan, "• "+a.Description))
	}
	return nil
}

func init() {
	chatCmd.Flags().String("token", "", "Google Calendar access token")
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent conversation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		sessions, turns, err := store.RecentSessions(limit)
		if err != nil {
			return err
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, s := range sessions {
			id := s.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Printf("%s  %s  %d turns\n",
				colorize(colorCyan, id),
				s.LastActiveAt.Format("2006-01-02 15:04"),
				turns[s.ID],
			)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
