package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var userFlag string

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update a user's settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/settings?user_id="+url.QueryEscape(userFlag))
		if err != nil {
			return err
		}

		var view any
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <json>",
	Short: "Apply a partial settings update from a JSON object",
	Long: `Apply a partial settings update from a JSON object.

Examples:
  lumad settings set -u alice '{"language":"Spanish"}'
  lumad settings set -u alice '{"notifications_enabled":false,"biometric_lock":true}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var fields map[string]any
		if err := json.Unmarshal([]byte(args[0]), &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"user_id": userFlag, "settings": fields}
		resp, err := client.post(cmd.Context(), "/settings", body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Settings updated for %s", userFlag)
		return nil
	},
}

// --- theme ---

var themeCmd = &cobra.Command{
	Use:   "theme <System|Light|Dark>",
	Short: "Set the theme mode (dark_mode is derived)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"user_id": userFlag, "theme_mode": args[0]}
		resp, err := client.post(cmd.Context(), "/theme", body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Theme set to %s", args[0])
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage a user's chat history",
}

var historyAddCmd = &cobra.Command{
	Use:   "add <role> <message>",
	Short: "Append a message to the chat history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"user_id": userFlag, "role": args[0], "message": args[1]}
		resp, err := client.post(cmd.Context(), "/history", body)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Message appended")
		return nil
	},
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the chat history in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history?user_id="+url.QueryEscape(userFlag))
		if err != nil {
			return err
		}

		var entries []struct {
			Role      string `json:"role"`
			Message   string `json:"message"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No history found.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n", e.CreatedAt, colorize(colorBold, e.Role), e.Message)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the entire chat history for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL history for %s. Use --confirm to proceed.", userFlag)
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/history/clear", map[string]any{"user_id": userFlag})
		if err != nil {
			return err
		}

		var result struct {
			Removed int64 `json:"removed"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %d entries", result.Removed)
		return nil
	},
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export or import a user's snapshot",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export settings and history as a JSON snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/history/export?user_id="+url.QueryEscape(userFlag))
		if err != nil {
			return err
		}

		var snap any
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		writer := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}

		if output != "" {
			printSuccess("Snapshot exported to %s", output)
		}
		return nil
	},
}

var dataImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a JSON snapshot (merge by default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading snapshot file: %w", err)
		}

		var snap map[string]any
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		snap["user_id"] = userFlag

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/history/import"
		if replace {
			path += "?replace=true"
		}
		resp, err := client.post(cmd.Context(), path, snap)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Snapshot imported for %s", userFlag)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{settingsCmd, themeCmd, historyCmd, dataCmd} {
		cmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "user identifier")
		cmd.MarkPersistentFlagRequired("user")
	}

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	historyClearCmd.Flags().Bool("confirm", false, "confirm history deletion")
	historyCmd.AddCommand(historyAddCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)

	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataImportCmd.Flags().Bool("replace", false, "clear existing history before inserting")
	dataCmd.AddCommand(dataExportCmd)
	dataCmd.AddCommand(dataImportCmd)
}
