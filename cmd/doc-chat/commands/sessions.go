package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-chat/cmd/doc-chat/ui"
	"github.com/spherical/doc-chat/internal/export"
)

var exportOutput string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := application.Sessions.List()
		if len(ids) == 0 {
			ui.Info("No sessions in %s", application.Store.Path())
			return nil
		}

		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			sess, ok := application.Sessions.Load(id)
			if !ok {
				continue
			}
			updated := "-"
			if sess.Timestamp > 0 {
				updated = time.Unix(int64(sess.Timestamp), 0).Format(time.RFC3339)
			}
			rows = append(rows, []string{id, fmt.Sprintf("%d", len(sess.ChatHistory)), updated})
		}
		ui.Table(os.Stdout, []string{"Session", "Turns", "Updated"}, rows)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session's chat history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := application.Chat.Session(args[0])
		if err != nil {
			return err
		}

		ui.Section("Session " + sess.ID)
		for _, turn := range sess.ChatHistory {
			ui.Turn(os.Stdout, turn.Role, turn.Content)
		}
		if rows := export.ExtractedRows(sess.ExtractedText); len(rows) > 0 {
			ui.Info("%d extracted page(s) stored", len(rows))
		}
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := application.Chat.Session(args[0])
		if err != nil {
			return err
		}

		data, err := application.Exporter.SessionXLSX(sess)
		if err != nil {
			return err
		}

		out := exportOutput
		if out == "" {
			out = sess.ID + ".xlsx"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		ui.Success("Exported %s to %s", sess.ID, out)
		return nil
	},
}

func init() {
	sessionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output .xlsx path (defaults to <id>.xlsx)")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsExportCmd)
	rootCmd.AddCommand(sessionsCmd)
}
