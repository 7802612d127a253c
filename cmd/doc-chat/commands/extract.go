package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-chat/cmd/doc-chat/ui"
	"github.com/spherical/doc-chat/internal/chat"
	"github.com/spherical/doc-chat/internal/domain"
)

var (
	extractModel   string
	extractOutput  string
	extractSession string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract page text from a document",
	Long:  "Extract page-indexed text from a PDF (or read a text file) and save it as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractModel, "model", "m", "", "model name (defaults to chat.default_model)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "output JSON path (defaults to <file>.json)")
	extractCmd.Flags().StringVarP(&extractSession, "session", "s", "", "session id to store the extracted text under")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if extractOutput == "" {
		extractOutput = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
	}

	ui.Section("Extraction")
	ui.Info("Document: %s", path)

	events := make(chan domain.StreamEvent, 256)
	progress := ui.NewExtractionProgress(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		progress.Consume(events)
	}()

	resp, err := application.Chat.ProcessFile(cmd.Context(), chat.FileRequest{
		Filename:     filepath.Base(path),
		Data:         data,
		Prompt:       "extract",
		SessionID:    extractSession,
		Model:        extractModel,
		IsExtraction: true,
		Events:       events,
	})
	close(events)
	wg.Wait()
	if err != nil {
		if de, ok := domain.AsDomainError(err); ok && de.Type == domain.ErrorTypeNoText {
			ui.Error("No text extracted; skipped pages: %s", ui.FormatPages(de.Pages))
		}
		return err
	}

	if err := writeJSONFile(extractOutput, resp); err != nil {
		return err
	}

	ui.Success("Extracted text saved to %s", extractOutput)
	if pages := extractedPages(resp.ExtractedText); pages != nil {
		ui.Info("Pages extracted: %s", ui.FormatPages(pages))
	}
	if n := progress.FailedBatches(); n > 0 {
		ui.Info("%d batch request(s) failed, %d page retries issued", n, progress.RetriedPages())
	}
	if len(resp.SkippedPages) > 0 {
		ui.Warning("Skipped pages: %s", ui.FormatPages(resp.SkippedPages))
	}
	ui.Info("Session: %s", resp.SessionID)
	return nil
}
