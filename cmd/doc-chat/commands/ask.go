package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/doc-chat/cmd/doc-chat/ui"
	"github.com/spherical/doc-chat/internal/chat"
)

var (
	askPrompt  string
	askSession string
	askModel   string
	askText    string
	askSystem  string
)

var askCmd = &cobra.Command{
	Use:   "ask [file]",
	Short: "Ask a question about a document",
	Long: `Ask a question about a document. With a file argument the document is extracted
first; otherwise the question runs against --text or the extracted text stored on --session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askPrompt, "prompt", "p", "", "question to ask (required)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "model name")
	askCmd.Flags().StringVarP(&askText, "text", "t", "", "path to extracted text (JSON or plain)")
	askCmd.Flags().StringVar(&askSystem, "system-prompt", "", "override the system prompt")
	_ = askCmd.MarkFlagRequired("prompt")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	spinner := ui.NewSpinner("Thinking...")

	var (
		resp *chat.Response
		err  error
	)

	switch {
	case len(args) == 1:
		data, rerr := os.ReadFile(args[0])
		if rerr != nil {
			return fmt.Errorf("read %s: %w", args[0], rerr)
		}
		spinner.Start()
		resp, err = application.Chat.ProcessFile(cmd.Context(), chat.FileRequest{
			Filename:     filepath.Base(args[0]),
			Data:         data,
			Prompt:       askPrompt,
			SessionID:    askSession,
			Model:        askModel,
			SystemPrompt: askSystem,
		})
	default:
		text, terr := extractedTextForAsk()
		if terr != nil {
			return terr
		}
		spinner.Start()
		resp, err = application.Chat.ProcessMessage(cmd.Context(), chat.MessageRequest{
			Prompt:        askPrompt,
			ExtractedText: text,
			SessionID:     askSession,
			Model:         askModel,
			SystemPrompt:  askSystem,
		})
	}
	spinner.Stop()
	if err != nil {
		return err
	}

	if len(resp.SkippedPages) > 0 {
		ui.Warning("Skipped pages: %s", ui.FormatPages(resp.SkippedPages))
	}
	if resp.Response != nil {
		ui.Turn(os.Stdout, "assistant", *resp.Response)
	}
	ui.Info("Session: %s", resp.SessionID)
	return nil
}

// extractedTextForAsk reads --text, or falls back to the text stored on --session.
func extractedTextForAsk() (string, error) {
	if askText != "" {
		raw, err := os.ReadFile(askText)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", askText, err)
		}
		return extractedFromFile(raw), nil
	}

	if askSession == "" {
		return "", fmt.Errorf("provide a file, --text, or a --session with extracted text")
	}
	sess, err := application.Chat.Session(askSession)
	if err != nil {
		return "", err
	}
	if sess.ExtractedText == nil {
		return "", fmt.Errorf("session %s has no extracted text", askSession)
	}
	raw, err := json.Marshal(sess.ExtractedText)
	if err != nil {
		return "", fmt.Errorf("encode extracted text: %w", err)
	}
	return string(raw), nil
}

// extractedFromFile unwraps the output of `doc-chat extract`, passing other
// content through unchanged.
func extractedFromFile(raw []byte) string {
	var out struct {
		ExtractedText json.RawMessage `json:"extracted_text"`
	}
	if err := json.Unmarshal(raw, &out); err == nil && len(out.ExtractedText) > 0 {
		return string(out.ExtractedText)
	}
	return string(raw)
}
