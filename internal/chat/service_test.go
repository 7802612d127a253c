package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spherical/doc-chat/internal/cache"
	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/llm"
	"github.com/spherical/doc-chat/internal/observability"
	"github.com/spherical/doc-chat/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	pages int
	err   error
	calls int
}

func (f *fakeRenderer) Render(ctx context.Context, filename string, data []byte) ([]domain.PageImage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.PageImage, f.pages)
	for i := range out {
		out[i] = domain.PageImage{Index: i + 1}
	}
	return out, nil
}

type fakeExtractor struct {
	outcome *domain.ExtractionOutcome
	err     error
	calls   int
	onCall  func()
}

func (f *fakeExtractor) Extract(ctx context.Context, pages []domain.PageImage, model string) (*domain.ExtractionOutcome, error) {
	return f.ExtractWithEvents(ctx, pages, model, nil)
}

func (f *fakeExtractor) ExtractWithEvents(ctx context.Context, pages []domain.PageImage, model string, eventCh chan<- domain.StreamEvent) (*domain.ExtractionOutcome, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	return f.outcome, f.err
}

type fakeCompleter struct {
	mu       sync.Mutex
	answer   string
	err      error
	messages [][]llm.Message
	onCall   func()
}

func (f *fakeCompleter) ValidateModel(model string) error {
	if model == "gemma3" || model == "gpt-oss" {
		return nil
	}
	return domain.InvalidModelError(model, []string{"gemma3", "gpt-oss"})
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	f.mu.Lock()
	f.messages = append(f.messages, messages)
	f.mu.Unlock()
	return f.answer, f.err
}

func (f *fakeCompleter) lastUserText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.messages)
	msgs := f.messages[len(f.messages)-1]
	require.Len(t, msgs, 2)
	parts, ok := msgs[1].Content.([]llm.ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 1)
	return parts[0].Text
}

type fixture struct {
	svc       *Service
	renderer  *fakeRenderer
	extractor *fakeExtractor
	client    *fakeCompleter
	sessions  *session.Sessions
	path      string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.json")
	sessions := session.NewSessions(session.Open(path, observability.Nop()))

	f := &fixture{
		renderer: &fakeRenderer{pages: 2},
		extractor: &fakeExtractor{outcome: &domain.ExtractionOutcome{
			Pages:   domain.PageResult{"1": "Invoice total 42", "2": "Thanks"},
			Skipped: []int{},
		}},
		client:   &fakeCompleter{answer: "The total is 42."},
		sessions: sessions,
		path:     path,
	}
	f.svc = NewService(f.renderer, f.extractor, f.client, sessions, Config{
		DefaultModel: "gemma3",
		SystemPrompt: "system",
		Temperature:  0.3,
		MaxTokens:    2048,
	}, observability.Nop(), opts...)
	return f
}

func TestProcessFile_PDF(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.ProcessFile(context.Background(), FileRequest{
		Filename:  "invoice.PDF",
		Data:      []byte("%PDF-1.4"),
		Prompt:    "What is the total?",
		SessionID: "s1",
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Response)
	assert.Equal(t, "The total is 42.", *resp.Response)
	assert.Equal(t, domain.PageResult{"1": "Invoice total 42", "2": "Thanks"}, resp.ExtractedText)
	assert.Equal(t, []int{}, resp.SkippedPages)
	assert.Equal(t, "s1", resp.SessionID)

	assert.Equal(t, "User prompt: What is the total?\nExtracted text: {\"1\":\"Invoice total 42\",\"2\":\"Thanks\"}", f.client.lastUserText(t))
	assert.Equal(t, "system", f.client.messages[0][0].Content)

	sess, ok := f.sessions.Load("s1")
	require.True(t, ok)
	assert.Equal(t, []session.Turn{
		{Role: session.RoleUser, Content: "What is the total?"},
		{Role: session.RoleAssistant, Content: "The total is 42."},
	}, sess.ChatHistory)
	assert.Equal(t, map[string]interface{}{"1": "Invoice total 42", "2": "Thanks"}, sess.ExtractedText)
}

func TestProcessFile_IsExtractionSkipsSynthesis(t *testing.T) {
	f := newFixture(t)
	f.extractor.outcome = &domain.ExtractionOutcome{Pages: domain.PageResult{"1": "a"}, Skipped: []int{2}}

	resp, err := f.svc.ProcessFile(context.Background(), FileRequest{
		Filename:     "doc.pdf",
		Data:         []byte("%PDF-1.4"),
		Prompt:       "extract",
		IsExtraction: true,
	})
	require.NoError(t, err)

	assert.Nil(t, resp.Response)
	assert.Equal(t, []int{2}, resp.SkippedPages)
	assert.True(t, strings.HasPrefix(resp.SessionID, "session_"))
	assert.Empty(t, f.client.messages)

	sess, ok := f.sessions.Load(resp.SessionID)
	require.True(t, ok)
	assert.Empty(t, sess.ChatHistory)
}

func TestProcessFile_TextUpload(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.ProcessFile(context.Background(), FileRequest{
		Filename: "notes.txt",
		Data:     []byte("caf\xe9"),
		Prompt:   "summarise",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"content": "café"}, resp.ExtractedText)
	assert.Equal(t, []int{}, resp.SkippedPages)
	assert.Equal(t, 0, f.renderer.calls)
	assert.Equal(t, 0, f.extractor.calls)
}

func TestProcessFile_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessFile(ctx, FileRequest{Prompt: "x"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessFile(ctx, FileRequest{Filename: "a.pdf", Data: []byte("x"), Prompt: "  "})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessFile(ctx, FileRequest{Filename: "a.pdf", Data: []byte("x"), Prompt: "p", SessionID: "a.b"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessFile(ctx, FileRequest{Filename: "a.pdf", Data: []byte("x"), Prompt: "p", Model: "llama"})
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorTypeInvalidModel, de.Type)
	assert.Equal(t, []string{"gemma3", "gpt-oss"}, de.ValidModels)

	assert.Equal(t, 0, f.renderer.calls)
}

func TestProcessFile_NoTextExtracted(t *testing.T) {
	f := newFixture(t)
	f.extractor.outcome = &domain.ExtractionOutcome{Pages: domain.PageResult{}, Skipped: []int{1, 2}}
	f.extractor.err = domain.NoTextExtractedError([]int{1, 2})

	_, err := f.svc.ProcessFile(context.Background(), FileRequest{
		Filename:  "doc.pdf",
		Data:      []byte("%PDF-1.4"),
		Prompt:    "p",
		SessionID: "s1",
	})
	de, ok := domain.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrorTypeNoText, de.Type)
	assert.Equal(t, []int{1, 2}, de.Pages)

	sess, ok := f.sessions.Load("s1")
	require.True(t, ok)
	require.Len(t, sess.ChatHistory, 2)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "p"}, sess.ChatHistory[0])
	assert.True(t, strings.HasPrefix(sess.ChatHistory[1].Content, ErrorMarkerPrefix))
	assert.Empty(t, f.client.messages)
}

func TestProcessFile_UserTurnPersistedBeforeExtraction(t *testing.T) {
	f := newFixture(t)
	f.extractor.onCall = func() {
		reloaded, ok := session.NewSessions(session.Open(f.path, nil)).Load("s1")
		require.True(t, ok)
		require.Len(t, reloaded.ChatHistory, 1)
		assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "p"}, reloaded.ChatHistory[0])
	}

	_, err := f.svc.ProcessFile(context.Background(), FileRequest{Filename: "doc.pdf", Data: []byte("x"), Prompt: "p", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestProcessFile_RenderError(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = domain.RenderError("failed to open PDF", errors.New("broken xref"))

	_, err := f.svc.ProcessFile(context.Background(), FileRequest{Filename: "doc.pdf", Data: []byte("x"), Prompt: "p"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeRender))
	assert.Equal(t, 0, f.extractor.calls)
}

func TestProcessFile_SynthesisFailureRecordsMarker(t *testing.T) {
	f := newFixture(t)
	f.client.err = errors.New("upstream 503")

	_, err := f.svc.ProcessFile(context.Background(), FileRequest{
		Filename:  "doc.pdf",
		Data:      []byte("%PDF-1.4"),
		Prompt:    "question",
		SessionID: "s1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeSynthesis))

	sess, ok := f.sessions.Load("s1")
	require.True(t, ok)
	require.Len(t, sess.ChatHistory, 2)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "question"}, sess.ChatHistory[0])
	assert.Equal(t, session.RoleAssistant, sess.ChatHistory[1].Role)
	assert.Equal(t, ErrorMarkerPrefix+"upstream 503", sess.ChatHistory[1].Content)
}

func TestProcessFile_UserTurnPersistedBeforeModelCall(t *testing.T) {
	f := newFixture(t)
	f.client.onCall = func() {
		sess, ok := f.sessions.Load("s1")
		require.True(t, ok)
		require.Len(t, sess.ChatHistory, 1)
		assert.Equal(t, session.RoleUser, sess.ChatHistory[0].Role)

		reloaded, ok := session.NewSessions(session.Open(f.path, nil)).Load("s1")
		require.True(t, ok)
		assert.Len(t, reloaded.ChatHistory, 1)
	}

	_, err := f.svc.ProcessFile(context.Background(), FileRequest{Filename: "doc.pdf", Data: []byte("x"), Prompt: "p", SessionID: "s1"})
	require.NoError(t, err)
}

func TestProcessFile_HistoryAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, prompt := range []string{"first", "second"} {
		_, err := f.svc.ProcessFile(ctx, FileRequest{Filename: "doc.pdf", Data: []byte("x"), Prompt: prompt, SessionID: "s1"})
		require.NoError(t, err)
	}

	sess, ok := f.sessions.Load("s1")
	require.True(t, ok)
	require.Len(t, sess.ChatHistory, 4)
	assert.Equal(t, "first", sess.ChatHistory[0].Content)
	assert.Equal(t, "second", sess.ChatHistory[2].Content)
}

func TestProcessFile_UsesCache(t *testing.T) {
	client := cache.NewMemoryClient(10)
	defer client.Close()
	f := newFixture(t, WithCache(cache.NewExtractionCache(client, time.Hour, nil)))
	ctx := context.Background()

	req := FileRequest{Filename: "doc.pdf", Data: []byte("%PDF-1.4 same"), Prompt: "p", IsExtraction: true}
	first, err := f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.renderer.calls)
	assert.Equal(t, 1, f.extractor.calls)
	assert.Equal(t, first.ExtractedText, second.ExtractedText)

	req.Model = "gpt-oss"
	_, err = f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.extractor.calls)
}

func TestProcessFile_PartialOutcomeIsExtractedAgain(t *testing.T) {
	client := cache.NewMemoryClient(10)
	defer client.Close()
	f := newFixture(t, WithCache(cache.NewExtractionCache(client, time.Hour, nil)))
	f.extractor.outcome = &domain.ExtractionOutcome{
		Pages:   domain.PageResult{"1": "a"},
		Skipped: []int{2},
	}
	ctx := context.Background()
	req := FileRequest{Filename: "doc.pdf", Data: []byte("%PDF-1.4 partial"), Prompt: "p", IsExtraction: true}

	first, err := f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, first.SkippedPages)

	f.extractor.outcome = &domain.ExtractionOutcome{
		Pages:   domain.PageResult{"1": "a", "2": "b"},
		Skipped: []int{},
	}
	second, err := f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, f.extractor.calls)
	assert.Equal(t, []int{}, second.SkippedPages)
	assert.Equal(t, domain.PageResult{"1": "a", "2": "b"}, second.ExtractedText)

	_, err = f.svc.ProcessFile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.extractor.calls)
}

func TestProcessMessage(t *testing.T) {
	tests := []struct {
		name          string
		extracted     string
		wantExtracted map[string]interface{}
		wantForModel  string
	}{
		{
			name:          "json object",
			extracted:     `{ "1": "page one" }`,
			wantExtracted: map[string]interface{}{"1": "page one"},
			wantForModel:  `{"1":"page one"}`,
		},
		{
			name:          "plain text",
			extracted:     "just some text",
			wantExtracted: map[string]interface{}{"content": "just some text"},
			wantForModel:  "just some text",
		},
		{
			name:          "json array",
			extracted:     `["a","b"]`,
			wantExtracted: map[string]interface{}{},
			wantForModel:  `["a","b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp, err := f.svc.ProcessMessage(context.Background(), MessageRequest{
				Prompt:        "question",
				ExtractedText: tt.extracted,
				SessionID:     "s1",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantExtracted, resp.ExtractedText)
			assert.Equal(t, []int{}, resp.SkippedPages)
			assert.Equal(t, "s1", resp.SessionID)
			assert.Equal(t, "User prompt: question\nExtracted text: "+tt.wantForModel, f.client.lastUserText(t))
		})
	}
}

func TestProcessMessage_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessMessage(ctx, MessageRequest{Prompt: "", ExtractedText: "x"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessMessage(ctx, MessageRequest{Prompt: "p", ExtractedText: " \n"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessMessage(ctx, MessageRequest{Prompt: "p", ExtractedText: "x", Model: "unknown"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeInvalidModel))
	assert.Empty(t, f.client.messages)
}

func TestProcessMessage_CustomSystemPrompt(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessMessage(context.Background(), MessageRequest{
		Prompt:        "p",
		ExtractedText: "t",
		SystemPrompt:  "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "be brief", f.client.messages[0][0].Content)
}

func TestSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Session("missing")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))

	_, err = f.svc.Session("bad.id")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = f.svc.ProcessMessage(context.Background(), MessageRequest{Prompt: "p", ExtractedText: "t", SessionID: "s1"})
	require.NoError(t, err)

	sess, err := f.svc.Session("s1")
	require.NoError(t, err)
	assert.Len(t, sess.ChatHistory, 2)
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "héllo", DecodeText([]byte("héllo")))
	assert.Equal(t, "ÿé", DecodeText([]byte{0xff, 0xe9}))
	assert.Equal(t, "", DecodeText(nil))
}
