package proposal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-conform/internal/change"
)

// Config for the chat-completions client
type Config struct {
	APIKey           string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL          string        // default https://api.openai.com/v1
	Model            string        // e.g. "gpt-4o-mini"
	Temperature      float32       // 0..2
	Timeout          time.Duration // http client timeout
	MaxDocumentChars int           // per document; 0 means no limit
}

// Client implements Proposer and Verifier over an OpenAI-compatible API
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient fills defaults and creates a client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: logger}
}

// ProposeChanges asks the model for the change instructions in req.Addenda
func (c *Client) ProposeChanges(ctx context.Context, req Request) (*Proposal, error) {
	if len(req.Addenda) == 0 {
		return nil, errors.New("at least one addendum is required")
	}
	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("llm.propose.start", "req_id", rid, "model", c.cfg.Model, "addenda", len(req.Addenda))

	content, err := c.complete(ctx, proposeSystemPrompt, buildProposeUserPrompt(req, c.cfg.MaxDocumentChars))
	if err != nil {
		c.log.Error("llm.propose.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	var payload struct {
		ChangeInstructions  json.RawMessage    `json:"changeInstructions"`
		QuestionsAndAnswers []change.QAndAItem `json:"questionsAndAnswers"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		c.log.Error("llm.propose.decode_error", "req_id", rid, "error", err, "content_len", len(content))
		return nil, fmt.Errorf("decode model answer: %w", err)
	}
	if len(payload.ChangeInstructions) == 0 {
		payload.ChangeInstructions = json.RawMessage("[]")
	}

	decoded, err := change.Decode(payload.ChangeInstructions)
	if err != nil {
		c.log.Error("llm.propose.instructions_invalid", "req_id", rid, "error", err)
		return nil, err
	}
	for _, q := range decoded.Quarantined {
		c.log.Warn("llm.propose.quarantined", "req_id", rid, "index", q.Index, "reason", q.Reason)
	}

	out := &Proposal{
		ChangeInstructions:  decoded.Instructions,
		QuestionsAndAnswers: payload.QuestionsAndAnswers,
		Quarantined:         decoded.Quarantined,
	}
	if out.ChangeInstructions == nil {
		out.ChangeInstructions = []change.Instruction{}
	}
	if out.QuestionsAndAnswers == nil {
		out.QuestionsAndAnswers = []change.QAndAItem{}
	}
	c.log.Info("llm.propose.ok",
		"req_id", rid,
		"instructions", len(out.ChangeInstructions),
		"quarantined", len(out.Quarantined),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// VerifyConsistency asks a yes/no question about files. Transport failures are
// returned; an answer that cannot be read is treated as consistent.
func (c *Client) VerifyConsistency(ctx context.Context, files []Document, question string) (Consistency, error) {
	rid := uuid.New().String()
	c.log.Info("llm.verify.start", "req_id", rid, "files", len(files))

	content, err := c.complete(ctx, verifySystemPrompt, buildVerifyUserPrompt(files, question, c.cfg.MaxDocumentChars))
	if err != nil {
		c.log.Error("llm.verify.http_error", "req_id", rid, "error", err)
		return Consistency{}, err
	}

	var answer struct {
		IsConsistent *bool  `json:"isConsistent"`
		Reasoning    string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &answer); err != nil || answer.IsConsistent == nil {
		c.log.Warn("llm.verify.ambiguous", "req_id", rid, "content_len", len(content))
		return Consistency{IsConsistent: true, Reasoning: "The answer could not be interpreted; assuming consistent."}, nil
	}
	return Consistency{IsConsistent: *answer.IsConsistent, Reasoning: answer.Reasoning}, nil
}

// complete runs one chat completion and returns the first choice's content
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", errors.New("no choices in openai response")
	}
	return stripFence(cc.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// stripFence removes a ```json fence some models wrap around JSON answers
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
