package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClaudeBackend implements Invoker against Anthropic's /v1/messages API. It
// maps each of the four roles to a concrete model name, so one backend
// instance can serve every role at a different cost/latency point.
type ClaudeBackend struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	modelByRole map[Role]string
}

func NewClaudeBackend(baseURL, apiKey string, modelByRole map[Role]string) *ClaudeBackend {
	return &ClaudeBackend{
		client:      &http.Client{Timeout: 90 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		modelByRole: modelByRole,
	}
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	Tools     []claudeTool    `json:"tools,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const structuredOutputToolName = "emit_structured_output"

func (b *ClaudeBackend) Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error) {
	model, ok := b.modelByRole[role]
	if !ok || model == "" {
		return nil, fmt.Errorf("claude backend: no model configured for role %q", role)
	}

	req := claudeRequest{
		Model:     model,
		MaxTokens: 1024,
		System:    prompt.System,
	}
	for _, m := range prompt.Messages {
		req.Messages = append(req.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}
	req.Messages = append(req.Messages, claudeMessage{Role: "user", Content: prompt.User})

	if len(schema) > 0 {
		req.Tools = []claudeTool{{
			Name:        structuredOutputToolName,
			Description: "Emit the structured result matching the required schema.",
			InputSchema: schema,
		}}
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("claude status %d: %s", resp.StatusCode, string(body))
	}

	var parsed claudeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("claude error: %s", parsed.Error.Message)
	}

	for _, block := range parsed.Content {
		if block.Type == "tool_use" && block.Name == structuredOutputToolName {
			return block.Input, nil
		}
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return json.RawMessage(strconvQuote(block.Text)), nil
		}
	}
	return nil, fmt.Errorf("claude response had no usable content blocks")
}

// strconvQuote turns plain text into a JSON string literal so that
// Invoke's return contract (json.RawMessage) is always valid JSON, even for
// roles called without a schema.
func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
