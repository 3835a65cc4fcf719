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

// OpenAIBackend implements Invoker against any OpenAI-compatible
// /chat/completions endpoint, forcing structured output through the
// function-calling tool_choice mechanism when a schema is supplied.
type OpenAIBackend struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	modelByRole map[Role]string
}

func NewOpenAIBackend(baseURL, apiKey string, modelByRole map[Role]string) *OpenAIBackend {
	return &OpenAIBackend{
		client:      &http.Client{Timeout: 90 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		modelByRole: modelByRole,
	}
}

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice any             `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *OpenAIBackend) Invoke(ctx context.Context, role Role, prompt Prompt, schema json.RawMessage) (json.RawMessage, error) {
	model, ok := b.modelByRole[role]
	if !ok || model == "" {
		return nil, fmt.Errorf("openai backend: no model configured for role %q", role)
	}

	req := openAIRequest{Model: model}
	if prompt.System != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: prompt.System})
	}
	for _, m := range prompt.Messages {
		req.Messages = append(req.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	req.Messages = append(req.Messages, openAIMessage{Role: "user", Content: prompt.User})

	if len(schema) > 0 {
		req.Tools = []openAITool{{
			Type: "function",
			Function: openAIFunction{
				Name:        structuredOutputToolName,
				Description: "Emit the structured result matching the required schema.",
				Parameters:  schema,
			},
		}}
		req.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]string{"name": structuredOutputToolName},
		}
	}

	buf, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, string(body))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty openai response")
	}

	msg := parsed.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		return json.RawMessage(msg.ToolCalls[0].Function.Arguments), nil
	}
	return json.RawMessage(strconvQuote(msg.Content)), nil
}
