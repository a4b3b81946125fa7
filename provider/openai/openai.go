package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/solver"
)

const defaultAPIURL = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are an expert data analyst and problem solver. Your task is to solve quizzes that involve:
- Web scraping and data sourcing
- Data preparation and cleansing
- Data analysis (filtering, sorting, aggregating, statistical analysis)
- Data visualization
- API interactions
- File processing (PDF, images, etc.)

You have access to tools for scraping, downloading files, processing data, analyzing, and visualizing.
Use these tools as needed to solve the quiz step by step.

Read the quiz instructions carefully and solve the problem.
Your final answer should be in the format requested (boolean, number, string, base64 URI, or JSON object).
Be precise and accurate.`

// client implements solver.ReasoningClient against OpenAI's chat
// completions API with function calling.
type client struct {
	apiKey      string
	apiURL      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewClient creates a new OpenAI reasoning client. baseURL is optional and
// exists for proxies and compatible endpoints.
func NewClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) solver.ReasoningClient {
	apiURL := defaultAPIURL
	if baseURL != "" {
		apiURL = strings.TrimRight(baseURL, "/") + "/chat/completions"
	}
	return &client{
		apiKey:      apiKey,
		apiURL:      apiURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// message is one wire-format chat message.
type message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDef struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []toolDef `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Reason sends one chat completion round trip and maps the reply back into
// the solver's shape: tool-call requests, or a parsed final answer.
func (c *client) Reason(ctx context.Context, req solver.ReasoningRequest) (solver.Reply, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return solver.Reply{}, err
	}

	body := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if len(req.Tools) > 0 {
		body.Tools = buildToolDefs(req.Tools)
		body.ToolChoice = "auto"
	}

	resp, err := c.sendRequest(ctx, body)
	if err != nil {
		return solver.Reply{}, err
	}
	if len(resp.Choices) == 0 {
		return solver.Reply{}, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	reply := solver.Reply{
		Raw:    choice.Message.Content,
		Model:  c.model,
		Tokens: resp.Usage.TotalTokens,
		Cost:   estimateCost(c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	if len(choice.Message.ToolCalls) > 0 {
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]interface{}
			if tc.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					return solver.Reply{}, fmt.Errorf("decode tool arguments for %s: %w", tc.Function.Name, err)
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, capability.Call{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			})
		}
		return reply, nil
	}

	answer := solver.ParseAnswer(choice.Message.Content)
	reply.Answer = &answer
	return reply, nil
}

// buildMessages converts the solver's turn history into wire messages. The
// first user turn is wrapped with the quiz framing; later turns pass
// through untouched.
func buildMessages(req solver.ReasoningRequest) ([]message, error) {
	messages := []message{{Role: "system", Content: systemPrompt}}

	seededUser := false
	for _, turn := range req.History {
		switch turn.Role {
		case "user":
			content := turn.Content
			if !seededUser {
				content = userPrompt(req.QuizURL, turn.Content)
				seededUser = true
			}
			messages = append(messages, message{Role: "user", Content: content})
		case "assistant":
			if turn.ToolCall != nil {
				args, err := json.Marshal(turn.ToolCall.Args)
				if err != nil {
					return nil, fmt.Errorf("encode tool arguments: %w", err)
				}
				messages = append(messages, message{
					Role: "assistant",
					ToolCalls: []toolCall{{
						ID:   turn.ToolCall.ID,
						Type: "function",
						Function: functionCall{
							Name:      turn.ToolCall.Name,
							Arguments: string(args),
						},
					}},
				})
			} else {
				messages = append(messages, message{Role: "assistant", Content: turn.Content})
			}
		case "tool":
			messages = append(messages, message{
				Role:       "tool",
				ToolCallID: turn.ToolCallID,
				Name:       turn.ToolName,
				Content:    turn.Content,
			})
		default:
			return nil, fmt.Errorf("unknown turn role %q", turn.Role)
		}
	}
	return messages, nil
}

func userPrompt(quizURL, instructions string) string {
	return fmt.Sprintf(`Quiz URL: %s

Quiz Instructions:
%s

Solve this quiz step by step using the available tools. The final answer should be:
- A boolean (true/false) if the question asks for yes/no
- A number (integer or float) if the question asks for a numeric value
- A string if the question asks for text
- A base64 URI (data:image/png;base64,...) if the question asks for an image/chart
- A JSON object if the question asks for structured data

When you have the final answer, provide it clearly.`, quizURL, instructions)
}

func buildToolDefs(specs []capability.Spec) []toolDef {
	defs := make([]toolDef, 0, len(specs))
	for _, s := range specs {
		defs = append(defs, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.JSONSchema(),
			},
		})
	}
	return defs
}

// sendRequest posts one chat completion request.
func (c *client) sendRequest(ctx context.Context, body request) (response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return response{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return response{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return response{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return out, nil
}

// Per-million-token USD prices, used for spend accounting only.
var pricing = map[string][2]float64{
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
}

func estimateCost(model string, promptTokens, completionTokens int64) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*p[0] + float64(completionTokens)/1e6*p[1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
