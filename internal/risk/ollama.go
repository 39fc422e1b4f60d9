package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// DefaultOllamaURL is the local Ollama server address.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel is the chat model asked to score commands.
	DefaultOllamaModel = "qwen2.5"
)

const verdictSchemaURL = "https://cmdgate.local/schemas/risk-verdict.schema.json"

const verdictSchema = `{
	"type": "object",
	"properties": {
		"is_dangerous": {"type": "boolean"},
		"risk_score": {"type": "number"},
		"analysis": {"type": "string"},
		"requires_approval": {"type": "boolean"},
		"confidence": {"type": "number"}
	},
	"required": ["risk_score"]
}`

const promptTemplate = `Analyze this Linux/Unix command for security risks and potential dangers:

Command: %s

Please evaluate:
1. Is this command potentially dangerous or harmful?
2. What are the specific risks?
3. Rate the risk level from 0-10 (0=safe, 10=extremely dangerous)
4. Should this command require admin approval?

Respond in JSON format:
{
    "is_dangerous": true/false,
    "risk_score": 0-10,
    "analysis": "detailed explanation",
    "requires_approval": true/false,
    "confidence": 0-100
}

Consider dangerous: file deletion, system modification, network attacks, privilege escalation, data exfiltration.
Consider safe: file listing, reading files, basic system info, simple calculations.
`

var fallbackKeywords = []string{"dangerous", "harmful", "risky", "approval"}

// Ollama asks a chat model served by Ollama to score a command.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	schema  *jsonschema.Schema
}

// NewOllama returns an oracle talking to the Ollama server at baseURL.
// A nil client gets a default client with a 30s timeout.
func NewOllama(baseURL, model string, client *http.Client) (*Ollama, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOllamaURL
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOllamaModel
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchema)); err != nil {
		return nil, fmt.Errorf("add verdict schema: %w", err)
	}
	compiled, err := c.Compile(verdictSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		schema:  compiled,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// Assess sends text to the model and decodes its answer. Transport and
// server errors are returned; an answer that is not JSON is scored by
// keyword instead.
func (o *Ollama) Assess(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, text)}},
		Stream:   false,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Verdict{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if chat.Error != "" {
		return Verdict{}, fmt.Errorf("ollama error: %s", chat.Error)
	}
	return o.parseContent(chat.Message.Content), nil
}

func (o *Ollama) parseContent(content string) Verdict {
	var doc any
	if err := json.Unmarshal([]byte(extractJSON(content)), &doc); err != nil {
		return keywordVerdict(content)
	}
	if err := o.schema.Validate(doc); err != nil {
		return keywordVerdict(content)
	}

	m := doc.(map[string]any)
	v := Verdict{
		Analysis:   "No analysis provided",
		Confidence: int(bounded(numberOr(m["confidence"], 50), 0, 100, 50)),
	}
	if s, ok := m["analysis"].(string); ok && s != "" {
		v.Analysis = s
	}
	v.Dangerous, _ = m["is_dangerous"].(bool)
	v.RequiresApproval, _ = m["requires_approval"].(bool)

	score := numberOr(m["risk_score"], 0)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		v.RiskScore = DefaultFailSafeScore
		v.RequiresApproval = true
		return normalize(v)
	}
	v.RiskScore = int(bounded(score, 0, MaxScore, 0))
	return normalize(v)
}

func keywordVerdict(content string) Verdict {
	lower := strings.ToLower(content)
	dangerous := false
	for _, w := range fallbackKeywords {
		if strings.Contains(lower, w) {
			dangerous = true
			break
		}
	}
	score := 2
	if dangerous {
		score = 5
	}
	return Verdict{
		RequiresApproval: dangerous,
		RiskScore:        score,
		Analysis:         content,
		Confidence:       70,
		Dangerous:        dangerous,
	}
}

// extractJSON trims markdown code fences models like to wrap answers in.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// bounded clamps f to [lo, hi] before any integer conversion; NaN maps to def.
func bounded(f, lo, hi, def float64) float64 {
	if math.IsNaN(f) {
		return def
	}
	return math.Max(lo, math.Min(hi, f))
}

func numberOr(v any, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}
