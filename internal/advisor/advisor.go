// Package advisor turns a natural-language conversation into search criteria
// using AWS Bedrock (Claude). The advisor is a pure value transform: it never
// creates agents or touches storage, callers decide what to do with the
// suggestion.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/mkre153/dealfinder-pro-sub000/internal/config"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// criteriaMarker prefixes the JSON block the model emits once it has gathered
// enough to configure an agent. Everything before the marker is the
// conversational reply.
const criteriaMarker = "CRITERIA:"

const systemPrompt = `You are a real estate investment assistant for a property monitoring service. Your job is to help a client describe what they are looking for and translate it into search criteria.

Gather, through conversation:
- locations: target postal codes (5-digit ZIP codes, required)
- price_min / price_max: budget in whole dollars
- bedrooms_min, bathrooms_min
- property_types: e.g. "Single Family", "Condo", "Multi-Family"
- deal_quality: subset of HOT, GOOD, FAIR
- min_score: minimum match score 0-100 (default 70)
- investment_type: e.g. "flip", "rental", "primary"
- client_name: who the search is for

Be concise and ask for at most one missing detail at a time. Once you know at least the postal codes, end your reply with a single line:
CRITERIA: {"client_name": ..., "locations": [...], ...}
using exactly the field names above, omitting fields the client did not give. Do not mention the CRITERIA line in your conversational text.`

// Turn is one prior exchange in the conversation, role "user" or "assistant".
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SuggestedCriteria is the model's extraction, shaped like the agent-creation
// request body.
type SuggestedCriteria struct {
	ClientName     string   `json:"client_name,omitempty"`
	Locations      []string `json:"locations,omitempty"`
	PriceMin       *int64   `json:"price_min,omitempty"`
	PriceMax       *int64   `json:"price_max,omitempty"`
	BedroomsMin    *int     `json:"bedrooms_min,omitempty"`
	BathroomsMin   *float64 `json:"bathrooms_min,omitempty"`
	PropertyTypes  []string `json:"property_types,omitempty"`
	DealQuality    []string `json:"deal_quality,omitempty"`
	MinScore       *int     `json:"min_score,omitempty"`
	InvestmentType string   `json:"investment_type,omitempty"`
}

// Criteria converts the suggestion into a domain criteria value, applying the
// default minimum score.
func (s SuggestedCriteria) Criteria() domain.Criteria {
	c := domain.Criteria{
		Locations:      s.Locations,
		PriceMin:       s.PriceMin,
		PriceMax:       s.PriceMax,
		BedroomsMin:    s.BedroomsMin,
		BathroomsMin:   s.BathroomsMin,
		PropertyTypes:  s.PropertyTypes,
		DealQuality:    s.DealQuality,
		MinScore:       domain.DefaultMinScore,
		InvestmentType: s.InvestmentType,
	}
	if s.MinScore != nil {
		c.MinScore = *s.MinScore
	}
	return c
}

// Result is the advisor's reply. AgentConfigured reports whether the
// suggestion is complete enough to create an agent from; creation stays a
// separate, validated call.
type Result struct {
	Message           string             `json:"message"`
	AgentConfigured   bool               `json:"agent_configured"`
	SuggestedCriteria *SuggestedCriteria `json:"suggested_criteria,omitempty"`
}

// ModelInvoker is the slice of the Bedrock runtime client the advisor uses.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, input *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Advisor drives the criteria-extraction conversation.
type Advisor struct {
	client    ModelInvoker
	modelID   string
	maxTokens int
}

type bedrockContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// New creates a Bedrock-backed advisor using the default AWS credential
// chain for the configured region.
func New(ctx context.Context, cfg appconfig.AdvisorConfig) (*Advisor, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	log.Printf("[Advisor] Initialized with model=%s, region=%s", cfg.ModelID, cfg.Region)
	return newAdvisor(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID, cfg.MaxTokens), nil
}

// newAdvisor wires an explicit model client, used by tests.
func newAdvisor(client ModelInvoker, modelID string, maxTokens int) *Advisor {
	return &Advisor{client: client, modelID: modelID, maxTokens: maxTokens}
}

// Advise sends the conversation to the model and parses the reply. The
// returned result carries the conversational message with the criteria block
// stripped, plus the parsed suggestion when the model produced one.
func (a *Advisor) Advise(ctx context.Context, message string, history []Turn) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("advisor: message is required")
	}

	messages := make([]bedrockMessage, 0, len(history)+1)
	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, bedrockMessage{
			Role:    role,
			Content: []bedrockContent{{Type: "text", Text: turn.Content}},
		})
	}
	messages = append(messages, bedrockMessage{
		Role:    "user",
		Content: []bedrockContent{{Type: "text", Text: message}},
	})

	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        a.maxTokens,
		System:           systemPrompt,
		Messages:         messages,
		Temperature:      0.3,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking model: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("parsing model response: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	log.Printf("[Advisor] Processed message (in: %d tokens, out: %d tokens)",
		response.Usage.InputTokens, response.Usage.OutputTokens)

	return parseReply(text.String()), nil
}

// parseReply splits the model's text into the conversational message and the
// optional criteria block.
func parseReply(text string) *Result {
	idx := strings.Index(text, criteriaMarker)
	if idx < 0 {
		return &Result{Message: strings.TrimSpace(text)}
	}

	result := &Result{Message: strings.TrimSpace(text[:idx])}

	rest := text[idx+len(criteriaMarker):]
	brace := strings.Index(rest, "{")
	if brace < 0 {
		return result
	}

	var suggestion SuggestedCriteria
	dec := json.NewDecoder(strings.NewReader(rest[brace:]))
	if err := dec.Decode(&suggestion); err != nil {
		log.Printf("[Advisor] Discarding unparseable criteria block: %v", err)
		return result
	}

	result.SuggestedCriteria = &suggestion
	result.AgentConfigured = len(suggestion.Criteria().Problems()) == 0
	return result
}
