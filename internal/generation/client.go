package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// ErrNotConfigured is wrapped in an Error when no API key was supplied.
var ErrNotConfigured = errors.New("text generation is not configured")

// Error reports a failed or malformed text-generation call. Callers may retry
// the same step; nothing is retried automatically.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Completions is the subset of the chat completions service the client uses.
type Completions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type Config struct {
	APIKey               string
	BaseURL              string
	Model                string
	QuestionsTemperature float64
	ContractTemperature  float64
	MaxQuestions         int
	Timeout              time.Duration
	HTTPClient           *http.Client
}

type QuestionsRequest struct {
	Input       string `json:"input"`
	FileContent string `json:"fileContent,omitempty"`
}

type DraftRequest struct {
	Input            string     `json:"input"`
	FileContent      string     `json:"fileContent,omitempty"`
	Questions        []Question `json:"questions,omitempty"`
	Answers          []string   `json:"questionResponses,omitempty"`
	SelectedTemplate string     `json:"selectedTemplate,omitempty"`
}

type Client struct {
	completions Completions
	cfg         Config
	log         *zap.Logger
}

const defaultModel = "gpt-3.5-turbo"

// New builds a client backed by an OpenAI-compatible endpoint. Without an API
// key the client is still usable but every call fails with ErrNotConfigured.
func New(cfg Config, log *zap.Logger) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return NewWithCompletions(nil, cfg, log)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return NewWithCompletions(&client.Chat.Completions, cfg, log)
}

// NewWithCompletions wires an arbitrary completions backend, mainly for tests.
func NewWithCompletions(c Completions, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = DefaultMaxQuestions
	}
	return &Client{completions: c, cfg: cfg, log: log}
}

// ClarifyingQuestions asks the model for follow-up questions about a project.
func (c *Client) ClarifyingQuestions(ctx context.Context, req QuestionsRequest) ([]string, error) {
	text, err := c.complete(ctx, "clarifying questions", c.cfg.QuestionsTemperature,
		openai.SystemMessage(BuildQuestionsPrompt(req.Input, req.FileContent)))
	if err != nil {
		return nil, err
	}
	return ParseQuestions(text, c.cfg.MaxQuestions), nil
}

// ContractDraft asks the model for a markdown contract following ContractSections.
func (c *Client) ContractDraft(ctx context.Context, req DraftRequest) (string, error) {
	text, err := c.complete(ctx, "contract draft", c.cfg.ContractTemperature,
		openai.SystemMessage(contractSystemPrompt),
		openai.UserMessage(BuildContractPrompt(req)))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &Error{Op: "contract draft", Err: errors.New("response contained an empty contract")}
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, op string, temperature float64, msgs ...openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.completions == nil {
		return "", &Error{Op: op, Err: ErrNotConfigured}
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.cfg.Model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
	}
	started := time.Now()
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		genErr := &Error{Op: op, Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			genErr.Status = apiErr.StatusCode
		}
		c.log.Warn("generation request failed", zap.String("op", op), zap.Int("status", genErr.Status), zap.Error(err))
		return "", genErr
	}
	if completion == nil || len(completion.Choices) == 0 {
		c.log.Warn("generation response had no choices", zap.String("op", op))
		return "", &Error{Op: op, Err: errors.New("response contained no message")}
	}
	text := completion.Choices[0].Message.Content
	c.log.Debug("generation completed", zap.String("op", op), zap.Duration("elapsed", time.Since(started)), zap.Int("chars", len(text)))
	return text, nil
}
