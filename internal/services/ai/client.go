package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// OpenAI-совместимый endpoint по умолчанию
	DefaultBaseURL = "https://api.openai.com/v1"

	DefaultModel = "gpt-4"
)

// Message - реплика, передаваемая модели
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest - запрос без состояния: вся история передаётся целиком
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// GenerateResult - результат генерации
type GenerateResult struct {
	Response     string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Completer - синхронный интерфейс модели (chat completion)
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*GenerateResult, error)
	Name() string
}

// Client - клиент OpenAI-совместимого chat completions API
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// NewClient создаёт новый клиент
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	log.Printf("[AI] Клиент chat completions инициализирован, модель: %s", model)

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
	}
}

// Name возвращает имя провайдера для журнала
func (c *Client) Name() string {
	return "openai"
}

// chatRequest - тело запроса /chat/completions
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// chatResponse - ответ /chat/completions
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete отправляет историю и возвращает ответ модели
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*GenerateResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("AI клиент не инициализирован: нет API ключа")
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}

	var chatResp chatResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/chat/completions", c.apiKey, nil, body, &chatResp); err != nil {
		return nil, err
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("пустой ответ от модели")
	}

	return &GenerateResult{
		Response:     chatResp.Choices[0].Message.Content,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:  chatResp.Usage.TotalTokens,
	}, nil
}

// APIError - ответ API с кодом, отличным от 2xx
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ошибка API (статус %d): %s", e.StatusCode, e.Body)
}

// doJSON выполняет JSON-запрос и разбирает ответ в out
func doJSON(ctx context.Context, client *http.Client, method, url, apiKey string, headers map[string]string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("ошибка сериализации запроса: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 500)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("ошибка парсинга ответа: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
