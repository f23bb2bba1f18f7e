package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-1.5-pro"

// GeminiClient - синхронный провайдер на Gemini API
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient создаёт клиента Gemini
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("не задан API ключ Gemini")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента Gemini: %w", err)
	}

	log.Printf("[AI] Клиент Gemini инициализирован, модель: %s", model)
	return &GeminiClient{client: client, model: model}, nil
}

// Name возвращает имя провайдера для журнала
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Close освобождает соединение
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Complete отправляет историю в Gemini.
// Системные реплики уходят в SystemInstruction, последняя пользовательская - как новое сообщение чата.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*GenerateResult, error) {
	system, history, last, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	chat := model.StartChat()
	chat.History = history

	resp, err := chat.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к Gemini: %w", err)
	}

	result := &GenerateResult{Response: responseText(resp)}
	if result.Response == "" {
		return nil, fmt.Errorf("пустой ответ от модели")
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		result.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}

// toGeminiContents раскладывает историю: system, предыдущие реплики и последний вопрос
func toGeminiContents(messages []Message) (string, []*genai.Content, string, error) {
	var system []string
	var turns []Message
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	if len(turns) == 0 || turns[len(turns)-1].Role != "user" {
		return "", nil, "", fmt.Errorf("история должна заканчиваться репликой пользователя")
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
