package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RunStatus - статус асинхронного запуска ассистента
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal - дальнейший опрос бессмысленен
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunRequiresAction:
		return true
	}
	return false
}

// AssistantAPI - асинхронный интерфейс ассистента с состоянием (thread + run)
type AssistantAPI interface {
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, role, content string) error
	CreateRun(ctx context.Context, threadID string) (string, error)
	GetRunStatus(ctx context.Context, threadID, runID string) (RunStatus, error)
	// ListMessages возвращает тексты сообщений, новые первыми
	ListMessages(ctx context.Context, threadID string) ([]string, error)
}

// AssistantClient - клиент OpenAI-совместимого Assistants API
type AssistantClient struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	assistantID string
}

// NewAssistantClient создаёт клиента для заранее настроенного ассистента
// (системная инструкция хранится на стороне ассистента)
func NewAssistantClient(apiKey, baseURL, assistantID string, timeout time.Duration) *AssistantClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AssistantClient{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		assistantID: assistantID,
	}
}

var betaHeaders = map[string]string{"OpenAI-Beta": "assistants=v2"}

type idResponse struct {
	ID string `json:"id"`
}

// CreateThread создаёт пустой тред
func (c *AssistantClient) CreateThread(ctx context.Context) (string, error) {
	var resp idResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/threads", c.apiKey, betaHeaders, map[string]interface{}{}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("API не вернуло id треда")
	}
	return resp.ID, nil
}

// PostMessage добавляет сообщение в тред
func (c *AssistantClient) PostMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	return doJSON(ctx, c.httpClient, http.MethodPost, c.threadURL(threadID, "messages"), c.apiKey, betaHeaders, body, nil)
}

// CreateRun запускает ассистента на треде
func (c *AssistantClient) CreateRun(ctx context.Context, threadID string) (string, error) {
	body := map[string]string{"assistant_id": c.assistantID}
	var resp idResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.threadURL(threadID, "runs"), c.apiKey, betaHeaders, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("API не вернуло id запуска")
	}
	return resp.ID, nil
}

// GetRunStatus читает статус запуска (чистое чтение, безопасно повторять)
func (c *AssistantClient) GetRunStatus(ctx context.Context, threadID, runID string) (RunStatus, error) {
	var resp struct {
		Status RunStatus `json:"status"`
	}
	if err := doJSON(ctx, c.httpClient, http.MethodGet, c.threadURL(threadID, "runs/"+url.PathEscape(runID)), c.apiKey, betaHeaders, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// ListMessages возвращает тексты сообщений треда, новые первыми
func (c *AssistantClient) ListMessages(ctx context.Context, threadID string) ([]string, error) {
	var resp messageList
	if err := doJSON(ctx, c.httpClient, http.MethodGet, c.threadURL(threadID, "messages")+"?order=desc", c.apiKey, betaHeaders, nil, &resp); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		var b strings.Builder
		for _, part := range m.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		texts = append(texts, b.String())
	}
	return texts, nil
}

func (c *AssistantClient) threadURL(threadID, suffix string) string {
	return c.baseURL + "/threads/" + url.PathEscape(threadID) + "/" + suffix
}
