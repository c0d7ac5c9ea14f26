// internal/gpt/client.go
package gpt

import (
	"context"
	"fmt"
	"strings"

	"mac-bot/internal/models"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "Ты бережный психолог, работающий с метафорическими ассоциативными картами. " +
	"Не ставь диагнозов и не давай советов. Коротко, в 3-4 предложениях, отрази человеку, " +
	"что прозвучало в его ответах и как это может быть связано с его запросом."

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(openai.DefaultConfig(apiKey))
}

func NewClientWithConfig(cfg openai.ClientConfig) *Client {
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// Summarize writes a short reflection over the answers collected so far.
func (c *Client) Summarize(ctx context.Context, s *models.Session) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(s),
			},
		},
		MaxTokens:   400,
		Temperature: 0.7,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildPrompt(s *models.Session) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}

	b.WriteString("Ответы человека после работы с картой:\n")
	line("Запрос", s.Request)
	line("Тип запроса", s.RequestType)
	line("Колода", s.CardType)
	line("Чувства при взгляде на карту", s.Feelings)
	line("Что видно на карте", s.Views)
	line("Приятный персонаж", s.PleasantCharacter)
	line("Неприятный персонаж", s.UnpleasantCharacter)
	line("Чувства персонажей", s.CharactersFeelings)
	line("Что происходит", s.WhatsHappening)
	line("Откликается ли запросу", s.Resonates)
	return b.String()
}
