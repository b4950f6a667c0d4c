package alert

import (
	"context"
	"fmt"
	apphttp "kimchi_arb/pkg/http"
	"time"
)

type SlackChannel struct {
	webhookURL string
	client     *apphttp.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     apphttp.NewClient(webhookURL, 5*time.Second, nil),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch alert.Level {
	case Warning:
		color = "#ffcc00"
	case Error:
		color = "#ff0000"
	case Critical:
		color = "#8b0000"
	}

	var fields []map[string]interface{}
	for k, v := range alert.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	pretext := fmt.Sprintf("[%s] %s", alert.Level, alert.Title)
	if alert.Title == "" {
		pretext = fmt.Sprintf("[%s]", alert.Level)
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": pretext,
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "kimchi_arb",
			},
		},
	}

	if _, err := s.client.Post(ctx, "", payload); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
