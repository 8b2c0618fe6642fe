// Package pubsub announces finished crawl runs on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/upload"
)

// Config names the target topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether both the project and topic are set.
func (c Config) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// Message is the JSON payload published for each run.
type Message struct {
	crawler.Summary
	Uploads []upload.Result `json:"uploads"`
}

// UploadsFunc returns the files uploaded for the run being announced.
type UploadsFunc func() []upload.Result

// Notifier publishes run summaries.
type Notifier struct {
	topic   *pubsub.Topic
	uploads UploadsFunc
	logger  *zap.Logger
}

// New wraps topic. uploads may be nil when nothing is uploaded.
func New(topic *pubsub.Topic, uploads UploadsFunc, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{topic: topic, uploads: uploads, logger: logger}
}

// Publish sends summary and waits for the server to acknowledge it.
func (n *Notifier) Publish(ctx context.Context, summary crawler.Summary) (string, error) {
	if n.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	msg := Message{Summary: summary, Uploads: []upload.Result{}}
	if n.uploads != nil {
		if results := n.uploads(); results != nil {
			msg.Uploads = results
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal run summary: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"run_id": summary.RunID, "source": "gallito"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	n.logger.Info("Published run summary", zap.String("run_id", summary.RunID), zap.String("message_id", id))
	return id, nil
}

// Hook adapts the notifier to a crawl completion hook.
func (n *Notifier) Hook() crawler.CompletionHook {
	return func(ctx context.Context, summary crawler.Summary) error {
		_, err := n.Publish(ctx, summary)
		return err
	}
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}
