// Package push delivers notifications to registered device tokens.
package push

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// multicastLimit is the FCM ceiling on tokens per multicast call.
const multicastLimit = 500

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Result struct {
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`
}

type Pusher interface {
	Send(ctx context.Context, tokens []string, msg Message) (Result, error)
}

type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCM sends through Firebase Cloud Messaging.
type FCM struct {
	client multicaster
	logger *slog.Logger
}

func NewFCM(client *messaging.Client, logger *slog.Logger) *FCM {
	return &FCM{client: client, logger: logger}
}

func (f *FCM) Send(ctx context.Context, tokens []string, msg Message) (Result, error) {
	var res Result
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		batch, err := f.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       tokens[start:end],
			Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
			Data:         msg.Data,
			Android: &messaging.AndroidConfig{
				Notification: &messaging.AndroidNotification{Sound: "default"},
			},
		})
		if err != nil {
			return res, fmt.Errorf("fcm multicast: %w", err)
		}
		res.SuccessCount += batch.SuccessCount
		res.FailureCount += batch.FailureCount
		for i, r := range batch.Responses {
			if r != nil && !r.Success {
				f.logger.Debug("push_token_failed", "index", start+i, "error", r.Error)
			}
		}
	}
	return res, nil
}

// Log records what would have been sent. Used when no push service is
// configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, tokens []string, msg Message) (Result, error) {
	l.logger.Info("push_logged", "title", msg.Title, "body", msg.Body, "tokens", len(tokens))
	return Result{SuccessCount: len(tokens)}, nil
}
