package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmMaxTokens is the per-request token limit of SendEachForMulticast.
const fcmMaxTokens = 500

// FCMConfig carries service account credentials.
type FCMConfig struct {
	ProjectID       string
	ClientEmail     string
	PrivateKey      string
	CredentialsFile string
}

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway sends pushes through Firebase Cloud Messaging.
type FCMGateway struct {
	client multicastSender
}

var (
	fcmOnce    sync.Once
	fcmShared  *FCMGateway
	fcmInitErr error
)

// InitFCM initializes the process-wide FCM gateway once and returns it on every call.
func InitFCM(ctx context.Context, cfg FCMConfig) (*FCMGateway, error) {
	fcmOnce.Do(func() {
		fcmShared, fcmInitErr = NewFCMGateway(ctx, cfg)
	})
	return fcmShared, fcmInitErr
}

// NewFCMGateway builds a Firebase app and messaging client.
func NewFCMGateway(ctx context.Context, cfg FCMConfig) (*FCMGateway, error) {
	opt, err := credentialsOption(cfg)
	if err != nil {
		return nil, err
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("fcm gateway: init app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm gateway: init messaging: %w", err)
	}
	return &FCMGateway{client: client}, nil
}

func newFCMGatewayWithSender(sender multicastSender) *FCMGateway {
	return &FCMGateway{client: sender}
}

// SendMulticast implements Gateway. Token lists above the FCM limit are split
// into ordered batches. A failure on the first batch is returned as an error;
// once any batch was accepted, later batch failures are reported per token.
func (g *FCMGateway) SendMulticast(ctx context.Context, msg Message) ([]Result, error) {
	if g == nil || g.client == nil {
		return nil, errors.New("fcm gateway: not initialized")
	}
	results := make([]Result, 0, len(msg.Tokens))
	for start := 0; start < len(msg.Tokens); start += fcmMaxTokens {
		end := start + fcmMaxTokens
		if end > len(msg.Tokens) {
			end = len(msg.Tokens)
		}
		batch := msg.Tokens[start:end]
		resp, err := g.client.SendEachForMulticast(ctx, buildMulticast(msg, batch))
		if err != nil {
			if start == 0 {
				return nil, err
			}
			for range batch {
				results = append(results, Result{Error: err.Error()})
			}
			continue
		}
		results = append(results, batchResults(resp, len(batch))...)
	}
	return results, nil
}

func buildMulticast(msg Message, tokens []string) *messaging.MulticastMessage {
	androidPriority := "normal"
	apnsPriority := "5"
	if msg.Priority == PriorityHigh {
		androidPriority = "high"
		apnsPriority = "10"
	}
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{Priority: androidPriority},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
		},
	}
}

func batchResults(resp *messaging.BatchResponse, size int) []Result {
	out := make([]Result, size)
	if resp == nil {
		for i := range out {
			out[i].Error = "empty batch response"
		}
		return out
	}
	for i := range out {
		if i >= len(resp.Responses) || resp.Responses[i] == nil {
			out[i].Error = "missing response"
			continue
		}
		r := resp.Responses[i]
		out[i].Success = r.Success
		if r.Error != nil {
			out[i].Error = r.Error.Error()
		}
	}
	return out
}

func credentialsOption(cfg FCMConfig) (option.ClientOption, error) {
	if cfg.CredentialsFile != "" {
		return option.WithCredentialsFile(cfg.CredentialsFile), nil
	}
	if cfg.ProjectID == "" || cfg.ClientEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("fcm gateway: missing service account credentials")
	}
	payload, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   cfg.ProjectID,
		"client_email": cfg.ClientEmail,
		"private_key":  strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n"),
		"token_uri":    "https://oauth2.googleapis.com/token",
	})
	if err != nil {
		return nil, err
	}
	return option.WithCredentialsJSON(payload), nil
}
