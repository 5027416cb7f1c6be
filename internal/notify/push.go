package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"

	"github.com/hogarcril/wa-crm/pkg/logging"
)

// PushSender delivers a notification to one device token.
type PushSender interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]string) error
}

// IsDeadToken reports whether the push provider says the device token is gone
// for good. Callers prune such tokens from the agent record.
func IsDeadToken(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == 404 {
		return true
	}
	return apiErr.Code == 400 && strings.Contains(apiErr.Message, "UNREGISTERED")
}

// FCMSender sends pushes through Firebase Cloud Messaging.
type FCMSender struct {
	service   *fcm.Service
	projectID string
	logger    *logging.Logger
}

func NewFCMSender(service *fcm.Service, projectID string, logger *logging.Logger) *FCMSender {
	if service == nil || projectID == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FCMSender{service: service, projectID: projectID, logger: logger}
}

func (s *FCMSender) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: token,
			Notification: &fcm.Notification{
				Title: title,
				Body:  body,
			},
			Data: data,
		},
	}
	parent := "projects/" + s.projectID
	if _, err := s.service.Projects.Messages.Send(parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("notify: fcm send: %w", err)
	}
	return nil
}
