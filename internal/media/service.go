// Package media fetches attachment binaries from the provider before their
// short-lived URLs expire and archives them to durable blob storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hogarcril/wa-crm/internal/retry"
	"github.com/hogarcril/wa-crm/internal/wagraph"
	"github.com/hogarcril/wa-crm/pkg/logging"
)

// ErrUnavailable marks a fetch that exhausted its retry budget. Callers
// persist the message anyway, with an error marker instead of an attachment.
var ErrUnavailable = errors.New("media: content unavailable")

// Fetcher resolves media ids against the provider.
type Fetcher interface {
	MediaMetadata(ctx context.Context, mediaID string) (*wagraph.MediaMetadata, error)
	DownloadMedia(ctx context.Context, directURL string) ([]byte, string, error)
}

// Config bounds the fetch behavior.
type Config struct {
	// ExtraRetries is how many times a failed metadata+download pair is
	// retried after the first attempt.
	ExtraRetries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// CallTimeout caps each individual network call.
	CallTimeout time.Duration
}

// Service is the media retrieval service: bounded-retry fetch plus archive.
type Service struct {
	fetcher Fetcher
	store   *Store
	policy  retry.Policy
	timeout time.Duration
	logger  *logging.Logger
}

// NewService wires a Service with the default budget: 2 extra retries,
// 150ms delay, 5s per-call timeout.
func NewService(fetcher Fetcher, store *Store, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ExtraRetries < 0 {
		cfg.ExtraRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 150 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Service{
		fetcher: fetcher,
		store:   store,
		policy: retry.Policy{
			MaxAttempts: cfg.ExtraRetries + 1,
			Delay:       cfg.RetryDelay,
			Retryable:   wagraph.IsTransient,
		},
		timeout: cfg.CallTimeout,
		logger:  logger,
	}
}

// Fetch resolves a media id to its binary content and mime type. Transient
// failures (5xx, timeouts, expired-content 4xx) are retried within the
// budget; exhaustion returns an error wrapping ErrUnavailable.
func (s *Service) Fetch(ctx context.Context, mediaID string) ([]byte, string, error) {
	var data []byte
	var mimeType string

	err := s.policy.Do(ctx, func(ctx context.Context) error {
		metaCtx, cancel := context.WithTimeout(ctx, s.timeout)
		meta, err := s.fetcher.MediaMetadata(metaCtx, mediaID)
		cancel()
		if err != nil {
			return err
		}

		dlCtx, cancel := context.WithTimeout(ctx, s.timeout)
		body, contentType, err := s.fetcher.DownloadMedia(dlCtx, meta.URL)
		cancel()
		if err != nil {
			return err
		}

		data = body
		mimeType = meta.MimeType
		if mimeType == "" {
			mimeType = contentType
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("media fetch exhausted", "media_id", mediaID, "error", err)
		return nil, "", fmt.Errorf("%w: %s: %v", ErrUnavailable, mediaID, err)
	}
	return data, mimeType, nil
}

// Archive writes the bytes to blob storage under the deterministic key for
// (conversation, message) and returns the storage path plus a retrieval URL.
func (s *Service) Archive(ctx context.Context, conversationID, messageID, mimeType string, data []byte) (string, string, error) {
	if s.store == nil || !s.store.Enabled() {
		return "", "", fmt.Errorf("media: archive store not configured")
	}
	return s.store.Put(ctx, conversationID, messageID, mimeType, data)
}
