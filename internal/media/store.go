package media

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hogarcril/wa-crm/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner produces time-limited GET URLs for archived objects.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store archives attachment binaries to S3 under deterministic keys, so a
// redelivered webhook overwrites the same object instead of duplicating it.
type Store struct {
	bucket    string
	s3Client  S3API
	presigner Presigner
	urlExpiry time.Duration
	logger    *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, Enabled reports false
// and callers should skip archiving.
func NewStore(s3Client S3API, presigner Presigner, bucket string, urlExpiry time.Duration, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	if urlExpiry <= 0 {
		urlExpiry = 168 * time.Hour
	}
	return &Store{
		bucket:    bucket,
		s3Client:  s3Client,
		presigner: presigner,
		urlExpiry: urlExpiry,
		logger:    logger,
	}
}

// Enabled reports whether archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Put writes the binary and returns (key, signed URL). The key derives from
// conversation and message ids only, keeping the write idempotent.
func (s *Store) Put(ctx context.Context, conversationID, messageID, mimeType string, data []byte) (string, string, error) {
	if !s.Enabled() {
		return "", "", fmt.Errorf("media: archive store not configured")
	}
	key := ObjectKey(conversationID, messageID, mimeType)

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", "", fmt.Errorf("media: s3 put %s: %w", key, err)
	}

	url, err := s.SignedURL(ctx, key)
	if err != nil {
		return key, "", err
	}

	s.logger.Info("archived media",
		"conversation_id", conversationID,
		"message_id", messageID,
		"key", key,
		"bytes", len(data),
	)
	return key, url, nil
}

// SignedURL returns a fresh GET URL for an archived object.
func (s *Store) SignedURL(ctx context.Context, key string) (string, error) {
	if s.presigner == nil {
		return "", fmt.Errorf("media: presigner not configured")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	return req.URL, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ObjectKey derives the deterministic archive key for a message attachment.
func ObjectKey(conversationID, messageID, mimeType string) string {
	return fmt.Sprintf("conversations/%s/media/%s%s",
		sanitizeKeyPart(conversationID), sanitizeKeyPart(messageID), extensionFor(mimeType))
}

func sanitizeKeyPart(value string) string {
	value = unsafeKeyChars.ReplaceAllString(value, "_")
	if value == "" {
		return "_"
	}
	return value
}

func extensionFor(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	switch strings.TrimSpace(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
