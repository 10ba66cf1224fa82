// Package sender defines the outbound-message contract with the chat
// channel transport. The transport itself (handshake, socket reconnect)
// lives outside this module.
package sender

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/spec-kit/chat-dispatch/internal/domain"
	apperrors "github.com/spec-kit/chat-dispatch/pkg/util"
)

// MessageKind classifies the outbound payload.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
)

// OutboundMessage is one payload handed to the channel transport.
type OutboundMessage struct {
	Number    string
	IsGroup   bool
	Kind      MessageKind
	Body      string
	MediaPath string
	MediaName string
	MimeType  string
}

// Handle is the channel-native identifier of a transmitted message.
type Handle struct {
	ID string
}

// ChannelSender transmits one message over a channel connection. It may
// fail transiently; callers surface that as a job failure.
type ChannelSender interface {
	Send(ctx context.Context, channel *domain.Channel, msg OutboundMessage) (Handle, error)
}

// MimeForFile guesses a mime type from the attachment's extension. The
// table covers the media the channel transports accept; anything else
// ships as a generic document.
func MimeForFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".3gp":
		return "video/3gpp"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// KindForMedia derives the payload kind from a media mime type.
func KindForMedia(mimeType string) MessageKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// IsAudio reports whether the mime type is an audio payload, which gets a
// short text preface before the media itself.
func IsAudio(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/")
}

// WithTimeout decorates a sender with a bounded per-send timeout so a
// stalled transport surfaces as a job failure instead of a hang.
func WithTimeout(inner ChannelSender, timeout time.Duration) ChannelSender {
	return &timeoutSender{inner: inner, timeout: timeout}
}

type timeoutSender struct {
	inner   ChannelSender
	timeout time.Duration
}

func (s *timeoutSender) Send(ctx context.Context, channel *domain.Channel, msg OutboundMessage) (Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	handle, err := s.inner.Send(ctx, channel, msg)
	if err != nil {
		if ctx.Err() != nil {
			return Handle{}, apperrors.NewTransient("channel send timed out", err)
		}
		return Handle{}, err
	}
	return handle, nil
}
