package sender

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

// logSender records outbound traffic without transmitting it. It stands in
// for the channel transport in development and in deployments where the
// transport runs as a separate consumer of the message-send queue.
type logSender struct {
	logger *zap.Logger
}

// NewLogSender creates a sender that only logs.
func NewLogSender(logger *zap.Logger) ChannelSender {
	return &logSender{logger: logger}
}

func (s *logSender) Send(_ context.Context, channel *domain.Channel, msg OutboundMessage) (Handle, error) {
	s.logger.Info("outbound message",
		zap.Int64("channelId", channel.ID),
		zap.Int64("companyId", channel.CompanyID),
		zap.String("number", msg.Number),
		zap.String("kind", string(msg.Kind)),
		zap.Int("bodyLen", len(msg.Body)),
		zap.String("mediaPath", msg.MediaPath))
	return Handle{ID: uuid.NewString()}, nil
}
