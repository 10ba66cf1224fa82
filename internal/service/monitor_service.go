package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/config"
	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/events"
	"github.com/spec-kit/chat-dispatch/internal/repository"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
	"github.com/spec-kit/chat-dispatch/internal/sender"
	"github.com/spec-kit/chat-dispatch/internal/template"
	apperrors "github.com/spec-kit/chat-dispatch/pkg/util"
)

// Monitor job types. The offline sweep runs alone on its queue; the
// queue-monitor queue multiplexes the remaining sweeps by job type.
const (
	JobSweepOffline = "sweep-offline-users"
	JobSweepPending = "sweep-stale-pending"
	JobSweepLanes   = "sweep-lanes"
	JobSweepExpired = "sweep-expired-tickets"
)

// MonitorServiceDeps wires the background sweeps.
type MonitorServiceDeps struct {
	Users       repository.UserRepository
	Channels    repository.ChannelRepository
	Tickets     repository.TicketRepository
	Tags        repository.TagRepository
	Contacts    repository.ContactRepository
	Logs        repository.TicketLogRepository
	Service     *TicketService
	Sender      sender.ChannelSender
	Broadcaster events.Broadcaster
	Config      config.DispatchConfig
	Logger      *zap.Logger

	LaneGuard      *scheduler.Guard
	AutoCloseGuard *scheduler.Guard
}

// MonitorService hosts the periodic sweeps: agent presence, stale pending
// tickets, kanban lanes and inactivity auto-close.
type MonitorService struct {
	deps MonitorServiceDeps
}

// NewMonitorService instantiates the service.
func NewMonitorService(deps MonitorServiceDeps) *MonitorService {
	return &MonitorService{deps: deps}
}

// SweepOfflineUsers flips agents offline once their heartbeat goes stale.
func (s *MonitorService) SweepOfflineUsers(ctx context.Context, _ *scheduler.Job) error {
	cutoff := time.Now().Add(-time.Duration(s.deps.Config.UserOfflineAfterMinutes) * time.Minute)
	swept, err := s.deps.Users.MarkOfflineIdleSince(ctx, cutoff)
	if err != nil {
		return apperrors.MapError(err)
	}
	if swept > 0 {
		s.deps.Logger.Info("idle agents marked offline", zap.Int64("count", swept))
	}
	return nil
}

// SweepStalePending redirects queueless pending tickets to the channel's
// fallback queue once they wait past the channel's threshold.
func (s *MonitorService) SweepStalePending(ctx context.Context, _ *scheduler.Job) error {
	channels, err := s.deps.Channels.ListWithPendingTimeout(ctx)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, channel := range channels {
		cutoff := time.Now().Add(-time.Duration(channel.TimeSendQueue) * time.Minute)
		tickets, err := s.deps.Tickets.ListPendingWithoutQueue(ctx, channel.ID, cutoff)
		if err != nil {
			s.deps.Logger.Error("stale pending scan failed",
				zap.Int64("channelId", channel.ID),
				zap.Int64("companyId", channel.CompanyID),
				zap.Error(err))
			continue
		}
		for i := range tickets {
			ticket := &tickets[i]
			ticket.QueueID = channel.MoveQueueID
			if err := s.deps.Tickets.Update(ctx, ticket); err != nil {
				s.deps.Logger.Error("stale pending redirect failed",
					zap.Int64("ticketId", ticket.ID),
					zap.Int64("companyId", ticket.CompanyID),
					zap.Error(err))
				continue
			}
			if err := s.deps.Logs.Create(ctx, &domain.TicketLog{
				TicketID:  ticket.ID,
				CompanyID: ticket.CompanyID,
				QueueID:   channel.MoveQueueID,
				Type:      domain.LogTypeRedirect,
			}); err != nil {
				s.deps.Logger.Warn("redirect log write failed",
					zap.Int64("ticketId", ticket.ID),
					zap.Error(err))
			}
			_ = s.deps.Broadcaster.Publish(ctx, ticket.CompanyID, events.EventTicket, map[string]any{
				"action": events.ActionUpdate,
				"ticket": ticket,
			})
		}
	}
	return nil
}

// SweepLanes moves lane-expired tickets to the next lane, announcing the
// move when the destination lane carries a greeting. Single-flight.
func (s *MonitorService) SweepLanes(ctx context.Context, _ *scheduler.Job) error {
	if !s.deps.LaneGuard.TryAcquire() {
		return nil
	}
	defer s.deps.LaneGuard.Release()

	lanes, err := s.deps.Tags.ListLanes(ctx)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, lane := range lanes {
		cutoff := time.Now().Add(-time.Duration(lane.TimeLane) * time.Hour)
		tickets, err := s.deps.Tags.ListLaneTickets(ctx, lane.ID, cutoff)
		if err != nil {
			s.deps.Logger.Error("lane scan failed",
				zap.Int64("tagId", lane.ID),
				zap.Int64("companyId", lane.CompanyID),
				zap.Error(err))
			continue
		}
		if len(tickets) == 0 {
			continue
		}
		next, err := s.deps.Tags.GetByID(ctx, lane.CompanyID, *lane.NextLaneID)
		if err != nil {
			s.deps.Logger.Error("next lane load failed",
				zap.Int64("tagId", lane.ID),
				zap.Int64("companyId", lane.CompanyID),
				zap.Error(err))
			continue
		}
		for i := range tickets {
			ticket := &tickets[i]
			if err := s.deps.Tags.MoveTicket(ctx, ticket.ID, lane.ID, next.ID); err != nil {
				s.deps.Logger.Error("lane move failed",
					zap.Int64("ticketId", ticket.ID),
					zap.Int64("tagId", lane.ID),
					zap.Error(err))
				continue
			}
			if next.GreetingMessageLane != "" {
				s.greetLane(ctx, ticket, next.GreetingMessageLane)
			}
		}
	}
	return nil
}

func (s *MonitorService) greetLane(ctx context.Context, ticket *domain.Ticket, greeting string) {
	contact, err := s.deps.Contacts.GetByID(ctx, ticket.CompanyID, ticket.ContactID)
	if err != nil {
		return
	}
	channel, err := s.deps.Channels.GetByID(ctx, ticket.CompanyID, ticket.ChannelID)
	if err != nil || channel.Status != domain.ChannelStatusConnected {
		return
	}
	body := template.Render(greeting, template.TicketContext(ticket, contact))
	_, err = s.deps.Sender.Send(ctx, channel, sender.OutboundMessage{
		Number:  contact.Number,
		IsGroup: contact.IsGroup,
		Kind:    sender.KindText,
		Body:    body,
	})
	if err != nil {
		s.deps.Logger.Warn("lane greeting send failed",
			zap.Int64("ticketId", ticket.ID),
			zap.Int64("companyId", ticket.CompanyID),
			zap.Error(err))
	}
}

// SweepExpiredTickets closes conversations idle past the channel's expiry,
// sending the inactivity notice instead of farewell or rating.
// Single-flight.
func (s *MonitorService) SweepExpiredTickets(ctx context.Context, _ *scheduler.Job) error {
	if !s.deps.AutoCloseGuard.TryAcquire() {
		return nil
	}
	defer s.deps.AutoCloseGuard.Release()

	channels, err := s.deps.Channels.ListWithExpiry(ctx)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, channel := range channels {
		cutoff := time.Now().Add(-time.Duration(channel.ExpiresTicket) * time.Minute)
		tickets, err := s.deps.Tickets.ListActiveIdleSince(ctx, channel.ID, cutoff)
		if err != nil {
			s.deps.Logger.Error("expiry scan failed",
				zap.Int64("channelId", channel.ID),
				zap.Int64("companyId", channel.CompanyID),
				zap.Error(err))
			continue
		}
		for i := range tickets {
			ticket := &tickets[i]
			if channel.ExpiresMessage != "" && channel.Status == domain.ChannelStatusConnected {
				s.notifyExpiry(ctx, ticket, &channel)
			}
			closed := domain.TicketStatusClosed
			if _, err := s.deps.Service.Update(ctx, ticket.CompanyID, ticket.ID, TicketUpdate{
				Status:       &closed,
				SkipFarewell: true,
			}); err != nil {
				s.deps.Logger.Error("expiry close failed",
					zap.Int64("ticketId", ticket.ID),
					zap.Int64("companyId", ticket.CompanyID),
					zap.Error(err))
			}
		}
	}
	return nil
}

func (s *MonitorService) notifyExpiry(ctx context.Context, ticket *domain.Ticket, channel *domain.Channel) {
	contact, err := s.deps.Contacts.GetByID(ctx, ticket.CompanyID, ticket.ContactID)
	if err != nil {
		return
	}
	body := template.Render(channel.ExpiresMessage, template.TicketContext(ticket, contact))
	_, err = s.deps.Sender.Send(ctx, channel, sender.OutboundMessage{
		Number:  contact.Number,
		IsGroup: contact.IsGroup,
		Kind:    sender.KindText,
		Body:    body,
	})
	if err != nil {
		s.deps.Logger.Warn("expiry notice send failed",
			zap.Int64("ticketId", ticket.ID),
			zap.Int64("companyId", ticket.CompanyID),
			zap.Error(err))
	}
}
