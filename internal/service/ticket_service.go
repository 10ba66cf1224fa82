package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/events"
	"github.com/spec-kit/chat-dispatch/internal/repository"
	"github.com/spec-kit/chat-dispatch/internal/sender"
	"github.com/spec-kit/chat-dispatch/internal/template"
	apperrors "github.com/spec-kit/chat-dispatch/pkg/util"
)

// OptionalID distinguishes "leave unchanged" (Set=false) from "assign"
// and "clear" (Set=true with nil Value).
type OptionalID struct {
	Set   bool
	Value *int64
}

// AssignID builds an OptionalID carrying a value.
func AssignID(id int64) OptionalID {
	return OptionalID{Set: true, Value: &id}
}

// ClearID builds an OptionalID that nulls the field.
func ClearID() OptionalID {
	return OptionalID{Set: true}
}

// TicketUpdate describes one mutation request against a ticket. Unset
// fields keep the persisted value.
type TicketUpdate struct {
	Status              *domain.TicketStatus
	QueueID             OptionalID
	UserID              OptionalID
	IsBot               *bool
	LastMessage         *string
	UnreadMessages      *int
	AmountUsedBotQueues *int
	UseIntegration      *bool
	IntegrationID       OptionalID

	// SkipFarewell suppresses the rating and farewell sends on close.
	SkipFarewell bool
	// Transfer marks the update as an agent/queue transfer, which engages
	// close-on-transfer and the transfer audit trail.
	Transfer bool
	// TransferNote is a private annotation attached to the receiving
	// ticket's broadcast.
	TransferNote string
}

// TicketServiceDeps wires the state machine's collaborators.
type TicketServiceDeps struct {
	Tickets     repository.TicketRepository
	Trackings   repository.TicketTrackingRepository
	Logs        repository.TicketLogRepository
	Contacts    repository.ContactRepository
	Channels    repository.ChannelRepository
	Queues      repository.QueueRepository
	Users       repository.UserRepository
	Settings    repository.SettingsRepository
	Sender      sender.ChannelSender
	Broadcaster events.Broadcaster
	Logger      *zap.Logger
}

// TicketService owns every ticket lifecycle transition. All status
// changes, tracking milestones, audit logs and broadcasts flow through
// Update so the rest of the system never mutates tickets directly.
type TicketService struct {
	deps TicketServiceDeps
}

// NewTicketService instantiates the service.
func NewTicketService(deps TicketServiceDeps) *TicketService {
	return &TicketService{deps: deps}
}

// Update applies a mutation to a ticket and returns the resulting ticket,
// which may be a different ticket than the one addressed: reopening next
// to an existing active conversation redirects to it, and
// close-on-transfer returns the replacement ticket.
func (s *TicketService) Update(ctx context.Context, companyID, ticketID int64, update TicketUpdate) (*domain.Ticket, error) {
	settings, err := s.deps.Settings.GetCompanySettings(ctx, companyID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ticket, err := s.deps.Tickets.GetByID(ctx, companyID, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	oldStatus := ticket.Status
	oldUserID := ticket.UserID
	oldQueueID := ticket.QueueID

	// Reopening a closed ticket while the contact already has an active
	// conversation on the channel redirects to it, preserving the single
	// active ticket invariant.
	if oldStatus == domain.TicketStatusClosed {
		other, err := s.deps.Tickets.FindActiveByContact(ctx, companyID, ticket.ContactID, ticket.ChannelID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		if other != nil && other.ID != ticket.ID {
			return other, nil
		}
		falseVal := false
		update.IsBot = &falseVal
	}

	tracking, err := s.deps.Trackings.FindOrCreate(ctx, ticket.ID, companyID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	channel, err := s.deps.Channels.GetByID(ctx, companyID, ticket.ChannelID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if update.Status != nil && *update.Status == domain.TicketStatusClosed {
		return s.close(ctx, ticket, tracking, channel, settings, update, oldStatus)
	}

	var queue *domain.Queue
	if update.QueueID.Set && update.QueueID.Value != nil {
		queue, err = s.deps.Queues.GetByID(ctx, companyID, *update.QueueID.Value)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		now := time.Now()
		tracking.QueuedAt = &now
	}

	if update.Transfer {
		result, err := s.transfer(ctx, ticket, tracking, channel, settings, queue, update, oldStatus, oldUserID, oldQueueID)
		if err != nil || result != nil {
			return result, err
		}
		// Transfer without close-on-transfer falls through to the common
		// update below.
	}

	// A queue configured to close on entry overrides the requested status.
	if queue != nil && queue.CloseTicket {
		closed := domain.TicketStatusClosed
		update.Status = &closed
	}

	s.applyUpdate(ticket, update)
	if ticket.Status == domain.TicketStatusClosed {
		ticket.AmountUsedBotQueues = 0
	}
	if err := s.deps.Tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	if update.QueueID.Set {
		tracking.QueueID = update.QueueID.Value
	}

	switch ticket.Status {
	case domain.TicketStatusPending:
		s.appendLog(ctx, &domain.TicketLog{
			TicketID:  ticket.ID,
			CompanyID: companyID,
			UserID:    oldUserID,
			Type:      domain.LogTypePending,
		})
		tracking.StartedAt = nil
		tracking.UserID = nil
	case domain.TicketStatusOpen:
		now := time.Now()
		tracking.StartedAt = &now
		tracking.RatingAt = nil
		tracking.Rated = false
		tracking.UserID = ticket.UserID
		tracking.QueueID = ticket.QueueID
		logType := domain.LogTypeReopen
		if oldStatus == domain.TicketStatusPending {
			logType = domain.LogTypeOpen
		}
		s.appendLog(ctx, &domain.TicketLog{
			TicketID:  ticket.ID,
			CompanyID: companyID,
			UserID:    ticket.UserID,
			QueueID:   ticket.QueueID,
			Type:      logType,
		})
	}
	if err := s.deps.Trackings.Update(ctx, tracking); err != nil {
		return nil, apperrors.MapError(err)
	}

	if ticket.Status != oldStatus || !idEqual(ticket.UserID, oldUserID) || !idEqual(ticket.QueueID, oldQueueID) {
		s.broadcastDelete(ctx, ticket)
	}
	s.broadcastUpdate(ctx, ticket, "")
	return ticket, nil
}

// close runs the terminal branch: satisfaction rating when configured and
// not yet collected, otherwise farewell and full closure.
func (s *TicketService) close(ctx context.Context, ticket *domain.Ticket, tracking *domain.TicketTracking, channel *domain.Channel, settings domain.CompanySettings, update TicketUpdate, oldStatus domain.TicketStatus) (*domain.Ticket, error) {
	companyID := ticket.CompanyID
	contact, err := s.deps.Contacts.GetByID(ctx, companyID, ticket.ContactID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	ratingEligible := settings.UserRating &&
		!update.SkipFarewell &&
		channel.RatingMessage != "" &&
		!ticket.IsGroup &&
		tracking.RatingAt == nil

	if ratingEligible {
		if channel.Status == domain.ChannelStatusConnected {
			s.send(ctx, channel, contact, channel.RatingMessage)
		}
		now := time.Now()
		tracking.UserID = ticket.UserID
		tracking.ClosedAt = &now
		if err := s.deps.Trackings.Update(ctx, tracking); err != nil {
			return nil, apperrors.MapError(err)
		}
		s.appendLog(ctx, &domain.TicketLog{
			TicketID:  ticket.ID,
			CompanyID: companyID,
			UserID:    ticket.UserID,
			QueueID:   ticket.QueueID,
			Type:      domain.LogTypeNPS,
		})
		ticket.Status = domain.TicketStatusNPS
		if update.IsBot != nil {
			ticket.IsBot = *update.IsBot
		}
		if err := s.deps.Tickets.Update(ctx, ticket); err != nil {
			return nil, apperrors.MapError(err)
		}
		s.broadcastDelete(ctx, ticket)
		return ticket, nil
	}

	if !update.SkipFarewell {
		body := s.farewellBody(ctx, ticket, channel)
		farewellAllowed := oldStatus != domain.TicketStatusPending || settings.SendFarewellWaitingTicket
		groupAllowed := !ticket.IsGroup || channel.GroupAsTicket
		if body != "" && farewellAllowed && groupAllowed && channel.Status == domain.ChannelStatusConnected {
			s.send(ctx, channel, contact, body)
		}
	}

	now := time.Now()
	tracking.ClosedAt = &now
	tracking.FinishedAt = &now
	tracking.UserID = ticket.UserID
	s.appendLog(ctx, &domain.TicketLog{
		TicketID:  ticket.ID,
		CompanyID: companyID,
		UserID:    update.UserID.Value,
		QueueID:   ticket.QueueID,
		Type:      domain.LogTypeClosed,
	})
	if err := s.deps.Trackings.Update(ctx, tracking); err != nil {
		return nil, apperrors.MapError(err)
	}

	ticket.Status = domain.TicketStatusClosed
	if update.IsBot != nil {
		ticket.IsBot = *update.IsBot
	}
	ticket.AmountUsedBotQueues = 0
	ticket.LastFlowID = nil
	ticket.DataWebhook = nil
	ticket.HashFlowID = nil
	if err := s.deps.Tickets.Update(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.broadcastDelete(ctx, ticket)
	return ticket, nil
}

// farewellBody picks the assigned agent's farewell over the connection's.
func (s *TicketService) farewellBody(ctx context.Context, ticket *domain.Ticket, channel *domain.Channel) string {
	if ticket.UserID != nil {
		user, err := s.deps.Users.GetByID(ctx, ticket.CompanyID, *ticket.UserID)
		if err == nil && user.FarewellMessage != "" {
			return user.FarewellMessage
		}
	}
	return channel.FarewellMessage
}

// transfer handles the close-on-transfer path. A nil ticket return with a
// nil error means the plain-transfer path should continue in Update.
func (s *TicketService) transfer(ctx context.Context, ticket *domain.Ticket, tracking *domain.TicketTracking, channel *domain.Channel, settings domain.CompanySettings, queue *domain.Queue, update TicketUpdate, oldStatus domain.TicketStatus, oldUserID, oldQueueID *int64) (*domain.Ticket, error) {
	companyID := ticket.CompanyID
	newQueueID := oldQueueID
	if update.QueueID.Set {
		newQueueID = update.QueueID.Value
	}
	newUserID := oldUserID
	if update.UserID.Set {
		newUserID = update.UserID.Value
	}

	s.notifyQueueChange(ctx, ticket, channel, settings, queue, oldUserID, oldQueueID, newUserID, newQueueID)

	if !settings.CloseTicketOnTransfer {
		s.transferLogs(ctx, companyID, ticket.ID, ticket.ID, oldUserID, oldQueueID, newUserID, newQueueID)
		return nil, nil
	}

	target := ticket
	if !idEqual(oldQueueID, newQueueID) {
		ticket.Status = domain.TicketStatusClosed
		if err := s.deps.Tickets.Update(ctx, ticket); err != nil {
			return nil, apperrors.MapError(err)
		}
		s.broadcastDelete(ctx, ticket)

		created, _, err := s.deps.Tickets.FindOrCreate(ctx, &domain.Ticket{
			CompanyID:      companyID,
			ContactID:      ticket.ContactID,
			ChannelID:      ticket.ChannelID,
			QueueID:        newQueueID,
			UserID:         newUserID,
			Status:         domain.TicketStatusPending,
			IsGroup:        ticket.IsGroup,
			UnreadMessages: 1,
			LastMessage:    ticket.LastMessage,
		})
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		target = created
		if _, err := s.deps.Trackings.FindOrCreate(ctx, target.ID, companyID); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	target.QueueID = newQueueID
	target.UserID = newUserID
	if update.Status != nil {
		target.Status = *update.Status
	}
	if err := s.deps.Tickets.Update(ctx, target); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.transferLogs(ctx, companyID, ticket.ID, target.ID, oldUserID, oldQueueID, newUserID, newQueueID)

	if target.Status != oldStatus || !idEqual(target.UserID, oldUserID) {
		tracking.UserID = target.UserID
		if err := s.deps.Trackings.Update(ctx, tracking); err != nil {
			return nil, apperrors.MapError(err)
		}
		s.broadcastDelete(ctx, target)
	}
	s.broadcastUpdate(ctx, target, update.TransferNote)
	return target, nil
}

// notifyQueueChange tells the contact their conversation moved queues,
// when the tenant enabled that.
func (s *TicketService) notifyQueueChange(ctx context.Context, ticket *domain.Ticket, channel *domain.Channel, settings domain.CompanySettings, queue *domain.Queue, oldUserID, oldQueueID, newUserID, newQueueID *int64) {
	if !settings.SendTransferMessage || queue == nil {
		return
	}
	changed := !idEqual(oldQueueID, newQueueID) || !idEqual(oldUserID, newUserID)
	if !changed || oldQueueID == nil || newQueueID == nil {
		return
	}
	if channel.Status != domain.ChannelStatusConnected {
		return
	}
	contact, err := s.deps.Contacts.GetByID(ctx, ticket.CompanyID, ticket.ContactID)
	if err != nil {
		return
	}
	body := strings.ReplaceAll(settings.TransferMessage, "${queue.name}", queue.Name)
	body = template.Render(body, template.TicketContext(ticket, contact))
	s.send(ctx, channel, contact, body)
}

// transferLogs writes the audit combinations for a transfer: the losing
// side always gets "transfered" under the previous agent/queue; the
// receiving ticket gets "receivedTransfer" only when an agent received it.
func (s *TicketService) transferLogs(ctx context.Context, companyID, oldTicketID, newTicketID int64, oldUserID, oldQueueID, newUserID, newQueueID *int64) {
	userChanged := !idEqual(oldUserID, newUserID)
	queueChanged := !idEqual(oldQueueID, newQueueID)

	switch {
	case userChanged && !queueChanged && oldUserID != nil && newUserID != nil:
		s.appendLog(ctx, &domain.TicketLog{
			TicketID: oldTicketID, CompanyID: companyID,
			UserID: oldUserID, QueueID: oldQueueID, Type: domain.LogTypeTransfered,
		})
		s.appendLog(ctx, &domain.TicketLog{
			TicketID: newTicketID, CompanyID: companyID,
			UserID: newUserID, QueueID: oldQueueID, Type: domain.LogTypeReceivedTransfer,
		})
	case userChanged && queueChanged && oldUserID != nil && newUserID != nil:
		s.appendLog(ctx, &domain.TicketLog{
			TicketID: oldTicketID, CompanyID: companyID,
			UserID: oldUserID, QueueID: oldQueueID, Type: domain.LogTypeTransfered,
		})
		s.appendLog(ctx, &domain.TicketLog{
			TicketID: newTicketID, CompanyID: companyID,
			UserID: newUserID, QueueID: newQueueID, Type: domain.LogTypeReceivedTransfer,
		})
	case oldUserID != nil && newUserID == nil && queueChanged && newQueueID != nil:
		s.appendLog(ctx, &domain.TicketLog{
			TicketID: oldTicketID, CompanyID: companyID,
			UserID: oldUserID, QueueID: oldQueueID, Type: domain.LogTypeTransfered,
		})
	}
}

func (s *TicketService) applyUpdate(ticket *domain.Ticket, update TicketUpdate) {
	if update.Status != nil {
		ticket.Status = *update.Status
	}
	if update.QueueID.Set {
		ticket.QueueID = update.QueueID.Value
	}
	if update.UserID.Set {
		ticket.UserID = update.UserID.Value
	}
	if update.IsBot != nil {
		ticket.IsBot = *update.IsBot
	}
	if update.LastMessage != nil {
		ticket.LastMessage = *update.LastMessage
	}
	if update.UnreadMessages != nil {
		ticket.UnreadMessages = *update.UnreadMessages
	}
	if update.AmountUsedBotQueues != nil {
		ticket.AmountUsedBotQueues = *update.AmountUsedBotQueues
	}
	if update.IntegrationID.Set {
		ticket.IntegrationID = update.IntegrationID.Value
	}
	if update.UseIntegration != nil {
		ticket.UseIntegration = *update.UseIntegration
		ticket.TypebotStatus = *update.UseIntegration
		if !*update.UseIntegration {
			ticket.TypebotSessionID = nil
		}
	}
}

// FindOrCreateInput shapes a ticket lookup-or-create request.
type FindOrCreateInput struct {
	CompanyID      int64
	ContactID      int64
	ChannelID      int64
	QueueID        *int64
	UserID         *int64
	Status         domain.TicketStatus
	IsGroup        bool
	IsBot          bool
	UnreadMessages int
	LastMessage    string
}

// FindOrCreate returns the contact's active ticket on the channel,
// creating (and audit-logging) one when none exists.
func (s *TicketService) FindOrCreate(ctx context.Context, input FindOrCreateInput) (*domain.Ticket, error) {
	status := input.Status
	if status == "" {
		status = domain.TicketStatusPending
	}
	if input.IsGroup {
		status = domain.TicketStatusGroup
	}
	ticket, created, err := s.deps.Tickets.FindOrCreate(ctx, &domain.Ticket{
		CompanyID:      input.CompanyID,
		ContactID:      input.ContactID,
		ChannelID:      input.ChannelID,
		QueueID:        input.QueueID,
		UserID:         input.UserID,
		Status:         status,
		IsGroup:        input.IsGroup,
		IsBot:          input.IsBot,
		UnreadMessages: input.UnreadMessages,
		LastMessage:    input.LastMessage,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if created {
		s.appendLog(ctx, &domain.TicketLog{
			TicketID:  ticket.ID,
			CompanyID: input.CompanyID,
			UserID:    input.UserID,
			QueueID:   input.QueueID,
			Type:      domain.LogTypeCreate,
		})
		if _, err := s.deps.Trackings.FindOrCreate(ctx, ticket.ID, input.CompanyID); err != nil {
			return nil, apperrors.MapError(err)
		}
		s.broadcastUpdate(ctx, ticket, "")
	}
	return ticket, nil
}

func (s *TicketService) send(ctx context.Context, channel *domain.Channel, contact *domain.Contact, body string) {
	_, err := s.deps.Sender.Send(ctx, channel, sender.OutboundMessage{
		Number:  contact.Number,
		IsGroup: contact.IsGroup,
		Kind:    sender.KindText,
		Body:    body,
	})
	if err != nil {
		s.deps.Logger.Warn("ticket message send failed",
			zap.Int64("companyId", channel.CompanyID),
			zap.Int64("contactId", contact.ID),
			zap.Error(err))
	}
}

func (s *TicketService) appendLog(ctx context.Context, log *domain.TicketLog) {
	if err := s.deps.Logs.Create(ctx, log); err != nil {
		s.deps.Logger.Warn("ticket log write failed",
			zap.Int64("ticketId", log.TicketID),
			zap.Int64("companyId", log.CompanyID),
			zap.String("type", string(log.Type)),
			zap.Error(err))
	}
}

func (s *TicketService) broadcastDelete(ctx context.Context, ticket *domain.Ticket) {
	_ = s.deps.Broadcaster.Publish(ctx, ticket.CompanyID, events.EventTicket, map[string]any{
		"action":   events.ActionDelete,
		"ticketId": ticket.ID,
	})
}

func (s *TicketService) broadcastUpdate(ctx context.Context, ticket *domain.Ticket, note string) {
	payload := map[string]any{
		"action": events.ActionUpdate,
		"ticket": ticket,
	}
	if note != "" {
		payload["note"] = note
	}
	_ = s.deps.Broadcaster.Publish(ctx, ticket.CompanyID, events.EventTicket, payload)
}

func idEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
