package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/config"
	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/repository"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
	"github.com/spec-kit/chat-dispatch/internal/sender"
	"github.com/spec-kit/chat-dispatch/internal/template"
	apperrors "github.com/spec-kit/chat-dispatch/pkg/util"
)

// Dialog exit commands understood anywhere in a menu tree.
const (
	commandExit = "sair"
	commandHome = "#"
)

// JobChatbotClose is the delayed self-close scheduled by closing leaves.
const JobChatbotClose = "chatbot-close"

// ClosePayload addresses the ticket a closing leaf asked to finish.
type ClosePayload struct {
	CompanyID int64 `json:"companyId"`
	TicketID  int64 `json:"ticketId"`
}

// IncomingMessage is one contact utterance. Selection carries the option
// id from a button or list reply; free text arrives in Body.
type IncomingMessage struct {
	Body      string
	Selection string
}

// ChatbotServiceDeps wires the dialog engine.
type ChatbotServiceDeps struct {
	Chatbots  repository.ChatbotRepository
	Tickets   repository.TicketRepository
	Trackings repository.TicketTrackingRepository
	Logs      repository.TicketLogRepository
	Contacts  repository.ContactRepository
	Channels  repository.ChannelRepository
	Queues    repository.QueueRepository
	Service   *TicketService
	Sender    sender.ChannelSender
	Scheduler *scheduler.Scheduler
	Config    config.DispatchConfig
	Logger    *zap.Logger
}

// ChatbotService walks contacts through queue menu trees, persisting their
// position between messages.
type ChatbotService struct {
	deps ChatbotServiceDeps
}

// NewChatbotService instantiates the service.
func NewChatbotService(deps ChatbotServiceDeps) *ChatbotService {
	return &ChatbotService{deps: deps}
}

// HandleMessage advances a contact's dialog by one utterance.
func (s *ChatbotService) HandleMessage(ctx context.Context, companyID, ticketID int64, msg IncomingMessage) error {
	ticket, err := s.deps.Tickets.GetByID(ctx, companyID, ticketID)
	if err != nil {
		return apperrors.MapError(err)
	}
	contact, err := s.deps.Contacts.GetByID(ctx, companyID, ticket.ContactID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if contact.DisableBot {
		return nil
	}
	channel, err := s.deps.Channels.GetByID(ctx, companyID, ticket.ChannelID)
	if err != nil {
		return apperrors.MapError(err)
	}

	text := strings.TrimSpace(msg.Selection)
	if text == "" {
		text = strings.TrimSpace(msg.Body)
	}

	switch strings.ToLower(text) {
	case commandExit:
		return s.exit(ctx, ticket)
	case commandHome:
		return s.home(ctx, ticket, contact, channel)
	}

	stage, err := s.deps.Chatbots.FindStage(ctx, companyID, contact.ID)
	if err != nil {
		return apperrors.MapError(err)
	}

	var options []domain.ChatbotNode
	var queueID int64
	if stage == nil {
		if ticket.QueueID == nil {
			return nil
		}
		queueID = *ticket.QueueID
		options, err = s.deps.Chatbots.ListRootOptions(ctx, companyID, queueID)
	} else {
		queueID = stage.QueueID
		var current *domain.ChatbotNode
		current, err = s.deps.Chatbots.GetNode(ctx, companyID, stage.ChatbotID)
		if err == nil {
			options = current.Options
		}
	}
	if err != nil {
		return apperrors.MapError(err)
	}
	if len(options) == 0 {
		// Dead end: nothing to offer, the dialog is over.
		return apperrors.MapError(s.deps.Chatbots.DeleteStage(ctx, companyID, contact.ID))
	}

	chosen := options[resolveChoice(text, len(options))]
	s.markChatbot(ctx, ticket)

	if len(chosen.Options) > 0 {
		if err := s.deps.Chatbots.UpsertStage(ctx, &domain.DialogStage{
			CompanyID: companyID,
			ContactID: contact.ID,
			ChatbotID: chosen.ID,
			QueueID:   queueID,
			Awaiting:  1,
		}); err != nil {
			return apperrors.MapError(err)
		}
		s.sendMenu(ctx, channel, ticket, contact, chosen.GreetingMessage, chosen.Options)
		return nil
	}

	// Deep in the tree, a leaf with nothing to say is a dead end: the
	// dialog stops here without acting on the node.
	if stage != nil && chosen.GreetingMessage == "" {
		return apperrors.MapError(s.deps.Chatbots.DeleteStage(ctx, companyID, contact.ID))
	}

	return s.resolveLeaf(ctx, ticket, contact, channel, &chosen)
}

// resolveChoice maps the contact's reply to an option index. Non-numeric
// or out-of-range input selects the first option.
func resolveChoice(text string, optionCount int) int {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > optionCount {
		return 0
	}
	return n - 1
}

// resolveLeaf performs a terminal node's action and removes the stage.
func (s *ChatbotService) resolveLeaf(ctx context.Context, ticket *domain.Ticket, contact *domain.Contact, channel *domain.Channel, leaf *domain.ChatbotNode) error {
	companyID := ticket.CompanyID
	integrationLive := ticket.UseIntegration

	switch leaf.Kind {
	case domain.NodeKindQueue:
		if leaf.TargetQueueID != nil {
			if _, err := s.deps.Service.Update(ctx, companyID, ticket.ID, TicketUpdate{
				QueueID: AssignID(*leaf.TargetQueueID),
			}); err != nil {
				return err
			}
		}
	case domain.NodeKindAttendant:
		update := TicketUpdate{QueueID: AssignID(leaf.QueueID)}
		if leaf.TargetUserID != nil {
			update.UserID = AssignID(*leaf.TargetUserID)
		}
		if _, err := s.deps.Service.Update(ctx, companyID, ticket.ID, update); err != nil {
			return err
		}
	case domain.NodeKindIntegration:
		if leaf.IntegrationID != nil {
			useIntegration := true
			if _, err := s.deps.Service.Update(ctx, companyID, ticket.ID, TicketUpdate{
				UseIntegration: &useIntegration,
				IntegrationID:  AssignID(*leaf.IntegrationID),
			}); err != nil {
				return err
			}
		}
	case domain.NodeKindFile:
		if leaf.FileListID != nil {
			s.sendFiles(ctx, channel, contact, *leaf.FileListID)
		}
	}

	// The greeting confirms the action that just happened. A session that
	// was already live with an integration owns the conversation, so the
	// greeting would only interleave with it.
	if leaf.GreetingMessage != "" && !integrationLive {
		body := template.Render(leaf.GreetingMessage, template.TicketContext(ticket, contact))
		s.sendText(ctx, channel, contact, body)
	}

	if leaf.CloseTicket {
		// The close happens after a short grace so the leaf's message
		// lands first; no farewell follows a bot-driven close.
		delay := time.Duration(s.deps.Config.ChatbotCloseDelayMS) * time.Millisecond
		if _, err := s.deps.Scheduler.Enqueue(ctx, scheduler.QueueMessageSend, JobChatbotClose,
			ClosePayload{CompanyID: companyID, TicketID: ticket.ID},
			&scheduler.Options{Delay: delay}); err != nil {
			return apperrors.MapError(err)
		}
	}

	return apperrors.MapError(s.deps.Chatbots.DeleteStage(ctx, companyID, contact.ID))
}

// HandleClose is the job handler for the delayed bot-driven close.
func (s *ChatbotService) HandleClose(ctx context.Context, job *scheduler.Job) error {
	var payload ClosePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode close payload: %w", err)
	}
	closed := domain.TicketStatusClosed
	_, err := s.deps.Service.Update(ctx, payload.CompanyID, payload.TicketID, TicketUpdate{
		Status:       &closed,
		SkipFarewell: true,
	})
	return err
}

// exit ends the dialog on the contact's request, with the normal farewell.
func (s *ChatbotService) exit(ctx context.Context, ticket *domain.Ticket) error {
	if err := s.deps.Chatbots.DeleteStage(ctx, ticket.CompanyID, ticket.ContactID); err != nil {
		return apperrors.MapError(err)
	}
	closed := domain.TicketStatusClosed
	isBot := false
	_, err := s.deps.Service.Update(ctx, ticket.CompanyID, ticket.ID, TicketUpdate{
		Status: &closed,
		IsBot:  &isBot,
	})
	return err
}

// home resets the contact to the connection's root menu.
func (s *ChatbotService) home(ctx context.Context, ticket *domain.Ticket, contact *domain.Contact, channel *domain.Channel) error {
	companyID := ticket.CompanyID
	if err := s.deps.Chatbots.DeleteStage(ctx, companyID, contact.ID); err != nil {
		return apperrors.MapError(err)
	}
	pending := domain.TicketStatusPending
	isBot := true
	if _, err := s.deps.Service.Update(ctx, companyID, ticket.ID, TicketUpdate{
		Status:  &pending,
		QueueID: ClearID(),
		UserID:  ClearID(),
		IsBot:   &isBot,
	}); err != nil {
		return err
	}

	queues, err := s.deps.Queues.ListByCompany(ctx, companyID)
	if err != nil {
		return apperrors.MapError(err)
	}
	var b strings.Builder
	if channel.GreetingMessage != "" {
		b.WriteString(template.Render(channel.GreetingMessage, template.TicketContext(ticket, contact)))
		b.WriteString("\n")
	}
	for i, queue := range queues {
		fmt.Fprintf(&b, "[ %d ] %s\n", i+1, queue.Name)
	}
	s.sendText(ctx, channel, contact, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (s *ChatbotService) sendMenu(ctx context.Context, channel *domain.Channel, ticket *domain.Ticket, contact *domain.Contact, greeting string, options []domain.ChatbotNode) {
	var b strings.Builder
	if greeting != "" {
		b.WriteString(template.Render(greeting, template.TicketContext(ticket, contact)))
		b.WriteString("\n")
	}
	for i, option := range options {
		fmt.Fprintf(&b, "[ %d ] %s\n", i+1, option.Name)
	}
	fmt.Fprintf(&b, "\n[ %s ] Menu inicial", commandHome)
	s.sendText(ctx, channel, contact, b.String())
}

func (s *ChatbotService) sendFiles(ctx context.Context, channel *domain.Channel, contact *domain.Contact, fileListID int64) {
	items, err := s.deps.Chatbots.ListFileItems(ctx, fileListID)
	if err != nil {
		s.deps.Logger.Warn("file list load failed",
			zap.Int64("fileListId", fileListID),
			zap.Error(err))
		return
	}
	for _, item := range items {
		_, err := s.deps.Sender.Send(ctx, channel, sender.OutboundMessage{
			Number:    contact.Number,
			IsGroup:   contact.IsGroup,
			Kind:      sender.KindForMedia(item.MediaType),
			Body:      item.Name,
			MediaPath: item.Path,
			MediaName: item.Name,
			MimeType:  item.MediaType,
		})
		if err != nil {
			s.deps.Logger.Warn("file item send failed",
				zap.Int64("fileListId", fileListID),
				zap.Int64("itemId", item.ID),
				zap.Error(err))
		}
	}
}

func (s *ChatbotService) sendText(ctx context.Context, channel *domain.Channel, contact *domain.Contact, body string) {
	if body == "" {
		return
	}
	_, err := s.deps.Sender.Send(ctx, channel, sender.OutboundMessage{
		Number:  contact.Number,
		IsGroup: contact.IsGroup,
		Kind:    sender.KindText,
		Body:    body,
	})
	if err != nil {
		s.deps.Logger.Warn("chatbot send failed",
			zap.Int64("companyId", channel.CompanyID),
			zap.Int64("contactId", contact.ID),
			zap.Error(err))
	}
}

// markChatbot stamps the first bot interaction on the tracking record and
// audit trail.
func (s *ChatbotService) markChatbot(ctx context.Context, ticket *domain.Ticket) {
	tracking, err := s.deps.Trackings.FindOrCreate(ctx, ticket.ID, ticket.CompanyID)
	if err != nil {
		s.deps.Logger.Warn("tracking load failed",
			zap.Int64("ticketId", ticket.ID),
			zap.Error(err))
		return
	}
	if tracking.ChatbotAt == nil {
		now := time.Now()
		tracking.ChatbotAt = &now
		if err := s.deps.Trackings.Update(ctx, tracking); err != nil {
			s.deps.Logger.Warn("tracking update failed",
				zap.Int64("ticketId", ticket.ID),
				zap.Error(err))
		}
		if err := s.deps.Logs.Create(ctx, &domain.TicketLog{
			TicketID:  ticket.ID,
			CompanyID: ticket.CompanyID,
			QueueID:   ticket.QueueID,
			Type:      domain.LogTypeChatbot,
		}); err != nil {
			s.deps.Logger.Warn("ticket log write failed",
				zap.Int64("ticketId", ticket.ID),
				zap.Error(err))
		}
	}
}
