package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/sender"
)

type mockTicketRepo struct{ mock.Mock }

func (m *mockTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *mockTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	return m.Called(ctx, ticket).Error(0)
}

func (m *mockTicketRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Ticket, error) {
	args := m.Called(ctx, companyID, id)
	if t, ok := args.Get(0).(*domain.Ticket); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTicketRepo) FindActiveByContact(ctx context.Context, companyID, contactID, channelID int64) (*domain.Ticket, error) {
	args := m.Called(ctx, companyID, contactID, channelID)
	if t, ok := args.Get(0).(*domain.Ticket); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTicketRepo) FindOrCreate(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, bool, error) {
	args := m.Called(ctx, ticket)
	if t, ok := args.Get(0).(*domain.Ticket); ok {
		return t, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *mockTicketRepo) ListPendingWithoutQueue(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error) {
	args := m.Called(ctx, channelID, before)
	if t, ok := args.Get(0).([]domain.Ticket); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTicketRepo) ListActiveIdleSince(ctx context.Context, channelID int64, before time.Time) ([]domain.Ticket, error) {
	args := m.Called(ctx, channelID, before)
	if t, ok := args.Get(0).([]domain.Ticket); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTrackingRepo struct{ mock.Mock }

func (m *mockTrackingRepo) FindOrCreate(ctx context.Context, ticketID, companyID int64) (*domain.TicketTracking, error) {
	args := m.Called(ctx, ticketID, companyID)
	if t, ok := args.Get(0).(*domain.TicketTracking); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTrackingRepo) Update(ctx context.Context, tracking *domain.TicketTracking) error {
	return m.Called(ctx, tracking).Error(0)
}

type mockLogRepo struct {
	mock.Mock
	mu      sync.Mutex
	entries []domain.TicketLog
}

func (m *mockLogRepo) Create(ctx context.Context, log *domain.TicketLog) error {
	m.mu.Lock()
	m.entries = append(m.entries, *log)
	m.mu.Unlock()
	return m.Called(ctx, log).Error(0)
}

func (m *mockLogRepo) ListByTicket(ctx context.Context, companyID, ticketID int64) ([]domain.TicketLog, error) {
	args := m.Called(ctx, companyID, ticketID)
	if t, ok := args.Get(0).([]domain.TicketLog); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLogRepo) types() []domain.TicketLogType {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.TicketLogType, 0, len(m.entries))
	for _, e := range m.entries {
		result = append(result, e.Type)
	}
	return result
}

type mockContactRepo struct{ mock.Mock }

func (m *mockContactRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Contact, error) {
	args := m.Called(ctx, companyID, id)
	if c, ok := args.Get(0).(*domain.Contact); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockContactRepo) FindByNumber(ctx context.Context, companyID int64, number string) (*domain.Contact, error) {
	args := m.Called(ctx, companyID, number)
	if c, ok := args.Get(0).(*domain.Contact); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockContactRepo) Create(ctx context.Context, contact *domain.Contact) error {
	return m.Called(ctx, contact).Error(0)
}

func (m *mockContactRepo) ListValidItems(ctx context.Context, companyID, contactListID int64) ([]domain.ContactListItem, error) {
	args := m.Called(ctx, companyID, contactListID)
	if items, ok := args.Get(0).([]domain.ContactListItem); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockChannelRepo struct{ mock.Mock }

func (m *mockChannelRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Channel, error) {
	args := m.Called(ctx, companyID, id)
	if c, ok := args.Get(0).(*domain.Channel); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChannelRepo) GetDefault(ctx context.Context, companyID int64) (*domain.Channel, error) {
	args := m.Called(ctx, companyID)
	if c, ok := args.Get(0).(*domain.Channel); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChannelRepo) ListWithPendingTimeout(ctx context.Context) ([]domain.Channel, error) {
	args := m.Called(ctx)
	if c, ok := args.Get(0).([]domain.Channel); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChannelRepo) ListWithExpiry(ctx context.Context) ([]domain.Channel, error) {
	args := m.Called(ctx)
	if c, ok := args.Get(0).([]domain.Channel); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockQueueRepo struct{ mock.Mock }

func (m *mockQueueRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Queue, error) {
	args := m.Called(ctx, companyID, id)
	if q, ok := args.Get(0).(*domain.Queue); ok {
		return q, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueueRepo) ListByCompany(ctx context.Context, companyID int64) ([]domain.Queue, error) {
	args := m.Called(ctx, companyID)
	if q, ok := args.Get(0).([]domain.Queue); ok {
		return q, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUserRepo struct{ mock.Mock }

func (m *mockUserRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.User, error) {
	args := m.Called(ctx, companyID, id)
	if u, ok := args.Get(0).(*domain.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUserRepo) MarkOfflineIdleSince(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockSettingsRepo struct{ mock.Mock }

func (m *mockSettingsRepo) GetCompanySettings(ctx context.Context, companyID int64) (domain.CompanySettings, error) {
	args := m.Called(ctx, companyID)
	return args.Get(0).(domain.CompanySettings), args.Error(1)
}

func (m *mockSettingsRepo) GetCampaignSettings(ctx context.Context, companyID int64) (domain.CampaignSettings, error) {
	args := m.Called(ctx, companyID)
	return args.Get(0).(domain.CampaignSettings), args.Error(1)
}

type mockScheduleRepo struct{ mock.Mock }

func (m *mockScheduleRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Schedule, error) {
	args := m.Called(ctx, companyID, id)
	if s, ok := args.Get(0).(*domain.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockScheduleRepo) ListDueWithin(ctx context.Context, status domain.ScheduleStatus, horizon time.Time) ([]domain.Schedule, error) {
	args := m.Called(ctx, status, horizon)
	if s, ok := args.Get(0).([]domain.Schedule); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockScheduleRepo) Update(ctx context.Context, schedule *domain.Schedule) error {
	return m.Called(ctx, schedule).Error(0)
}

func (m *mockScheduleRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.ScheduleStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

type mockCampaignRepo struct{ mock.Mock }

func (m *mockCampaignRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Campaign, error) {
	args := m.Called(ctx, companyID, id)
	if c, ok := args.Get(0).(*domain.Campaign); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCampaignRepo) ListScheduledWithin(ctx context.Context, horizon time.Time) ([]domain.Campaign, error) {
	args := m.Called(ctx, horizon)
	if c, ok := args.Get(0).([]domain.Campaign); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCampaignRepo) SetStatus(ctx context.Context, id int64, status domain.CampaignStatus, completedAt *time.Time) error {
	return m.Called(ctx, id, status, completedAt).Error(0)
}

type mockShippingRepo struct{ mock.Mock }

func (m *mockShippingRepo) FindOrCreate(ctx context.Context, shipping *domain.CampaignShipping) (*domain.CampaignShipping, bool, error) {
	args := m.Called(ctx, shipping)
	if s, ok := args.Get(0).(*domain.CampaignShipping); ok {
		return s, args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *mockShippingRepo) GetByID(ctx context.Context, id int64) (*domain.CampaignShipping, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*domain.CampaignShipping); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockShippingRepo) SetJobID(ctx context.Context, id int64, jobID string) error {
	return m.Called(ctx, id, jobID).Error(0)
}

func (m *mockShippingRepo) MarkConfirmationRequested(ctx context.Context, id int64, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockShippingRepo) MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockShippingRepo) Confirm(ctx context.Context, id int64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockShippingRepo) CountDelivered(ctx context.Context, campaignID int64) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

type mockChatbotRepo struct{ mock.Mock }

func (m *mockChatbotRepo) GetNode(ctx context.Context, companyID, id int64) (*domain.ChatbotNode, error) {
	args := m.Called(ctx, companyID, id)
	if n, ok := args.Get(0).(*domain.ChatbotNode); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChatbotRepo) ListRootOptions(ctx context.Context, companyID, queueID int64) ([]domain.ChatbotNode, error) {
	args := m.Called(ctx, companyID, queueID)
	if n, ok := args.Get(0).([]domain.ChatbotNode); ok {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChatbotRepo) FindStage(ctx context.Context, companyID, contactID int64) (*domain.DialogStage, error) {
	args := m.Called(ctx, companyID, contactID)
	if s, ok := args.Get(0).(*domain.DialogStage); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockChatbotRepo) UpsertStage(ctx context.Context, stage *domain.DialogStage) error {
	return m.Called(ctx, stage).Error(0)
}

func (m *mockChatbotRepo) DeleteStage(ctx context.Context, companyID, contactID int64) error {
	return m.Called(ctx, companyID, contactID).Error(0)
}

func (m *mockChatbotRepo) ListFileItems(ctx context.Context, fileListID int64) ([]domain.FileItem, error) {
	args := m.Called(ctx, fileListID)
	if f, ok := args.Get(0).([]domain.FileItem); ok {
		return f, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTagRepo struct{ mock.Mock }

func (m *mockTagRepo) ListLanes(ctx context.Context) ([]domain.Tag, error) {
	args := m.Called(ctx)
	if t, ok := args.Get(0).([]domain.Tag); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTagRepo) GetByID(ctx context.Context, companyID, id int64) (*domain.Tag, error) {
	args := m.Called(ctx, companyID, id)
	if t, ok := args.Get(0).(*domain.Tag); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTagRepo) ListLaneTickets(ctx context.Context, tagID int64, before time.Time) ([]domain.Ticket, error) {
	args := m.Called(ctx, tagID, before)
	if t, ok := args.Get(0).([]domain.Ticket); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTagRepo) MoveTicket(ctx context.Context, ticketID, fromTagID, toTagID int64) error {
	return m.Called(ctx, ticketID, fromTagID, toTagID).Error(0)
}

// fakeSender records outbound messages in order.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sender.OutboundMessage
	failWith error
}

func (f *fakeSender) Send(_ context.Context, _ *domain.Channel, msg sender.OutboundMessage) (sender.Handle, error) {
	if f.failWith != nil {
		return sender.Handle{}, f.failWith
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return sender.Handle{ID: "sent"}, nil
}

func (f *fakeSender) messages() []sender.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sender.OutboundMessage{}, f.sent...)
}

// captureBroadcaster records published events in order.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	CompanyID int64
	Event     string
	Payload   any
}

func (c *captureBroadcaster) Publish(_ context.Context, companyID int64, event string, payload any) error {
	c.mu.Lock()
	c.events = append(c.events, capturedEvent{CompanyID: companyID, Event: event, Payload: payload})
	c.mu.Unlock()
	return nil
}

func (c *captureBroadcaster) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []string
	for _, e := range c.events {
		if payload, ok := e.Payload.(map[string]any); ok {
			if action, ok := payload["action"].(string); ok {
				result = append(result, action)
			}
		}
	}
	return result
}
