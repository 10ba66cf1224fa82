package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/domain"
)

type ticketFixture struct {
	tickets   *mockTicketRepo
	trackings *mockTrackingRepo
	logs      *mockLogRepo
	contacts  *mockContactRepo
	channels  *mockChannelRepo
	queues    *mockQueueRepo
	users     *mockUserRepo
	settings  *mockSettingsRepo
	sender    *fakeSender
	bus       *captureBroadcaster
	svc       *TicketService
}

func newTicketFixture() *ticketFixture {
	f := &ticketFixture{
		tickets:   &mockTicketRepo{},
		trackings: &mockTrackingRepo{},
		logs:      &mockLogRepo{},
		contacts:  &mockContactRepo{},
		channels:  &mockChannelRepo{},
		queues:    &mockQueueRepo{},
		users:     &mockUserRepo{},
		settings:  &mockSettingsRepo{},
		sender:    &fakeSender{},
		bus:       &captureBroadcaster{},
	}
	f.svc = NewTicketService(TicketServiceDeps{
		Tickets:     f.tickets,
		Trackings:   f.trackings,
		Logs:        f.logs,
		Contacts:    f.contacts,
		Channels:    f.channels,
		Queues:      f.queues,
		Users:       f.users,
		Settings:    f.settings,
		Sender:      f.sender,
		Broadcaster: f.bus,
		Logger:      zap.NewNop(),
	})
	return f
}

func ptrInt64(v int64) *int64 { return &v }

func statusPtr(s domain.TicketStatus) *domain.TicketStatus { return &s }

func (f *ticketFixture) stubCommon(ticket *domain.Ticket, tracking *domain.TicketTracking, channel *domain.Channel, settings domain.CompanySettings) {
	f.settings.On("GetCompanySettings", mock.Anything, ticket.CompanyID).Return(settings, nil)
	f.tickets.On("GetByID", mock.Anything, ticket.CompanyID, ticket.ID).Return(ticket, nil)
	f.trackings.On("FindOrCreate", mock.Anything, ticket.ID, ticket.CompanyID).Return(tracking, nil)
	f.channels.On("GetByID", mock.Anything, ticket.CompanyID, ticket.ChannelID).Return(channel, nil)
	f.trackings.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.tickets.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.logs.On("Create", mock.Anything, mock.Anything).Return(nil)
}

func TestCloseWithRatingGoesToNPS(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen, UserID: ptrInt64(10)}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected,
		RatingMessage: "rate us 1-5"}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{UserRating: true})
	f.contacts.On("GetByID", mock.Anything, int64(5), int64(7)).
		Return(&domain.Contact{ID: 7, Number: "5511999"}, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusClosed),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusNPS, result.Status)
	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "rate us 1-5", f.sender.messages()[0].Body)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeNPS}, f.logs.types())
	assert.NotNil(t, tracking.ClosedAt)
	assert.Nil(t, tracking.FinishedAt, "rating close must not finish the tracking")
	assert.Equal(t, []string{"delete"}, f.bus.actions())
}

func TestCloseAgentFarewellWinsOverChannel(t *testing.T) {
	f := newTicketFixture()
	flow := "flow-9"
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen, UserID: ptrInt64(10), LastFlowID: &flow}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected,
		FarewellMessage: "thanks from the company"}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{})
	f.contacts.On("GetByID", mock.Anything, int64(5), int64(7)).
		Return(&domain.Contact{ID: 7, Number: "5511999"}, nil)
	f.users.On("GetByID", mock.Anything, int64(5), int64(10)).
		Return(&domain.User{ID: 10, FarewellMessage: "bye from Ana"}, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusClosed),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusClosed, result.Status)
	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "bye from Ana", f.sender.messages()[0].Body)
	assert.Nil(t, result.LastFlowID)
	assert.NotNil(t, tracking.FinishedAt)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeClosed}, f.logs.types())
}

func TestClosePendingSkipsFarewellUnlessEnabled(t *testing.T) {
	cases := []struct {
		name      string
		enabled   bool
		wantSends int
	}{
		{name: "waiting farewell disabled", enabled: false, wantSends: 0},
		{name: "waiting farewell enabled", enabled: true, wantSends: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTicketFixture()
			ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
				Status: domain.TicketStatusPending}
			tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
			channel := &domain.Channel{ID: 3, CompanyID: 5,
				Status: domain.ChannelStatusConnected, FarewellMessage: "bye"}
			f.stubCommon(ticket, tracking, channel,
				domain.CompanySettings{SendFarewellWaitingTicket: tc.enabled})
			f.contacts.On("GetByID", mock.Anything, int64(5), int64(7)).
				Return(&domain.Contact{ID: 7, Number: "5511999"}, nil)

			_, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
				Status: statusPtr(domain.TicketStatusClosed),
			})
			require.NoError(t, err)
			assert.Len(t, f.sender.messages(), tc.wantSends)
		})
	}
}

func TestReopenRedirectsToExistingActiveTicket(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusClosed}
	other := &domain.Ticket{ID: 99, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen}
	f.settings.On("GetCompanySettings", mock.Anything, int64(5)).
		Return(domain.CompanySettings{}, nil)
	f.tickets.On("GetByID", mock.Anything, int64(5), int64(1)).Return(ticket, nil)
	f.tickets.On("FindActiveByContact", mock.Anything, int64(5), int64(7), int64(3)).
		Return(other, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusOpen),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(99), result.ID)
	f.tickets.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestReopenWithoutActiveTicketForcesBotOff(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusClosed, IsBot: true}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{})
	f.tickets.On("FindActiveByContact", mock.Anything, int64(5), int64(7), int64(3)).
		Return(nil, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusOpen),
		UserID: AssignID(10),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusOpen, result.Status)
	assert.False(t, result.IsBot)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeReopen}, f.logs.types())
}

func TestOpenFromPendingLogsOpenAndStampsTracking(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusPending}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5, Rated: true}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{})

	_, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusOpen),
		UserID: AssignID(10),
	})
	require.NoError(t, err)

	assert.NotNil(t, tracking.StartedAt)
	assert.False(t, tracking.Rated)
	assert.Nil(t, tracking.RatingAt)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeOpen}, f.logs.types())
	assert.Equal(t, []string{"delete", "update"}, f.bus.actions())
}

func TestPendingClearsTrackingStart(t *testing.T) {
	f := newTicketFixture()
	started := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5,
		UserID: ptrInt64(10)}
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen, UserID: ptrInt64(10)}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}
	f.stubCommon(ticket, started, channel, domain.CompanySettings{})

	_, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status: statusPtr(domain.TicketStatusPending),
		UserID: ClearID(),
	})
	require.NoError(t, err)

	assert.Nil(t, started.StartedAt)
	assert.Nil(t, started.UserID)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypePending}, f.logs.types())
}

func TestTransferCloseOnTransferOpensReplacementTicket(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen, QueueID: ptrInt64(1), UserID: ptrInt64(10)}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}
	f.stubCommon(ticket, tracking, channel,
		domain.CompanySettings{CloseTicketOnTransfer: true})
	f.queues.On("GetByID", mock.Anything, int64(5), int64(2)).
		Return(&domain.Queue{ID: 2, CompanyID: 5, Name: "Billing"}, nil)

	replacement := &domain.Ticket{ID: 42, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusPending, QueueID: ptrInt64(2), UserID: ptrInt64(20)}
	f.tickets.On("FindOrCreate", mock.Anything, mock.Anything).Return(replacement, true, nil)
	f.trackings.On("FindOrCreate", mock.Anything, int64(42), int64(5)).
		Return(&domain.TicketTracking{ID: 9, TicketID: 42, CompanyID: 5}, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status:       statusPtr(domain.TicketStatusPending),
		QueueID:      AssignID(2),
		UserID:       AssignID(20),
		Transfer:     true,
		TransferNote: "context for the next agent",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), result.ID)
	assert.Equal(t, domain.TicketStatusClosed, ticket.Status)
	assert.Equal(t,
		[]domain.TicketLogType{domain.LogTypeTransfered, domain.LogTypeReceivedTransfer},
		f.logs.types())
	// The closed original is evicted, then the replacement lands.
	actions := f.bus.actions()
	require.NotEmpty(t, actions)
	assert.Equal(t, "delete", actions[0])
	assert.Equal(t, "update", actions[len(actions)-1])
}

func TestTransferAgentOnlyLogsBothSidesOnSameTicket(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen, QueueID: ptrInt64(1), UserID: ptrInt64(10)}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{})
	f.queues.On("GetByID", mock.Anything, int64(5), int64(1)).
		Return(&domain.Queue{ID: 1, CompanyID: 5, Name: "Support"}, nil)

	_, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status:   statusPtr(domain.TicketStatusOpen),
		QueueID:  AssignID(1),
		UserID:   AssignID(20),
		Transfer: true,
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]domain.TicketLogType{domain.LogTypeTransfered, domain.LogTypeReceivedTransfer, domain.LogTypeReopen},
		f.logs.types())
}

func TestQueueConfiguredToCloseOverridesStatus(t *testing.T) {
	f := newTicketFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusPending, AmountUsedBotQueues: 4}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected,
		FarewellMessage: "bye"}
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{})
	f.queues.On("GetByID", mock.Anything, int64(5), int64(8)).
		Return(&domain.Queue{ID: 8, CompanyID: 5, Name: "After hours", CloseTicket: true}, nil)

	result, err := f.svc.Update(context.Background(), 5, 1, TicketUpdate{
		Status:  statusPtr(domain.TicketStatusOpen),
		QueueID: AssignID(8),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusClosed, result.Status)
	assert.Zero(t, result.AmountUsedBotQueues)
	assert.Empty(t, f.sender.messages(), "queue-forced close sends no farewell")
}

func TestFindOrCreateLogsCreateOnlyForNewTickets(t *testing.T) {
	f := newTicketFixture()
	created := &domain.Ticket{ID: 11, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusPending}
	f.tickets.On("FindOrCreate", mock.Anything, mock.Anything).Return(created, true, nil).Once()
	f.trackings.On("FindOrCreate", mock.Anything, int64(11), int64(5)).
		Return(&domain.TicketTracking{ID: 3}, nil)
	f.logs.On("Create", mock.Anything, mock.Anything).Return(nil)

	ticket, err := f.svc.FindOrCreate(context.Background(), FindOrCreateInput{
		CompanyID: 5, ContactID: 7, ChannelID: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), ticket.ID)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeCreate}, f.logs.types())

	f.tickets.On("FindOrCreate", mock.Anything, mock.Anything).Return(created, false, nil)
	_, err = f.svc.FindOrCreate(context.Background(), FindOrCreateInput{
		CompanyID: 5, ContactID: 7, ChannelID: 3,
	})
	require.NoError(t, err)
	assert.Len(t, f.logs.types(), 1, "existing ticket must not log create again")
}
