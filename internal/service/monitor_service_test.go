package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/config"
	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
)

type monitorFixture struct {
	*ticketFixture
	tags      *mockTagRepo
	laneGuard *scheduler.Guard
	autoClose *scheduler.Guard
	mon       *MonitorService
}

func newMonitorFixture() *monitorFixture {
	tf := newTicketFixture()
	f := &monitorFixture{
		ticketFixture: tf,
		tags:          &mockTagRepo{},
		laneGuard:     scheduler.NewGuard(),
		autoClose:     scheduler.NewGuard(),
	}
	f.mon = NewMonitorService(MonitorServiceDeps{
		Users:          tf.users,
		Channels:       tf.channels,
		Tickets:        tf.tickets,
		Tags:           f.tags,
		Contacts:       tf.contacts,
		Logs:           tf.logs,
		Service:        tf.svc,
		Sender:         tf.sender,
		Broadcaster:    tf.bus,
		Config:         config.DispatchConfig{UserOfflineAfterMinutes: 5},
		Logger:         zap.NewNop(),
		LaneGuard:      f.laneGuard,
		AutoCloseGuard: f.autoClose,
	})
	return f
}

func TestSweepOfflineUsersUsesIdleCutoff(t *testing.T) {
	f := newMonitorFixture()
	var cutoff time.Time
	f.users.On("MarkOfflineIdleSince", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { cutoff = args.Get(1).(time.Time) }).
		Return(int64(2), nil)

	require.NoError(t, f.mon.SweepOfflineUsers(context.Background(), &scheduler.Job{}))

	want := time.Now().Add(-5 * time.Minute)
	assert.WithinDuration(t, want, cutoff, 2*time.Second)
}

func TestSweepStalePendingRedirectsToFallbackQueue(t *testing.T) {
	f := newMonitorFixture()
	f.channels.On("ListWithPendingTimeout", mock.Anything).Return([]domain.Channel{
		{ID: 3, CompanyID: 5, TimeSendQueue: 10, MoveQueueID: ptrInt64(8)},
	}, nil)
	f.tickets.On("ListPendingWithoutQueue", mock.Anything, int64(3), mock.Anything).
		Return([]domain.Ticket{
			{ID: 1, CompanyID: 5, ChannelID: 3, Status: domain.TicketStatusPending},
		}, nil)
	f.tickets.On("Update", mock.Anything, mock.Anything).Return(nil)
	f.logs.On("Create", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, f.mon.SweepStalePending(context.Background(), &scheduler.Job{}))

	updated := f.tickets.Calls[1].Arguments.Get(1).(*domain.Ticket)
	assert.Equal(t, ptrInt64(8), updated.QueueID)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeRedirect}, f.logs.types())
	assert.Equal(t, []string{"update"}, f.bus.actions())
}

func TestSweepLanesMovesTicketAndGreets(t *testing.T) {
	f := newMonitorFixture()
	lane := domain.Tag{ID: 40, CompanyID: 5, TimeLane: 2, NextLaneID: ptrInt64(41)}
	next := &domain.Tag{ID: 41, CompanyID: 5, GreetingMessageLane: "Seu atendimento avançou, {name}"}
	f.tags.On("ListLanes", mock.Anything).Return([]domain.Tag{lane}, nil)
	f.tags.On("ListLaneTickets", mock.Anything, int64(40), mock.Anything).
		Return([]domain.Ticket{{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3}}, nil)
	f.tags.On("GetByID", mock.Anything, int64(5), int64(41)).Return(next, nil)
	f.tags.On("MoveTicket", mock.Anything, int64(1), int64(40), int64(41)).Return(nil)
	f.contacts.On("GetByID", mock.Anything, int64(5), int64(7)).
		Return(&domain.Contact{ID: 7, Name: "Rui", Number: "5511999"}, nil)
	f.channels.On("GetByID", mock.Anything, int64(5), int64(3)).
		Return(&domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected}, nil)

	require.NoError(t, f.mon.SweepLanes(context.Background(), &scheduler.Job{}))

	f.tags.AssertCalled(t, "MoveTicket", mock.Anything, int64(1), int64(40), int64(41))
	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "Seu atendimento avançou, Rui", f.sender.messages()[0].Body)
}

func TestSweepLanesSkipsWhileGuardHeld(t *testing.T) {
	f := newMonitorFixture()
	require.True(t, f.laneGuard.TryAcquire())
	defer f.laneGuard.Release()

	require.NoError(t, f.mon.SweepLanes(context.Background(), &scheduler.Job{}))
	f.tags.AssertNotCalled(t, "ListLanes", mock.Anything)
}

func TestSweepExpiredTicketsNotifiesThenClosesQuietly(t *testing.T) {
	f := newMonitorFixture()
	ticket := &domain.Ticket{ID: 1, CompanyID: 5, ContactID: 7, ChannelID: 3,
		Status: domain.TicketStatusOpen}
	tracking := &domain.TicketTracking{ID: 2, TicketID: 1, CompanyID: 5}
	channel := &domain.Channel{ID: 3, CompanyID: 5, Status: domain.ChannelStatusConnected,
		ExpiresTicket: 30, ExpiresMessage: "Encerramos por inatividade",
		FarewellMessage: "até logo", RatingMessage: "avalie"}
	f.channels.On("ListWithExpiry", mock.Anything).Return([]domain.Channel{*channel}, nil)
	f.tickets.On("ListActiveIdleSince", mock.Anything, int64(3), mock.Anything).
		Return([]domain.Ticket{*ticket}, nil)
	f.stubCommon(ticket, tracking, channel, domain.CompanySettings{UserRating: true})
	f.contacts.On("GetByID", mock.Anything, int64(5), int64(7)).
		Return(&domain.Contact{ID: 7, Number: "5511999"}, nil)

	require.NoError(t, f.mon.SweepExpiredTickets(context.Background(), &scheduler.Job{}))

	// Only the expiry notice goes out: the quiet close suppresses both the
	// rating request and the farewell.
	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "Encerramos por inatividade", f.sender.messages()[0].Body)
	assert.Equal(t, []domain.TicketLogType{domain.LogTypeClosed}, f.logs.types())
}

func TestSweepExpiredTicketsSkipsWhileGuardHeld(t *testing.T) {
	f := newMonitorFixture()
	require.True(t, f.autoClose.TryAcquire())
	defer f.autoClose.Release()

	require.NoError(t, f.mon.SweepExpiredTickets(context.Background(), &scheduler.Job{}))
	f.channels.AssertNotCalled(t, "ListWithExpiry", mock.Anything)
}
