package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chat-dispatch/internal/config"
	"github.com/spec-kit/chat-dispatch/internal/domain"
	"github.com/spec-kit/chat-dispatch/internal/observability"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
	"github.com/spec-kit/chat-dispatch/internal/sender"
)

type campaignFixture struct {
	campaigns *mockCampaignRepo
	shippings *mockShippingRepo
	contacts  *mockContactRepo
	channels  *mockChannelRepo
	settings  *mockSettingsRepo
	sender    *fakeSender
	store     *scheduler.MemoryStore
	bus       *captureBroadcaster
	guard     *scheduler.Guard
	svc       *CampaignService
}

func newCampaignFixture() *campaignFixture {
	f := &campaignFixture{
		campaigns: &mockCampaignRepo{},
		shippings: &mockShippingRepo{},
		contacts:  &mockContactRepo{},
		channels:  &mockChannelRepo{},
		settings:  &mockSettingsRepo{},
		sender:    &fakeSender{},
		store:     scheduler.NewMemoryStore(),
		bus:       &captureBroadcaster{},
		guard:     scheduler.NewGuard(),
	}
	sched := scheduler.New(f.store, zap.NewNop(), observability.NewMetrics())
	f.svc = NewCampaignService(CampaignServiceDeps{
		Campaigns:   f.campaigns,
		Shippings:   f.shippings,
		Contacts:    f.contacts,
		Channels:    f.channels,
		Settings:    f.settings,
		Sender:      f.sender,
		Scheduler:   sched,
		Events:      f.bus,
		Config:      config.DispatchConfig{CampaignLookaheadHours: 3},
		Logger:      zap.NewNop(),
		VerifyGuard: f.guard,
	})
	return f
}

func marshalJob(t *testing.T, payload any) *scheduler.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &scheduler.Job{Payload: body}
}

func TestDispatchDelayGrowsMonotonically(t *testing.T) {
	settings := domain.CampaignSettings{
		MessageInterval:     20,
		LongerIntervalAfter: 2,
		GreaterInterval:     60,
	}
	var previous time.Duration
	for i := 0; i < 6; i++ {
		delay := DispatchDelay(i, settings)
		assert.GreaterOrEqual(t, delay, previous, "delay shrank at index %d", i)
		previous = delay
	}
	assert.Equal(t, 20*time.Second, DispatchDelay(1, settings))
	assert.Equal(t, 40*time.Second, DispatchDelay(2, settings))
	assert.Equal(t, 180*time.Second, DispatchDelay(3, settings), "past the threshold the greater interval applies")
}

func TestVerifyFlipsDueCampaignAndSchedulesPlan(t *testing.T) {
	f := newCampaignFixture()
	campaign := domain.Campaign{ID: 1, CompanyID: 5,
		Status: domain.CampaignStatusScheduled, ScheduledAt: time.Now().Add(time.Hour)}
	f.campaigns.On("ListScheduledWithin", mock.Anything, mock.Anything).
		Return([]domain.Campaign{campaign}, nil)
	f.campaigns.On("SetStatus", mock.Anything, int64(1),
		domain.CampaignStatusInProgress, (*time.Time)(nil)).Return(nil)

	require.NoError(t, f.svc.Verify(context.Background(), &scheduler.Job{}))

	_, delayed, err := f.store.Pending(context.Background(), scheduler.QueueCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed, "plan job should wait for the campaign start")
}

func TestVerifySkipsWhileGuardHeld(t *testing.T) {
	f := newCampaignFixture()
	require.True(t, f.guard.TryAcquire())
	defer f.guard.Release()

	require.NoError(t, f.svc.Verify(context.Background(), &scheduler.Job{}))
	f.campaigns.AssertNotCalled(t, "ListScheduledWithin", mock.Anything, mock.Anything)
}

func TestPlanWithoutRecipientsFinalizesImmediately(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ContactListID: 9,
		Status: domain.CampaignStatusInProgress}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.settings.On("GetCampaignSettings", mock.Anything, int64(5)).
		Return(domain.DefaultCampaignSettings(5), nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{}, nil)
	f.campaigns.On("SetStatus", mock.Anything, int64(1),
		domain.CampaignStatusFinished, mock.AnythingOfType("*time.Time")).Return(nil)

	require.NoError(t, f.svc.Plan(context.Background(),
		marshalJob(t, CampaignPayload{CampaignID: 1, CompanyID: 5})))

	f.campaigns.AssertCalled(t, "SetStatus", mock.Anything, int64(1),
		domain.CampaignStatusFinished, mock.AnythingOfType("*time.Time"))
}

func TestPlanFansOutEveryRecipient(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ContactListID: 9,
		Status: domain.CampaignStatusInProgress}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.settings.On("GetCampaignSettings", mock.Anything, int64(5)).
		Return(domain.DefaultCampaignSettings(5), nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{
			{ID: 11, Number: "111"}, {ID: 12, Number: "222"}, {ID: 13, Number: "333"},
		}, nil)

	require.NoError(t, f.svc.Plan(context.Background(),
		marshalJob(t, CampaignPayload{CampaignID: 1, CompanyID: 5})))

	waiting, _, err := f.store.Pending(context.Background(), scheduler.QueueCampaign)
	require.NoError(t, err)
	assert.EqualValues(t, 3, waiting)
}

func TestPrepareSchedulesDispatchExactlyOnce(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ContactListID: 9,
		Status: domain.CampaignStatusInProgress, Message1: "hi {nome}"}
	item := domain.ContactListItem{ID: 11, Number: "5511999", Name: "Bia"}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.settings.On("GetCampaignSettings", mock.Anything, int64(5)).
		Return(domain.DefaultCampaignSettings(5), nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{item}, nil)

	fresh := &domain.CampaignShipping{ID: 77, CampaignID: 1, ContactID: 11}
	f.shippings.On("FindOrCreate", mock.Anything, mock.Anything).Return(fresh, true, nil)
	f.shippings.On("SetJobID", mock.Anything, int64(77), mock.Anything).Return(nil)

	require.NoError(t, f.svc.Prepare(context.Background(),
		marshalJob(t, PreparePayload{CampaignID: 1, CompanyID: 5, ItemID: 11, DelayMS: 5000})))

	_, delayed, err := f.store.Pending(context.Background(), scheduler.QueueMessageSend)
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)
	f.shippings.AssertCalled(t, "SetJobID", mock.Anything, int64(77), mock.Anything)

	// Rendered message carried the contact substitution.
	created := f.shippings.Calls[0].Arguments.Get(1).(*domain.CampaignShipping)
	assert.Equal(t, "hi Bia", created.Message)
}

func TestPrepareLeavesDeliveredShippingAlone(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ContactListID: 9,
		Status: domain.CampaignStatusInProgress, Message1: "hi"}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.settings.On("GetCampaignSettings", mock.Anything, int64(5)).
		Return(domain.DefaultCampaignSettings(5), nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{{ID: 11, Number: "5511999"}}, nil)

	deliveredAt := time.Now()
	f.shippings.On("FindOrCreate", mock.Anything, mock.Anything).
		Return(&domain.CampaignShipping{ID: 77, DeliveredAt: &deliveredAt}, false, nil)

	require.NoError(t, f.svc.Prepare(context.Background(),
		marshalJob(t, PreparePayload{CampaignID: 1, CompanyID: 5, ItemID: 11})))

	waiting, delayed, err := f.store.Pending(context.Background(), scheduler.QueueMessageSend)
	require.NoError(t, err)
	assert.Zero(t, waiting+delayed, "a delivered shipping must never be re-dispatched")
	f.shippings.AssertNotCalled(t, "SetJobID", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchRequestsConfirmationFirst(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ChannelID: 3, ContactListID: 9,
		Status: domain.CampaignStatusInProgress, Confirmation: true}
	shipping := &domain.CampaignShipping{ID: 77, CampaignID: 1, Number: "5511999",
		Message: "the offer", ConfirmationMessage: "reply yes to receive"}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.shippings.On("GetByID", mock.Anything, int64(77)).Return(shipping, nil)
	f.channels.On("GetByID", mock.Anything, int64(5), int64(3)).
		Return(&domain.Channel{ID: 3, CompanyID: 5}, nil)
	f.shippings.On("MarkConfirmationRequested", mock.Anything, int64(77), mock.Anything).
		Return(true, nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{{ID: 11}}, nil)
	f.shippings.On("CountDelivered", mock.Anything, int64(1)).Return(int64(0), nil)

	require.NoError(t, f.svc.Dispatch(context.Background(),
		marshalJob(t, DispatchPayload{CampaignID: 1, CompanyID: 5, ShippingID: 77})))

	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "reply yes to receive", f.sender.messages()[0].Body)
	f.shippings.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchDeliversAndFinalizesWhenAllDone(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ChannelID: 3, ContactListID: 9,
		Status: domain.CampaignStatusInProgress}
	shipping := &domain.CampaignShipping{ID: 77, CampaignID: 1, Number: "5511999",
		Message: "the offer"}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.shippings.On("GetByID", mock.Anything, int64(77)).Return(shipping, nil)
	f.channels.On("GetByID", mock.Anything, int64(5), int64(3)).
		Return(&domain.Channel{ID: 3, CompanyID: 5}, nil)
	f.shippings.On("MarkDelivered", mock.Anything, int64(77), mock.Anything).Return(true, nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{{ID: 11}, {ID: 12}, {ID: 13}}, nil)
	f.shippings.On("CountDelivered", mock.Anything, int64(1)).Return(int64(3), nil)
	f.campaigns.On("SetStatus", mock.Anything, int64(1),
		domain.CampaignStatusFinished, mock.AnythingOfType("*time.Time")).Return(nil)

	require.NoError(t, f.svc.Dispatch(context.Background(),
		marshalJob(t, DispatchPayload{CampaignID: 1, CompanyID: 5, ShippingID: 77})))

	require.Len(t, f.sender.messages(), 1)
	assert.Equal(t, "the offer", f.sender.messages()[0].Body)
	f.campaigns.AssertCalled(t, "SetStatus", mock.Anything, int64(1),
		domain.CampaignStatusFinished, mock.AnythingOfType("*time.Time"))
}

func TestDispatchAudioSendsTextPrefaceThenMedia(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5, ChannelID: 3, ContactListID: 9,
		Status: domain.CampaignStatusInProgress, MediaPath: "uploads/pitch.ogg"}
	shipping := &domain.CampaignShipping{ID: 77, CampaignID: 1, Number: "5511999",
		Message: "listen to this"}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)
	f.shippings.On("GetByID", mock.Anything, int64(77)).Return(shipping, nil)
	f.channels.On("GetByID", mock.Anything, int64(5), int64(3)).
		Return(&domain.Channel{ID: 3, CompanyID: 5}, nil)
	f.shippings.On("MarkDelivered", mock.Anything, int64(77), mock.Anything).Return(true, nil)
	f.contacts.On("ListValidItems", mock.Anything, int64(5), int64(9)).
		Return([]domain.ContactListItem{{ID: 11}, {ID: 12}}, nil)
	f.shippings.On("CountDelivered", mock.Anything, int64(1)).Return(int64(1), nil)

	require.NoError(t, f.svc.Dispatch(context.Background(),
		marshalJob(t, DispatchPayload{CampaignID: 1, CompanyID: 5, ShippingID: 77})))

	msgs := f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, sender.KindText, msgs[0].Kind)
	assert.Equal(t, "listen to this", msgs[0].Body)
	assert.Equal(t, sender.KindAudio, msgs[1].Kind)
	assert.Empty(t, msgs[1].Body)
}

func TestDispatchCancelledCampaignIsNoop(t *testing.T) {
	f := newCampaignFixture()
	campaign := &domain.Campaign{ID: 1, CompanyID: 5,
		Status: domain.CampaignStatusCancelled}
	f.campaigns.On("GetByID", mock.Anything, int64(5), int64(1)).Return(campaign, nil)

	require.NoError(t, f.svc.Dispatch(context.Background(),
		marshalJob(t, DispatchPayload{CampaignID: 1, CompanyID: 5, ShippingID: 77})))

	assert.Empty(t, f.sender.messages())
	f.shippings.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
}

func TestInsideWindow(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2024, 1, 10, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name       string
		t          time.Time
		start, end string
		want       bool
	}{
		{name: "inside", t: at(10, 0), start: "08:00", end: "18:00", want: true},
		{name: "lower bound inclusive", t: at(8, 0), start: "08:00", end: "18:00", want: true},
		{name: "upper bound inclusive", t: at(18, 0), start: "08:00", end: "18:00", want: true},
		{name: "before", t: at(7, 59), start: "08:00", end: "18:00", want: false},
		{name: "after", t: at(20, 30), start: "08:00", end: "18:00", want: false},
		{name: "unset window always inside", t: at(3, 0), want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := insideWindow(tc.t, tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := insideWindow(at(10, 0), "8h00", "18:00")
	assert.Error(t, err)
}
