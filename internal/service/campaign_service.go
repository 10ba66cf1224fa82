package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
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

// Campaign job types on the campaign queue.
const (
	JobCampaignVerify  = "verify"
	JobCampaignPlan    = "plan"
	JobCampaignPrepare = "prepare-contact"
	JobCampaignWindow  = "send-window"
	// Dispatch runs on the rate-limited message-send queue.
	JobCampaignDispatch = "campaign-dispatch"
)

// CampaignPayload addresses a whole campaign.
type CampaignPayload struct {
	CampaignID int64 `json:"campaignId"`
	CompanyID  int64 `json:"companyId"`
}

// PreparePayload addresses one recipient of a campaign.
type PreparePayload struct {
	CampaignID int64 `json:"campaignId"`
	CompanyID  int64 `json:"companyId"`
	ItemID     int64 `json:"itemId"`
	DelayMS    int64 `json:"delayMs"`
}

// DispatchPayload addresses one shipping row ready to send.
type DispatchPayload struct {
	CampaignID int64 `json:"campaignId"`
	CompanyID  int64 `json:"companyId"`
	ShippingID int64 `json:"shippingId"`
}

// WindowPayload names the tenant whose settings gate the send window.
type WindowPayload struct {
	CompanyID int64 `json:"companyId"`
}

// CampaignServiceDeps wires the dispatch pipeline.
type CampaignServiceDeps struct {
	Campaigns repository.CampaignRepository
	Shippings repository.CampaignShippingRepository
	Contacts  repository.ContactRepository
	Channels  repository.ChannelRepository
	Settings  repository.SettingsRepository
	Tickets   *TicketService
	Sender    sender.ChannelSender
	Scheduler *scheduler.Scheduler
	Events    events.Broadcaster
	Config    config.DispatchConfig
	Logger    *zap.Logger

	// VerifyGuard keeps verification ticks single-flight.
	VerifyGuard *scheduler.Guard
}

// CampaignService runs bulk sends: verify picks up due campaigns, plan
// fans recipients out with paced delays, prepare renders per-contact
// messages and dispatch performs the sends.
type CampaignService struct {
	deps CampaignServiceDeps
}

// NewCampaignService instantiates the service.
func NewCampaignService(deps CampaignServiceDeps) *CampaignService {
	return &CampaignService{deps: deps}
}

// Verify scans PROGRAMADA campaigns starting inside the lookahead window,
// flips them EM_ANDAMENTO and enqueues planning timed to the start.
func (s *CampaignService) Verify(ctx context.Context, _ *scheduler.Job) error {
	if !s.deps.VerifyGuard.TryAcquire() {
		return nil
	}
	defer s.deps.VerifyGuard.Release()

	horizon := time.Now().Add(time.Duration(s.deps.Config.CampaignLookaheadHours) * time.Hour)
	due, err := s.deps.Campaigns.ListScheduledWithin(ctx, horizon)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, campaign := range due {
		if err := s.deps.Campaigns.SetStatus(ctx, campaign.ID, domain.CampaignStatusInProgress, nil); err != nil {
			s.deps.Logger.Error("campaign status flip failed",
				zap.Int64("campaignId", campaign.ID),
				zap.Int64("companyId", campaign.CompanyID),
				zap.Error(err))
			continue
		}
		delay := time.Until(campaign.ScheduledAt)
		if delay < 0 {
			delay = 0
		}
		_, err := s.deps.Scheduler.Enqueue(ctx, scheduler.QueueCampaign, JobCampaignPlan,
			CampaignPayload{CampaignID: campaign.ID, CompanyID: campaign.CompanyID},
			&scheduler.Options{Delay: delay})
		if err != nil {
			s.deps.Logger.Error("campaign plan enqueue failed",
				zap.Int64("campaignId", campaign.ID),
				zap.Int64("companyId", campaign.CompanyID),
				zap.Error(err))
		}
	}
	return nil
}

// Plan fans a campaign out to its eligible recipients, assigning each a
// monotonically growing dispatch delay. A campaign with no eligible
// recipients finalizes immediately.
func (s *CampaignService) Plan(ctx context.Context, job *scheduler.Job) error {
	var payload CampaignPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode campaign payload: %w", err)
	}
	campaign, err := s.deps.Campaigns.GetByID(ctx, payload.CompanyID, payload.CampaignID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if campaign.Status != domain.CampaignStatusInProgress {
		return nil
	}
	settings, err := s.deps.Settings.GetCampaignSettings(ctx, campaign.CompanyID)
	if err != nil {
		return apperrors.MapError(err)
	}
	items, err := s.deps.Contacts.ListValidItems(ctx, campaign.CompanyID, campaign.ContactListID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if len(items) == 0 {
		return s.finalize(ctx, campaign)
	}

	for i, item := range items {
		delay := DispatchDelay(i, settings)
		_, err := s.deps.Scheduler.Enqueue(ctx, scheduler.QueueCampaign, JobCampaignPrepare,
			PreparePayload{
				CampaignID: campaign.ID,
				CompanyID:  campaign.CompanyID,
				ItemID:     item.ID,
				DelayMS:    delay.Milliseconds(),
			}, nil)
		if err != nil {
			s.deps.Logger.Error("campaign prepare enqueue failed",
				zap.Int64("campaignId", campaign.ID),
				zap.Int64("itemId", item.ID),
				zap.Error(err))
		}
	}
	return nil
}

// DispatchDelay computes the pause before the i-th recipient's send: the
// base interval per position, switching to the greater interval once the
// position passes the configured threshold.
func DispatchDelay(index int, settings domain.CampaignSettings) time.Duration {
	interval := settings.MessageInterval
	if settings.LongerIntervalAfter > 0 && index > settings.LongerIntervalAfter {
		interval = settings.GreaterInterval
	}
	return time.Duration(index*interval) * time.Second
}

// Prepare renders the recipient's message (random variant, variables
// substituted), records the shipping row and schedules the dispatch. A
// shipping already requested or delivered is left alone.
func (s *CampaignService) Prepare(ctx context.Context, job *scheduler.Job) error {
	var payload PreparePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode prepare payload: %w", err)
	}
	campaign, err := s.deps.Campaigns.GetByID(ctx, payload.CompanyID, payload.CampaignID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if campaign.Status == domain.CampaignStatusCancelled {
		return nil
	}
	settings, err := s.deps.Settings.GetCampaignSettings(ctx, campaign.CompanyID)
	if err != nil {
		return apperrors.MapError(err)
	}
	items, err := s.deps.Contacts.ListValidItems(ctx, campaign.CompanyID, campaign.ContactListID)
	if err != nil {
		return apperrors.MapError(err)
	}
	var item *domain.ContactListItem
	for i := range items {
		if items[i].ID == payload.ItemID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return apperrors.NewIntegrityError("campaign recipient no longer in list", map[string]any{
			"campaignId": campaign.ID,
			"itemId":     payload.ItemID,
		})
	}

	renderCtx := template.CampaignContext(item, settings.Variables)
	shipping := &domain.CampaignShipping{
		CampaignID:          campaign.ID,
		ContactID:           item.ID,
		Number:              item.Number,
		Message:             template.Render(randomVariant(campaign.ValidMessages()), renderCtx),
		ConfirmationMessage: template.Render(randomVariant(campaign.ValidConfirmationMessages()), renderCtx),
	}
	record, _, err := s.deps.Shippings.FindOrCreate(ctx, shipping)
	if err != nil {
		return apperrors.MapError(err)
	}
	if record.DeliveredAt != nil || record.ConfirmationRequestedAt != nil {
		return nil
	}

	dispatched, err := s.deps.Scheduler.Enqueue(ctx, scheduler.QueueMessageSend, JobCampaignDispatch,
		DispatchPayload{
			CampaignID: campaign.ID,
			CompanyID:  campaign.CompanyID,
			ShippingID: record.ID,
		}, &scheduler.Options{Delay: time.Duration(payload.DelayMS) * time.Millisecond})
	if err != nil {
		return apperrors.MapError(err)
	}
	return apperrors.MapError(s.deps.Shippings.SetJobID(ctx, record.ID, dispatched.ID))
}

// Dispatch performs one recipient's send: the confirmation request when
// the campaign asks for opt-in and none was requested yet, otherwise the
// message itself.
func (s *CampaignService) Dispatch(ctx context.Context, job *scheduler.Job) error {
	var payload DispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}
	campaign, err := s.deps.Campaigns.GetByID(ctx, payload.CompanyID, payload.CampaignID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if campaign.Status == domain.CampaignStatusCancelled || campaign.Status == domain.CampaignStatusFinished {
		return nil
	}
	shipping, err := s.deps.Shippings.GetByID(ctx, payload.ShippingID)
	if err != nil {
		return apperrors.MapError(err)
	}
	channel, err := s.deps.Channels.GetByID(ctx, campaign.CompanyID, campaign.ChannelID)
	if err != nil {
		return apperrors.MapError(err)
	}

	now := time.Now()
	if campaign.Confirmation && shipping.Confirmation == nil {
		requested, err := s.deps.Shippings.MarkConfirmationRequested(ctx, shipping.ID, now)
		if err != nil {
			return apperrors.MapError(err)
		}
		if !requested {
			return nil
		}
		if err := s.sendBody(ctx, channel, shipping, shipping.ConfirmationMessage, ""); err != nil {
			return err
		}
		return s.checkFinalize(ctx, campaign)
	}

	delivered, err := s.deps.Shippings.MarkDelivered(ctx, shipping.ID, now)
	if err != nil {
		return apperrors.MapError(err)
	}
	if !delivered {
		return nil
	}
	if err := s.sendBody(ctx, channel, shipping, shipping.Message, campaign.MediaPath); err != nil {
		return err
	}

	if campaign.OpenTicket {
		s.openTicket(ctx, campaign, shipping, channel)
	}
	return s.checkFinalize(ctx, campaign)
}

// sendBody transmits text or media; an audio attachment is preceded by
// the text body.
func (s *CampaignService) sendBody(ctx context.Context, channel *domain.Channel, shipping *domain.CampaignShipping, body, mediaPath string) error {
	base := sender.OutboundMessage{
		Number: shipping.Number,
		Kind:   sender.KindText,
		Body:   body,
	}
	if mediaPath == "" {
		if _, err := s.deps.Sender.Send(ctx, channel, base); err != nil {
			return apperrors.NewTransient("campaign send failed", err)
		}
		return nil
	}

	mimeType := sender.MimeForFile(mediaPath)
	media := sender.OutboundMessage{
		Number:    shipping.Number,
		Kind:      sender.KindForMedia(mimeType),
		Body:      body,
		MediaPath: mediaPath,
		MimeType:  mimeType,
	}
	if sender.IsAudio(mimeType) {
		if _, err := s.deps.Sender.Send(ctx, channel, base); err != nil {
			return apperrors.NewTransient("campaign send failed", err)
		}
		media.Body = ""
	}
	if _, err := s.deps.Sender.Send(ctx, channel, media); err != nil {
		return apperrors.NewTransient("campaign media send failed", err)
	}
	return nil
}

func (s *CampaignService) openTicket(ctx context.Context, campaign *domain.Campaign, shipping *domain.CampaignShipping, channel *domain.Channel) {
	contact, err := s.deps.Contacts.FindByNumber(ctx, campaign.CompanyID, shipping.Number)
	if err != nil {
		s.deps.Logger.Warn("campaign contact lookup failed",
			zap.Int64("campaignId", campaign.ID),
			zap.String("number", shipping.Number),
			zap.Error(err))
		return
	}
	if contact == nil {
		contact = &domain.Contact{
			CompanyID: campaign.CompanyID,
			Number:    shipping.Number,
			Name:      shipping.Number,
		}
		if err := s.deps.Contacts.Create(ctx, contact); err != nil {
			s.deps.Logger.Warn("campaign contact create failed",
				zap.Int64("campaignId", campaign.ID),
				zap.String("number", shipping.Number),
				zap.Error(err))
			return
		}
	}
	_, err = s.deps.Tickets.FindOrCreate(ctx, FindOrCreateInput{
		CompanyID:   campaign.CompanyID,
		ContactID:   contact.ID,
		ChannelID:   channel.ID,
		QueueID:     campaign.QueueID,
		UserID:      campaign.UserID,
		Status:      campaign.TicketStatus,
		LastMessage: shipping.Message,
	})
	if err != nil {
		s.deps.Logger.Warn("campaign ticket open failed",
			zap.Int64("campaignId", campaign.ID),
			zap.Int64("contactId", contact.ID),
			zap.Error(err))
	}
}

// checkFinalize flips the campaign FINALIZADA once every eligible
// recipient completed delivery; confirmation campaigns count confirmation
// requests as completion for recipients who never opted in.
func (s *CampaignService) checkFinalize(ctx context.Context, campaign *domain.Campaign) error {
	items, err := s.deps.Contacts.ListValidItems(ctx, campaign.CompanyID, campaign.ContactListID)
	if err != nil {
		return apperrors.MapError(err)
	}
	delivered, err := s.deps.Shippings.CountDelivered(ctx, campaign.ID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if delivered < int64(len(items)) {
		return nil
	}
	return s.finalize(ctx, campaign)
}

func (s *CampaignService) finalize(ctx context.Context, campaign *domain.Campaign) error {
	now := time.Now()
	if err := s.deps.Campaigns.SetStatus(ctx, campaign.ID, domain.CampaignStatusFinished, &now); err != nil {
		return apperrors.MapError(err)
	}
	s.deps.Logger.Info("campaign finished",
		zap.Int64("campaignId", campaign.ID),
		zap.Int64("companyId", campaign.CompanyID))
	_ = s.deps.Events.Publish(ctx, campaign.CompanyID, events.EventCampaign, map[string]any{
		"action":     events.ActionUpdate,
		"campaignId": campaign.ID,
		"status":     domain.CampaignStatusFinished,
	})
	return nil
}

// HandleConfirmation records a recipient's opt-in reply and schedules the
// actual message send.
func (s *CampaignService) HandleConfirmation(ctx context.Context, companyID, campaignID, shippingID int64) error {
	if err := s.deps.Shippings.Confirm(ctx, shippingID, time.Now()); err != nil {
		return apperrors.MapError(err)
	}
	_, err := s.deps.Scheduler.Enqueue(ctx, scheduler.QueueMessageSend, JobCampaignDispatch,
		DispatchPayload{CampaignID: campaignID, CompanyID: companyID, ShippingID: shippingID}, nil)
	return apperrors.MapError(err)
}

// EnforceSendWindow pauses the outbound queue outside the tenant's send
// window (draining queued sends) and on excluded weekend days (holding
// them), resuming inside the window.
func (s *CampaignService) EnforceSendWindow(ctx context.Context, job *scheduler.Job) error {
	var payload WindowPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode window payload: %w", err)
	}
	settings, err := s.deps.Settings.GetCampaignSettings(ctx, payload.CompanyID)
	if err != nil {
		return apperrors.MapError(err)
	}

	now := time.Now()
	weekday := now.Weekday()
	if (weekday == time.Saturday && !settings.SendSaturday) ||
		(weekday == time.Sunday && !settings.SendSunday) {
		return s.deps.Scheduler.Pause(scheduler.QueueMessageSend)
	}

	inside, err := insideWindow(now, settings.StartHour, settings.EndHour)
	if err != nil {
		return err
	}
	if inside {
		return s.deps.Scheduler.Resume(scheduler.QueueMessageSend)
	}
	if err := s.deps.Scheduler.Pause(scheduler.QueueMessageSend); err != nil {
		return err
	}
	return s.deps.Scheduler.Drain(ctx, scheduler.QueueMessageSend)
}

// insideWindow reports whether t's clock time falls in [start, end]. An
// unset window means always inside.
func insideWindow(t time.Time, start, end string) (bool, error) {
	if start == "" || end == "" {
		return true, nil
	}
	parse := func(v string) (int, error) {
		parsed, err := time.Parse("15:04", v)
		if err != nil {
			return 0, apperrors.NewConfigError("invalid send window bound", map[string]any{
				"value": v,
			})
		}
		return parsed.Hour()*60 + parsed.Minute(), nil
	}
	lo, err := parse(start)
	if err != nil {
		return false, err
	}
	hi, err := parse(end)
	if err != nil {
		return false, err
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= lo && minute <= hi, nil
}

func randomVariant(variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[rand.Intn(len(variants))]
}
