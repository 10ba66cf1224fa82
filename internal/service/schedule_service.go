package service

import (
	"context"
	"encoding/json"
	"fmt"
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

// Schedule job types.
const (
	JobScheduleMonitor = "monitor-due"
	JobScheduleSend    = "send"
)

// SchedulePayload is the job body for one scheduled send.
type SchedulePayload struct {
	ScheduleID int64 `json:"scheduleId"`
	CompanyID  int64 `json:"companyId"`
}

// ScheduleServiceDeps wires the scheduled-message engine.
type ScheduleServiceDeps struct {
	Schedules repository.ScheduleRepository
	Contacts  repository.ContactRepository
	Channels  repository.ChannelRepository
	Users     repository.UserRepository
	Tickets   *TicketService
	Sender    sender.ChannelSender
	Scheduler *scheduler.Scheduler
	Events    events.Broadcaster
	Config    config.DispatchConfig
	Logger    *zap.Logger
}

// ScheduleService turns user-authored future sends into deliveries,
// advancing recurring schedules after each one.
type ScheduleService struct {
	deps ScheduleServiceDeps
}

// NewScheduleService instantiates the service.
func NewScheduleService(deps ScheduleServiceDeps) *ScheduleService {
	return &ScheduleService{deps: deps}
}

// MonitorDue claims schedules coming due inside the scan window and
// enqueues their sends. The PENDENTE→AGENDADA flip is a compare-and-swap:
// a schedule claimed by another scan tick is skipped.
func (s *ScheduleService) MonitorDue(ctx context.Context, _ *scheduler.Job) error {
	horizon := time.Now().Add(time.Duration(s.deps.Config.ScheduleScanWindowSec) * time.Second)
	due, err := s.deps.Schedules.ListDueWithin(ctx, domain.ScheduleStatusPending, horizon)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, schedule := range due {
		claimed, err := s.deps.Schedules.TransitionStatus(ctx, schedule.ID,
			domain.ScheduleStatusPending, domain.ScheduleStatusScheduled)
		if err != nil {
			s.deps.Logger.Error("schedule claim failed",
				zap.Int64("scheduleId", schedule.ID),
				zap.Int64("companyId", schedule.CompanyID),
				zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		delay := time.Duration(s.deps.Config.ScheduleSendDelaySec) * time.Second
		_, err = s.deps.Scheduler.Enqueue(ctx, scheduler.QueueSendScheduled, JobScheduleSend,
			SchedulePayload{ScheduleID: schedule.ID, CompanyID: schedule.CompanyID},
			&scheduler.Options{Delay: delay})
		if err != nil {
			s.deps.Logger.Error("schedule send enqueue failed",
				zap.Int64("scheduleId", schedule.ID),
				zap.Int64("companyId", schedule.CompanyID),
				zap.Error(err))
		}
	}
	return nil
}

// Send delivers one scheduled message, then either advances the
// recurrence or finishes the schedule. Failures park the schedule in ERRO
// with no retry.
func (s *ScheduleService) Send(ctx context.Context, job *scheduler.Job) error {
	var payload SchedulePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode schedule payload: %w", err)
	}
	schedule, err := s.deps.Schedules.GetByID(ctx, payload.CompanyID, payload.ScheduleID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if schedule.Status != domain.ScheduleStatusScheduled {
		return apperrors.NewStaleState("schedule no longer awaiting send", map[string]any{
			"scheduleId": schedule.ID,
			"status":     schedule.Status,
		})
	}

	if err := s.deliver(ctx, schedule); err != nil {
		if _, terr := s.deps.Schedules.TransitionStatus(ctx, schedule.ID,
			domain.ScheduleStatusScheduled, domain.ScheduleStatusError); terr != nil {
			s.deps.Logger.Error("schedule error flip failed",
				zap.Int64("scheduleId", schedule.ID), zap.Error(terr))
		}
		return err
	}

	now := time.Now()
	schedule.SendCounter++
	schedule.SentAt = &now

	if schedule.IntervalUnit.Valid() && schedule.SendCounter < schedule.RepeatCount {
		next, err := NextOccurrence(schedule.SendAt, schedule.IntervalUnit,
			schedule.IntervalValue, schedule.BusinessDayPolicy)
		if err != nil {
			return err
		}
		schedule.SendAt = next
		schedule.Status = domain.ScheduleStatusPending
	} else {
		schedule.Status = domain.ScheduleStatusSent
	}
	if err := s.deps.Schedules.Update(ctx, schedule); err != nil {
		return apperrors.MapError(err)
	}

	_ = s.deps.Events.Publish(ctx, schedule.CompanyID, events.EventSchedule, map[string]any{
		"action":   events.ActionUpdate,
		"schedule": schedule,
	})
	return nil
}

func (s *ScheduleService) deliver(ctx context.Context, schedule *domain.Schedule) error {
	contact, err := s.deps.Contacts.GetByID(ctx, schedule.CompanyID, schedule.ContactID)
	if err != nil {
		return apperrors.MapError(err)
	}
	channel, err := s.resolveChannel(ctx, schedule)
	if err != nil {
		return err
	}

	body := template.Render(schedule.Body, template.TicketContext(nil, contact))
	if schedule.Signed && schedule.UserID != nil {
		if user, uerr := s.deps.Users.GetByID(ctx, schedule.CompanyID, *schedule.UserID); uerr == nil {
			body = fmt.Sprintf("*%s:*\n%s", user.Name, body)
		}
	}

	msg := sender.OutboundMessage{
		Number:  contact.Number,
		IsGroup: contact.IsGroup,
		Kind:    sender.KindText,
		Body:    body,
	}
	if schedule.MediaPath != "" {
		mimeType := sender.MimeForFile(schedule.MediaName)
		msg.Kind = sender.KindForMedia(mimeType)
		msg.MediaPath = schedule.MediaPath
		msg.MediaName = schedule.MediaName
		msg.MimeType = mimeType
	}
	if _, err := s.deps.Sender.Send(ctx, channel, msg); err != nil {
		return apperrors.NewTransient("scheduled message send failed", err)
	}

	if schedule.OpenTicket {
		_, err := s.deps.Tickets.FindOrCreate(ctx, FindOrCreateInput{
			CompanyID:   schedule.CompanyID,
			ContactID:   contact.ID,
			ChannelID:   channel.ID,
			QueueID:     schedule.QueueID,
			UserID:      schedule.TicketUserID,
			Status:      schedule.TicketStatus,
			IsGroup:     contact.IsGroup,
			LastMessage: body,
		})
		if err != nil {
			s.deps.Logger.Warn("schedule ticket open failed",
				zap.Int64("scheduleId", schedule.ID),
				zap.Int64("companyId", schedule.CompanyID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *ScheduleService) resolveChannel(ctx context.Context, schedule *domain.Schedule) (*domain.Channel, error) {
	if schedule.ChannelID != nil {
		channel, err := s.deps.Channels.GetByID(ctx, schedule.CompanyID, *schedule.ChannelID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		return channel, nil
	}
	channel, err := s.deps.Channels.GetDefault(ctx, schedule.CompanyID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if channel == nil {
		return nil, apperrors.NewConfigError("no default channel configured", map[string]any{
			"companyId": schedule.CompanyID,
		})
	}
	return channel, nil
}

// NextOccurrence computes the next send time: interval added to the
// previous send time, keeping the clock time, then shifted off weekends
// according to the policy.
func NextOccurrence(previous time.Time, unit domain.IntervalUnit, value int, policy domain.BusinessDayPolicy) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, apperrors.NewConfigError("recurrence interval must be positive", map[string]any{
			"intervalValue": value,
		})
	}
	var next time.Time
	switch unit {
	case domain.IntervalUnitDays:
		next = previous.AddDate(0, 0, value)
	case domain.IntervalUnitWeeks:
		next = previous.AddDate(0, 0, 7*value)
	case domain.IntervalUnitMonths:
		next = previous.AddDate(0, value, 0)
	case domain.IntervalUnitMinutes:
		next = previous.Add(time.Duration(value) * time.Minute)
	default:
		return time.Time{}, apperrors.NewConfigError("unknown recurrence unit", map[string]any{
			"intervalUnit": int(unit),
		})
	}
	return shiftBusinessDay(next, policy), nil
}

// shiftBusinessDay moves weekend dates to the adjacent business day while
// preserving the time of day.
func shiftBusinessDay(t time.Time, policy domain.BusinessDayPolicy) time.Time {
	if policy == domain.BusinessDayNone {
		return t
	}
	switch t.Weekday() {
	case time.Saturday:
		if policy == domain.BusinessDayShiftBack {
			return t.AddDate(0, 0, -1)
		}
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		if policy == domain.BusinessDayShiftBack {
			return t.AddDate(0, 0, -2)
		}
		return t.AddDate(0, 0, 1)
	default:
		return t
	}
}
