package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/chat-dispatch/internal/api/http"
	"github.com/spec-kit/chat-dispatch/internal/api/http/handlers"
	"github.com/spec-kit/chat-dispatch/internal/config"
	"github.com/spec-kit/chat-dispatch/internal/events"
	"github.com/spec-kit/chat-dispatch/internal/observability"
	"github.com/spec-kit/chat-dispatch/internal/persistence"
	"github.com/spec-kit/chat-dispatch/internal/repository"
	"github.com/spec-kit/chat-dispatch/internal/scheduler"
	"github.com/spec-kit/chat-dispatch/internal/sender"
	"github.com/spec-kit/chat-dispatch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	sched := scheduler.New(scheduler.NewRedisStore(redis.Client), logger, metrics)
	broadcaster := events.NewRedisBroadcaster(redis.Client, logger)
	channelSender := sender.WithTimeout(sender.NewLogSender(logger), 30*time.Second)

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	trackingRepo := repository.NewTicketTrackingRepository(pool)
	logRepo := repository.NewTicketLogRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	channelRepo := repository.NewChannelRepository(pool)
	queueRepo := repository.NewQueueRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	scheduleRepo := repository.NewScheduleRepository(pool)
	campaignRepo := repository.NewCampaignRepository(pool)
	shippingRepo := repository.NewCampaignShippingRepository(pool)
	chatbotRepo := repository.NewChatbotRepository(pool)
	tagRepo := repository.NewTagRepository(pool)

	ticketService := service.NewTicketService(service.TicketServiceDeps{
		Tickets:     ticketRepo,
		Trackings:   trackingRepo,
		Logs:        logRepo,
		Contacts:    contactRepo,
		Channels:    channelRepo,
		Queues:      queueRepo,
		Users:       userRepo,
		Settings:    settingsRepo,
		Sender:      channelSender,
		Broadcaster: broadcaster,
		Logger:      logger,
	})
	scheduleService := service.NewScheduleService(service.ScheduleServiceDeps{
		Schedules: scheduleRepo,
		Contacts:  contactRepo,
		Channels:  channelRepo,
		Users:     userRepo,
		Tickets:   ticketService,
		Sender:    channelSender,
		Scheduler: sched,
		Events:    broadcaster,
		Config:    cfg.Dispatch,
		Logger:    logger,
	})
	campaignService := service.NewCampaignService(service.CampaignServiceDeps{
		Campaigns:   campaignRepo,
		Shippings:   shippingRepo,
		Contacts:    contactRepo,
		Channels:    channelRepo,
		Settings:    settingsRepo,
		Tickets:     ticketService,
		Sender:      channelSender,
		Scheduler:   sched,
		Events:      broadcaster,
		Config:      cfg.Dispatch,
		Logger:      logger,
		VerifyGuard: scheduler.NewGuard(),
	})
	chatbotService := service.NewChatbotService(service.ChatbotServiceDeps{
		Chatbots:  chatbotRepo,
		Tickets:   ticketRepo,
		Trackings: trackingRepo,
		Logs:      logRepo,
		Contacts:  contactRepo,
		Channels:  channelRepo,
		Queues:    queueRepo,
		Service:   ticketService,
		Sender:    channelSender,
		Scheduler: sched,
		Config:    cfg.Dispatch,
		Logger:    logger,
	})
	monitorService := service.NewMonitorService(service.MonitorServiceDeps{
		Users:          userRepo,
		Channels:       channelRepo,
		Tickets:        ticketRepo,
		Tags:           tagRepo,
		Contacts:       contactRepo,
		Logs:           logRepo,
		Service:        ticketService,
		Sender:         channelSender,
		Broadcaster:    broadcaster,
		Config:         cfg.Dispatch,
		Logger:         logger,
		LaneGuard:      scheduler.NewGuard(),
		AutoCloseGuard: scheduler.NewGuard(),
	})

	registerQueues(cfg, sched, logger, campaignService, scheduleService, chatbotService, monitorService)
	sched.Start(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Queues: handlers.NewQueuesHandler(sched, metrics),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	sched.Stop()
}

func registerQueues(cfg *config.Config, sched *scheduler.Scheduler, logger *zap.Logger,
	campaigns *service.CampaignService, schedules *service.ScheduleService,
	chatbots *service.ChatbotService, monitors *service.MonitorService) {

	// The outbound queue carries every contact-facing send; its limiter is
	// the sole pacing on channel traffic.
	sched.Process(scheduler.QueueMessageSend, scheduler.QueueConfig{
		Concurrency: cfg.Scheduler.Concurrency,
		RateLimit: &scheduler.RateLimit{
			Max:      cfg.Scheduler.LimiterMax,
			Duration: cfg.Scheduler.LimiterDuration(),
		},
	}, dispatchByType(logger, map[string]scheduler.Handler{
		service.JobCampaignDispatch: campaigns.Dispatch,
		service.JobChatbotClose:     chatbots.HandleClose,
	}))

	sched.Process(scheduler.QueueScheduleMonitor, scheduler.QueueConfig{Concurrency: 1},
		schedules.MonitorDue)
	sched.Repeat(scheduler.QueueScheduleMonitor, service.JobScheduleMonitor, time.Minute, nil)

	sched.Process(scheduler.QueueSendScheduled, scheduler.QueueConfig{Concurrency: cfg.Scheduler.Concurrency},
		schedules.Send)

	windowPayload, _ := json.Marshal(service.WindowPayload{CompanyID: cfg.Dispatch.SendWindowCompanyID})
	sched.Process(scheduler.QueueCampaign, scheduler.QueueConfig{Concurrency: cfg.Scheduler.Concurrency},
		dispatchByType(logger, map[string]scheduler.Handler{
			service.JobCampaignVerify:  campaigns.Verify,
			service.JobCampaignPlan:    campaigns.Plan,
			service.JobCampaignPrepare: campaigns.Prepare,
			service.JobCampaignWindow:  campaigns.EnforceSendWindow,
		}))
	sched.Repeat(scheduler.QueueCampaign, service.JobCampaignVerify, 20*time.Second, nil)
	sched.Repeat(scheduler.QueueCampaign, service.JobCampaignWindow, time.Minute, windowPayload)

	sched.Process(scheduler.QueueUserMonitor, scheduler.QueueConfig{Concurrency: 1},
		monitors.SweepOfflineUsers)
	sched.Repeat(scheduler.QueueUserMonitor, service.JobSweepOffline, time.Minute, nil)

	sched.Process(scheduler.QueueQueueMonitor, scheduler.QueueConfig{Concurrency: 1},
		dispatchByType(logger, map[string]scheduler.Handler{
			service.JobSweepPending: monitors.SweepStalePending,
			service.JobSweepLanes:   monitors.SweepLanes,
			service.JobSweepExpired: monitors.SweepExpiredTickets,
		}))
	sched.Repeat(scheduler.QueueQueueMonitor, service.JobSweepPending, time.Minute, nil)
	sched.Repeat(scheduler.QueueQueueMonitor, service.JobSweepLanes, time.Minute, nil)
	sched.Repeat(scheduler.QueueQueueMonitor, service.JobSweepExpired, time.Minute, nil)
}

// dispatchByType routes a multiplexed queue's jobs to their handlers.
func dispatchByType(logger *zap.Logger, handlers map[string]scheduler.Handler) scheduler.Handler {
	return func(ctx context.Context, job *scheduler.Job) error {
		handler, ok := handlers[job.Type]
		if !ok {
			logger.Warn("unknown job type",
				zap.String("queue", job.Queue),
				zap.String("type", job.Type))
			return fmt.Errorf("unknown job type %q on queue %q", job.Type, job.Queue)
		}
		return handler(ctx, job)
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
