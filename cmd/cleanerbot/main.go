package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"cleanerbot/internal/bot"
	"cleanerbot/internal/config"
	"cleanerbot/internal/logging"
	"cleanerbot/internal/repository"
	"cleanerbot/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("timezone")
	}

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	scheduleRepo := repository.NewScheduleRepository(db)
	debtRepo := repository.NewDebtRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		log.Fatal().Err(err).Msg("discord session")
	}
	discord := bot.NewDiscord(session, cfg.NotifyRatePerSec, log)

	clock := service.LocalClock(loc)
	cleaningSvc := service.NewCleaningService(discord, log)
	reminderSvc := service.NewReminderService(debtRepo, discord, clock, log)
	scheduler := service.NewSchedulerService(service.SchedulerConfig{
		Tasks:    scheduleRepo,
		Audit:    auditRepo,
		Cleaner:  cleaningSvc,
		Reminder: reminderSvc,
		Clock:    clock,
		Location: loc,
		PollSpec: cfg.PollSpec,
		Log:      log,
	})

	discordBot := bot.New(session, discord, bot.Deps{
		Schedules: scheduleRepo,
		Debts:     debtRepo,
		Audit:     auditRepo,
		Scheduler: scheduler,
		Location:  loc,
	}, cfg.CommandPrefix, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return discordBot.Start(gctx) })
	g.Go(func() error { return scheduler.Start(gctx, discord.Ready()) })

	log.Info().Str("timezone", loc.String()).Str("db", cfg.DatabaseURL).Msg("cleanerbot started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("stopped with error")
	}
	log.Info().Msg("shutdown complete")
}
