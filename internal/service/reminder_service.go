package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/repository"
	"github.com/aularis/lms-api/pkg/config"
)

type reminderRecipientSource interface {
	ListReminderRecipients(ctx context.Context, now time.Time) ([]repository.ReminderRecipient, error)
}

type reminderDispatcher interface {
	QueueReminder(recipient repository.ReminderRecipient) error
}

// ReminderService periodically mails students who still have pending
// assessments. It keeps no state between runs: each tick re-queries the
// full recipient set, so a missed or doubled tick is harmless.
type ReminderService struct {
	attempts   reminderRecipientSource
	dispatcher reminderDispatcher
	logger     *zap.Logger
	cfg        config.RemindersConfig
}

// NewReminderService constructs the reminder service.
func NewReminderService(attempts reminderRecipientSource, dispatcher reminderDispatcher, cfg config.RemindersConfig, logger *zap.Logger) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &ReminderService{
		attempts:   attempts,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Start boots the ticker goroutine. It returns immediately; the loop
// stops when ctx is canceled. Disabled config makes Start a no-op.
func (s *ReminderService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("assessment reminders disabled")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Run(ctx)
			}
		}
	}()
	s.logger.Sugar().Infow("assessment reminders started", "interval", s.cfg.Interval.String())
}

// Run executes one reminder pass: it queries students with pending
// assessments and queues one reminder mail per student.
func (s *ReminderService) Run(ctx context.Context) {
	recipients, err := s.attempts.ListReminderRecipients(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Sugar().Warnw("reminder recipient query failed", "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	queued := 0
	for _, recipient := range recipients {
		if err := s.dispatcher.QueueReminder(recipient); err != nil {
			s.logger.Sugar().Warnw("failed to queue reminder",
				"user_id", recipient.UserID,
				"error", err)
			continue
		}
		queued++
	}
	s.logger.Sugar().Infow("reminder pass finished", "recipients", len(recipients), "queued", queued)
}
