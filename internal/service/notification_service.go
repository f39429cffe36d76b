package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	"github.com/aularis/lms-api/pkg/config"
	"github.com/aularis/lms-api/pkg/jobs"
	"github.com/aularis/lms-api/pkg/mailer"
)

const (
	jobTypeEnrollmentConfirmation = "enrollment_confirmation"
	jobTypeAssessmentPublished    = "assessment_published"
	jobTypeAssessmentReminder     = "assessment_reminder"
)

type enrollmentConfirmationJob struct {
	StudentID string
	CourseID  string
}

type assessmentPublishedJob struct {
	AssessmentID string
	CourseID     string
}

type assessmentReminderJob struct {
	Email        string
	Name         string
	PendingCount int
}

type notificationEnrollmentRepository interface {
	ListActiveStudentContacts(ctx context.Context, courseID string) ([]repository.StudentContact, error)
}

type notificationStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type notificationUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notificationCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type notificationAssessmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
}

// NotificationService delivers email notifications through a worker
// queue. Callers only enqueue identifiers; recipient addresses and titles
// are resolved when the job runs, so a user renamed or deactivated
// between enqueue and delivery is handled correctly.
type NotificationService struct {
	queue       *jobs.Queue
	mail        mailer.Mailer
	enrollments notificationEnrollmentRepository
	students    notificationStudentRepository
	users       notificationUserRepository
	courses     notificationCourseRepository
	assessments notificationAssessmentRepository
	logger      *zap.Logger
	baseURL     string
}

// NewNotificationService constructs the service and its backing queue.
// Start must be called before anything can be enqueued.
func NewNotificationService(
	mail mailer.Mailer,
	enrollments notificationEnrollmentRepository,
	students notificationStudentRepository,
	users notificationUserRepository,
	courses notificationCourseRepository,
	assessments notificationAssessmentRepository,
	cfg config.NotificationsConfig,
	baseURL string,
	logger *zap.Logger,
) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		mail:        mail,
		enrollments: enrollments,
		students:    students,
		users:       users,
		courses:     courses,
		assessments: assessments,
		logger:      logger,
		baseURL:     baseURL,
	}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start boots the queue workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains buffered jobs and waits for workers to finish.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// QueueDepth reports how many mails are waiting to be sent.
func (s *NotificationService) QueueDepth() int {
	return s.queue.Depth()
}

// QueueEnrollmentConfirmation enqueues a confirmation mail for a fresh
// enrollment.
func (s *NotificationService) QueueEnrollmentConfirmation(studentID, courseID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeEnrollmentConfirmation,
		Payload: enrollmentConfirmationJob{StudentID: studentID, CourseID: courseID},
	})
}

// QueueAssessmentPublished enqueues the publication fan-out for a
// course's enrolled students.
func (s *NotificationService) QueueAssessmentPublished(assessmentID, courseID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeAssessmentPublished,
		Payload: assessmentPublishedJob{AssessmentID: assessmentID, CourseID: courseID},
	})
}

// QueueReminder enqueues a pending-assessments reminder for one student.
// The recipient row already carries the resolved address.
func (s *NotificationService) QueueReminder(recipient repository.ReminderRecipient) error {
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: jobTypeAssessmentReminder,
		Payload: assessmentReminderJob{
			Email:        recipient.Email,
			Name:         recipient.Name,
			PendingCount: recipient.PendingCount,
		},
	})
}

// handle dispatches a queue job by type. Returned errors trigger the
// queue's retry policy; unknown job types are dropped.
func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobTypeEnrollmentConfirmation:
		payload, ok := job.Payload.(enrollmentConfirmationJob)
		if !ok {
			s.logger.Sugar().Warnw("malformed notification payload", "job_id", job.ID, "type", job.Type)
			return nil
		}
		return s.sendEnrollmentConfirmation(ctx, payload)
	case jobTypeAssessmentPublished:
		payload, ok := job.Payload.(assessmentPublishedJob)
		if !ok {
			s.logger.Sugar().Warnw("malformed notification payload", "job_id", job.ID, "type", job.Type)
			return nil
		}
		return s.sendAssessmentPublished(ctx, payload)
	case jobTypeAssessmentReminder:
		payload, ok := job.Payload.(assessmentReminderJob)
		if !ok {
			s.logger.Sugar().Warnw("malformed notification payload", "job_id", job.ID, "type", job.Type)
			return nil
		}
		return s.sendReminder(payload)
	default:
		s.logger.Sugar().Warnw("unknown notification job type", "job_id", job.ID, "type", job.Type)
		return nil
	}
}

func (s *NotificationService) sendEnrollmentConfirmation(ctx context.Context, payload enrollmentConfirmationJob) error {
	student, err := s.students.FindByID(ctx, payload.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("resolve student %s: %w", payload.StudentID, err)
	}
	user, err := s.users.FindByID(ctx, student.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("resolve user %s: %w", student.UserID, err)
	}
	if !user.Active {
		return nil
	}
	course, err := s.courses.FindByID(ctx, payload.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("resolve course %s: %w", payload.CourseID, err)
	}

	courseURL := fmt.Sprintf("%s/courses/%s", s.baseURL, course.ID)
	return s.mail.Send(mailer.Message{
		To:      user.Email,
		Subject: fmt.Sprintf("You are enrolled in %s", course.Title),
		Text: fmt.Sprintf("Hi %s,\n\nYour enrollment in %s is confirmed. Course material is available at %s.\n",
			user.Name, course.Title, courseURL),
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>Your enrollment in <strong>%s</strong> is confirmed.</p><p><a href=%q>Open the course</a></p>",
			user.Name, course.Title, courseURL),
	})
}

// sendAssessmentPublished mails every enrolled student of the course.
// Resolution errors are returned and retried; per-recipient send failures
// after delivery has begun are only logged, so nobody is mailed twice.
func (s *NotificationService) sendAssessmentPublished(ctx context.Context, payload assessmentPublishedJob) error {
	assessment, err := s.assessments.FindByID(ctx, payload.AssessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("resolve assessment %s: %w", payload.AssessmentID, err)
	}
	course, err := s.courses.FindByID(ctx, payload.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("resolve course %s: %w", payload.CourseID, err)
	}
	contacts, err := s.enrollments.ListActiveStudentContacts(ctx, payload.CourseID)
	if err != nil {
		return fmt.Errorf("list recipients for course %s: %w", payload.CourseID, err)
	}

	assessmentURL := fmt.Sprintf("%s/courses/%s/assessments/%s", s.baseURL, course.ID, assessment.ID)
	sent := 0
	for _, contact := range contacts {
		msg := mailer.Message{
			To:      contact.Email,
			Subject: fmt.Sprintf("New assessment in %s: %s", course.Title, assessment.Title),
			Text: fmt.Sprintf("Hi %s,\n\n%q is now available in %s. Take it at %s.\n",
				contact.Name, assessment.Title, course.Title, assessmentURL),
			HTML: fmt.Sprintf("<p>Hi %s,</p><p><strong>%s</strong> is now available in %s.</p><p><a href=%q>Start the assessment</a></p>",
				contact.Name, assessment.Title, course.Title, assessmentURL),
		}
		if err := s.mail.Send(msg); err != nil {
			s.logger.Sugar().Warnw("publication mail failed",
				"assessment_id", assessment.ID,
				"recipient", contact.Email,
				"error", err)
			continue
		}
		sent++
	}
	s.logger.Sugar().Infow("assessment publication mailed",
		"assessment_id", assessment.ID,
		"course_id", course.ID,
		"recipients", len(contacts),
		"sent", sent)
	return nil
}

func (s *NotificationService) sendReminder(payload assessmentReminderJob) error {
	pendingURL := fmt.Sprintf("%s/assessments/pending", s.baseURL)
	noun := "assessments"
	if payload.PendingCount == 1 {
		noun = "assessment"
	}
	return s.mail.Send(mailer.Message{
		To:      payload.Email,
		Subject: fmt.Sprintf("You have %d pending %s", payload.PendingCount, noun),
		Text: fmt.Sprintf("Hi %s,\n\nYou have %d pending %s waiting for you. See them at %s.\n",
			payload.Name, payload.PendingCount, noun, pendingURL),
		HTML: fmt.Sprintf("<p>Hi %s,</p><p>You have <strong>%d</strong> pending %s waiting for you.</p><p><a href=%q>View pending assessments</a></p>",
			payload.Name, payload.PendingCount, noun, pendingURL),
	})
}
