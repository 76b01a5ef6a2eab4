package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mentorbook/mentorship-booking/internal/booking"
)

// LogNotifier records notification intents in the log. Actual email delivery
// is handled by an external collaborator; swapping it in means implementing
// booking.Notifier against the mail pipeline.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyRequesterConfirmed(ctx context.Context, b *booking.Booking, m *booking.Mentor) error {
	n.log.Infow("booking confirmation for requester",
		"booking_id", b.ID,
		"requester_email", b.Requester.Email,
		"mentor", m.Name,
		"meeting_link", b.MeetingLink,
	)
	return nil
}

func (n *LogNotifier) NotifyMentorBooked(ctx context.Context, b *booking.Booking, m *booking.Mentor) error {
	n.log.Infow("new booking notification for mentor",
		"booking_id", b.ID,
		"mentor_email", m.Email,
		"session_type", b.SessionType,
	)
	return nil
}
