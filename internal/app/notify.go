package app

import (
	"github.com/rs/zerolog"

	"tomorrow/api/internal/email"
	"tomorrow/api/internal/store"
)

// EmailNotifier mails staff whose contact field holds an address. Sending
// happens off the request path; failures are only logged.
type EmailNotifier struct {
	mail *email.Service
	log  zerolog.Logger
	// sent, when set, observes each delivery attempt.
	sent func(to string, err error)
}

func NewEmailNotifier(mail *email.Service, log zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{mail: mail, log: log.With().Str("component", "notify").Logger()}
}

func (n *EmailNotifier) PrayerAssigned(staff store.Staff, prayer store.Prayer) {
	to, ok := email.Address(staff.Contact)
	if !ok || !n.mail.IsConfigured() {
		return
	}
	data := email.AssignmentData{
		StaffName:   staff.Name,
		Requester:   prayer.Name,
		Body:        prayer.Body,
		SubmittedAt: prayer.CreatedAt,
	}
	go func() {
		err := n.mail.SendPrayerAssigned(to, data)
		if err != nil {
			n.log.Warn().Err(err).Str("staff_id", staff.ID).Str("prayer_id", prayer.ID).Msg("assignment email failed")
		}
		if n.sent != nil {
			n.sent(to, err)
		}
	}()
}
