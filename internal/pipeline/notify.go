package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"field-route-service/internal/entity"
	"field-route-service/internal/notify"
	"field-route-service/internal/service"
)

var reminderTemplate = template.Must(template.New("reminder").Parse(`<p>Hi {{if .CustomerName}}{{.CustomerName}}{{else}}there{{end}},</p>
<p>This is a reminder that your service visit is scheduled for <strong>{{.Date}}</strong>{{if .TimeSlot}} ({{.TimeSlot}}){{end}}.</p>
<p>Address: {{.Address}}</p>
`))

type reminderData struct {
	CustomerName string
	Date         string
	TimeSlot     string
	Address      string
}

func renderReminder(b entity.Booking) (string, error) {
	var buf bytes.Buffer
	err := reminderTemplate.Execute(&buf, reminderData{
		CustomerName: b.CustomerName,
		Date:         b.ServiceDate.Format("Monday, January 2, 2006"),
		TimeSlot:     b.TimeSlot,
		Address:      b.Address,
	})
	return buf.String(), err
}

// SendReminders queues one send-email per booking scheduled for tomorrow in
// the business timezone. Bookings without an email address are skipped.
func (h *Handlers) SendReminders(ctx context.Context, _ struct{}) error {
	tomorrow := entity.ServiceDay(h.now().In(h.settings.Location)).AddDate(0, 0, 1)

	bookings, err := h.store.ListBookingsByDate(ctx, tomorrow)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}

	queued := 0
	for _, b := range bookings {
		if strings.TrimSpace(b.Email) == "" {
			continue
		}
		html, err := renderReminder(b)
		if err != nil {
			return service.Permanent(fmt.Errorf("render reminder: %w", err))
		}
		_, err = h.scheduler.Schedule(ctx, service.TaskSendEmail, entity.EmailPayload{
			To:      b.Email,
			Subject: "Your service visit tomorrow",
			HTML:    html,
		})
		if err != nil {
			return fmt.Errorf("schedule reminder for booking %s: %w", b.ID, err)
		}
		queued++
	}

	h.logger.Info("reminders queued", "date", tomorrow.Format(entity.DateLayout), "count", queued)
	return nil
}

func (h *Handlers) SendEmail(ctx context.Context, p entity.EmailPayload) error {
	if strings.TrimSpace(p.To) == "" {
		return service.Permanent(notify.ErrNoRecipient)
	}
	err := h.sender.Send(ctx, notify.Email{
		From:    h.settings.EmailFrom,
		To:      p.To,
		Subject: p.Subject,
		HTML:    p.HTML,
	})
	if errors.Is(err, notify.ErrNoRecipient) {
		return service.Permanent(err)
	}
	return err
}
