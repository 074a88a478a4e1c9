// Package templates renders patient-facing messages for appointment events.
package templates

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/carelink/apptpipeline/libs/events"
)

const DateLayout = "02/01/2006 15:04"

type Message struct {
	To      string
	Subject string
	Body    string
}

type kind struct {
	subject string
	body    *template.Template
}

const signature = "Thank you,\nHospital Management System"

var (
	scheduled = kind{
		subject: "Appointment Scheduled",
		body: template.Must(template.New("scheduled").Parse(`Dear {{.PatientName}},

Your appointment has been scheduled!

Details:
- Doctor: {{.DoctorName}}
- Date/Time: {{.Date}}
- Appointment ID: {{.AppointmentID}}

Please arrive 15 minutes before your appointment time.

` + signature)),
	}
	updated = kind{
		subject: "Appointment Updated",
		body: template.Must(template.New("updated").Parse(`Dear {{.PatientName}},

Your appointment has been updated!

Details:
- Doctor: {{.DoctorName}}
- Date/Time: {{.Date}}
- Appointment ID: {{.AppointmentID}}

Please check the updated information carefully.

` + signature)),
	}
	cancelled = kind{
		subject: "Appointment Cancelled",
		body: template.Must(template.New("cancelled").Parse(`Dear {{.PatientName}},

Your appointment has been cancelled.

Cancelled Appointment Details:
- Doctor: {{.DoctorName}}
- Date/Time: {{.Date}}
- Appointment ID: {{.AppointmentID}}

If you did not request this cancellation, please contact us immediately.

` + signature)),
	}
)

type data struct {
	PatientName   string
	DoctorName    string
	Date          string
	AppointmentID int64
}

type Renderer struct {
	loc *time.Location
}

// NewRenderer formats appointment dates in loc; nil means UTC.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

func (r *Renderer) Render(evt events.AppointmentEvent) (Message, error) {
	var k kind
	switch {
	case evt.EventType == events.Created:
		k = scheduled
	case evt.IsCancellation():
		k = cancelled
	case evt.EventType == events.Updated:
		k = updated
	default:
		return Message{}, fmt.Errorf("no template for event type %q", evt.EventType)
	}

	var buf bytes.Buffer
	err := k.body.Execute(&buf, data{
		PatientName:   evt.PatientName,
		DoctorName:    evt.DoctorName,
		Date:          evt.AppointmentDate.In(r.loc).Format(DateLayout),
		AppointmentID: evt.AppointmentID,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render %s: %w", k.body.Name(), err)
	}
	return Message{To: evt.PatientEmail, Subject: k.subject, Body: buf.String()}, nil
}
