package notification

import (
	"net/mail"
	"strings"

	"github.com/astroacademy/backend/core"
)

type (
	welcomeData struct {
		Email      string
		Categories []Category
	}

	notificationData struct {
		Type     Type
		Category Category
		Title    string
		Message  string
		Link     string
	}

	planningData struct {
		notificationData
		Calendar []CalendarEntry
		Summary  string
	}

	educationalData struct {
		notificationData
		DetailedContent string
		FunFact         string
	}
)

func newNotificationData(n Notification) notificationData {
	return notificationData{
		Type:     n.Type,
		Category: n.Category,
		Title:    n.Title,
		Message:  n.Message,
		Link:     n.LinkPath(),
	}
}

func newWelcomeMessage(sub Subscription) *core.EmailMessage {
	return &core.EmailMessage{
		To:               []mail.Address{{Address: sub.Email}},
		Subject:          "Welcome to space alerts",
		TemplateName:     tmplWelcome,
		TemplateData:     welcomeData{Email: sub.Email, Categories: sub.Preferences.Enabled()},
		UnsubscribeToken: sub.UnsubscribeToken,
	}
}

// newBroadcastMessage renders n for one subscriber with the template picked by selectTemplate.
func newBroadcastMessage(tmplName string, n Notification, extra ExtraData, sub Subscription) *core.EmailMessage {
	msg := &core.EmailMessage{
		To:               []mail.Address{{Address: sub.Email}},
		TemplateName:     tmplName,
		UnsubscribeToken: sub.UnsubscribeToken,
	}
	data := newNotificationData(n)

	switch tmplName {
	case tmplPlanning:
		msg.Subject = "Mission planning: " + n.Title
		msg.TemplateData = planningData{notificationData: data, Calendar: extra.Calendar, Summary: extra.Summary}
	case tmplEducational:
		msg.Subject = "Learn: " + n.Title
		msg.TemplateData = educationalData{
			notificationData: data,
			DetailedContent:  extra.DetailedContent,
			FunFact:          extra.FunFact,
		}
	default:
		msg.Subject = "[" + strings.ToUpper(string(n.Type)) + "] " + n.Title
		msg.TemplateData = data
	}
	return msg
}

// NewInstructorApprovalMessage builds the email telling an applicant the outcome of their review.
func NewInstructorApprovalMessage(ia InstructorApproval) *core.EmailMessage {
	subject := "Your instructor application has been approved"
	if !ia.Approved {
		subject = "Update on your instructor application"
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: ia.Name, Address: ia.Email}},
		Subject:      subject,
		TemplateName: tmplInstructorApproval,
		TemplateData: ia,
	}
}

func newTestMessage(to mail.Address) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      "Test email",
		TemplateName: tmplTest,
	}
}
