package notification

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/auditdesk/portal/svc/directory"
)

// Content is the rendered form of a notification.
type Content struct {
	Subject   string
	Text      string
	ActionURL string
}

// TemplateData is the typed payload a template renders from.
type TemplateData struct {
	Type          Type
	Sender        *directory.User
	Recipient     *directory.User
	Client        *directory.Client
	Audit         *directory.Audit
	PreviousValue string
	NewValue      string
}

// TemplateService renders notification content. It is safe for concurrent use.
type TemplateService struct {
	baseURL string
	lang    language.Tag
}

// NewTemplateService creates a renderer. ActionURL is relative when baseURL is empty.
func NewTemplateService(baseURL string) *TemplateService {
	return &TemplateService{
		baseURL: strings.TrimRight(baseURL, "/"),
		lang:    language.English,
	}
}

// Render produces the subject, plain text and action link for d.
func (s *TemplateService) Render(d TemplateData) (Content, error) {
	sender := d.Sender.DisplayName()
	if sender == "" {
		sender = "Someone"
	}

	switch d.Type {
	case TypeClientAssignment:
		if d.Client == nil {
			return Content{}, fmt.Errorf("%w: client payload missing", ErrInvalidNotification)
		}
		return Content{
			Subject:   "New client assignment: " + d.Client.Name,
			Text:      fmt.Sprintf("%s assigned you to client %s.", sender, d.Client.Name),
			ActionURL: s.link("clients", d.Client.ID),
		}, nil

	case TypeAuditAssignment:
		if d.Audit == nil {
			return Content{}, fmt.Errorf("%w: audit payload missing", ErrInvalidNotification)
		}
		return Content{
			Subject:   fmt.Sprintf("New audit assignment: %s %d", d.Audit.ClientName, d.Audit.Year),
			Text:      fmt.Sprintf("%s assigned you to the %d audit for %s.", sender, d.Audit.Year, d.Audit.ClientName),
			ActionURL: s.link("audits", d.Audit.ID),
		}, nil

	case TypeAuditStageUpdate, TypeAuditStatusUpdate:
		if d.Audit == nil {
			return Content{}, fmt.Errorf("%w: audit payload missing", ErrInvalidNotification)
		}
		field := "stage"
		if d.Type == TypeAuditStatusUpdate {
			field = "status"
		}
		prev, next := s.humanize(d.PreviousValue), s.humanize(d.NewValue)
		text := fmt.Sprintf("%s changed the %s of the %d audit for %s from %s to %s.",
			sender, field, d.Audit.Year, d.Audit.ClientName, prev, next)
		if prev == "" {
			text = fmt.Sprintf("%s set the %s of the %d audit for %s to %s.",
				sender, field, d.Audit.Year, d.Audit.ClientName, next)
		}
		return Content{
			Subject:   fmt.Sprintf("%s %d audit %s: %s", d.Audit.ClientName, d.Audit.Year, field, next),
			Text:      text,
			ActionURL: s.link("audits", d.Audit.ID),
		}, nil
	}

	return Content{}, fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, d.Type)
}

// humanize turns "in_progress" into "In Progress".
func (s *TemplateService) humanize(v string) string {
	v = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(v))
	if v == "" {
		return ""
	}
	// Casers are stateful, so each call gets its own.
	return cases.Title(s.lang).String(strings.ToLower(v))
}

func (s *TemplateService) link(section, id string) string {
	return s.baseURL + "/" + section + "/" + url.PathEscape(id)
}
