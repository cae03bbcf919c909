// Package channels implements the delivery channels for renewal messaging.
// Each channel renders a message kind from a shared payload and transmits it
// through its provider client; the Gateway dispatches by channel type and
// normalizes every outcome to sent, skipped, or failed.
package channels

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"policypulse/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedMessage holds pre-rendered content for every channel shape: full
// email (subject + HTML + plaintext) and the short text used by SMS and
// WhatsApp.
type RenderedMessage struct {
	Subject   string
	BodyHTML  string
	BodyText  string
	ShortText string
}

// templateData is the struct passed into the message templates.
type templateData struct {
	CustomerName           string
	PolicyNumber           string
	PolicyType             string
	RenewalDateFormatted   string
	RenewalAmountFormatted string
	DaysRemaining          int
}

// subjects maps message kinds to their email subject template. Subjects are
// rendered with fmt rather than text/template since they only interpolate
// one or two fields.
func subjectFor(kind types.MessageKind, data templateData) string {
	switch kind {
	case types.MessageRenewalReminder:
		if data.DaysRemaining == 1 {
			return fmt.Sprintf("Your %s policy %s renews tomorrow", data.PolicyType, data.PolicyNumber)
		}
		return fmt.Sprintf("Your %s policy %s renews in %d days", data.PolicyType, data.PolicyNumber, data.DaysRemaining)
	case types.MessageRetention:
		return fmt.Sprintf("Don't let your %s policy %s lapse", data.PolicyType, data.PolicyNumber)
	case types.MessageRenewalConfirmation:
		return fmt.Sprintf("Renewal confirmed for policy %s", data.PolicyNumber)
	default:
		return fmt.Sprintf("About your policy %s", data.PolicyNumber)
	}
}

// Renderer performs client-side message rendering using Go templates parsed
// from the embedded template files. One Renderer is shared by all channels.
type Renderer struct {
	htmlTemplates  map[types.MessageKind]*template.Template
	textTemplates  map[types.MessageKind]*texttemplate.Template
	shortTemplates map[types.MessageKind]*texttemplate.Template
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		htmlTemplates:  make(map[types.MessageKind]*template.Template),
		textTemplates:  make(map[types.MessageKind]*texttemplate.Template),
		shortTemplates: make(map[types.MessageKind]*texttemplate.Template),
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	kinds := []types.MessageKind{
		types.MessageRenewalReminder,
		types.MessageRetention,
		types.MessageRenewalConfirmation,
	}

	for _, kind := range kinds {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl

		smsContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s_sms.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s_sms.txt: %w", name, err)
		}
		smsTmpl, err := texttemplate.New(name + "_sms").Parse(string(smsContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s_sms.txt: %w", name, err)
		}
		r.shortTemplates[kind] = smsTmpl
	}

	return r, nil
}

// Render produces the full rendered message for the given kind and payload.
func (r *Renderer) Render(kind types.MessageKind, payload types.ReminderPayload) (*RenderedMessage, error) {
	htmlTmpl, ok := r.htmlTemplates[kind]
	if !ok {
		return nil, fmt.Errorf("renderer: unknown message kind %q", kind)
	}

	data := templateData{
		CustomerName:           payload.CustomerName,
		PolicyNumber:           payload.PolicyNumber,
		PolicyType:             string(payload.PolicyType),
		RenewalDateFormatted:   payload.RenewalDate.Format("Monday, 2 January 2006"),
		RenewalAmountFormatted: formatAmount(payload.RenewalAmount),
		DaysRemaining:          payload.DaysRemaining,
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render %s html: %w", kind, err)
	}

	var txtBuf bytes.Buffer
	if err := r.textTemplates[kind].Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render %s text: %w", kind, err)
	}

	var smsBuf bytes.Buffer
	if err := r.shortTemplates[kind].Execute(&smsBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render %s short text: %w", kind, err)
	}

	return &RenderedMessage{
		Subject:   subjectFor(kind, data),
		BodyHTML:  htmlBuf.String(),
		BodyText:  txtBuf.String(),
		ShortText: smsBuf.String(),
	}, nil
}

// formatAmount renders a premium amount with thousands separators and two
// decimal places, e.g. 12360.5 -> "INR 12,360.50".
func formatAmount(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)

	intPart := s[:len(s)-3]
	frac := s[len(s)-3:]

	negative := false
	if len(intPart) > 0 && intPart[0] == '-' {
		negative = true
		intPart = intPart[1:]
	}

	var out []byte
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}

	result := string(out) + frac
	if negative {
		result = "-" + result
	}
	return "INR " + result
}
