package alerts

import (
	"strconv"
	"strings"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// Stock templates used when a rule carries no custom template or its custom
// template is broken.
const (
	DefaultSubjectTemplate = "[Smart Home Alert] {preset} - {device_name}"
	DefaultBodyTemplate    = "Trigger device: {device_name}\nTrigger condition: {preset}\nCurrent value: {value}\nTime: {time}"
)

const maxSubjectLen = 200

// renderTemplate substitutes {name} placeholders. It reports failure when
// the template references an unknown placeholder or has an unclosed brace,
// so callers can fall back to a stock template instead of emitting partial
// output.
func renderTemplate(template string, values map[string]string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])

		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			return "", false
		}
		end += open

		value, ok := values[template[open+1:end]]
		if !ok {
			return "", false
		}
		b.WriteString(value)
		i = end + 1
	}
	return b.String(), true
}

// RenderAlertEmail renders a rule's subject and body for one firing. The
// subject is capped at 200 characters.
func RenderAlertEmail(rule *models.EmailAlertRule, device models.Device, value float64, at time.Time) (string, string) {
	values := map[string]string{
		"preset":      models.PresetDisplay(rule.Preset),
		"device_name": device.Name,
		"value":       strconv.FormatFloat(value, 'f', -1, 64),
		"time":        at.Format("2006-01-02 15:04:05"),
	}

	subjectTemplate := rule.SubjectTemplate
	if strings.TrimSpace(subjectTemplate) == "" {
		subjectTemplate = DefaultSubjectTemplate
	}
	subject, ok := renderTemplate(subjectTemplate, values)
	if !ok {
		subject, _ = renderTemplate(DefaultSubjectTemplate, values)
	}

	bodyTemplate := rule.BodyTemplate
	if strings.TrimSpace(bodyTemplate) == "" {
		bodyTemplate = DefaultBodyTemplate
	}
	body, ok := renderTemplate(bodyTemplate, values)
	if !ok {
		body, _ = renderTemplate(DefaultBodyTemplate, values)
	}

	if runes := []rune(subject); len(runes) > maxSubjectLen {
		subject = string(runes[:maxSubjectLen])
	}
	return subject, body
}
