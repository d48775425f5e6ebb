package alerts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

func TestRenderTemplate(t *testing.T) {
	values := map[string]string{"device_name": "Thermo", "value": "26.5"}

	tests := []struct {
		name     string
		template string
		want     string
		ok       bool
	}{
		{"plain text", "no placeholders here", "no placeholders here", true},
		{"single placeholder", "{device_name} alert", "Thermo alert", true},
		{"multiple placeholders", "{device_name}: {value}", "Thermo: 26.5", true},
		{"adjacent placeholders", "{device_name}{value}", "Thermo26.5", true},
		{"unknown placeholder", "hello {bogus}", "", false},
		{"unclosed brace", "hello {device_name", "", false},
		{"empty template", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := renderTemplate(tt.template, values)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderAlertEmailDefaults(t *testing.T) {
	rule := &models.EmailAlertRule{Name: "hot", Preset: models.PresetTempHigh}
	device := models.Device{ID: 1, Name: "Thermo"}
	at := time.Date(2024, time.July, 12, 15, 4, 5, 0, time.UTC)

	subject, body := RenderAlertEmail(rule, device, 26.5, at)

	assert.Equal(t, "[Smart Home Alert] High Temperature - Thermo", subject)
	assert.Equal(t, "Trigger device: Thermo\nTrigger condition: High Temperature\nCurrent value: 26.5\nTime: 2024-07-12 15:04:05", body)
}

func TestRenderAlertEmailCustomTemplates(t *testing.T) {
	rule := &models.EmailAlertRule{
		Preset:          models.PresetSmoke,
		SubjectTemplate: "FIRE at {device_name}",
		BodyTemplate:    "{preset} reading {value}",
	}
	device := models.Device{ID: 5, Name: "Kitchen"}

	subject, body := RenderAlertEmail(rule, device, 1, time.Now())

	assert.Equal(t, "FIRE at Kitchen", subject)
	assert.Equal(t, "Smoke Alarm reading 1", body)
}

func TestRenderAlertEmailBrokenTemplateFallsBack(t *testing.T) {
	rule := &models.EmailAlertRule{
		Preset:          models.PresetTempHigh,
		SubjectTemplate: "oops {bogus}",
		BodyTemplate:    "oops {device_name",
	}
	device := models.Device{ID: 1, Name: "Thermo"}
	at := time.Date(2024, time.July, 12, 15, 4, 5, 0, time.UTC)

	subject, body := RenderAlertEmail(rule, device, 30, at)

	assert.Equal(t, "[Smart Home Alert] High Temperature - Thermo", subject)
	assert.Contains(t, body, "Trigger device: Thermo")
}

func TestRenderAlertEmailBlankTemplatesUseDefaults(t *testing.T) {
	rule := &models.EmailAlertRule{Preset: models.PresetHumiLow, SubjectTemplate: "   ", BodyTemplate: "\n"}
	device := models.Device{ID: 1, Name: "Thermo"}

	subject, body := RenderAlertEmail(rule, device, 12, time.Now())

	assert.Contains(t, subject, "Low Humidity")
	assert.Contains(t, body, "Current value: 12")
}

func TestRenderAlertEmailCapsSubject(t *testing.T) {
	rule := &models.EmailAlertRule{
		Preset:          models.PresetCustom,
		SubjectTemplate: strings.Repeat("x", 300),
	}

	subject, _ := RenderAlertEmail(rule, models.Device{Name: "d"}, 0, time.Now())

	assert.Len(t, []rune(subject), 200)
}

func TestRenderAlertEmailValueFormatting(t *testing.T) {
	rule := &models.EmailAlertRule{Preset: models.PresetCustom, BodyTemplate: "{value}"}

	_, body := RenderAlertEmail(rule, models.Device{Name: "d"}, 1013, time.Now())
	assert.Equal(t, "1013", body)

	_, body = RenderAlertEmail(rule, models.Device{Name: "d"}, 26.53, time.Now())
	assert.Equal(t, "26.53", body)
}

func TestRenderAlertEmailUnknownPresetUsesID(t *testing.T) {
	rule := &models.EmailAlertRule{Preset: "vibration", SubjectTemplate: "{preset}"}

	subject, _ := RenderAlertEmail(rule, models.Device{Name: "d"}, 0, time.Now())

	assert.Equal(t, "vibration", subject)
}
