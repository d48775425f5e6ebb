package gateway

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// Well-known report keys rendered with units, in display order. Everything
// else is appended verbatim as key=value.
var summaryKeys = []string{"temp", "humi", "on", "speed", "light", "pressure"}

// stateSummary renders a report as the human-readable message stored on the
// MQTT_GATEWAY log row.
func stateSummary(deviceName string, report models.StateMap) string {
	parts := make([]string, 0, len(report))
	for _, key := range summaryKeys {
		raw, ok := report[key]
		if !ok {
			continue
		}
		switch key {
		case "temp":
			parts = append(parts, fmt.Sprintf("temperature %s°C", formatValue(raw)))
		case "humi":
			parts = append(parts, fmt.Sprintf("humidity %s%%RH", formatValue(raw)))
		case "on":
			if models.Truthy(raw) {
				parts = append(parts, "switched on")
			} else {
				parts = append(parts, "switched off")
			}
		case "speed":
			parts = append(parts, fmt.Sprintf("fan speed %s", formatValue(raw)))
		case "light":
			parts = append(parts, fmt.Sprintf("light %slx", formatValue(raw)))
		case "pressure":
			parts = append(parts, fmt.Sprintf("pressure %shPa", formatValue(raw)))
		}
	}

	extra := make([]string, 0, len(report))
	for key := range report {
		if isSummaryKey(key) {
			continue
		}
		extra = append(extra, key)
	}
	sort.Strings(extra)
	for _, key := range extra {
		parts = append(parts, fmt.Sprintf("%s=%s", key, formatValue(report[key])))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("Device '%s' state updated", deviceName)
	}
	return fmt.Sprintf("Device '%s' reported: %s", deviceName, strings.Join(parts, ", "))
}

func isSummaryKey(key string) bool {
	for _, k := range summaryKeys {
		if k == key {
			return true
		}
	}
	return false
}

func formatValue(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	}
	if f, ok := models.Float(raw); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", raw)
}
