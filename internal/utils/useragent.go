package utils

import (
	ua "github.com/mssola/user_agent"
)

// ParseUserAgent extracts coarse device information from a User-Agent string.
// The result is stored alongside payment audit rows, so it is shaped as a
// generic map ready for a JSONB column.
func ParseUserAgent(userAgent string) map[string]interface{} {
	if userAgent == "" {
		return map[string]interface{}{
			"device_type": "unknown",
			"os":          "Unknown",
			"browser":     "Unknown",
		}
	}

	parser := ua.New(userAgent)
	browser, browserVer := parser.Browser()

	deviceType := "desktop"
	if parser.Mobile() {
		deviceType = "mobile"
	}

	return map[string]interface{}{
		"device_type": deviceType,
		"os":          parser.OS(),
		"browser":     browser,
		"browser_ver": browserVer,
		"is_bot":      parser.Bot(),
		"platform":    parser.Platform(),
	}
}
