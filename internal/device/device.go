package device

import (
	"regexp"
	"strings"
)

// DeviceInfo contains parsed device information
type DeviceInfo struct {
	Name    string // Friendly name like "iPhone" or "Windows PC"
	Type    string // "mobile", "tablet", "desktop", "unknown"
	OS      string
	Browser string
}

var (
	iosVersion   = regexp.MustCompile(`cpu iphone os (\d+)`)
	androidModel = regexp.MustCompile(`android [\d.]+;\s*([^)]+?)\s*(?:build|;|\))`)
)

// ParseUserAgent extracts device information from a User-Agent string
func ParseUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{
		Name:    "Unknown Device",
		Type:    "unknown",
		OS:      "Unknown",
		Browser: "Unknown",
	}
	if ua == "" {
		return info
	}
	ua = strings.ToLower(ua)

	switch {
	case strings.Contains(ua, "iphone"):
		info.Name, info.Type, info.OS = "iPhone", "mobile", "iOS"
		if m := iosVersion.FindStringSubmatch(ua); len(m) > 1 {
			info.Name = "iPhone (iOS " + m[1] + ")"
		}
	case strings.Contains(ua, "ipad"):
		info.Name, info.Type, info.OS = "iPad", "tablet", "iOS"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
		info.Name, info.Type = "Android Device", "mobile"
		if strings.Contains(ua, "mobile") {
			info.Name = "Android Phone"
		} else if strings.Contains(ua, "tablet") {
			info.Name, info.Type = "Android Tablet", "tablet"
		}
		if model := extractAndroidModel(ua); model != "" {
			info.Name = model
		}
	case strings.Contains(ua, "cros"):
		info.Name, info.Type, info.OS = "Chromebook", "desktop", "ChromeOS"
	case strings.Contains(ua, "macintosh") || strings.Contains(ua, "mac os"):
		info.Name, info.Type, info.OS = "Mac", "desktop", "macOS"
	case strings.Contains(ua, "windows"):
		info.Name, info.Type, info.OS = "Windows PC", "desktop", "Windows"
	case strings.Contains(ua, "smart-tv") || strings.Contains(ua, "smarttv") || strings.Contains(ua, "tizen"):
		info.Name, info.Type, info.OS = "Smart TV", "tv", "TV"
	case strings.Contains(ua, "linux"):
		info.Name, info.Type, info.OS = "Linux PC", "desktop", "Linux"
	}

	switch {
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "edg"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome") && !strings.Contains(ua, "chromium"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "safari") && !strings.Contains(ua, "chrome"):
		info.Browser = "Safari"
	case strings.Contains(ua, "chromium"):
		info.Browser = "Chromium"
	}

	return info
}

func extractAndroidModel(ua string) string {
	m := androidModel.FindStringSubmatch(ua)
	if len(m) < 2 {
		return ""
	}
	model := strings.TrimSpace(m[1])
	model = strings.TrimPrefix(model, "en-us; ")
	model = strings.TrimPrefix(model, "en-gb; ")
	if model == "" || len(model) >= 30 || model == "k" {
		return ""
	}
	return model
}

// Label returns a short description such as "Chrome on Mac" for login records
func Label(ua string) string {
	info := ParseUserAgent(ua)
	if info.Browser == "Unknown" {
		return info.Name
	}
	return info.Browser + " on " + info.Name
}
