package audit

import (
	"net/http"
	"regexp"
	"strings"
)

// Fallbacks used when the user agent is absent or unrecognised
const (
	UnknownUserAgent = "Unknown"
	UnknownDevice    = "Unknown Device"
	UnknownOS        = "Unknown OS"
	UnknownBrowser   = "Unknown Browser"
)

// DeviceInfo is the coarse device description derived from a user agent
type DeviceInfo struct {
	DeviceName  string `json:"device_name"`
	OSName      string `json:"os_name"`
	BrowserName string `json:"browser_name"`
	IsMobile    bool   `json:"is_mobile"`
}

// RequestContext carries the network facts of the request that triggered an audited action
type RequestContext struct {
	IPAddress *string
	UserAgent string
}

// clientIPHeaders are consulted in order; X-Forwarded-For contributes its first entry only
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
}

var (
	mobileRe = regexp.MustCompile(`mobile|android|iphone|ipad|ipod|windows phone|blackberry|opera mini|iemobile`)

	windowsPhoneOSRe = regexp.MustCompile(`windows phone(?: os)? (\d+(?:\.\d+)?)`)
	iosRe            = regexp.MustCompile(`os (\d+)(?:_(\d+))?(?:_\d+)* like mac os x`)
	androidOSRe      = regexp.MustCompile(`android (\d+(?:\.\d+)?)`)
	windowsNTRe      = regexp.MustCompile(`windows nt (\d+\.\d+)`)
	macOSRe          = regexp.MustCompile(`mac os x (\d+)[_.](\d+)`)

	edgeRe    = regexp.MustCompile(`(?:edg|edge|edga|edgios)/(\d+)`)
	operaRe   = regexp.MustCompile(`(?:opr/|opera[/ ])(\d+)`)
	// Presto builds froze the product token at 9.80 and moved the real version
	prestoRe  = regexp.MustCompile(`opera/9\.80.*version/(\d+)`)
	chromeRe  = regexp.MustCompile(`(?:chrome|crios)/(\d+)`)
	firefoxRe = regexp.MustCompile(`(?:firefox|fxios)/(\d+)`)
	safariRe  = regexp.MustCompile(`version/(\d+).*safari`)
	msieRe    = regexp.MustCompile(`msie (\d+)`)
	tridentRe = regexp.MustCompile(`trident/.*rv:(\d+)`)
)

var windowsNTNames = map[string]string{
	"10.0": "Windows 10",
	"6.3":  "Windows 8.1",
	"6.2":  "Windows 8",
	"6.1":  "Windows 7",
}

// ParseUserAgent derives device, OS, browser and mobile flag from a raw user
// agent. It is pure and deterministic: the same input always yields the same output.
func ParseUserAgent(ua string) DeviceInfo {
	if strings.TrimSpace(ua) == "" {
		return DeviceInfo{DeviceName: UnknownDevice, OSName: UnknownOS, BrowserName: UnknownBrowser}
	}
	s := strings.ToLower(ua)
	return DeviceInfo{
		DeviceName:  parseDevice(s),
		OSName:      parseOS(s),
		BrowserName: parseBrowser(s),
		IsMobile:    mobileRe.MatchString(s),
	}
}

func parseDevice(s string) string {
	switch {
	case strings.Contains(s, "windows phone"):
		return "Windows Phone"
	case strings.Contains(s, "iphone"):
		return "iPhone"
	case strings.Contains(s, "ipad"):
		return "iPad"
	case strings.Contains(s, "android"):
		return "Android Device"
	case strings.Contains(s, "windows"):
		return "Windows PC"
	case strings.Contains(s, "macintosh"), strings.Contains(s, "mac os"):
		return "Mac"
	case strings.Contains(s, "linux"):
		return "Linux PC"
	}
	return UnknownDevice
}

func parseOS(s string) string {
	if strings.Contains(s, "windows phone") {
		if m := windowsPhoneOSRe.FindStringSubmatch(s); m != nil {
			return "Windows Phone " + m[1]
		}
		return "Windows Phone"
	}
	if m := iosRe.FindStringSubmatch(s); m != nil {
		if m[2] != "" {
			return "iOS " + m[1] + "." + m[2]
		}
		return "iOS " + m[1]
	}
	if strings.Contains(s, "iphone") || strings.Contains(s, "ipad") || strings.Contains(s, "ipod") {
		return "iOS"
	}
	if strings.Contains(s, "android") {
		if m := androidOSRe.FindStringSubmatch(s); m != nil {
			return "Android " + m[1]
		}
		return "Android"
	}
	if strings.Contains(s, "windows") {
		if m := windowsNTRe.FindStringSubmatch(s); m != nil {
			if name, ok := windowsNTNames[m[1]]; ok {
				return name
			}
		}
		return "Windows"
	}
	if strings.Contains(s, "mac os x") || strings.Contains(s, "macintosh") {
		if m := macOSRe.FindStringSubmatch(s); m != nil {
			return "macOS " + m[1] + "." + m[2]
		}
		return "macOS"
	}
	if strings.Contains(s, "linux") {
		return "Linux"
	}
	return UnknownOS
}

func parseBrowser(s string) string {
	type rule struct {
		name   string
		marker []string
		res    []*regexp.Regexp
	}
	rules := []rule{
		{"Edge", []string{"edg/", "edge/", "edga/", "edgios/"}, []*regexp.Regexp{edgeRe}},
		{"Opera", []string{"opr/", "opera"}, []*regexp.Regexp{prestoRe, operaRe}},
		{"Chrome", []string{"chrome/", "crios/"}, []*regexp.Regexp{chromeRe}},
		{"Firefox", []string{"firefox/", "fxios/"}, []*regexp.Regexp{firefoxRe}},
		{"Safari", []string{"safari"}, []*regexp.Regexp{safariRe}},
		{"Internet Explorer", []string{"msie ", "trident/"}, []*regexp.Regexp{msieRe, tridentRe}},
	}

	for _, r := range rules {
		if !containsAny(s, r.marker) {
			continue
		}
		for _, re := range r.res {
			if m := re.FindStringSubmatch(s); m != nil {
				return r.name + " " + m[1]
			}
		}
		return r.name
	}
	return UnknownBrowser
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ResolveClientIP returns the originating client IP from proxy headers, or nil
// when none of them is present.
func ResolveClientIP(h http.Header) *string {
	for _, name := range clientIPHeaders {
		v := h.Get(name)
		if name == "X-Forwarded-For" {
			if idx := strings.Index(v, ","); idx >= 0 {
				v = v[:idx]
			}
		}
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}

// CaptureRequest extracts the RequestContext of r
func CaptureRequest(r *http.Request) RequestContext {
	return RequestContext{
		IPAddress: ResolveClientIP(r.Header),
		UserAgent: r.UserAgent(),
	}
}
