package web

import "strings"

// inAppBrowserMarkers identify webview user agents that cannot complete an
// OAuth redirect flow in place.
var inAppBrowserMarkers = []string{
	"FBAN", "FBAV", // Facebook
	"Instagram",
	"Line/",
	"Twitter",
	"BytedanceWebview",
	"GSA/", // Google app
	"; wv)", // Android WebView
	"MicroMessenger", // WeChat
}

// IsInAppBrowser reports whether the user agent is an in-app webview. An
// empty user agent is treated as a regular browser: no redirect.
func IsInAppBrowser(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	for _, marker := range inAppBrowserMarkers {
		if strings.Contains(userAgent, marker) {
			return true
		}
	}
	return false
}
