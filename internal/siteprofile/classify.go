package siteprofile

import (
	"net/url"
	"strings"
)

// Classify maps a page URL to a site tag. The mapping is a fixed
// host/path table and is deterministic: same URL, same tag.
func Classify(rawURL string) Tag {
	u, err := url.Parse(rawURL)
	if err != nil {
		return TagGeneric
	}
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	switch {
	case hostHas(host, "chat.openai.com"), hostHas(host, "chatgpt.com"):
		return TagChatGPT
	case hostHas(host, "translate.google.com"):
		return TagGoogleTranslate
	case hostHas(host, "google.com"):
		if strings.HasPrefix(path, "/search") || path == "/" {
			return TagGoogleSearch
		}
		return TagGoogleGeneric
	case hostHas(host, "bing.com"):
		return TagBing
	case hostHas(host, "youtube.com"):
		return TagYouTube
	default:
		return TagGeneric
	}
}

func hostHas(host, needle string) bool {
	return strings.Contains(host, needle)
}
