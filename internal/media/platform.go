package media

import (
	"regexp"
	"slices"
	"strings"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// AllPlatforms lists the publication platforms an account may declare.
var AllPlatforms = []string{
	"tiktok", "youtube", "x", "instagram",
	"facebook", "threads", "linkedin",
	"reddit", "twitch", "snapchat",
	"pinterest", "discord", "telegram",
}

// PostExt is the container extension of converted per-platform files.
const PostExt = ".mp4"

// IsPlatform reports whether name (case-insensitive) is a known platform.
func IsPlatform(name string) bool {
	return slices.Contains(AllPlatforms, strings.ToLower(name))
}

// normalizePlatforms lower-cases names and drops unknown and duplicate ones.
func normalizePlatforms(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if IsPlatform(n) && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func errInvalidPlatform(platform string) error {
	return apperrors.BadRequest(apperrors.CodeInvalidPlatform, "invalid platform: "+platform).
		WithParams(map[string]interface{}{"platform": platform})
}

var (
	tiktokURL    = regexp.MustCompile(`@([^/]+)/video/(\d+)`)
	xStatusURL   = regexp.MustCompile(`/status/(\d+)`)
	instagramURL = regexp.MustCompile(`instagram\.com/([^/]+)/reel/([^/]+)`)
)

// SanitizeURL strips tracking suffixes, trailing slashes and line breaks.
func SanitizeURL(url string) string {
	url, _, _ = strings.Cut(url, "?is_from_webapp")
	url, _, _ = strings.Cut(url, "?t=")
	url = strings.TrimSuffix(url, "/")
	return strings.NewReplacer("\n", "", "\r", "").Replace(url)
}

// VideoInfo identifies a published video.
type VideoInfo struct {
	Source string
	Author string
	WID    string
}

// ExtractVideoInfo parses a platform video URL. An unrecognized URL yields
// the zero VideoInfo.
func ExtractVideoInfo(url string) VideoInfo {
	url = SanitizeURL(url)
	switch {
	case strings.Contains(url, "tiktok"):
		if m := tiktokURL.FindStringSubmatch(url); m != nil {
			return VideoInfo{Source: "tiktok", Author: m[1], WID: m[2]}
		}
	case strings.Contains(url, "youtube"):
		if _, wid, ok := strings.Cut(url, "v="); ok {
			return VideoInfo{Source: "youtube", WID: wid}
		}
	case strings.Contains(url, "instagram"):
		if m := instagramURL.FindStringSubmatch(url); m != nil {
			return VideoInfo{Source: "instagram", Author: m[1], WID: m[2]}
		}
	case strings.Contains(url, "x.com") || strings.Contains(url, "twitter.com"):
		if m := xStatusURL.FindStringSubmatch(url); m != nil {
			head, _, _ := strings.Cut(url, "/status")
			return VideoInfo{Source: "x", Author: head[strings.LastIndexByte(head, '/')+1:], WID: m[1]}
		}
	}
	return VideoInfo{}
}

// BuildVideoURL is the inverse of ExtractVideoInfo for the platforms it
// recognizes.
func BuildVideoURL(info VideoInfo) string {
	switch strings.ToLower(info.Source) {
	case "tiktok":
		return "https://www.tiktok.com/@" + info.Author + "/video/" + info.WID
	case "youtube":
		return "https://www.youtube.com/watch?v=" + info.WID
	case "x":
		return "https://x.com/" + info.Author + "/status/" + info.WID
	case "instagram":
		return "https://www.instagram.com/" + info.Author + "/reel/" + info.WID
	}
	return ""
}
