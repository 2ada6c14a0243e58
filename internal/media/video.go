package media

import (
	"slices"
	"strings"
	"time"

	"reelkit.io/reelkit/internal/persistence"
)

// Video statuses.
const (
	VideoBanned     persistence.Status = "BANNED"
	VideoProcessing persistence.Status = "PROCESSING"
	VideoFlagged    persistence.Status = "FLAGGED"
	VideoReady      persistence.Status = "READY"
	VideoDone       persistence.Status = "DONE"
)

// VideoStatuses is the Video enumeration.
var VideoStatuses = persistence.NewStatusSet(VideoProcessing,
	VideoBanned, VideoProcessing, VideoFlagged, VideoReady, VideoDone)

// UploadStatus is the per-platform publication state of a video.
type UploadStatus string

// Upload statuses.
const (
	UploadUnprocessed UploadStatus = "UNPROCESSED"
	UploadReady       UploadStatus = "READY"
	UploadInitiated   UploadStatus = "INITIATED"
	UploadSkipped     UploadStatus = "SKIPPED"
	UploadUploaded    UploadStatus = "UPLOADED"
)

// skippedMarker is stored as the publication date of a skipped platform. Any
// non-empty value that is not a date reads as skipped.
const skippedMarker = "skipped"

// Video is a produced video awaiting or past publication.
//
// PublicationDates maps a platform to its post state: "" while the post is
// initiated, a creation token once published, any other value when skipped.
type Video struct {
	persistence.Record
	Niche            string            `db:"niche" default:"COMMON"`
	Account          string            `db:"account"`
	URLs             []string          `db:"urls"`
	LongDescription  string            `db:"long_description"`
	Description      string            `db:"description"`
	Hashtags         []string          `db:"hashtags"`
	OCR              string            `db:"ocr"`
	SceneIDs         []string          `db:"scene_ids"`
	PublicationDates map[string]string `db:"publication_dates"`
}

// SetAccount assigns the owning account after checking the name is safe.
func (v *Video) SetAccount(name string) error {
	if err := ValidateAccountName(name); err != nil {
		return err
	}
	v.Account = name
	return nil
}

// SetNiche assigns a normalized niche.
func (v *Video) SetNiche(n string) error {
	niche, err := NormalizeNiche(n)
	if err != nil {
		return err
	}
	v.Niche = niche
	return nil
}

// Caption is the description followed by the hashtags.
func (v *Video) Caption() string {
	var b strings.Builder
	b.WriteString(v.Description)
	for _, h := range v.Hashtags {
		b.WriteString(" #")
		b.WriteString(h)
	}
	return strings.TrimSpace(b.String())
}

// ValidPublicationDates returns the platforms with an actual publication
// date, parsed.
func (v *Video) ValidPublicationDates() map[string]time.Time {
	out := make(map[string]time.Time, len(v.PublicationDates))
	for p, d := range v.PublicationDates {
		if t, err := persistence.ParseToken(d); err == nil {
			out[p] = t
		}
	}
	return out
}

// LastPublication returns the most recent valid publication date.
func (v *Video) LastPublication() (time.Time, bool) {
	var last time.Time
	found := false
	for _, t := range v.ValidPublicationDates() {
		if !found || t.After(last) {
			last, found = t, true
		}
	}
	return last, found
}

// postState derives the upload status from the recorded publication date.
// ok is false when the platform has no record.
func (v *Video) postState(platform string) (UploadStatus, bool) {
	d, ok := v.PublicationDates[platform]
	if !ok {
		return "", false
	}
	if d == "" {
		return UploadInitiated, true
	}
	if _, err := persistence.ParseToken(d); err == nil {
		return UploadUploaded, true
	}
	return UploadSkipped, true
}

// isPosted reports whether every uploader has a completed (published or
// skipped) post and none is still initiated.
func (v *Video) isPosted(uploaders []string) bool {
	if len(uploaders) == 0 || len(v.PublicationDates) == 0 {
		return false
	}
	pending := slices.Clone(uploaders)
	for p, d := range v.PublicationDates {
		if d == "" {
			return false
		}
		pending = slices.DeleteFunc(pending, func(u string) bool { return u == p })
	}
	return len(pending) == 0
}

// URL returns the published URL for platform, or "".
func (v *Video) URL(platform string) string {
	platform = strings.ToLower(platform)
	for _, u := range v.URLs {
		if ExtractVideoInfo(u).Source == platform {
			return u
		}
	}
	return ""
}

// AddURL records a published URL, keyed by the platform it belongs to. An
// existing URL for that platform is replaced when override is set and
// returned unchanged otherwise. Unrecognized URLs are ignored and "" is
// returned.
func (v *Video) AddURL(url string, override bool) string {
	platform := ExtractVideoInfo(url).Source
	if platform == "" {
		return ""
	}
	if existing := v.URL(platform); existing != "" {
		if !override {
			return existing
		}
		v.URLs = slices.DeleteFunc(v.URLs, func(u string) bool { return u == existing })
	}
	v.URLs = append(v.URLs, url)
	return url
}

// RemoveURL drops the URL recorded for platform and returns it.
func (v *Video) RemoveURL(platform string) string {
	u := v.URL(platform)
	if u != "" {
		i := slices.Index(v.URLs, u)
		v.URLs = slices.Delete(v.URLs, i, i+1)
	}
	return u
}

// PostFilename is the name of the converted file uploaded to platform.
func (v *Video) PostFilename(platform string) string {
	return strings.ToLower(platform) + "=" + v.Account + "=" + v.ID() + PostExt
}

// PostInfo is what an uploader needs to publish a video.
type PostInfo struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Account  string `json:"account"`
	Caption  string `json:"caption"`
	Song     string `json:"song"`
}
