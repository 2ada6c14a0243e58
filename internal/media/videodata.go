package media

import (
	"time"

	"reelkit.io/reelkit/internal/persistence"
)

// VideoData statuses.
const (
	DataProcessing persistence.Status = "PROCESSING"
	DataFlagged    persistence.Status = "FLAGGED"
	DataReady      persistence.Status = "READY"
	DataDone       persistence.Status = "DONE"
)

// VideoDataStatuses is the VideoData enumeration.
var VideoDataStatuses = persistence.NewStatusSet(DataProcessing,
	DataProcessing, DataFlagged, DataReady, DataDone)

// VideoData is a scraped source video with its popularity metrics and the
// results of content analysis.
type VideoData struct {
	persistence.Record
	WID             string           `db:"wid"`
	Source          string           `db:"source"`
	Author          string           `db:"author"`
	URL             string           `db:"url"`
	Description     string           `db:"description"`
	Title           string           `db:"title"`
	PublicationDate string           `db:"publication_date"`
	Type            string           `db:"type"`
	Views           int64            `db:"views"`
	Likes           int64            `db:"likes"`
	TotalComms      int64            `db:"total_comms"`
	Comms           []string         `db:"comms"`
	Hashtags        []string         `db:"hashtags"`
	SongID          string           `db:"song_id"`
	FoundBy         string           `db:"found_by"`
	OCR             string           `db:"ocr"`
	Width           int              `db:"width"`
	Height          int              `db:"height"`
	Duration        float64          `db:"duration"`
	FPS             float64          `db:"fps"`
	Niche           string           `db:"niche"`
	Analysis        string           `db:"analysis"`
	Keywords        []string         `db:"keywords"`
	ScenesData      []map[string]any `db:"scenes_data"`
}

// Filename is the name of the downloaded file.
func (d *VideoData) Filename() string {
	return d.Source + "=" + d.Author + "=" + d.WID + PostExt
}

// TimeSincePublication returns how long ago the source video was published.
// ok is false when the publication date is not a valid token.
func (d *VideoData) TimeSincePublication(now time.Time) (time.Duration, bool) {
	t, err := persistence.ParseToken(d.PublicationDate)
	if err != nil {
		return 0, false
	}
	return now.Sub(t), true
}

// EngagementRate is likes plus comments per view.
func (d *VideoData) EngagementRate() float64 {
	if d.Views <= 0 {
		return 0
	}
	return float64(d.Likes+d.TotalComms) / float64(d.Views)
}

// fillSource completes URL and the source triple from each other.
func (d *VideoData) fillSource() {
	if d.URL == "" {
		d.URL = BuildVideoURL(VideoInfo{Source: d.Source, Author: d.Author, WID: d.WID})
		return
	}
	if d.Source == "" && d.Author == "" && d.WID == "" {
		info := ExtractVideoInfo(d.URL)
		d.Source, d.Author, d.WID = info.Source, info.Author, info.WID
	}
}
