package media

import (
	"fmt"

	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// ScenePack statuses.
const (
	PackProcessing persistence.Status = "PROCESSING"
	PackFlagged    persistence.Status = "FLAGGED"
	PackProxyReady persistence.Status = "PROXY_READY"
	PackProxyDone  persistence.Status = "PROXY_DONE"
	PackReady      persistence.Status = "READY"
	PackDone       persistence.Status = "DONE"
)

// ScenePackStatuses is the ScenePack enumeration.
var ScenePackStatuses = persistence.NewStatusSet(PackProcessing,
	PackProcessing, PackFlagged, PackProxyReady, PackProxyDone, PackReady, PackDone)

// Scene is one clip of a pack, stored inside the pack row.
type Scene struct {
	Analysis string  `json:"analysis"`
	TStart   float64 `json:"t_start"`
	TEnd     float64 `json:"t_end"`
	Usage    int64   `json:"usage"`
}

// Duration is TEnd - TStart.
func (s Scene) Duration() float64 { return s.TEnd - s.TStart }

// ScenePack groups scenes cut from one source video. The totals are kept in
// step with Scenes by AddScene, RemoveScene and IncreaseUsage.
type ScenePack struct {
	persistence.Record
	Width         int              `db:"width"`
	Height        int              `db:"height"`
	FPS           float64          `db:"fps"`
	TotalDuration float64          `db:"total_duration"`
	TotalUsage    int64            `db:"total_usage"`
	Count         int              `db:"count"`
	Niche         string           `db:"niche"`
	Analysis      string           `db:"analysis"`
	Keywords      []string         `db:"keywords"`
	Scenes        map[string]Scene `db:"scenes_data"`
	VRef          string           `db:"str_vref"`
}

// AddScene stores s under fname, replacing any scene with that name.
func (p *ScenePack) AddScene(fname string, s Scene) error {
	if fname == "" {
		return apperrors.BadRequest(apperrors.CodeInvalidRequest, "scene file name is required")
	}
	if s.TEnd < s.TStart {
		return apperrors.BadRequest(apperrors.CodeInvalidRequest,
			fmt.Sprintf("scene %s ends (%.3f) before it starts (%.3f)", fname, s.TEnd, s.TStart))
	}
	p.RemoveScene(fname)
	if p.Scenes == nil {
		p.Scenes = make(map[string]Scene)
	}
	p.Scenes[fname] = s
	p.TotalDuration += s.Duration()
	p.TotalUsage += s.Usage
	p.Count++
	return nil
}

// RemoveScene drops the scene named fname.
func (p *ScenePack) RemoveScene(fname string) bool {
	s, ok := p.Scenes[fname]
	if !ok {
		return false
	}
	delete(p.Scenes, fname)
	p.TotalDuration -= s.Duration()
	p.TotalUsage -= s.Usage
	p.Count--
	return true
}

// IncreaseUsage records n more uses of a scene.
func (p *ScenePack) IncreaseUsage(fname string, n int64) bool {
	s, ok := p.Scenes[fname]
	if !ok {
		return false
	}
	s.Usage += n
	p.Scenes[fname] = s
	p.TotalUsage += n
	return true
}
