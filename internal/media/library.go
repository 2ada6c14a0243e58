// Package media holds the content entities (produced videos, scraped source
// videos, scene packs and publishing accounts) and the publication workflow
// uploaders drive through them.
package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/config"
	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// DefaultDoneRetention is how long a published video is kept after its
// latest publication.
const DefaultDoneRetention = 31 * 24 * time.Hour

// Mirror copies video files to a secondary store. Implementations persist
// the video once the copy completes.
type Mirror interface {
	Upload(ctx context.Context, v *Video, platforms ...string) error
	Remove(ctx context.Context, v *Video) error
}

// Options configures a Library.
type Options struct {
	FS afero.Fs

	ExportDir    string
	DownloadDir  string
	ScenePackDir string

	DoneRetention time.Duration
	Now           func() time.Time
}

// OptionsFromConfig maps the media configuration section onto Options.
func OptionsFromConfig(cfg config.MediaConfig) Options {
	return Options{
		ExportDir:     cfg.ExportDir,
		DownloadDir:   cfg.DownloadDir,
		ScenePackDir:  cfg.ScenePackDir,
		DoneRetention: cfg.DoneRetention,
	}
}

// Library registers the media entity types on a persistence context and
// implements the publication workflow on top of them.
type Library struct {
	Videos     *persistence.Repository[*Video]
	VideoData  *persistence.Repository[*VideoData]
	ScenePacks *persistence.Repository[*ScenePack]
	Accounts   *persistence.Repository[*Account]

	dir  *Directory
	fs   afero.Fs
	opts Options
	log  *zap.Logger

	mirrorMu sync.RWMutex
	mirror   Mirror

	mu sync.Mutex
}

// NewLibrary registers Video, VideoData, ScenePack and Account on pc.
// Accounts are not read until ReloadAccounts is called; call it before
// loading videos, whose reconciliation depends on their uploaders.
func NewLibrary(pc *persistence.Context, opts Options) (*Library, error) {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.DoneRetention <= 0 {
		opts.DoneRetention = DefaultDoneRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Library{
		dir:  NewDirectory(),
		fs:   opts.FS,
		opts: opts,
		log:  logger.L().With(zap.String("component", "media")),
	}

	var err error
	if l.Accounts, err = persistence.Register(pc, persistence.EntityType[*Account]{
		Name:     "Account",
		Statuses: AccountStatuses,
	}); err != nil {
		return nil, err
	}
	if l.Videos, err = persistence.Register(pc, l.videoType()); err != nil {
		return nil, err
	}
	if l.VideoData, err = persistence.Register(pc, l.videoDataType()); err != nil {
		return nil, err
	}
	if l.ScenePacks, err = persistence.Register(pc, l.scenePackType()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Library) videoType() persistence.EntityType[*Video] {
	return persistence.EntityType[*Video]{
		Name:      "Video",
		Statuses:  VideoStatuses,
		Reconcile: l.reconcileVideo,
		Hooks: map[persistence.Status]persistence.Hook[*Video]{
			VideoBanned: l.onVideoBanned,
			VideoDone:   l.onVideoDone,
		},
		Indexes: []persistence.Index{
			{Name: "idx_video_status", Columns: []string{"status"}},
			{Name: "idx_video_account", Columns: []string{"account"}},
			{Name: "idx_video_status_account", Columns: []string{"status", "account"}},
		},
		RemoveFiles: l.removeVideoFiles,
	}
}

func (l *Library) videoDataType() persistence.EntityType[*VideoData] {
	return persistence.EntityType[*VideoData]{
		Name:     "VideoData",
		Statuses: VideoDataStatuses,
		Reconcile: func(d *VideoData) persistence.Status {
			if s := d.Status(); (s == DataReady || s == DataDone) && !l.downloaded(d) {
				return DataFlagged
			}
			return ""
		},
		Indexes: []persistence.Index{
			{Name: "idx_videodata_status", Columns: []string{"status"}},
			{Name: "idx_videodata_niche", Columns: []string{"niche"}},
			{Name: "idx_videodata_status_niche", Columns: []string{"status", "niche"}},
		},
		RemoveFiles: func(_ context.Context, d *VideoData) error {
			return removeIfExists(l.fs, l.DownloadPath(d))
		},
	}
}

func (l *Library) scenePackType() persistence.EntityType[*ScenePack] {
	return persistence.EntityType[*ScenePack]{
		Name:     "ScenePack",
		Statuses: ScenePackStatuses,
		Indexes: []persistence.Index{
			{Name: "idx_scenepack_status", Columns: []string{"status"}},
			{Name: "idx_scenepack_niche", Columns: []string{"niche"}},
		},
		RemoveFiles: func(_ context.Context, p *ScenePack) error {
			return l.fs.RemoveAll(l.ScenePackPath(p))
		},
	}
}

// SetMirror installs the collaborator used by InitiatePost and by video
// deletion. nil disables mirroring.
func (l *Library) SetMirror(m Mirror) {
	l.mirrorMu.Lock()
	l.mirror = m
	l.mirrorMu.Unlock()
}

func (l *Library) currentMirror() Mirror {
	l.mirrorMu.RLock()
	defer l.mirrorMu.RUnlock()
	return l.mirror
}

// FS returns the file system holding exported and downloaded files.
func (l *Library) FS() afero.Fs { return l.fs }

// Lock serializes work on live media entities. The repositories hand out
// instances shared through the identity cache, and those instances are not
// safe for concurrent use: every goroutine that reads, mutates or saves them
// holds the lock while doing so. It is not reentrant.
func (l *Library) Lock() { l.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (l *Library) Unlock() { l.mu.Unlock() }

// Directory returns the account directory.
func (l *Library) Directory() *Directory { return l.dir }

func (l *Library) now() time.Time { return l.opts.Now() }

// VideoDir is the export directory owned by v.
func (l *Library) VideoDir(v *Video) string {
	return filepath.Join(l.opts.ExportDir, v.ID())
}

// ConvertedPath is where the file uploaded to platform is exported.
func (l *Library) ConvertedPath(v *Video, platform string) string {
	return filepath.Join(l.VideoDir(v), v.PostFilename(platform))
}

// DownloadPath is where the source video of d is downloaded.
func (l *Library) DownloadPath(d *VideoData) string {
	return filepath.Join(l.opts.DownloadDir, d.Filename())
}

// ScenePackPath is the directory holding the scene files of p.
func (l *Library) ScenePackPath(p *ScenePack) string {
	return filepath.Join(l.opts.ScenePackDir, p.ID())
}

func (l *Library) downloaded(d *VideoData) bool {
	ok, err := afero.Exists(l.fs, l.DownloadPath(d))
	if err != nil {
		l.log.Warn("Download check failed", zap.String("id", d.ID()), zap.Error(err))
	}
	return ok
}

func removeIfExists(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReloadAccounts rebuilds the directory from the Account table.
func (l *Library) ReloadAccounts(ctx context.Context) error {
	accounts, err := l.Accounts.LoadMany(ctx, persistence.Q())
	if err != nil {
		return err
	}
	l.dir.reset(accounts.Items())
	l.log.Info("Accounts loaded", zap.Int("count", accounts.Len()))
	return nil
}

// AccountSpec describes an account to create.
type AccountSpec struct {
	Uniquename string   `yaml:"uniquename" json:"uniquename"`
	Name       string   `yaml:"name" json:"name"`
	Email      string   `yaml:"email" json:"email"`
	Platforms  []string `yaml:"platforms" json:"platforms"`
	Metadata   string   `yaml:"metadata" json:"metadata"`
}

// AddAccount creates an account. When one already exists it is returned
// unchanged if skipOnExists is set, and reported as a conflict otherwise.
func (l *Library) AddAccount(ctx context.Context, spec AccountSpec, skipOnExists bool) (*Account, error) {
	if spec.Uniquename == "" {
		return nil, apperrors.BadRequest(apperrors.CodeInvalidAccount, "account uniquename is required")
	}
	if err := ValidateAccountName(spec.Uniquename); err != nil {
		return nil, err
	}
	existing, found, err := l.Accounts.Load(ctx, persistence.ByID(spec.Uniquename))
	if err != nil {
		return nil, err
	}
	if found {
		if skipOnExists {
			return existing, nil
		}
		return nil, apperrors.Conflict(apperrors.CodeInvalidAccount,
			"account "+spec.Uniquename+" already exists")
	}

	a, _, err := l.Accounts.GetOrCreate(ctx, spec.Uniquename, func(a *Account) {
		a.Name = spec.Name
		a.Email = spec.Email
		a.Metadata = spec.Metadata
		a.SetPlatforms(spec.Platforms)
	})
	if err != nil {
		return nil, err
	}
	if err := l.Accounts.Save(ctx, a); err != nil {
		return nil, err
	}
	l.dir.put(a)
	l.log.Info("Account added", zap.String("account", a.ID()), zap.Strings("platforms", a.Platforms))
	return a, nil
}

// AccountUpdate lists the account fields to change; nil fields are kept.
type AccountUpdate struct {
	Name      *string
	Email     *string
	Platforms []string
	Metadata  *string
	Status    persistence.Status
}

// UpdateAccount applies u to an existing account.
func (l *Library) UpdateAccount(ctx context.Context, uniquename string, u AccountUpdate) (*Account, error) {
	a, err := l.Accounts.Get(ctx, uniquename)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		a.Name = *u.Name
	}
	if u.Email != nil {
		a.Email = *u.Email
	}
	if u.Platforms != nil {
		a.SetPlatforms(u.Platforms)
	}
	if u.Metadata != nil {
		a.Metadata = *u.Metadata
	}
	if u.Status != "" {
		if err := a.SetStatus(ctx, u.Status); err != nil {
			return nil, err
		}
	}
	if err := l.Accounts.Save(ctx, a); err != nil {
		return nil, err
	}
	l.dir.put(a)
	return a, nil
}

// DeleteAccount removes an account. Its videos are kept.
func (l *Library) DeleteAccount(ctx context.Context, uniquename string) error {
	a, err := l.Accounts.Get(ctx, uniquename)
	if err != nil {
		return err
	}
	if err := l.Accounts.Delete(ctx, a, persistence.DeleteOptions{}); err != nil {
		return err
	}
	l.dir.remove(uniquename)
	return nil
}

// NewVideo creates a video owned by account. The video is not stored until
// saved.
func (l *Library) NewVideo(ctx context.Context, account string, init func(*Video)) (*Video, error) {
	if err := ValidateAccountName(account); err != nil {
		return nil, err
	}
	return l.Videos.New(ctx, func(v *Video) {
		v.Account = account
		if init != nil {
			init(v)
		}
	})
}

// Uploaders returns the platforms v is published to.
func (l *Library) Uploaders(v *Video) []string {
	return l.dir.Uploaders(v.Account)
}

// UnprocessedUploaders returns the uploaders with no completed post yet.
func (l *Library) UnprocessedUploaders(v *Video) []string {
	return slices.DeleteFunc(l.Uploaders(v), func(p string) bool {
		return v.PublicationDates[p] != ""
	})
}

// IsPosted reports whether every uploader of v has completed its post.
func (l *Library) IsPosted(v *Video) bool {
	return v.isPosted(l.Uploaders(v))
}

// reconcileVideo flags a DONE video that is not fully posted and promotes a
// fully posted one to DONE.
func (l *Library) reconcileVideo(v *Video) persistence.Status {
	uploaders := l.Uploaders(v)
	posted := v.isPosted(uploaders)
	switch {
	case v.Status() == VideoDone && !posted:
		return VideoFlagged
	case len(uploaders) > 0 && posted:
		return VideoDone
	}
	return ""
}

func (l *Library) onVideoBanned(ctx context.Context, repo *persistence.Repository[*Video], v *Video) error {
	l.log.Info("Video banned", zap.String("id", v.ID()))
	return repo.Delete(ctx, v, persistence.DeleteOptions{})
}

// onVideoDone deletes a published video once the retention after its latest
// publication has elapsed. A video with only initiated posts is kept.
func (l *Library) onVideoDone(ctx context.Context, repo *persistence.Repository[*Video], v *Video) error {
	if len(v.PublicationDates) > 0 {
		last, ok := v.LastPublication()
		if !ok || !last.Add(l.opts.DoneRetention).Before(l.now()) {
			return nil
		}
	}
	l.log.Info("Video retention elapsed", zap.String("id", v.ID()))
	return repo.Delete(ctx, v, persistence.DeleteOptions{})
}

func (l *Library) removeVideoFiles(ctx context.Context, v *Video) error {
	err := l.fs.RemoveAll(l.VideoDir(v))
	if m := l.currentMirror(); m != nil {
		err = errors.Join(err, m.Remove(ctx, v))
	}
	return err
}

// PostOutcome is the result of a publication step.
type PostOutcome int

const (
	// PostNotUploader means the video's account does not publish to the
	// platform; nothing changed.
	PostNotUploader PostOutcome = iota
	// PostUnchanged means the step was already done or the video is not
	// READY.
	PostUnchanged
	// PostApplied means the video changed and should be saved.
	PostApplied
)

func (o PostOutcome) String() string {
	switch o {
	case PostNotUploader:
		return "not_uploader"
	case PostUnchanged:
		return "unchanged"
	case PostApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// platform validates a platform name against the platforms the accounts
// serve.
func (l *Library) platform(name string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(name))
	if !IsPlatform(p) || !l.dir.HasPlatform(p) {
		return "", errInvalidPlatform(name)
	}
	return p, nil
}

func (l *Library) isUploader(v *Video, platform string) bool {
	return slices.Contains(l.Uploaders(v), platform)
}

// forceReady moves v to READY; reconciliation may move it on (for example to
// DONE when it is already fully posted).
func (l *Library) forceReady(ctx context.Context, v *Video) (bool, error) {
	if v.Status() != VideoReady {
		if err := v.SetStatus(ctx, VideoReady); err != nil {
			return false, err
		}
	}
	return v.Status() == VideoReady, nil
}

// preparePost runs the checks shared by the post steps. ok is false when the
// step must stop with outcome.
func (l *Library) preparePost(ctx context.Context, v *Video, platform string) (p string, outcome PostOutcome, ok bool, err error) {
	if p, err = l.platform(platform); err != nil {
		return "", PostUnchanged, false, err
	}
	ready, err := l.forceReady(ctx, v)
	if err != nil {
		return p, PostUnchanged, false, err
	}
	if !ready {
		return p, PostUnchanged, false, nil
	}
	if !l.isUploader(v, p) {
		return p, PostNotUploader, false, nil
	}
	if v.PublicationDates == nil {
		v.PublicationDates = make(map[string]string)
	}
	return p, PostApplied, true, nil
}

// InitiatePost marks the post to platform as in progress, mirroring the
// converted file first when a mirror is installed.
func (l *Library) InitiatePost(ctx context.Context, v *Video, platform string) (PostOutcome, error) {
	p, outcome, ok, err := l.preparePost(ctx, v, platform)
	if !ok {
		return outcome, err
	}
	if m := l.currentMirror(); m != nil {
		if err := m.Upload(ctx, v, p); err != nil {
			return PostUnchanged, err
		}
	}
	if st, _ := v.postState(p); st == UploadInitiated {
		return PostUnchanged, nil
	}
	v.PublicationDates[p] = ""
	l.log.Info("Post initiated", zap.String("id", v.ID()), zap.String("platform", p))
	return PostApplied, nil
}

// RegisterPost records the publication of v on platform at date, now when
// date is empty. The video becomes DONE once every uploader is posted.
func (l *Library) RegisterPost(ctx context.Context, v *Video, platform, date string) (PostOutcome, error) {
	p, outcome, ok, err := l.preparePost(ctx, v, platform)
	if !ok {
		return outcome, err
	}
	if st, _ := v.postState(p); st == UploadUploaded {
		return PostUnchanged, nil
	}
	if date == "" {
		date = persistence.FormatToken(l.now())
	}
	v.PublicationDates[p] = date
	l.log.Info("Post registered", zap.String("id", v.ID()), zap.String("platform", p), zap.String("date", date))
	return PostApplied, l.promoteIfPosted(ctx, v)
}

// SkipPost records that v will not be published on platform.
func (l *Library) SkipPost(ctx context.Context, v *Video, platform string) (PostOutcome, error) {
	p, outcome, ok, err := l.preparePost(ctx, v, platform)
	if !ok {
		return outcome, err
	}
	v.RemoveURL(p)
	if st, _ := v.postState(p); st == UploadSkipped {
		return PostUnchanged, nil
	}
	v.PublicationDates[p] = skippedMarker
	l.log.Info("Post skipped", zap.String("id", v.ID()), zap.String("platform", p))
	return PostApplied, l.promoteIfPosted(ctx, v)
}

func (l *Library) promoteIfPosted(ctx context.Context, v *Video) error {
	if !l.IsPosted(v) {
		return nil
	}
	return v.SetStatus(ctx, VideoDone)
}

// CancelPost forgets the post to platform, whatever its state. A DONE video
// goes back to READY. The outcome is PostUnchanged when there was no post.
func (l *Library) CancelPost(ctx context.Context, v *Video, platform string) (PostOutcome, error) {
	p, err := l.platform(platform)
	if err != nil {
		return PostUnchanged, err
	}
	if !l.isUploader(v, p) {
		return PostNotUploader, nil
	}
	v.RemoveURL(p)
	outcome := PostUnchanged
	if _, ok := v.PublicationDates[p]; ok {
		delete(v.PublicationDates, p)
		outcome = PostApplied
	}
	if v.Status() == VideoDone {
		if err := v.SetStatus(ctx, VideoReady); err != nil {
			return outcome, err
		}
	}
	l.log.Info("Post canceled", zap.String("id", v.ID()), zap.String("platform", p), zap.Stringer("outcome", outcome))
	return outcome, nil
}

// UploadStatus derives the publication state of v on platform: the recorded
// post state when there is one, READY when the converted file is exported,
// UNPROCESSED otherwise.
func (l *Library) UploadStatus(v *Video, platform string) (UploadStatus, error) {
	if platform == "" {
		return UploadUnprocessed, nil
	}
	p, err := l.platform(platform)
	if err != nil {
		return UploadUnprocessed, err
	}
	if st, ok := v.postState(p); ok {
		return st, nil
	}
	exists, err := afero.Exists(l.fs, l.ConvertedPath(v, p))
	if err != nil {
		return UploadUnprocessed, err
	}
	if exists {
		return UploadReady, nil
	}
	return UploadUnprocessed, nil
}

// PostInfo returns what an uploader needs to publish v on platform.
func (l *Library) PostInfo(v *Video, platform string) (PostInfo, error) {
	p, err := l.platform(platform)
	if err != nil {
		return PostInfo{}, err
	}
	return PostInfo{
		ID:       v.ID(),
		Platform: p,
		Account:  v.Account,
		Caption:  v.Caption(),
	}, nil
}

// PendingPosts returns the READY videos whose converted file for platform is
// exported and not yet posted, optionally restricted to one account.
func (l *Library) PendingPosts(ctx context.Context, platform, account string) ([]*Video, error) {
	p, err := l.platform(platform)
	if err != nil {
		return nil, err
	}
	q := persistence.Q().Eq("status", VideoReady)
	if account != "" {
		q = q.Eq("account", account)
	}
	var out []*Video
	for v, err := range l.Videos.Stream(ctx, q) {
		if err != nil {
			return nil, err
		}
		if !l.isUploader(v, p) {
			continue
		}
		st, err := l.UploadStatus(v, p)
		if err != nil {
			return nil, err
		}
		if st == UploadReady {
			out = append(out, v)
		}
	}
	return out, nil
}

// PostStats counts upload statuses per platform over the videos of account
// (all accounts when empty).
func (l *Library) PostStats(ctx context.Context, account string) (map[string]map[UploadStatus]int, error) {
	q := persistence.Q()
	if account != "" {
		q = q.Eq("account", account)
	}
	stats := make(map[string]map[UploadStatus]int)
	for v, err := range l.Videos.Stream(ctx, q) {
		if err != nil {
			return nil, err
		}
		for _, p := range l.Uploaders(v) {
			st, err := l.UploadStatus(v, p)
			if err != nil {
				return nil, err
			}
			if stats[p] == nil {
				stats[p] = make(map[UploadStatus]int)
			}
			stats[p][st]++
		}
	}
	return stats, nil
}

// NewVideoData creates a source video record. URL and the (source, author,
// wid) triple complete each other; a record with neither is rejected. The
// publication date defaults to the creation token.
func (l *Library) NewVideoData(ctx context.Context, init func(*VideoData)) (*VideoData, error) {
	d, err := l.VideoData.New(ctx, func(d *VideoData) {
		if init != nil {
			init(d)
		}
		d.fillSource()
		if d.PublicationDate == "" {
			d.PublicationDate = d.CreationDate
		}
	})
	if err != nil {
		return nil, err
	}
	if d.URL == "" {
		l.VideoData.Evict(d)
		return nil, apperrors.BadRequest(apperrors.CodeInvalidRequest, "video data needs a url or a source, author and wid")
	}
	return d, nil
}
