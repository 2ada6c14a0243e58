package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/jobs"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/logger"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

type postStep func(ctx context.Context, v *media.Video, platform string) (media.PostOutcome, error)

// ListPendingPosts handles GET /posts/pending?platform=&account=&limit=.
func (s *Server) ListPendingPosts(c *gin.Context) {
	platform := c.Query("platform")
	if platform == "" {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidPlatform, "platform query parameter is required"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	limit = defaultLimit(limit)

	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	videos, err := s.lib.PendingPosts(ctx, platform, c.Query("account"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if len(videos) > limit {
		videos = videos[:limit]
	}
	resp := PendingPostList{Platform: platform, Items: make([]media.PostInfo, 0, len(videos))}
	for _, v := range videos {
		info, err := s.lib.PostInfo(v, platform)
		if err != nil {
			_ = c.Error(err)
			return
		}
		resp.Platform = info.Platform
		resp.Items = append(resp.Items, info)
	}
	c.JSON(http.StatusOK, resp)
}

// GetPostStats handles GET /posts/stats?account=.
func (s *Server) GetPostStats(c *gin.Context) {
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	stats, err := s.lib.PostStats(ctx, c.Query("account"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetVideo handles GET /videos/:id and returns the stored fields.
func (s *Server) GetVideo(c *gin.Context) {
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	v, err := s.lib.Videos.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, s.lib.Videos.AsMap(v))
}

// GetPostInfo handles GET /videos/:id/posts/:platform.
func (s *Server) GetPostInfo(c *gin.Context) {
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	v, err := s.lib.Videos.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	info, err := s.lib.PostInfo(v, c.Param("platform"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	st, err := s.lib.UploadStatus(v, info.Platform)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, PostInfoResponse{PostInfo: info, UploadStatus: string(st)})
}

// InitiatePost handles POST /videos/:id/posts/:platform/initiate.
func (s *Server) InitiatePost(c *gin.Context) {
	s.runPostStep(c, "initiate", s.lib.InitiatePost)
}

// RegisterPostRequest is the optional body of the register step.
type RegisterPostRequest struct {
	// Date is a creation-token formatted publication date; empty means now.
	Date string `json:"date"`
	// URL is the public address of the post.
	URL string `json:"url"`
}

// RegisterPost handles POST /videos/:id/posts/:platform/register.
func (s *Server) RegisterPost(c *gin.Context) {
	var req RegisterPostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequest, "invalid register body: "+err.Error()))
			return
		}
	}
	s.runPostStep(c, "register", func(ctx context.Context, v *media.Video, platform string) (media.PostOutcome, error) {
		outcome, err := s.lib.RegisterPost(ctx, v, platform, req.Date)
		if err == nil && outcome == media.PostApplied && req.URL != "" {
			v.AddURL(req.URL, true)
		}
		return outcome, err
	})
}

// SkipPost handles POST /videos/:id/posts/:platform/skip.
func (s *Server) SkipPost(c *gin.Context) {
	s.runPostStep(c, "skip", s.lib.SkipPost)
}

// CancelPost handles POST /videos/:id/posts/:platform/cancel.
func (s *Server) CancelPost(c *gin.Context) {
	s.runPostStep(c, "cancel", s.lib.CancelPost)
}

// runPostStep loads the video, applies step and saves the result. A video
// deleted by its status handler during the step is reported, not saved.
func (s *Server) runPostStep(c *gin.Context, name string, step postStep) {
	ctx := c.Request.Context()
	id, platform := c.Param("id"), c.Param("platform")
	s.lib.Lock()
	defer s.lib.Unlock()

	v, err := s.lib.Videos.Get(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	outcome, err := step(ctx, v, platform)
	if err != nil {
		_ = c.Error(err)
		return
	}

	res := PostResult{
		ID:       id,
		Platform: platform,
		Outcome:  outcome.String(),
		Status:   string(v.Status()),
	}
	if !s.lib.Videos.Cached(v) {
		res.Deleted = true
	} else {
		if outcome == media.PostApplied {
			if err := s.lib.Videos.Save(ctx, v); err != nil {
				_ = c.Error(err)
				return
			}
		}
		st, err := s.lib.UploadStatus(v, platform)
		if err != nil {
			_ = c.Error(err)
			return
		}
		res.UploadStatus = string(st)
	}

	logger.Info("post step applied",
		zap.String("step", name),
		zap.String("video_id", id),
		zap.String("platform", platform),
		zap.String("outcome", res.Outcome),
		zap.String("actor", middleware.GetSubject(ctx)),
	)
	metrics.RecordPostStep(name, platform, res.Outcome)
	if outcome == media.PostApplied && s.audit != nil {
		_ = s.audit.LogPostStep(ctx, name, id, platform, res.Outcome, middleware.GetSubject(ctx))
	}
	c.JSON(http.StatusOK, res)
}

// MirrorVideo handles POST /videos/:id/mirror by enqueueing a mirror sync.
func (s *Server) MirrorVideo(c *gin.Context) {
	if s.jobs == nil {
		_ = c.Error(apperrors.New("JOBS_UNAVAILABLE", "background jobs are not enabled", http.StatusServiceUnavailable))
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	s.lib.Lock()
	n, err := s.lib.Videos.Count(ctx, persistence.ByID(id))
	s.lib.Unlock()
	if err != nil {
		_ = c.Error(err)
		return
	}
	if n == 0 {
		_ = c.Error(apperrors.ErrEntityNotFoundf(s.lib.Videos.Name(), id))
		return
	}

	res, err := s.jobs.Insert(ctx, jobs.MirrorSyncArgs{VideoID: id, Platforms: c.QueryArray("platform")}, nil)
	if err != nil {
		_ = c.Error(apperrors.Internal("JOB_ENQUEUE_FAILED", "failed to enqueue mirror sync").WithParams(map[string]interface{}{"id": id}))
		logger.Error("enqueue mirror sync failed", zap.String("video_id", id), zap.Error(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": res.Job.ID, "video_id": id})
}
