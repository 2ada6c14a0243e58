// Package handlers implements the uploader-facing HTTP API of the media
// library: account listing, pending posts, publication steps and stats.
//
// Handlers report failures with c.Error; middleware.ErrorHandler renders
// them.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/governance/audit"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
)

// JobInserter enqueues background jobs. *river.Client satisfies it.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Server holds the handler dependencies.
type Server struct {
	lib    *media.Library
	pc     *persistence.Context
	jwtCfg middleware.JWTConfig
	jobs   JobInserter
	audit  *audit.Logger
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Library *media.Library
	Context *persistence.Context
	JWTCfg  middleware.JWTConfig
	// Jobs is optional; mirror requests are rejected without it.
	Jobs JobInserter
	// Audit is optional; changes are not recorded without it.
	Audit *audit.Logger
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		lib:    deps.Library,
		pc:     deps.Context,
		jwtCfg: deps.JWTCfg,
		jobs:   deps.Jobs,
		audit:  deps.Audit,
	}
}

// Register mounts the API on r. Health probes are public; every other
// route requires a token with the listed scope.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/health/live", s.GetLiveness)
	r.GET("/health/ready", s.GetReadiness)

	api := r.Group("", middleware.JWTAuth(s.jwtCfg))

	read := api.Group("", middleware.RequireScope(middleware.ScopePostsRead))
	read.GET("/accounts", s.ListAccounts)
	read.GET("/platforms", s.ListPlatforms)
	read.GET("/posts/pending", s.ListPendingPosts)
	read.GET("/posts/stats", s.GetPostStats)
	read.GET("/videos/:id", s.GetVideo)
	read.GET("/videos/:id/posts/:platform", s.GetPostInfo)

	write := api.Group("", middleware.RequireScope(middleware.ScopePostsWrite))
	write.POST("/accounts/select", s.SelectAccount)
	write.POST("/videos/:id/posts/:platform/initiate", s.InitiatePost)
	write.POST("/videos/:id/posts/:platform/register", s.RegisterPost)
	write.POST("/videos/:id/posts/:platform/skip", s.SkipPost)
	write.POST("/videos/:id/posts/:platform/cancel", s.CancelPost)
	write.POST("/videos/:id/mirror", s.MirrorVideo)

	admin := api.Group("", middleware.RequireScope(middleware.ScopeAccountsWrite))
	admin.POST("/accounts", s.CreateAccount)
	admin.PATCH("/accounts/:name", s.UpdateAccount)
	admin.DELETE("/accounts/:name", s.DeleteAccount)

	api.GET("/audit", middleware.RequireScope(middleware.ScopeAdmin), s.ListAudit)
}
