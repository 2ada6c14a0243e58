package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// ListAccounts handles GET /accounts.
func (s *Server) ListAccounts(c *gin.Context) {
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	accounts, err := s.lib.Accounts.LoadMany(ctx, persistence.Q())
	if err != nil {
		_ = c.Error(err)
		return
	}
	items := make([]Account, 0, accounts.Len())
	for _, a := range accounts.Items() {
		items = append(items, accountToAPI(a))
	}
	c.JSON(http.StatusOK, AccountList{Items: items})
}

// ListPlatforms handles GET /platforms: every platform served by an
// active account.
func (s *Server) ListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.lib.Directory().Platforms()})
}

// CreateAccount handles POST /accounts.
func (s *Server) CreateAccount(c *gin.Context) {
	var spec media.AccountSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequest, "invalid account body: "+err.Error()))
		return
	}
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	a, err := s.lib.AddAccount(ctx, spec, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	logger.Info("account created via api",
		zap.String("account", a.Uniquename()),
		zap.String("actor", middleware.GetSubject(ctx)),
	)
	s.auditAccount(ctx, "create", a.Uniquename())
	c.JSON(http.StatusCreated, accountToAPI(a))
}

// UpdateAccountRequest is the body of PATCH /accounts/:name.
type UpdateAccountRequest struct {
	Name      *string  `json:"name"`
	Email     *string  `json:"email"`
	Platforms []string `json:"platforms"`
	Status    string   `json:"status"`
}

// UpdateAccount handles PATCH /accounts/:name.
func (s *Server) UpdateAccount(c *gin.Context) {
	var req UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest(apperrors.CodeInvalidRequest, "invalid account body: "+err.Error()))
		return
	}
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	a, err := s.lib.UpdateAccount(ctx, c.Param("name"), media.AccountUpdate{
		Name:      req.Name,
		Email:     req.Email,
		Platforms: req.Platforms,
		Status:    persistence.Status(req.Status),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.auditAccount(ctx, "update", a.Uniquename())
	c.JSON(http.StatusOK, accountToAPI(a))
}

// DeleteAccount handles DELETE /accounts/:name.
func (s *Server) DeleteAccount(c *gin.Context) {
	ctx := c.Request.Context()
	s.lib.Lock()
	defer s.lib.Unlock()

	if err := s.lib.DeleteAccount(ctx, c.Param("name")); err != nil {
		_ = c.Error(err)
		return
	}
	logger.Info("account deleted via api",
		zap.String("account", c.Param("name")),
		zap.String("actor", middleware.GetSubject(ctx)),
	)
	s.auditAccount(ctx, "delete", c.Param("name"))
	c.Status(http.StatusNoContent)
}

// SelectAccount handles POST /accounts/select?account=. It returns the
// named account, or the next one in rotation when none is named.
func (s *Server) SelectAccount(c *gin.Context) {
	name, err := s.lib.Directory().Select(c.Query("account"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":   name,
		"platforms": s.lib.Directory().Uploaders(name),
	})
}

// auditAccount records an account change. Failures are logged by the audit
// logger and do not fail the request.
func (s *Server) auditAccount(ctx context.Context, op, account string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogAccountOperation(ctx, op, account, middleware.GetSubject(ctx))
}
