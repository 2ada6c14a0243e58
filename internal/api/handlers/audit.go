package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reelkit.io/reelkit/internal/governance/audit"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// AuditEntry is the API view of an audit record.
type AuditEntry struct {
	ID           string         `json:"id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Actor        string         `json:"actor"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    string         `json:"creation_date"`
}

// AuditList is the response of GET /audit.
type AuditList struct {
	Items []AuditEntry `json:"items"`
}

// ListAudit handles GET /audit?resource_type=&resource_id=&actor=&limit=.
func (s *Server) ListAudit(c *gin.Context) {
	if s.audit == nil {
		_ = c.Error(apperrors.New("AUDIT_UNAVAILABLE", "audit log is not configured", http.StatusServiceUnavailable))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := s.audit.List(c.Request.Context(), audit.Filter{
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Actor:        c.Query("actor"),
		Limit:        defaultLimit(limit),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	items := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, AuditEntry{
			ID:           e.ID(),
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Actor:        e.Actor,
			Details:      e.Details,
			CreatedAt:    e.CreationDate,
		})
	}
	c.JSON(http.StatusOK, AuditList{Items: items})
}
