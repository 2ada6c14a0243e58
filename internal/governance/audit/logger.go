// Package audit records who changed what through the API.
//
// Audit entries are append-only: they are written once and never updated or
// deleted by the application.
package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// StatusRecorded is the only status of an audit entry.
const StatusRecorded persistence.Status = "RECORDED"

// Statuses is the Entry enumeration.
var Statuses = persistence.NewStatusSet(StatusRecorded, StatusRecorded)

// Resource types.
const (
	ResourceVideo   = "video"
	ResourceAccount = "account"
)

// Entry is one audit record.
type Entry struct {
	persistence.Record
	Action       string         `db:"action"`
	ResourceType string         `db:"resource_type"`
	ResourceID   string         `db:"resource_id"`
	Actor        string         `db:"actor"`
	Details      map[string]any `db:"details"`
}

// Logger writes audit records through the persistence context.
type Logger struct {
	repo *persistence.Repository[*Entry]
}

// NewLogger registers the AuditLog entity type on pc.
func NewLogger(pc *persistence.Context) (*Logger, error) {
	repo, err := persistence.Register(pc, persistence.EntityType[*Entry]{
		Name:     "AuditLog",
		Statuses: Statuses,
		Indexes: []persistence.Index{
			{Name: "idx_auditlog_resource", Columns: []string{"resource_type", "resource_id"}},
		},
	})
	if err != nil {
		return nil, err
	}
	return &Logger{repo: repo}, nil
}

// LogAction records an auditable action. The entry is written immediately
// and not kept in the identity cache.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]any) error {
	e, _, err := l.repo.GetOrCreate(ctx, generateAuditID(), func(e *Entry) {
		e.Action = action
		e.ResourceType = resourceType
		e.ResourceID = resourceID
		e.Actor = actor
		e.Details = details
	})
	if err == nil {
		err = l.repo.Save(ctx, e)
	}
	if e != nil {
		l.repo.Evict(e)
	}
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// LogPostStep records a publication step on a video.
func (l *Logger) LogPostStep(ctx context.Context, step, videoID, platform, outcome, actor string) error {
	return l.LogAction(ctx, "post."+step, ResourceVideo, videoID, actor, map[string]any{
		"platform": platform,
		"outcome":  outcome,
	})
}

// LogAccountOperation records an account change.
func (l *Logger) LogAccountOperation(ctx context.Context, operation, account, actor string) error {
	return l.LogAction(ctx, "account."+operation, ResourceAccount, account, actor, nil)
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	ResourceType string
	ResourceID   string
	Actor        string
	Limit        int
}

// List returns the matching entries, newest first.
func (l *Logger) List(ctx context.Context, f Filter) ([]*Entry, error) {
	q := persistence.Q()
	if f.ResourceType != "" {
		q = q.Eq("resource_type", f.ResourceType)
	}
	if f.ResourceID != "" {
		q = q.Eq("resource_id", f.ResourceID)
	}
	if f.Actor != "" {
		q = q.Eq("actor", f.Actor)
	}
	entries, err := l.repo.LoadMany(ctx, q)
	if err != nil {
		return nil, err
	}
	out := entries.Items()
	for _, e := range out {
		l.repo.Evict(e)
	}
	// v7 ids sort by creation time.
	slices.SortFunc(out, func(a, b *Entry) int { return strings.Compare(b.ID(), a.ID()) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "audit-" + uuid.New().String()
	}
	return "audit-" + id.String()
}
