package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authoria.org/internal/auth"
	"authoria.org/internal/ids"
	"authoria.org/internal/obs"
)

// Actor types recorded with each entry.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Entry is one immutable audit record. Optional columns are pointers so the
// storage layer can write NULLs instead of empty strings.
type Entry struct {
	ID            string    `json:"id"`
	TenantID      *string   `json:"tenant_id,omitempty"`
	ApplicationID *string   `json:"application_id,omitempty"`
	ActorUserID   *string   `json:"actor_user_id,omitempty"`
	ActorType     string    `json:"actor_type"`
	Action        string    `json:"action"`
	ResourceType  string    `json:"resource_type,omitempty"`
	ResourceID    *string   `json:"resource_id,omitempty"`
	Method        string    `json:"method,omitempty"`
	Path          string    `json:"path,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	StatusCode    *int      `json:"status_code,omitempty"`
	DurationMs    *int64    `json:"duration_ms,omitempty"`
	Details       *string   `json:"details,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Filter selects and orders audit entries for listing.
type Filter struct {
	Search   string
	SortBy   string
	SortDesc bool
	Page     int
	PageSize int
}

// Store persists audit entries. Append must never mutate an existing row.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, int, error)
}

// Recorder writes audit entries, enriching each with the identity carried in
// the request context. A failed write never fails the caller's operation; it
// is surfaced through logs and metrics instead.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder constructs a Recorder over the given store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Log persists one entry. Tenant, application and actor default from the
// request context when the caller leaves them unset.
func (r *Recorder) Log(ctx context.Context, entry Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if rc, ok := auth.RequestFromContext(ctx); ok {
		if entry.ActorUserID == nil && rc.UserID != "" {
			entry.ActorUserID = &rc.UserID
		}
		if entry.TenantID == nil && rc.TenantID != "" {
			entry.TenantID = &rc.TenantID
		}
		if entry.ApplicationID == nil && len(rc.Applications) > 0 {
			entry.ApplicationID = &rc.Applications[0]
		}
	}
	if entry.ActorType == "" {
		if entry.ActorUserID != nil {
			entry.ActorType = ActorTypeUser
		} else {
			entry.ActorType = ActorTypeSystem
		}
	}

	if err := r.store.Append(ctx, entry); err != nil {
		obs.IncAuditWriteFailure()
		obs.LogError("audit write failed", map[string]any{
			"action": entry.Action,
			"error":  err.Error(),
		})
		return fmt.Errorf("audit append: %w", err)
	}
	obs.IncAuditRecord()
	return nil
}

// LogAPICall records an inbound HTTP call outcome, including the caller's
// address and user agent from the request.
func (r *Recorder) LogAPICall(ctx context.Context, req *http.Request, status int, duration time.Duration, details any) error {
	ms := duration.Milliseconds()
	return r.Log(ctx, Entry{
		Action:       "api.call",
		ResourceType: "http",
		Method:       req.Method,
		Path:         req.URL.Path,
		IPAddress:    requestIP(req),
		UserAgent:    req.UserAgent(),
		StatusCode:   &status,
		DurationMs:   &ms,
		Details:      marshalDetails(details),
	})
}

// LogDatabaseOperation records a data-changing operation on a stored entity.
func (r *Recorder) LogDatabaseOperation(ctx context.Context, operation, resourceType, resourceID string, details any) error {
	entry := Entry{
		Action:       operation,
		ResourceType: resourceType,
		Details:      marshalDetails(details),
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	return r.Log(ctx, entry)
}

// LogUserAction records a domain-level action taken by or on a user.
func (r *Recorder) LogUserAction(ctx context.Context, action, userID string, details any) error {
	entry := Entry{
		Action:       action,
		ResourceType: "user",
		Details:      marshalDetails(details),
	}
	if userID != "" {
		entry.ResourceID = &userID
	}
	return r.Log(ctx, entry)
}

// List reads entries back through the underlying store.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	return r.store.List(ctx, filter)
}

func marshalDetails(v any) *string {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
