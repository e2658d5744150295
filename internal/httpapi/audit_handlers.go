package httpapi

import (
	"net/http"

	"authoria.org/internal/audit"
	"authoria.org/internal/auth"
)

type auditListResponse struct {
	Items    []audit.Entry `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// ListAudit pages through the audit trail with optional free-text search and
// column sorting.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, auth.PermAuditView) {
		return
	}

	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), 1, 1, 1_000_000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, err := parsePositiveInt(q.Get("pageSize"), 50, 1, 200)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "pageSize must be between 1 and 200")
		return
	}

	filter := audit.Filter{
		Search:   q.Get("q"),
		SortBy:   q.Get("sort"),
		SortDesc: q.Get("dir") != "asc",
		Page:     page,
		PageSize: pageSize,
	}
	items, total, err := a.recorder.List(r.Context(), filter)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if items == nil {
		items = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, auditListResponse{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}
