package controllers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rxdispatch/rxdispatch-backend/api/responses"
	"github.com/rxdispatch/rxdispatch-backend/api/validators"
	"github.com/rxdispatch/rxdispatch-backend/internal/auditlog"
	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type AuditLogService interface {
	List(ctx context.Context, p identity.Principal, filter auditlog.Filter, params pagination.Params) (pagination.Page[auditlog.EntryDTO], error)
	Export(ctx context.Context, p identity.Principal, filter auditlog.Filter, w io.Writer) error
}

func parseAuditFilter(r *http.Request) (auditlog.Filter, error) {
	filter := auditlog.Filter{Search: validators.SanitizeString(r.URL.Query().Get("q"), 200)}
	if raw := strings.TrimSpace(r.URL.Query().Get("action")); raw != "" {
		action, err := enums.ParseAuditAction(raw)
		if err != nil {
			return auditlog.Filter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action").WithDetails(map[string]any{"field": "action"})
		}
		filter.Action = &action
	}
	return filter, nil
}

func AdminAuditLogs(svc AuditLogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("audit service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseAuditFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), p, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminAuditExport streams the filtered log as an xlsx attachment. The
// workbook is buffered so a failure still produces a JSON error envelope.
func AdminAuditExport(svc AuditLogService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("audit service"))
			return
		}
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseAuditFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var buf bytes.Buffer
		if err := svc.Export(r.Context(), p, filter, &buf); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filename := fmt.Sprintf("audit-log-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		w.Header().Set("Content-Type", xlsxContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}
