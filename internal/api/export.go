package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/app"
)

// handleAdminExportUsers writes every member as CSV, one row per member with
// the member listing's columns.
func (h *Handler) handleAdminExportUsers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ExportMembers(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	filename := fmt.Sprintf("members-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(app.MemberColumns))
	for _, c := range app.MemberColumns {
		header = append(header, c.Key)
	}
	_ = cw.Write(header)
	for _, m := range members {
		row := make([]string, 0, len(app.MemberColumns))
		for _, c := range app.MemberColumns {
			row = append(row, c.Value(m))
		}
		if err := cw.Write(row); err != nil {
			h.logger.Error("csv export aborted", "error", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("csv export aborted", "error", err)
	}
}
