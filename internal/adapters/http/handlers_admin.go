package web

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/csrf"

	"membership/internal/adapters/http/antiforgery"
	"membership/internal/adapters/http/middleware"
	"membership/internal/adapters/http/views"
	"membership/internal/application/listutil"
	"membership/internal/application/orchestrators"
	"membership/internal/application/projections"
	"membership/internal/domain/member"
)

const (
	maxRosterBody   = 1 << 20
	maxImportUpload = 10 << 20
	exportFilename  = "membership-export.csv"
)

// AdminRoster serves GET /admin/members.
func (s *Server) AdminRoster(w http.ResponseWriter, r *http.Request) {
	params := listutil.ParseRosterParams(r.URL.Query())
	res, err := projections.QueryGetRoster(r.Context(), projections.GetRosterQuery{
		Filter: params.Filter,
		Search: params.Search,
		Sort:   params.Sort,
		Dir:    params.Dir,
	}, projections.GetRosterDeps{MemberStore: s.deps.Members})
	if err != nil {
		internalError(w, err)
		return
	}

	data := views.RosterData{
		Members:   res.Members,
		Params:    params,
		Shown:     res.Shown,
		Total:     res.Total,
		Updated:   r.URL.Query().Get("notice") == "updated",
		CSRFField: csrf.TemplateField(r),
	}
	for action, dst := range map[string]*string{
		antiforgery.ActionRosterUpdate: &data.UpdateToken,
		antiforgery.ActionRosterExport: &data.ExportToken,
		antiforgery.ActionRosterImport: &data.ImportToken,
	} {
		if *dst, err = s.issueToken(r, action); err != nil {
			internalError(w, err)
			return
		}
	}

	var buf bytes.Buffer
	if err := s.views.AdminRoster(&buf, data); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

// rosterEdits reads the grid: one member_id input per rendered row, with flag checkboxes and
// the eligibility select keyed as name[ID].
func rosterEdits(form url.Values) ([]orchestrators.RosterEdit, error) {
	checked := func(name string, id int64) bool {
		v := strings.ToLower(form.Get(name + "[" + strconv.FormatInt(id, 10) + "]"))
		return v == "1" || v == "on" || v == "true"
	}
	ids := form["member_id"]
	edits := make([]orchestrators.RosterEdit, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("invalid member id: " + raw)
		}
		edits = append(edits, orchestrators.RosterEdit{
			MemberID: id,
			Flags: member.Flags{
				GoogleReview:    checked("google_review", id),
				SocialFollow:    checked("social_follow", id),
				SharedContacts:  checked("shared_contacts", id),
				ReferredPatient: checked("referred_patient", id),
			},
			AdvisoryEligible: form.Get("is_eligible["+strconv.FormatInt(id, 10)+"]") == "1",
		})
	}
	return edits, nil
}

// handleRosterUpdate serves POST /admin/members/update.
func (s *Server) handleRosterUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRosterBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	if err := s.verifyToken(r, r.PostForm.Get("_token"), antiforgery.ActionRosterUpdate); err != nil {
		http.Error(w, msgSecurityCheck, http.StatusForbidden)
		return
	}
	edits, err := rosterEdits(r.PostForm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err = orchestrators.ExecuteUpdateRoster(r.Context(), orchestrators.UpdateRosterInput{
		Edits: edits,
		Actor: middleware.IdentityFrom(r.Context()).Admin,
	}, orchestrators.UpdateRosterDeps{
		MemberStore: s.deps.Members,
		Notifier:    s.deps.Notifier,
		Events:      s.deps.Collector,
	})
	if err != nil {
		internalError(w, err)
		return
	}

	q := listutil.ParseRosterParams(r.PostForm).Values()
	q.Set("notice", "updated")
	http.Redirect(w, r, "/admin/members?"+q.Encode(), http.StatusSeeOther)
}

// handleExport serves POST /admin/members/export.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRosterBody)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	if err := s.verifyToken(r, r.PostForm.Get("_token"), antiforgery.ActionRosterExport); err != nil {
		http.Error(w, msgSecurityCheck, http.StatusForbidden)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/csv; charset=utf-8")
	h.Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
	h.Set("Cache-Control", "no-store")

	cw := &countingWriter{w: w}
	n, err := projections.QueryExportMembers(r.Context(), cw, projections.ExportMembersDeps{MemberStore: s.deps.Members})
	if err != nil {
		if cw.n == 0 {
			h.Del("Content-Disposition")
			internalError(w, err)
			return
		}
		// Headers are gone; the client sees a truncated file.
		slog.Error("internal_error", "path", r.URL.Path, "rows", n, "error", err.Error())
		return
	}
	slog.Info("roster_event", "event", "members_exported", "actor", middleware.IdentityFrom(r.Context()).Admin, "rows", n)
	s.deps.Collector.CountEvent("roster", "members_exported")
}

// countingWriter records whether any bytes reached the client.
type countingWriter struct {
	w http.ResponseWriter
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// handleImport serves POST /admin/members/import.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportUpload)
	if err := r.ParseMultipartForm(maxImportUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid upload"})
		return
	}
	if err := s.verifyToken(r, r.FormValue("_token"), antiforgery.ActionRosterImport); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": msgSecurityCheck})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	res, err := orchestrators.ExecuteImportMembers(r.Context(), orchestrators.ImportMembersInput{
		Reader:     file,
		Actor:      middleware.IdentityFrom(r.Context()).Admin,
		DryRun:     formFlag(r, "dry_run"),
		UpdateMode: formFlag(r, "update_mode"),
	}, orchestrators.ImportMembersDeps{
		MemberStore: s.deps.Members,
		Events:      s.deps.Collector,
		Notifier:    s.deps.Notifier,
		Now:         s.now,
	})
	var verr *orchestrators.ImportMembersValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message})
	case err != nil:
		internalError(w, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
