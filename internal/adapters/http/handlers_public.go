package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"membership/internal/adapters/http/antiforgery"
	"membership/internal/adapters/http/middleware"
	"membership/internal/adapters/http/views"
	"membership/internal/application/orchestrators"
	"membership/internal/application/projections"
	"membership/internal/domain/member"
)

// Envelope messages for the enrollment endpoint.
const (
	msgEnrolled      = "Membership application submitted successfully"
	msgInvalidEmail  = "Invalid email address"
	msgDuplicate     = "Email already registered"
	msgMissingField  = "Please fill in all required fields"
	msgFieldTooLong  = "Input exceeds the maximum length"
	msgInvalidInput  = "Invalid request"
	msgSubmitFailed  = "Error submitting application"
	msgSecurityCheck = "Security check failed"
)

const maxEnrollBody = 64 << 10

// enrollRequest is the JSON body of POST /membership/enroll.
// ReferredPatient is accepted and discarded.
type enrollRequest struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	GoogleReview    bool   `json:"google_review"`
	SocialFollow    bool   `json:"social_follow"`
	SharedContacts  bool   `json:"shared_contacts"`
	ReferredPatient bool   `json:"referred_patient"`
	Token           string `json:"_token"`
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// formFlag treats a checkbox as set when present with a truthy value.
func formFlag(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.PostFormValue(name))) {
	case "1", "on", "true", "yes":
		return true
	default:
		return false
	}
}

func parseEnrollRequest(r *http.Request) (enrollRequest, error) {
	var req enrollRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		err := strictDecode(r.Body, &req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req = enrollRequest{
		FullName:        r.PostFormValue("full_name"),
		Email:           r.PostFormValue("email"),
		Phone:           r.PostFormValue("phone"),
		GoogleReview:    formFlag(r, "google_review"),
		SocialFollow:    formFlag(r, "social_follow"),
		SharedContacts:  formFlag(r, "shared_contacts"),
		ReferredPatient: formFlag(r, "referred_patient"),
		Token:           r.PostFormValue("_token"),
	}
	return req, nil
}

// handleEnroll serves POST /membership/enroll.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEnrollBody)
	req, err := parseEnrollRequest(r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, false, msgInvalidInput)
		return
	}
	if err := s.verifyToken(r, req.Token, antiforgery.ActionEnroll); err != nil {
		writeEnvelope(w, http.StatusForbidden, false, msgSecurityCheck)
		return
	}

	_, err = orchestrators.ExecuteEnrollMember(r.Context(), orchestrators.EnrollMemberInput{
		FullName:        req.FullName,
		Email:           req.Email,
		Phone:           req.Phone,
		GoogleReview:    req.GoogleReview,
		SocialFollow:    req.SocialFollow,
		SharedContacts:  req.SharedContacts,
		ReferredPatient: req.ReferredPatient,
	}, orchestrators.EnrollMemberDeps{
		MemberStore: s.deps.Members,
		Notifier:    s.deps.Notifier,
		Events:      s.deps.Collector,
		Now:         s.now,
	})

	switch {
	case err == nil:
		writeEnvelope(w, http.StatusOK, true, msgEnrolled)
	case errors.Is(err, member.ErrInvalidEmail):
		writeEnvelope(w, http.StatusBadRequest, false, msgInvalidEmail)
	case errors.Is(err, member.ErrMissingField):
		writeEnvelope(w, http.StatusBadRequest, false, msgMissingField)
	case errors.Is(err, member.ErrFieldTooLong):
		writeEnvelope(w, http.StatusBadRequest, false, msgFieldTooLong)
	case errors.Is(err, member.ErrDuplicateEmail):
		writeEnvelope(w, http.StatusConflict, false, msgDuplicate)
	default:
		slog.Error("internal_error", "path", r.URL.Path, "error", err.Error())
		writeEnvelope(w, http.StatusInternalServerError, false, msgSubmitFailed)
	}
}

// EnrollmentForm renders the enrollment form fragment for the caller on r.
func (s *Server) EnrollmentForm(w io.Writer, r *http.Request) error {
	caller := middleware.IdentityFrom(r.Context())
	if caller.Email != "" {
		_, err := s.deps.Members.GetByEmail(r.Context(), caller.Email)
		if err == nil {
			return s.views.EnrollForm(w, views.EnrollFormData{AlreadyEnrolled: true})
		}
		if !errors.Is(err, member.ErrNotFound) {
			return err
		}
	}

	token, err := s.issueToken(r, antiforgery.ActionEnroll)
	if err != nil {
		return err
	}
	return s.views.EnrollForm(w, views.EnrollFormData{
		ActionURL: "/membership/enroll",
		Token:     token,
		CSRFField: csrf.TemplateField(r),
		Intro:     s.intro,
	})
}

// StatusPanel renders the status fragment for email, or for the caller when email is empty.
func (s *Server) StatusPanel(w io.Writer, r *http.Request, email string) error {
	res, err := projections.QueryGetMemberStatus(r.Context(), projections.GetMemberStatusQuery{
		Email:       email,
		CallerEmail: middleware.IdentityFrom(r.Context()).Email,
	}, projections.GetMemberStatusDeps{MemberStore: s.deps.Members})

	data := views.StatusPanelData{ContactURL: s.opts.ContactURL, EnrollURL: s.opts.EnrollURL}
	switch {
	case err == nil:
		data.State = views.StatusEnrolled
		data.FullName = res.FullName
		data.Flags = res.Flags
		data.Eligible = res.Eligible
	case errors.Is(err, member.ErrInvalidEmail):
		data.State = views.StatusNoEmail
	case errors.Is(err, member.ErrNotEnrolled):
		data.State = views.StatusNotEnrolled
	default:
		return err
	}
	return s.views.StatusPanel(w, data)
}

// renderFragment buffers a fragment so a failure can still produce a clean 500.
func renderFragment(w http.ResponseWriter, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		internalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	buf.WriteTo(w)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	renderFragment(w, func(out io.Writer) error { return s.EnrollmentForm(out, r) })
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	renderFragment(w, func(out io.Writer) error { return s.StatusPanel(out, r, email) })
}
