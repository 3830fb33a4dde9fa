package orchestrators

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"

	"membership/internal/adapters/email"
	"membership/internal/domain/member"
)

var (
	receivedTmpl = template.Must(template.New("received").Parse(
		`<p>Hi {{.Name}},</p>
<p>We have received your free membership application. Our team will verify your engagement actions shortly.</p>
<p>Completed so far: {{.Completed}} of 4.</p>`))

	eligibleTmpl = template.Must(template.New("eligible").Parse(
		`<p>Hi {{.Name}},</p>
<p>Good news: all four engagement actions are verified and you are now eligible for the free membership.</p>
{{if .ContactURL}}<p><a href="{{.ContactURL}}">Contact us</a> to redeem it.</p>{{end}}`))
)

// Notifier sends best-effort membership emails. A nil *Notifier sends nothing.
// Failures are logged and never returned.
type Notifier struct {
	Sender     email.Sender
	From       string
	ReplyTo    string
	ContactURL string
}

type notifyData struct {
	Name       string
	Completed  int
	ContactURL string
}

func completed(f member.Flags) int {
	n := 0
	for _, b := range []bool{f.GoogleReview, f.SocialFollow, f.SharedContacts, f.ReferredPatient} {
		if b {
			n++
		}
	}
	return n
}

func (n *Notifier) render(t *template.Template, m member.Member) (string, bool) {
	var buf bytes.Buffer
	err := t.Execute(&buf, notifyData{Name: m.FullName, Completed: completed(m.Flags), ContactURL: n.ContactURL})
	if err != nil {
		slog.Error("notify_render_failed", "template", t.Name(), "member_id", m.ID, "error", err)
		return "", false
	}
	return buf.String(), true
}

// EnrollmentReceived confirms a new application to the applicant.
func (n *Notifier) EnrollmentReceived(ctx context.Context, m member.Member) {
	if n == nil || n.Sender == nil {
		return
	}
	html, ok := n.render(receivedTmpl, m)
	if !ok {
		return
	}
	_, err := n.Sender.Send(ctx, email.SendRequest{
		To:      []string{m.Email},
		From:    n.From,
		ReplyTo: n.ReplyTo,
		Subject: "We received your membership application",
		HTML:    html,
		Tag:     "enrollment_received",
	})
	if err != nil {
		slog.Warn("notify_failed", "tag", "enrollment_received", "member_id", m.ID, "error", err)
	}
}

// NowEligible tells each member that they have become eligible, in one batch.
func (n *Notifier) NowEligible(ctx context.Context, members []member.Member) {
	if n == nil || n.Sender == nil || len(members) == 0 {
		return
	}
	reqs := make([]email.SendRequest, 0, len(members))
	for _, m := range members {
		html, ok := n.render(eligibleTmpl, m)
		if !ok {
			continue
		}
		reqs = append(reqs, email.SendRequest{
			To:      []string{m.Email},
			From:    n.From,
			ReplyTo: n.ReplyTo,
			Subject: "You are eligible for the free membership",
			HTML:    html,
			Tag:     "member_eligible",
		})
	}
	if _, err := n.Sender.SendBatch(ctx, reqs); err != nil {
		slog.Warn("notify_failed", "tag", "member_eligible", "count", len(reqs), "error", err)
	}
}
