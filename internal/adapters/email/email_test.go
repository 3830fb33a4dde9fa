package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

func TestNewSender_SelectsBackend(t *testing.T) {
	if _, ok := NewSender("", "from@example.com").(*NoopSender); !ok {
		t.Error("empty key should select NoopSender")
	}
	if _, ok := NewSender("re_test", "from@example.com").(*ResendSender); !ok {
		t.Error("api key should select ResendSender")
	}
}

func TestNoopSender_RecordsMessages(t *testing.T) {
	s := NewNoopSender()
	ctx := context.Background()

	if _, err := s.Send(ctx, SendRequest{To: []string{"a@example.com"}, Subject: "one"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	results, err := s.SendBatch(ctx, []SendRequest{
		{To: []string{"b@example.com"}, Subject: "two"},
		{To: []string{"c@example.com"}, Subject: "three"},
	})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if len(results) != 2 || results[1].MessageID != "noop-3" {
		t.Errorf("results = %+v", results)
	}

	sent := s.Sent()
	if len(sent) != 3 || sent[2].Subject != "three" {
		t.Errorf("Sent() = %+v", sent)
	}
}

// newTestResend points a ResendSender at a local server.
func newTestResend(t *testing.T, h http.HandlerFunc) *ResendSender {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	s := NewResendSender("re_test", "Clinic <noreply@clinic.example>")
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	s.client.BaseURL = base
	return s
}

func TestResendSender_Send(t *testing.T) {
	var got map[string]any
	s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("path = %s, want /emails", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1"}`)
	})

	res, err := s.Send(context.Background(), SendRequest{
		To:      []string{"jane@example.com"},
		Subject: "Welcome",
		HTML:    "<p>hi</p>",
		ReplyTo: "desk@clinic.example",
		Tag:     "enrollment_received",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "msg_1" {
		t.Errorf("MessageID = %q, want msg_1", res.MessageID)
	}
	if got["from"] != "Clinic <noreply@clinic.example>" {
		t.Errorf("from = %v, want default sender", got["from"])
	}
}

func TestResendSender_SendBatchChunks(t *testing.T) {
	var calls atomic.Int32
	s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var batch []map[string]any
		json.NewDecoder(r.Body).Decode(&batch)
		type item struct {
			ID string `json:"id"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i := range batch {
			resp.Data = append(resp.Data, item{ID: fmt.Sprintf("b%d-%d", calls.Load(), i)})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	reqs := make([]SendRequest, resendBatchLimit+5)
	for i := range reqs {
		reqs[i] = SendRequest{To: []string{fmt.Sprintf("m%d@example.com", i)}, Subject: "Eligible"}
	}
	results, err := s.SendBatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("batch calls = %d, want 2", calls.Load())
	}
	if len(results) != len(reqs) {
		t.Errorf("results = %d, want %d", len(results), len(reqs))
	}
}

func TestResendSender_SendError(t *testing.T) {
	s := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"statusCode":422,"name":"validation_error","message":"invalid to"}`)
	})

	if _, err := s.Send(context.Background(), SendRequest{To: []string{"x"}, Subject: "s"}); err == nil {
		t.Error("expected error from provider")
	}
}
