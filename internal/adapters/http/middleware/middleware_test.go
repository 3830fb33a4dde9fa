package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/csrf"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other IPs have their own budget")
	}
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	rl.Allow("ip")
	if rl.Allow("ip") {
		t.Fatal("second request in window should be denied")
	}
	time.Sleep(40 * time.Millisecond)
	if !rl.Allow("ip") {
		t.Error("budget should reset after the window")
	}
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	var nilRL *RateLimiter
	if !nilRL.Allow("ip") || !NewRateLimiter(0, time.Minute).Allow("ip") {
		t.Error("disabled limiter must allow everything")
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, time.Minute)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("ip") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestRateLimit_OnlyUnsafeMethods(t *testing.T) {
	h := RateLimit(NewRateLimiter(1, time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(method string) int {
		req := httptest.NewRequest(method, "/membership/enroll", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if do("GET") != 200 || do("GET") != 200 {
		t.Error("GET must not be limited")
	}
	if do("POST") != 200 {
		t.Error("first POST allowed")
	}
	if got := do("POST"); got != http.StatusTooManyRequests {
		t.Errorf("second POST = %d, want 429", got)
	}
}

func TestClientIP(t *testing.T) {
	for addr, want := range map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:80":       "::1",
		"bare":           "bare",
	} {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = addr
		if got := ClientIP(r); got != want {
			t.Errorf("ClientIP(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Referrer-Policy"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}

func TestCSRF(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))
	var token string
	h := CSRF(key, CSRFOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = csrf.Token(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("form post without token is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/membership/enroll", strings.NewReader("a=b"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rr.Code)
		}
	})

	t.Run("json post is exempt", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/membership/enroll", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	})

	t.Run("form post with cookie and token passes", func(t *testing.T) {
		get := httptest.NewRecorder()
		h.ServeHTTP(get, httptest.NewRequest("GET", "/membership/form", nil))
		cookies := get.Result().Cookies()
		if len(cookies) == 0 || token == "" {
			t.Fatal("GET should issue a cookie and token")
		}

		req := httptest.NewRequest("POST", "/membership/enroll", strings.NewReader("gorilla.csrf.Token="+token))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), mw("inner"), mw("outer"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}
