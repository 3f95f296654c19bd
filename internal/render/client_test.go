package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/retry"
	"github.com/TobiSchelling/ftdigest/internal/session"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	opts := DefaultOptions(srv.URL)
	opts.Retry = fastRetry()
	opts.Timeout = 2 * time.Second
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><h1>Hello</h1></html>")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.Fetch(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", page.StatusCode)
	}
	if page.HTML == "" {
		t.Error("expected non-empty HTML")
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Fetch(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "<html>recovered</html>")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 3 {
		t.Errorf("expected 3 attempts, got %d", hits)
	}
	if page.HTML != "<html>recovered</html>" {
		t.Errorf("unexpected body %q", page.HTML)
	}
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if hits != 1 {
		t.Errorf("expected 1 attempt, got %d", hits)
	}
}

func TestCookieRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123", Path: "/"})
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blob, err := c.ExportCookies()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected non-empty blob")
	}

	c2 := newTestClient(t, srv)
	if err := c2.ImportCookies(blob); err != nil {
		t.Fatalf("import: %v", err)
	}
	blob2, err := c2.ExportCookies()
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if string(blob2) != string(blob) {
		t.Errorf("blob changed across round trip: %s vs %s", blob, blob2)
	}
}

// A re-login swaps the cookie jar while other fetches are in flight.
// The swap must not touch the http.Client's Jar field, which Do reads
// unsynchronized.
func TestImportCookiesDuringConcurrentFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "server", Path: "/"})
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	fresh := []byte(`[{"Name":"sid","Value":"fresh","Path":"/"}]`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.ImportCookies(fresh); err != nil {
				t.Errorf("import: %v", err)
			}
		}()
	}
	wg.Wait()

	// The client must still be usable and hold a coherent jar.
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch after swaps: %v", err)
	}
	blob, err := c.ExportCookies()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(blob) == 0 || string(blob) == "null" {
		t.Errorf("expected cookies after swaps, got %s", blob)
	}
}

// loginSite fakes the three-step login: email form, SSO hop, institution
// credentials, then a landing page whose markup depends on the session
// cookie.
func loginSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><form action="/login/email" method="post">
			<input id="enter-email" name="email" type="email">
			<button type="submit">Next</button></form></html>`)
	})
	mux.HandleFunc("/login/email", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("email") == "" {
			http.Error(w, "missing email", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `<html><a id="sso-redirect-button" href="/sso">SSO Sign in</a></html>`)
	})
	mux.HandleFunc("/sso", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><form action="/sso/submit" method="post">
			<input type="text" name="account">
			<input type="password" name="password">
			<input type="hidden" name="csrf" value="tok-1">
			</form></html>`)
	})
	mux.HandleFunc("/sso/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("account") != "u1234567" || r.FormValue("password") != "hunter2" || r.FormValue("csrf") != "tok-1" {
			fmt.Fprint(w, `<html><p>Wrong credentials</p></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "logged-in", Path: "/"})
		fmt.Fprint(w, `<html><a href="/myft">myFT</a></html>`)
	})
	mux.HandleFunc("/myft", func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("sid"); err == nil && ck.Value == "logged-in" {
			fmt.Fprint(w, `<html><a href="/myft">myFT</a></html>`)
			return
		}
		fmt.Fprint(w, `<html><form><input id="enter-email" name="email"></form></html>`)
	})
	return httptest.NewServer(mux)
}

func TestLoginFlow(t *testing.T) {
	srv := loginSite(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	cred := session.NewCredential("reader@example.edu", "u1234567", "hunter2")
	blob, err := c.Login(context.Background(), cred)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected a cookie blob")
	}

	ok, err := c.Validate(context.Background(), blob)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Error("expected blob to validate")
	}
}

func TestLoginFlowRejectsBadCredentials(t *testing.T) {
	srv := loginSite(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	cred := session.NewCredential("reader@example.edu", "u1234567", "wrong")
	if _, err := c.Login(context.Background(), cred); err == nil {
		t.Fatal("expected login to fail")
	}
}

func TestValidateRejectsEmptyAndStaleBlobs(t *testing.T) {
	srv := loginSite(t)
	defer srv.Close()

	c := newTestClient(t, srv)
	if ok, err := c.Validate(context.Background(), nil); err != nil || ok {
		t.Errorf("expected empty blob to be invalid, got ok=%v err=%v", ok, err)
	}

	stale := []byte(`[{"Name":"sid","Value":"expired","Path":"/"}]`)
	ok, err := c.Validate(context.Background(), stale)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok {
		t.Error("expected stale cookie to be invalid")
	}
}
