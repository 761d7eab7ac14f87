package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	logx "gradebot/pkg/logx"
)

const recordPage = `<html><body>
<div id="tabs-all"><table>
<tr><th>Course</th></tr>
<tr class="listRow">
 <td>CPSC 100</td><td>101</td><td credits="3.0">85</td><td>A</td><td>2023W</td>
 <td>1</td><td>BSC</td><td>1</td><td></td><td>72</td><td></td>
</tr>
<tr class="listRow">
 <td>MATH 200</td><td>102</td><td credits="4.0">70</td><td>B-</td><td>2023W</td>
 <td>2</td><td>BSC</td><td>1</td><td>4.0</td><td>68</td><td>PASS</td>
</tr>
<tr class="listRow"><td>short row</td></tr>
</table></div>
<div id="tabs-2023W"><table><tr class="listRow"><td>IGNORED 1</td></tr></table></div>
</body></html>`

type fakeCAS struct {
	student  bool
	bounce   bool // redirect non-students to the login form instead of a 403
	expired  atomic.Bool
	fetches  atomic.Int32
	sawToken atomic.Value
}

func (f *fakeCAS) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "s1", Path: "/"})
			fmt.Fprint(w, `<form><input type="hidden" name="execution" value="tok-123"/></form>`)
			return
		}
		_ = r.ParseForm()
		f.sawToken.Store(r.PostForm.Get("execution"))
		if r.PostForm.Get("username") == "alice" && r.PostForm.Get("password") == "secretpw" &&
			r.PostForm.Get("_eventId") == "submit" {
			http.SetCookie(w, &http.Cookie{Name: "TGC", Value: "ticket", Path: "/"})
		}
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		if _, err := r.Cookie("TGC"); err != nil || f.expired.Load() {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		if !f.student && f.bounce {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		if !f.student {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, recordPage)
	})
	return mux
}

func newTestClient(t *testing.T, cas *fakeCAS) *Client {
	t.Helper()
	srv := httptest.NewServer(cas.handler())
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		LoginURL:   srv.URL + "/login",
		RecordsURL: srv.URL + "/records",
		RatePerSec: 1000,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func login(t *testing.T, c *Client, user, pw string) (*Session, error) {
	t.Helper()
	ctx := context.Background()
	form, err := c.FetchLoginForm(ctx)
	if err != nil {
		t.Fatalf("FetchLoginForm: %v", err)
	}
	if form.Token != "tok-123" {
		t.Fatalf("token = %q", form.Token)
	}
	return c.SubmitLogin(ctx, user, pw, form)
}

func TestLoginAndFetchRecords(t *testing.T) {
	cas := &fakeCAS{student: true}
	c := newTestClient(t, cas)

	s, err := login(t, c, "alice", "secretpw")
	if err != nil {
		t.Fatalf("SubmitLogin: %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session id is empty")
	}
	if got := cas.sawToken.Load(); got != "tok-123" {
		t.Fatalf("execution token posted = %v", got)
	}

	recs, err := c.FetchRecords(context.Background(), s)
	if err != nil {
		t.Fatalf("FetchRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2: %+v", len(recs), recs)
	}
	r := recs[0]
	if r.Subject != "CPSC" || r.CourseCode != "100" || r.Grade != "85" || r.TotalCredits != "3.0" ||
		r.Letter != "A" || r.Credits != "" || r.Average != "72" {
		t.Fatalf("unexpected first record: %+v", r)
	}
	if recs[1].Standing != "PASS" || recs[1].Credits != "4.0" {
		t.Fatalf("unexpected second record: %+v", recs[1])
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	c := newTestClient(t, &fakeCAS{student: true})
	_, err := login(t, c, "alice", "wrongpw")
	if !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("err = %v, want ErrInvalidLogin", err)
	}
}

func TestLoginNotAStudent(t *testing.T) {
	c := newTestClient(t, &fakeCAS{student: false})
	_, err := login(t, c, "alice", "secretpw")
	if !errors.Is(err, ErrNotAStudent) {
		t.Fatalf("err = %v, want ErrNotAStudent", err)
	}
}

func TestLoginNotAStudentRedirectedToLogin(t *testing.T) {
	cas := &fakeCAS{student: false, bounce: true}
	c := newTestClient(t, cas)
	_, err := login(t, c, "alice", "secretpw")
	if !errors.Is(err, ErrNotAStudent) {
		t.Fatalf("err = %v, want ErrNotAStudent", err)
	}
	if cas.fetches.Load() != 1 {
		t.Fatalf("record fetches = %d, want 1", cas.fetches.Load())
	}
}

func TestFetchRecordsSessionExpired(t *testing.T) {
	cas := &fakeCAS{student: true}
	c := newTestClient(t, cas)
	s, err := login(t, c, "alice", "secretpw")
	if err != nil {
		t.Fatalf("SubmitLogin: %v", err)
	}

	cas.expired.Store(true)
	if _, err := c.FetchRecords(context.Background(), s); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{LoginURL: url + "/login", RecordsURL: url + "/records"}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.FetchLoginForm(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestParseRecordsMissingTab(t *testing.T) {
	_, err := parseRecords(strings.NewReader("<html><body>maintenance</body></html>"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestParseLoginTokenMissing(t *testing.T) {
	_, err := parseLoginToken(strings.NewReader("<form></form>"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}
