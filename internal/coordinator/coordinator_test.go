package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gradebot/internal/events"
	"gradebot/internal/grades"
	"gradebot/internal/remote"
	"gradebot/internal/storage"
	"gradebot/internal/tracker"
	kit "gradebot/internal/transport"
	logx "gradebot/pkg/logx"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = 42

type fakeRemote struct {
	mu      sync.Mutex
	secrets map[string]string
	fetches [][]grades.Record
}

func (f *fakeRemote) FetchLoginForm(ctx context.Context) (remote.LoginForm, error) {
	return remote.LoginForm{Token: "tok"}, nil
}

func (f *fakeRemote) SubmitLogin(ctx context.Context, identity, secret string, form remote.LoginForm) (*remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.secrets[identity] != secret {
		return nil, remote.ErrInvalidLogin
	}
	return &remote.Session{ID: identity}, nil
}

func (f *fakeRemote) FetchRecords(ctx context.Context, s *remote.Session) ([]grades.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetches) == 0 {
		return nil, nil
	}
	r := f.fetches[0]
	if len(f.fetches) > 1 {
		f.fetches = f.fetches[1:]
	}
	return r, nil
}

type fakeNotifier struct {
	ch chan kit.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n kit.Notification) error {
	f.ch <- n
	return nil
}

type harness struct {
	t       *testing.T
	store   *storage.Store
	queue   *events.Queue
	tracker *tracker.Tracker
	notes   *fakeNotifier
	updates chan kit.Update
	coord   *Coordinator
	errCh   chan error
}

func newHarness(t *testing.T, svc remote.Service) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)

	q := events.NewQueue(128)
	tr, err := tracker.New(ctx, tracker.Config{
		PollInterval:  5 * time.Millisecond,
		RetryBase:     time.Millisecond,
		MaxBackoff:    5 * time.Millisecond,
		AdvisoryAfter: 3,
	}, svc, q)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		store:   st,
		queue:   q,
		tracker: tr,
		notes:   &fakeNotifier{ch: make(chan kit.Notification, 256)},
		updates: make(chan kit.Update, 16),
		errCh:   make(chan error, 1),
	}
	h.coord = New(Config{}, Deps{
		Store:    st,
		Queue:    q,
		Tracker:  tr,
		Notifier: h.notes,
		Updates:  h.updates,
	})
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = tr.StopAll(sctx)
		_ = st.Close()
	})
	return h
}

func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)
	go func() { h.errCh <- h.coord.Run(ctx) }()
}

func (h *harness) say(text string) {
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, Text: text, IsPrivate: true}}
}

func (h *harness) next() kit.Notification {
	h.t.Helper()
	select {
	case n := <-h.notes.ch:
		return n
	case err := <-h.errCh:
		h.t.Fatalf("coordinator exited: %v", err)
	case <-time.After(3 * time.Second):
		h.t.Fatalf("timed out waiting for a notification")
	}
	return kit.Notification{}
}

func (h *harness) expect(text string) kit.Notification {
	h.t.Helper()
	n := h.next()
	require.Equal(h.t, text, n.Text)
	require.Equal(h.t, int64(chatID), n.Target.ChatID)
	return n
}

func (h *harness) expectPrefix(prefix string) kit.Notification {
	h.t.Helper()
	n := h.next()
	require.True(h.t, strings.HasPrefix(n.Text, prefix), "got %q, want prefix %q", n.Text, prefix)
	return n
}

func (h *harness) quiet(d time.Duration) {
	h.t.Helper()
	select {
	case n := <-h.notes.ch:
		h.t.Fatalf("unexpected notification: %q", n.Text)
	case <-time.After(d):
	}
}

func cpsc(grade string) grades.Record {
	return grades.Record{
		Subject: "CPSC", CourseCode: "100", Section: "101", Grade: grade, Letter: "A",
		Session: "2023W", Term: "1", Program: "BSC", Year: "1",
		TotalCredits: "3.0", Credits: "3.0", Average: "72",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRegisterSuccessStartsPoller(t *testing.T) {
	h := newHarness(t, &fakeRemote{secrets: map[string]string{"alice": "secretpw"}})
	h.run()

	h.say("register alice secretpw")
	h.expect(msgChecking)
	h.expect(msgRegistered)

	key := tracker.Key{Username: "alice", Channel: "42"}
	waitFor(t, func() bool {
		st, ok := h.tracker.State(key)
		return ok && st == tracker.StatePolling
	})
	_, err := h.store.UserID(context.Background(), "alice", "42")
	require.NoError(t, err)
}

func TestRegisterInvalidLoginDeletesUser(t *testing.T) {
	h := newHarness(t, &fakeRemote{secrets: map[string]string{"bob": "rightpw"}})
	h.run()

	h.say("register bob wrongpw")
	h.expect(msgChecking)
	h.expect("Registration error: invalid_login")

	waitFor(t, func() bool {
		_, err := h.store.UserID(context.Background(), "bob", "42")
		return errors.Is(err, storage.ErrNotFound)
	})
}

func TestGradeChangesArePersistedAndReported(t *testing.T) {
	svc := &fakeRemote{
		secrets: map[string]string{"alice": "secretpw"},
		fetches: [][]grades.Record{{cpsc("85")}, {cpsc("90")}, {cpsc("90")}},
	}
	h := newHarness(t, svc)
	h.run()

	h.say("register alice secretpw")
	h.expect(msgChecking)
	h.expect(msgRegistered)

	n := h.expectPrefix("New Grade:\n")
	assert.Contains(t, n.Text, "<i>Grade</i>: 85 (A)")
	require.NotNil(t, n.Options)
	assert.Equal(t, "HTML", n.Options.ParseMode)

	n = h.expectPrefix("Updated Grade:\n")
	assert.Contains(t, n.Text, "<i>Grade</i>: 90 (A)")
	h.quiet(50 * time.Millisecond)

	uid, err := h.store.UserID(context.Background(), "alice", "42")
	require.NoError(t, err)
	stored, err := h.store.Grades(context.Background(), uid)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, cpsc("90"), stored[0])

	h.say("grades alice")
	n = h.expectPrefix("<b>alice</b>\n<pre>")
	lines := strings.Split(strings.TrimSuffix(strings.SplitN(n.Text, "<pre>", 2)[1], "</pre>"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Course"))
	assert.True(t, strings.HasPrefix(lines[2], "CPSC 100"))
	assert.Equal(t, []string{"CPSC", "100", "101", "90", "A", "2023W", "1", "BSC", "1", "3.0/3.0", "72"}, strings.Fields(lines[2]))
}

func TestReregisterSeedsStoredHistory(t *testing.T) {
	svc := &fakeRemote{
		secrets: map[string]string{"alice": "secretpw"},
		fetches: [][]grades.Record{{cpsc("85")}},
	}
	h := newHarness(t, svc)
	ctx := context.Background()
	uid, err := h.store.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	require.NoError(t, h.store.InsertGrade(ctx, uid, cpsc("85")))
	h.run()
	h.expectPrefix("The bot restarted")

	h.say("register alice secretpw")
	h.expect(msgReregistering("alice", uid))
	h.expect(msgRegistered)
	// The stored record matches the fetch, so nothing is reported.
	h.quiet(50 * time.Millisecond)
}

func TestStartupAdvisesEveryStoredUser(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	ctx := context.Background()
	_, err := h.store.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	_, err = h.store.CreateUser(ctx, "carol", "77")
	require.NoError(t, err)
	h.run()

	got := map[int64]string{}
	for i := 0; i < 2; i++ {
		n := h.next()
		got[n.Target.ChatID] = n.Text
	}
	assert.Equal(t, msgRestarted("alice"), got[42])
	assert.Equal(t, msgRestarted("carol"), got[77])
}

func TestGradesReplies(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	ctx := context.Background()
	h.run()

	h.say("grades")
	h.expect(msgNoUsers)
	h.say("grades nobody")
	h.expect("No user nobody registered here.")

	uid, err := h.store.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	h.say("grades alice")
	h.expect("No grades recorded for alice yet.")

	require.NoError(t, h.store.InsertGrade(ctx, uid, cpsc("85")))
	_, err = h.store.CreateUser(ctx, "dave", "42")
	require.NoError(t, err)
	h.say("/grades")
	h.expectPrefix("<b>alice</b>")
	h.expect("No grades recorded for dave yet.")
}

func TestUnregisterStopsAndDeletes(t *testing.T) {
	svc := &fakeRemote{secrets: map[string]string{"alice": "secretpw"}}
	h := newHarness(t, svc)
	h.run()

	h.say("register alice secretpw")
	h.expect(msgChecking)
	h.expect(msgRegistered)

	h.say("unregister alice")
	h.expect("Unregistered alice.")
	_, err := h.store.UserID(context.Background(), "alice", "42")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	waitFor(t, func() bool { return !h.tracker.Active(tracker.Key{Username: "alice", Channel: "42"}) })

	h.say("unregister alice")
	h.expect("No user alice registered here.")
}

func TestStatusListsUsers(t *testing.T) {
	svc := &fakeRemote{secrets: map[string]string{"alice": "secretpw"}}
	h := newHarness(t, svc)
	_, err := h.store.CreateUser(context.Background(), "zed", "42")
	require.NoError(t, err)
	h.run()
	h.next() // restart advisory for zed

	h.say("register alice secretpw")
	h.expect(msgChecking)
	h.expect(msgRegistered)
	waitFor(t, func() bool {
		st, ok := h.tracker.State(tracker.Key{Username: "alice", Channel: "42"})
		return ok && st == tracker.StatePolling
	})

	h.say("status")
	n := h.next()
	assert.Contains(t, n.Text, "zed: not running")
	assert.Contains(t, n.Text, "alice: polling")
}

func TestCommandParsingAndFiltering(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.run()

	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, Text: "help", IsPrivate: false}}
	h.say("HELP@grade_bot")
	h.expect(helpText)

	h.say("register onlyuser")
	h.expect(msgRegisterUsage)
	h.say("frobnicate")
	h.expect(msgUnknownCommand)
}

func TestPollAdvisoryAndUnknownUserEvents(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	ctx := context.Background()
	_, err := h.store.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	h.run()
	h.next() // restart advisory

	h.queue.Push(events.NewGrade{Source: events.Source{Channel: "42", Username: "ghost"}, Record: cpsc("50")})
	h.queue.Push(events.PollAdvisory{Source: events.Source{Channel: "42", Username: "alice"}, Failures: 10, Err: "boom"})

	n := h.next()
	assert.Equal(t, msgAdvisory("alice", 10), n.Text)
	h.quiet(30 * time.Millisecond)
}

func TestGradeUpdateWithoutRowInserts(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	ctx := context.Background()
	uid, err := h.store.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	h.run()
	h.next()

	h.queue.Push(events.GradeUpdate{Source: events.Source{Channel: "42", Username: "alice"}, Record: cpsc("70")})
	h.expectPrefix("Updated Grade:\n")
	got, err := h.store.GradeByKey(ctx, uid, grades.Key{Subject: "CPSC", CourseCode: "100"})
	require.NoError(t, err)
	assert.Equal(t, "70", got.Grade)
}

func TestStoreConnectionFailureIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	st := storage.NewWithDB(sqlx.NewDb(db, "sqlmock"), logx.Nop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, username, channel FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "channel"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users")).WillReturnError(errConnDone)

	updates := make(chan kit.Update, 1)
	c := New(Config{}, Deps{
		Store:    st,
		Queue:    events.NewQueue(8),
		Tracker:  nopTracker{},
		Notifier: &fakeNotifier{ch: make(chan kit.Notification, 8)},
		Updates:  updates,
	})
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, Text: "register a b", IsPrivate: true}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = c.Run(ctx)
	assert.ErrorIs(t, err, storage.ErrConnection)
}

type stepHarness struct {
	t       *testing.T
	ctx     context.Context
	store   *storage.Store
	queue   *events.Queue
	tracker *scriptedTracker
	notes   *fakeNotifier
	coord   *Coordinator
}

// newStepHarness drives the coordinator one update or drain at a time so
// event and command interleavings are deterministic.
func newStepHarness(t *testing.T) *stepHarness {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &stepHarness{
		t:       t,
		ctx:     ctx,
		store:   st,
		queue:   events.NewQueue(16),
		tracker: newScriptedTracker(),
		notes:   &fakeNotifier{ch: make(chan kit.Notification, 64)},
	}
	h.coord = New(Config{}, Deps{Store: st, Queue: h.queue, Tracker: h.tracker, Notifier: h.notes})
	return h
}

func (h *stepHarness) say(text string) {
	h.t.Helper()
	u := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, Text: text, IsPrivate: true}}
	require.NoError(h.t, h.coord.handleUpdate(h.ctx, u))
}

func (h *stepHarness) login(session string, status events.Status) {
	h.t.Helper()
	h.queue.Push(events.LoginStatus{
		Source: events.Source{Channel: "42", Username: "alice", Session: session},
		Status: status,
	})
	require.NoError(h.t, h.coord.drain(h.ctx))
}

func (h *stepHarness) replies() []string {
	var out []string
	for {
		select {
		case n := <-h.notes.ch:
			out = append(out, n.Text)
		default:
			return out
		}
	}
}

func TestLoginStatusFromReplacedSessionIsIgnored(t *testing.T) {
	h := newStepHarness(t)

	h.say("register alice wrongpw")
	// s1 reports its failure, but the corrected register arrives first.
	h.queue.Push(events.LoginStatus{
		Source: events.Source{Channel: "42", Username: "alice", Session: "s1"},
		Status: events.StatusInvalidLogin,
	})
	h.say("register alice secretpw")
	require.NoError(t, h.coord.drain(h.ctx))

	assert.Equal(t, 2, h.tracker.starts)
	assert.Equal(t, 0, h.tracker.stops)
	_, err := h.store.UserID(h.ctx, "alice", "42")
	require.NoError(t, err)
	assert.Equal(t, []string{msgChecking, msgChecking}, h.replies())

	h.login("s2", events.StatusSuccess)
	assert.Equal(t, []string{msgRegistered}, h.replies())
}

func TestLoginStatusFromCurrentSessionStillRejects(t *testing.T) {
	h := newStepHarness(t)

	h.say("register alice wrongpw")
	h.say("register alice otherpw")
	h.replies()

	h.login("s1", events.StatusInvalidLogin)
	assert.Empty(t, h.replies())

	h.login("s2", events.StatusInvalidLogin)
	assert.Equal(t, []string{"Registration error: invalid_login"}, h.replies())
	assert.Equal(t, 1, h.tracker.stops)
	_, err := h.store.UserID(h.ctx, "alice", "42")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegisterWhilePendingChecksAgain(t *testing.T) {
	h := newStepHarness(t)

	h.say("register alice wrongpw")
	h.say("register alice secretpw")
	assert.Equal(t, []string{msgChecking, msgChecking}, h.replies())
	assert.Equal(t, []string{"wrongpw", "secretpw"}, h.tracker.secrets)
	assert.Nil(t, h.tracker.seeds[1])

	h.login("s2", events.StatusSuccess)
	h.replies()

	// Confirmed now, so the next register is a re-registration.
	uid, err := h.store.UserID(h.ctx, "alice", "42")
	require.NoError(t, err)
	h.say("register alice secretpw")
	assert.Equal(t, []string{msgReregistering("alice", uid)}, h.replies())
}

func TestUnregisterClearsPendingRegistration(t *testing.T) {
	h := newStepHarness(t)

	h.say("register alice wrongpw")
	h.say("unregister alice")
	h.say("register alice secretpw")
	assert.Equal(t, []string{msgChecking, "Unregistered alice.", msgChecking}, h.replies())
}

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("  /Register@my_bot alice pw ")
	require.True(t, ok)
	assert.Equal(t, "register", cmd.name)
	assert.Equal(t, []string{"alice", "pw"}, cmd.args)

	_, ok = parseCommand("   ")
	assert.False(t, ok)
}
