package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"gradebot/internal/grades"
	logx "gradebot/pkg/logx"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "grades.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleRecord() grades.Record {
	return grades.Record{
		Subject: "CPSC", CourseCode: "100", Section: "101", Grade: "85", Letter: "A",
		Session: "2023W", Term: "1", Program: "BSC", Year: "1",
		TotalCredits: "3.0", Credits: "", Average: "72", Standing: "",
	}
}

func TestGradeRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)

	want := sampleRecord()
	require.NoError(t, st.InsertGrade(ctx, uid, want))

	got, err := st.GradeByKey(ctx, uid, want.Key())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateGrade(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	r := sampleRecord()
	require.NoError(t, st.InsertGrade(ctx, uid, r))

	r.Grade, r.Letter, r.Credits = "90", "A+", "3.0"
	require.NoError(t, st.UpdateGrade(ctx, uid, r))

	list, err := st.Grades(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r, list[0])

	missing := r
	missing.CourseCode = "999"
	err = st.UpdateGrade(ctx, uid, missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGradesInsertionOrder(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	for _, code := range []string{"300", "100", "200"} {
		r := sampleRecord()
		r.CourseCode = code
		require.NoError(t, st.InsertGrade(ctx, uid, r))
	}

	list, err := st.Grades(ctx, uid)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"300", "100", "200"},
		[]string{list[0].CourseCode, list[1].CourseCode, list[2].CourseCode})
}

func TestDeleteUserCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	require.NoError(t, st.InsertGrade(ctx, uid, sampleRecord()))

	require.NoError(t, st.DeleteUser(ctx, uid))

	var n int
	require.NoError(t, st.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM grades WHERE user_id = ?`, uid))
	assert.Zero(t, n)

	_, err = st.UserID(ctx, "alice", "42")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteUser(ctx, uid), ErrNotFound)
}

func TestUniquenessViolations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, "alice", "42")
	assert.ErrorIs(t, err, ErrConstraint)

	// Same username in another chat is a different user.
	_, err = st.CreateUser(ctx, "alice", "43")
	require.NoError(t, err)

	require.NoError(t, st.InsertGrade(ctx, uid, sampleRecord()))
	err = st.InsertGrade(ctx, uid, sampleRecord())
	assert.ErrorIs(t, err, ErrConstraint)

	err = st.InsertGrade(ctx, 9999, sampleRecord())
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestListUsers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.CreateUser(ctx, "alice", "1")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, "bob", "2")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, "carol", "1")
	require.NoError(t, err)

	all, err := st.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	inChat, err := st.ListUsersByChannel(ctx, "1")
	require.NoError(t, err)
	require.Len(t, inChat, 2)
	assert.Equal(t, "alice", inChat[0].Username)
	assert.Equal(t, "carol", inChat[1].Username)
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grades.db")
	ctx := context.Background()

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	uid, err := st.CreateUser(ctx, "alice", "42")
	require.NoError(t, err)
	require.NoError(t, st.InsertGrade(ctx, uid, sampleRecord()))
	require.NoError(t, st.Close())

	st, err = Open(ctx, Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.UserID(ctx, "alice", "42")
	require.NoError(t, err)
	assert.Equal(t, uid, got)
	list, err := st.Grades(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), logx.Nop()), mock
}

func TestConnectionErrorsAreClassified(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grades")).WillReturnError(sql.ErrConnDone)
	err := st.InsertGrade(context.Background(), 1, sampleRecord())
	assert.ErrorIs(t, err, ErrConnection)
	assert.NotErrorIs(t, err, ErrConstraint)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGradeNoRowsIsNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE grades SET")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := st.UpdateGrade(context.Background(), 1, sampleRecord())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
