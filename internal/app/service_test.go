package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/config"
	"taskboard/api/internal/store"
)

type fakeStore struct {
	ensureUserByNameFn func(context.Context, string, string) (store.User, error)
	getUserByIDFn      func(context.Context, string) (store.User, error)
	getBoardDetailFn   func(context.Context, string) (store.BoardDetail, error)
	getListFn          func(context.Context, string) (store.List, error)
	getTaskWithBoardFn func(context.Context, string) (store.Task, string, error)
	getMemberRoleFn    func(context.Context, string, string) (string, error)
	getBoardMemberFn   func(context.Context, string, string) (store.BoardMember, error)
	createTaskFn       func(context.Context, store.Task) (store.Task, bool, error)
	updateTaskFn       func(context.Context, string, store.TaskPatch) (store.Task, bool, error)
	moveTaskFn         func(context.Context, string, string, string, int, int) (store.Task, error)
	deleteTaskFn       func(context.Context, string) (store.Task, error)
	createListFn       func(context.Context, store.List) (store.List, error)
	updateListFn       func(context.Context, string, *string, *int) (store.List, error)
	deleteListFn       func(context.Context, string) (store.List, error)
	createBoardFn      func(context.Context, store.Board) (store.Board, error)
	deleteBoardFn      func(context.Context, string) error
	addMemberFn        func(context.Context, string, string, string) (bool, error)
	listActivityFn     func(context.Context, string, int, int) ([]store.Activity, int, error)
}

func (f *fakeStore) EnsureUserByName(ctx context.Context, id, name string) (store.User, error) {
	if f.ensureUserByNameFn != nil {
		return f.ensureUserByNameFn(ctx, id, name)
	}
	return store.User{ID: id, Name: name}, nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID}, nil
}
func (f *fakeStore) GetBoard(context.Context, string) (store.Board, error) {
	return store.Board{}, nil
}
func (f *fakeStore) ListBoardsForUser(context.Context, string) ([]store.Board, error) {
	return nil, nil
}
func (f *fakeStore) GetBoardDetail(ctx context.Context, boardID string) (store.BoardDetail, error) {
	if f.getBoardDetailFn != nil {
		return f.getBoardDetailFn(ctx, boardID)
	}
	return store.BoardDetail{}, sql.ErrNoRows
}
func (f *fakeStore) GetList(ctx context.Context, listID string) (store.List, error) {
	if f.getListFn != nil {
		return f.getListFn(ctx, listID)
	}
	return store.List{}, sql.ErrNoRows
}
func (f *fakeStore) GetTaskWithBoard(ctx context.Context, taskID string) (store.Task, string, error) {
	if f.getTaskWithBoardFn != nil {
		return f.getTaskWithBoardFn(ctx, taskID)
	}
	return store.Task{}, "", sql.ErrNoRows
}
func (f *fakeStore) GetMemberRole(ctx context.Context, boardID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, boardID, userID)
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) GetBoardMember(ctx context.Context, boardID, userID string) (store.BoardMember, error) {
	if f.getBoardMemberFn != nil {
		return f.getBoardMemberFn(ctx, boardID, userID)
	}
	return store.BoardMember{BoardID: boardID, UserID: userID, Role: "member"}, nil
}
func (f *fakeStore) ListActivity(ctx context.Context, boardID string, page, limit int) ([]store.Activity, int, error) {
	if f.listActivityFn != nil {
		return f.listActivityFn(ctx, boardID, page, limit)
	}
	return nil, 0, nil
}
func (f *fakeStore) CreateBoard(ctx context.Context, board store.Board) (store.Board, error) {
	if f.createBoardFn != nil {
		return f.createBoardFn(ctx, board)
	}
	return board, nil
}
func (f *fakeStore) DeleteBoard(ctx context.Context, boardID string) error {
	if f.deleteBoardFn != nil {
		return f.deleteBoardFn(ctx, boardID)
	}
	return nil
}
func (f *fakeStore) AddMember(ctx context.Context, boardID, userID, role string) (bool, error) {
	if f.addMemberFn != nil {
		return f.addMemberFn(ctx, boardID, userID, role)
	}
	return true, nil
}
func (f *fakeStore) CreateList(ctx context.Context, list store.List) (store.List, error) {
	if f.createListFn != nil {
		return f.createListFn(ctx, list)
	}
	return list, nil
}
func (f *fakeStore) UpdateList(ctx context.Context, listID string, title *string, position *int) (store.List, error) {
	if f.updateListFn != nil {
		return f.updateListFn(ctx, listID, title, position)
	}
	return store.List{ID: listID}, nil
}
func (f *fakeStore) DeleteList(ctx context.Context, listID string) (store.List, error) {
	if f.deleteListFn != nil {
		return f.deleteListFn(ctx, listID)
	}
	return store.List{ID: listID}, nil
}
func (f *fakeStore) CreateTask(ctx context.Context, task store.Task) (store.Task, bool, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, task)
	}
	task.Position = 1
	return task, false, nil
}
func (f *fakeStore) UpdateTask(ctx context.Context, taskID string, patch store.TaskPatch) (store.Task, bool, error) {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, taskID, patch)
	}
	return store.Task{ID: taskID}, false, nil
}
func (f *fakeStore) MoveTask(ctx context.Context, taskID, sourceListID, destListID string, sourceIndex, destIndex int) (store.Task, error) {
	if f.moveTaskFn != nil {
		return f.moveTaskFn(ctx, taskID, sourceListID, destListID, sourceIndex, destIndex)
	}
	return store.Task{ID: taskID, ListID: destListID, Position: destIndex}, nil
}
func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	return store.Task{ID: taskID}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saved   map[string]store.User
	revoked []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{saved: make(map[string]store.User)}
}
func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.saved[tokenHash] = store.User{ID: userID, Name: "Saved User"}
	return nil
}
func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, errors.New("token not found or expired")
	}
	return user, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.revoked = append(f.revoked, tokenHash)
	delete(f.saved, tokenHash)
	return nil
}

type emitted struct {
	kind    string
	boardID string
	event   string
}

type fakeSink struct {
	events []emitted
}

func (f *fakeSink) EmitTask(boardID, event string, _ any, _ store.Task) {
	f.events = append(f.events, emitted{"task", boardID, event})
}
func (f *fakeSink) EmitList(boardID, event string, _ any, _ string) {
	f.events = append(f.events, emitted{"list", boardID, event})
}
func (f *fakeSink) EmitMember(boardID string, _ any) {
	f.events = append(f.events, emitted{"member", boardID, "member_added"})
}

type fakeAudit struct {
	records []store.Activity
}

func (f *fakeAudit) Record(item store.Activity) {
	f.records = append(f.records, item)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestService(fs *fakeStore) (*Service, *fakeSink, *fakeAudit, *fakeSessions) {
	sink := &fakeSink{}
	audit := &fakeAudit{}
	sessions := newFakeSessions()
	svc := NewService(testConfig(), fs, sessions, sink, audit, quietLogger())
	return svc, sink, audit, sessions
}

func roleMap(roles map[string]string) func(context.Context, string, string) (string, error) {
	return func(_ context.Context, _ string, userID string) (string, error) {
		role, ok := roles[userID]
		if !ok {
			return "", sql.ErrNoRows
		}
		return role, nil
	}
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Code)
	}
}

func strPtr(s string) *string { return &s }

// ── Sessions ──

func TestLoginIssuesTokenAndRefresh(t *testing.T) {
	svc, _, _, sessions := newTestService(&fakeStore{})
	session, err := svc.Login(context.Background(), "  Ada  ")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected access and refresh tokens")
	}
	if session.UserName != "Ada" {
		t.Fatalf("expected trimmed name, got %q", session.UserName)
	}
	if len(sessions.saved) != 1 {
		t.Fatal("refresh session was not persisted")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	if parsed.UserID != session.UserID {
		t.Fatalf("round-tripped user mismatch: %s vs %s", parsed.UserID, session.UserID)
	}
}

func TestLoginRejectsBlankName(t *testing.T) {
	svc, _, _, _ := newTestService(&fakeStore{})
	_, err := svc.Login(context.Background(), "   ")
	expectStatus(t, err, http.StatusUnprocessableEntity)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _, sessions := newTestService(&fakeStore{})
	first, err := svc.Login(context.Background(), "Ada")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if len(sessions.revoked) != 1 {
		t.Fatal("old refresh token was not revoked")
	}

	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected reuse of a rotated refresh token to fail")
	}
}

// ── Board visibility ──

func TestGetBoardFiltersTasksForMembers(t *testing.T) {
	other := "usr_other"
	detail := store.BoardDetail{
		Board: store.Board{ID: "brd_1"},
		Lists: []store.ListWithTasks{{
			List: store.List{ID: "lst_1", BoardID: "brd_1"},
			Tasks: []store.Task{
				{ID: "tsk_mine", CreatorID: "usr_member"},
				{ID: "tsk_assigned", CreatorID: other, AssignedUserID: strPtr("usr_member")},
				{ID: "tsk_hidden", CreatorID: other},
			},
		}},
	}
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_member": "member", "usr_admin": "admin"}),
		getBoardDetailFn: func(context.Context, string) (store.BoardDetail, error) {
			copied := detail
			return copied, nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	got, err := svc.GetBoard(context.Background(), Session{UserID: "usr_member"}, "brd_1")
	if err != nil {
		t.Fatalf("GetBoard failed: %v", err)
	}
	if len(got.Lists[0].Tasks) != 2 {
		t.Fatalf("member should see 2 tasks, saw %d", len(got.Lists[0].Tasks))
	}
	for _, task := range got.Lists[0].Tasks {
		if task.ID == "tsk_hidden" {
			t.Fatal("member saw a task they neither created nor were assigned")
		}
	}

	admin, err := svc.GetBoard(context.Background(), Session{UserID: "usr_admin"}, "brd_1")
	if err != nil {
		t.Fatalf("GetBoard failed for admin: %v", err)
	}
	if len(admin.Lists[0].Tasks) != 3 {
		t.Fatalf("admin should see all 3 tasks, saw %d", len(admin.Lists[0].Tasks))
	}
}

func TestGetBoardHidesExistenceFromNonMembers(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_member": "member"}),
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.GetBoard(context.Background(), Session{UserID: "usr_outsider"}, "brd_1")
	expectStatus(t, err, http.StatusNotFound)
}

// ── Task permissions ──

func taskStore(roles map[string]string) *fakeStore {
	return &fakeStore{
		getMemberRoleFn: roleMap(roles),
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, BoardID: "brd_1"}, nil
		},
	}
}

func TestMemberCannotAssignOnCreate(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member"})
	svc, _, _, _ := newTestService(fs)

	_, err := svc.CreateTask(context.Background(), Session{UserID: "usr_member"}, "lst_1", "Task", "", strPtr("usr_other"))
	expectStatus(t, err, http.StatusForbidden)
}

func TestAdminAssignmentEnrollsAssignee(t *testing.T) {
	fs := taskStore(map[string]string{"usr_admin": "admin"})
	fs.createTaskFn = func(_ context.Context, task store.Task) (store.Task, bool, error) {
		task.Position = 1
		return task, true, nil
	}
	svc, sink, audit, _ := newTestService(fs)

	_, err := svc.CreateTask(context.Background(), Session{UserID: "usr_admin"}, "lst_1", "Task", "", strPtr("usr_new"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	var sawTask, sawMember bool
	for _, e := range sink.events {
		if e.kind == "task" && e.event == "task_created" {
			sawTask = true
		}
		if e.kind == "member" {
			sawMember = true
		}
	}
	if !sawTask || !sawMember {
		t.Fatalf("expected task_created and member_added events, got %v", sink.events)
	}

	var actions []string
	for _, rec := range audit.records {
		actions = append(actions, rec.ActionType)
	}
	if len(actions) != 2 {
		t.Fatalf("expected task_created and member_added audit records, got %v", actions)
	}
}

func TestAssigneeCannotEditTask(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_assignee": "member"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", CreatorID: "usr_other", AssignedUserID: strPtr("usr_assignee")}, "brd_1", nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.UpdateTask(context.Background(), Session{UserID: "usr_assignee"}, "tsk_1", store.TaskPatch{Title: strPtr("New")})
	expectStatus(t, err, http.StatusForbidden)
}

func TestInvisibleTaskReadsAsMissing(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_member": "member"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", CreatorID: "usr_other"}, "brd_1", nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.UpdateTask(context.Background(), Session{UserID: "usr_member"}, "tsk_1", store.TaskPatch{Title: strPtr("New")})
	expectStatus(t, err, http.StatusNotFound)
}

func TestMemberCannotReassignOwnTask(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_member": "member"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", CreatorID: "usr_member"}, "brd_1", nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.UpdateTask(context.Background(), Session{UserID: "usr_member"}, "tsk_1", store.TaskPatch{AssignedUserID: strPtr("usr_other")})
	expectStatus(t, err, http.StatusForbidden)
}

func TestStaleMoveMapsToConflict(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_admin": "admin"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", ListID: "lst_1", CreatorID: "usr_admin", Position: 2}, "brd_1", nil
		},
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			return store.List{ID: listID, BoardID: "brd_1"}, nil
		},
		moveTaskFn: func(context.Context, string, string, string, int, int) (store.Task, error) {
			return store.Task{}, store.ErrStaleMove
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.MoveTask(context.Background(), Session{UserID: "usr_admin"}, "tsk_1", "lst_1", "lst_2", 2, 1)
	expectStatus(t, err, http.StatusConflict)
}

func TestDeleteRacingMoveMapsToConflict(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_admin": "admin"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", ListID: "lst_1", CreatorID: "usr_admin"}, "brd_1", nil
		},
		deleteTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{}, store.ErrStaleMove
		},
	}
	svc, _, _, _ := newTestService(fs)

	err := svc.DeleteTask(context.Background(), Session{UserID: "usr_admin"}, "tsk_1")
	expectStatus(t, err, http.StatusConflict)
}

func TestMoveRejectsWrongSourceList(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: roleMap(map[string]string{"usr_admin": "admin"}),
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", ListID: "lst_actual", CreatorID: "usr_admin"}, "brd_1", nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.MoveTask(context.Background(), Session{UserID: "usr_admin"}, "tsk_1", "lst_claimed", "lst_2", 1, 1)
	expectStatus(t, err, http.StatusConflict)
}

func TestCrossBoardMoveRequiresDestMembership(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(_ context.Context, boardID, userID string) (string, error) {
			if boardID == "brd_1" && userID == "usr_admin" {
				return "admin", nil
			}
			return "", sql.ErrNoRows
		},
		getTaskWithBoardFn: func(context.Context, string) (store.Task, string, error) {
			return store.Task{ID: "tsk_1", ListID: "lst_1", CreatorID: "usr_admin", Position: 1}, "brd_1", nil
		},
		getListFn: func(_ context.Context, listID string) (store.List, error) {
			if listID == "lst_other" {
				return store.List{ID: listID, BoardID: "brd_2"}, nil
			}
			return store.List{ID: listID, BoardID: "brd_1"}, nil
		},
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.MoveTask(context.Background(), Session{UserID: "usr_admin"}, "tsk_1", "lst_1", "lst_other", 1, 1)
	expectStatus(t, err, http.StatusNotFound)
}

// ── Structure permissions ──

func TestMemberCannotCreateList(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member"})
	svc, _, _, _ := newTestService(fs)

	_, err := svc.CreateList(context.Background(), Session{UserID: "usr_member"}, "brd_1", "Doing")
	expectStatus(t, err, http.StatusForbidden)
}

func TestNonMemberListChangeReadsAsMissing(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member"})
	svc, _, _, _ := newTestService(fs)

	_, err := svc.UpdateList(context.Background(), Session{UserID: "usr_outsider"}, "lst_1", strPtr("New"), nil)
	expectStatus(t, err, http.StatusNotFound)
}

func TestAdminListLifecycleEmitsEvents(t *testing.T) {
	fs := taskStore(map[string]string{"usr_admin": "admin"})
	svc, sink, audit, _ := newTestService(fs)
	session := Session{UserID: "usr_admin"}

	if _, err := svc.CreateList(context.Background(), session, "brd_1", "Doing"); err != nil {
		t.Fatalf("CreateList failed: %v", err)
	}
	if _, err := svc.UpdateList(context.Background(), session, "lst_1", strPtr("Done"), nil); err != nil {
		t.Fatalf("UpdateList failed: %v", err)
	}
	if err := svc.DeleteList(context.Background(), session, "lst_1"); err != nil {
		t.Fatalf("DeleteList failed: %v", err)
	}

	want := []string{"list_created", "list_updated", "list_deleted"}
	if len(sink.events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), sink.events)
	}
	for i, event := range want {
		if sink.events[i].event != event {
			t.Fatalf("event %d: expected %s, got %s", i, event, sink.events[i].event)
		}
	}
	if len(audit.records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(audit.records))
	}
}

func TestDeleteBoardRequiresAdmin(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member", "usr_admin": "admin"})
	svc, _, _, _ := newTestService(fs)

	err := svc.DeleteBoard(context.Background(), Session{UserID: "usr_member"}, "brd_1")
	expectStatus(t, err, http.StatusForbidden)

	err = svc.DeleteBoard(context.Background(), Session{UserID: "usr_outsider"}, "brd_1")
	expectStatus(t, err, http.StatusNotFound)

	if err := svc.DeleteBoard(context.Background(), Session{UserID: "usr_admin"}, "brd_1"); err != nil {
		t.Fatalf("admin delete failed: %v", err)
	}
}

// ── Membership ──

func TestAddMemberAdminOnly(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member", "usr_admin": "admin"})
	svc, sink, _, _ := newTestService(fs)

	_, err := svc.AddMember(context.Background(), Session{UserID: "usr_member"}, "brd_1", "usr_new", "member")
	expectStatus(t, err, http.StatusForbidden)

	if _, err := svc.AddMember(context.Background(), Session{UserID: "usr_admin"}, "brd_1", "usr_new", "member"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].kind != "member" {
		t.Fatalf("expected one member_added event, got %v", sink.events)
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	fs := taskStore(map[string]string{"usr_admin": "admin"})
	fs.addMemberFn = func(context.Context, string, string, string) (bool, error) {
		return false, nil
	}
	svc, sink, audit, _ := newTestService(fs)

	if _, err := svc.AddMember(context.Background(), Session{UserID: "usr_admin"}, "brd_1", "usr_existing", "member"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatal("re-adding an existing member must not emit member_added")
	}
	if len(audit.records) != 0 {
		t.Fatal("re-adding an existing member must not write an audit record")
	}
}

func TestAddMemberUnknownUser(t *testing.T) {
	fs := taskStore(map[string]string{"usr_admin": "admin"})
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) {
		return store.User{}, sql.ErrNoRows
	}
	svc, _, _, _ := newTestService(fs)

	_, err := svc.AddMember(context.Background(), Session{UserID: "usr_admin"}, "brd_1", "usr_ghost", "member")
	expectStatus(t, err, http.StatusNotFound)
}

func TestActivityFeedMembersOnly(t *testing.T) {
	fs := taskStore(map[string]string{"usr_member": "member"})
	svc, _, _, _ := newTestService(fs)

	_, _, err := svc.ListActivity(context.Background(), Session{UserID: "usr_outsider"}, "brd_1", 1, 20)
	expectStatus(t, err, http.StatusNotFound)

	if _, _, err := svc.ListActivity(context.Background(), Session{UserID: "usr_member"}, "brd_1", 1, 20); err != nil {
		t.Fatalf("member activity read failed: %v", err)
	}
}
