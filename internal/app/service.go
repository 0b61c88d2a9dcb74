package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	EnsureUserByName(ctx context.Context, id, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	ListBoardsForUser(ctx context.Context, userID string) ([]store.Board, error)
	GetBoardDetail(ctx context.Context, boardID string) (store.BoardDetail, error)
	GetList(ctx context.Context, listID string) (store.List, error)
	GetTaskWithBoard(ctx context.Context, taskID string) (store.Task, string, error)
	GetMemberRole(ctx context.Context, boardID, userID string) (string, error)
	GetBoardMember(ctx context.Context, boardID, userID string) (store.BoardMember, error)
	ListActivity(ctx context.Context, boardID string, page, limit int) ([]store.Activity, int, error)

	CreateBoard(ctx context.Context, board store.Board) (store.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
	AddMember(ctx context.Context, boardID, userID, role string) (bool, error)
	CreateList(ctx context.Context, list store.List) (store.List, error)
	UpdateList(ctx context.Context, listID string, title *string, position *int) (store.List, error)
	DeleteList(ctx context.Context, listID string) (store.List, error)
	CreateTask(ctx context.Context, task store.Task) (store.Task, bool, error)
	UpdateTask(ctx context.Context, taskID string, patch store.TaskPatch) (store.Task, bool, error)
	MoveTask(ctx context.Context, taskID, sourceListID, destListID string, sourceIndex, destIndex int) (store.Task, error)
	DeleteTask(ctx context.Context, taskID string) (store.Task, error)

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens; Redis in production, Postgres when
// Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// eventSink receives committed changes for fan-out to connected clients.
// Calls return immediately; delivery happens off the request goroutine
// and the mutation response never waits on it.
type eventSink interface {
	EmitTask(boardID, event string, payload any, task store.Task)
	EmitList(boardID, event string, payload any, listID string)
	EmitMember(boardID string, payload any)
}

type auditLog interface {
	Record(item store.Activity)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	events   eventSink
	audit    auditLog
	log      *logrus.Logger
}

func NewService(cfg config.Config, dataStore dataStore, sessions sessionStore, events eventSink, audit auditLog, log *logrus.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		events:   events,
		audit:    audit,
		log:      log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validation("name is required")
	}

	user, err := s.store.EnsureUserByName(ctx, util.NewID("usr"), userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// the redis backend stores only the user id; load the full record so
	// the new access token carries the current name
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// UserIDFromToken satisfies the websocket gateway's verifier.
func (s *Service) UserIDFromToken(ctx context.Context, token string) (string, error) {
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ── Membership plumbing ──

// memberRole resolves the caller's role on a board. A caller who is not a
// member gets NotFound, never Forbidden, so probing ids reveals nothing.
func (s *Service) memberRole(ctx context.Context, boardID, userID string) (rbac.Role, error) {
	role, err := s.store.GetMemberRole(ctx, boardID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", notFound("Board not found")
		}
		return "", err
	}
	return rbac.Normalize(role), nil
}

func (s *Service) record(session Session, boardID, actionType, entityType, entityID string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(store.Activity{
		ID:         util.NewID("act"),
		BoardID:    boardID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		ActionType: actionType,
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// emitEnrollment publishes the member_added that an assignment-driven
// auto-enrollment produced.
func (s *Service) emitEnrollment(ctx context.Context, session Session, boardID, userID string) {
	member, err := s.store.GetBoardMember(ctx, boardID, userID)
	if err != nil {
		s.log.WithError(err).WithField("board_id", boardID).Warn("enrolled member lookup failed")
		member = store.BoardMember{BoardID: boardID, UserID: userID, Role: string(rbac.RoleMember)}
	}
	s.events.EmitMember(boardID, member)
	s.record(session, boardID, "member_added", "member", userID)
}

// ── Boards ──

func (s *Service) CreateBoard(ctx context.Context, session Session, title string) (store.Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Board{}, validation("title is required")
	}
	board, err := s.store.CreateBoard(ctx, store.Board{
		ID:      util.NewID("brd"),
		Title:   title,
		OwnerID: session.UserID,
	})
	if err != nil {
		return store.Board{}, err
	}
	s.record(session, board.ID, "board_created", "board", board.ID)
	return board, nil
}

func (s *Service) ListBoards(ctx context.Context, session Session) ([]store.Board, error) {
	return s.store.ListBoardsForUser(ctx, session.UserID)
}

// GetBoard returns the board with lists and tasks. Members get a filtered
// view holding only tasks they created or are assigned to; admins get
// everything.
func (s *Service) GetBoard(ctx context.Context, session Session, boardID string) (store.BoardDetail, error) {
	role, err := s.memberRole(ctx, boardID, session.UserID)
	if err != nil {
		return store.BoardDetail{}, err
	}
	detail, err := s.store.GetBoardDetail(ctx, boardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.BoardDetail{}, notFound("Board not found")
		}
		return store.BoardDetail{}, err
	}
	if role == rbac.RoleAdmin {
		return detail, nil
	}
	for i := range detail.Lists {
		visible := make([]store.Task, 0, len(detail.Lists[i].Tasks))
		for _, task := range detail.Lists[i].Tasks {
			if rbac.CanViewTask(task, session.UserID, role) {
				visible = append(visible, task)
			}
		}
		detail.Lists[i].Tasks = visible
	}
	return detail, nil
}

func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	role, err := s.memberRole(ctx, boardID, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.CanModifyBoardStructure(role) {
		return forbidden("Only admins can delete a board")
	}
	return s.store.DeleteBoard(ctx, boardID)
}

func (s *Service) AddMember(ctx context.Context, session Session, boardID, userID, role string) (store.BoardMember, error) {
	callerRole, err := s.memberRole(ctx, boardID, session.UserID)
	if err != nil {
		return store.BoardMember{}, err
	}
	if callerRole != rbac.RoleAdmin {
		return store.BoardMember{}, forbidden("Only admins can add members")
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.BoardMember{}, notFound("User not found")
		}
		return store.BoardMember{}, err
	}
	newRole := string(rbac.Normalize(role))

	created, err := s.store.AddMember(ctx, boardID, userID, newRole)
	if err != nil {
		return store.BoardMember{}, err
	}
	member, err := s.store.GetBoardMember(ctx, boardID, userID)
	if err != nil {
		return store.BoardMember{}, err
	}
	if created {
		s.events.EmitMember(boardID, member)
		s.record(session, boardID, "member_added", "member", userID)
	}
	return member, nil
}

func (s *Service) ListActivity(ctx context.Context, session Session, boardID string, page, limit int) ([]store.Activity, int, error) {
	if _, err := s.memberRole(ctx, boardID, session.UserID); err != nil {
		return nil, 0, err
	}
	return s.store.ListActivity(ctx, boardID, page, limit)
}

// ── Lists ──

// listForStructureChange loads a list and verifies the caller may change
// board structure. Non-members learn nothing; members get Forbidden.
func (s *Service) listForStructureChange(ctx context.Context, session Session, listID string) (store.List, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, notFound("List not found")
		}
		return store.List{}, err
	}
	role, err := s.memberRole(ctx, list.BoardID, session.UserID)
	if err != nil {
		return store.List{}, err
	}
	if !rbac.CanModifyBoardStructure(role) {
		return store.List{}, forbidden("Only admins can change board structure")
	}
	return list, nil
}

func (s *Service) CreateList(ctx context.Context, session Session, boardID, title string) (store.List, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.List{}, validation("title is required")
	}
	role, err := s.memberRole(ctx, boardID, session.UserID)
	if err != nil {
		return store.List{}, err
	}
	if !rbac.CanModifyBoardStructure(role) {
		return store.List{}, forbidden("Only admins can change board structure")
	}

	list, err := s.store.CreateList(ctx, store.List{
		ID:      util.NewID("lst"),
		BoardID: boardID,
		Title:   title,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, conflict("Board no longer exists")
		}
		return store.List{}, err
	}

	s.record(session, boardID, "list_created", "list", list.ID)
	s.events.EmitList(boardID, "list_created", list, list.ID)
	return list, nil
}

func (s *Service) UpdateList(ctx context.Context, session Session, listID string, title *string, position *int) (store.List, error) {
	if title != nil && strings.TrimSpace(*title) == "" {
		return store.List{}, validation("title cannot be empty")
	}
	current, err := s.listForStructureChange(ctx, session, listID)
	if err != nil {
		return store.List{}, err
	}

	updated, err := s.store.UpdateList(ctx, listID, title, position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, conflict("List no longer exists")
		}
		return store.List{}, err
	}

	s.record(session, current.BoardID, "list_updated", "list", listID)
	s.events.EmitList(current.BoardID, "list_updated", updated, listID)
	return updated, nil
}

func (s *Service) DeleteList(ctx context.Context, session Session, listID string) error {
	current, err := s.listForStructureChange(ctx, session, listID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteList(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conflict("List no longer exists")
		}
		return err
	}

	s.record(session, current.BoardID, "list_deleted", "list", listID)
	s.events.EmitList(current.BoardID, "list_deleted", map[string]any{
		"listId":  deleted.ID,
		"boardId": deleted.BoardID,
	}, listID)
	return nil
}

// ── Tasks ──

// taskForEdit loads a task and verifies edit rights. A task the caller
// cannot even view reads as missing.
func (s *Service) taskForEdit(ctx context.Context, session Session, taskID string) (store.Task, string, rbac.Role, error) {
	task, boardID, err := s.store.GetTaskWithBoard(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, "", "", notFound("Task not found")
		}
		return store.Task{}, "", "", err
	}
	role, err := s.memberRole(ctx, boardID, session.UserID)
	if err != nil {
		return store.Task{}, "", "", err
	}
	if !rbac.CanViewTask(task, session.UserID, role) {
		return store.Task{}, "", "", notFound("Task not found")
	}
	if !rbac.CanEditTask(task, session.UserID, role) {
		return store.Task{}, "", "", forbidden("You cannot modify this task")
	}
	return task, boardID, role, nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, listID, title, description string, assignedUserID *string) (store.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Task{}, validation("title is required")
	}

	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("List not found")
		}
		return store.Task{}, err
	}
	role, err := s.memberRole(ctx, list.BoardID, session.UserID)
	if err != nil {
		return store.Task{}, err
	}

	if assignedUserID != nil && *assignedUserID == "" {
		assignedUserID = nil
	}
	if assignedUserID != nil {
		if !rbac.CanAssignTask(role) {
			return store.Task{}, forbidden("Only admins can assign tasks")
		}
		if _, err := s.store.GetUserByID(ctx, *assignedUserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Task{}, notFound("Assignee not found")
			}
			return store.Task{}, err
		}
	}

	task, enrolled, err := s.store.CreateTask(ctx, store.Task{
		ID:             util.NewID("tsk"),
		ListID:         listID,
		Title:          title,
		Description:    description,
		CreatorID:      session.UserID,
		AssignedUserID: assignedUserID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, conflict("List no longer exists")
		}
		return store.Task{}, err
	}

	s.record(session, list.BoardID, "task_created", "task", task.ID)
	s.events.EmitTask(list.BoardID, "task_created", task, task)
	if enrolled {
		s.emitEnrollment(ctx, session, list.BoardID, *task.AssignedUserID)
	}
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, patch store.TaskPatch) (store.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return store.Task{}, validation("title cannot be empty")
	}

	current, boardID, role, err := s.taskForEdit(ctx, session, taskID)
	if err != nil {
		return store.Task{}, err
	}

	if patch.AssignedUserID != nil {
		changed := *patch.AssignedUserID != "" &&
			(current.AssignedUserID == nil || *current.AssignedUserID != *patch.AssignedUserID)
		clearing := *patch.AssignedUserID == "" && current.AssignedUserID != nil
		if (changed || clearing) && !rbac.CanAssignTask(role) {
			return store.Task{}, forbidden("Only admins can assign tasks")
		}
		if changed {
			if _, err := s.store.GetUserByID(ctx, *patch.AssignedUserID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return store.Task{}, notFound("Assignee not found")
				}
				return store.Task{}, err
			}
		}
	}

	updated, enrolled, err := s.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, conflict("Task no longer exists")
		}
		return store.Task{}, err
	}

	s.record(session, boardID, "task_updated", "task", taskID)
	s.events.EmitTask(boardID, "task_updated", updated, updated)
	if enrolled {
		s.emitEnrollment(ctx, session, boardID, *updated.AssignedUserID)
	}
	return updated, nil
}

// MoveTask relocates a task. The caller supplies where it believes the
// task currently sits; if that view is stale the move fails with a
// conflict instead of scrambling someone else's reordering.
func (s *Service) MoveTask(ctx context.Context, session Session, taskID, sourceListID, destListID string, sourceIndex, destIndex int) (store.Task, error) {
	task, boardID, _, err := s.taskForEdit(ctx, session, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if task.ListID != sourceListID {
		return store.Task{}, conflict("Task is no longer in the given list")
	}

	destList, err := s.store.GetList(ctx, destListID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFound("Destination list not found")
		}
		return store.Task{}, err
	}
	if destList.BoardID != boardID {
		// moving across boards requires membership on the destination too
		if _, err := s.memberRole(ctx, destList.BoardID, session.UserID); err != nil {
			return store.Task{}, err
		}
	}

	moved, err := s.store.MoveTask(ctx, taskID, sourceListID, destListID, sourceIndex, destIndex)
	if err != nil {
		if errors.Is(err, store.ErrStaleMove) || errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, conflict("Task was moved by someone else")
		}
		return store.Task{}, err
	}

	payload := map[string]any{"task": moved, "sourceListId": sourceListID}
	s.record(session, destList.BoardID, "task_moved", "task", taskID)
	s.events.EmitTask(destList.BoardID, "task_moved", payload, moved)
	if destList.BoardID != boardID {
		s.events.EmitTask(boardID, "task_moved", payload, moved)
	}
	return moved, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	_, boardID, _, err := s.taskForEdit(ctx, session, taskID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conflict("Task no longer exists")
		}
		if errors.Is(err, store.ErrStaleMove) {
			return conflict("Task was moved by someone else")
		}
		return err
	}

	s.record(session, boardID, "task_deleted", "task", taskID)
	s.events.EmitTask(boardID, "task_deleted", map[string]any{
		"taskId": deleted.ID,
		"listId": deleted.ListID,
	}, deleted)
	return nil
}
