package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, id, name string) (User, error) {
	const findUser = `SELECT id, name, email, created_at FROM users WHERE name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, name, email)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.taskboard.dev'))
		RETURNING id, name, email, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, id, name).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM boards
		WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Title, &board.OwnerID, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) ListBoardsForUser(ctx context.Context, userID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.owner_id, b.created_at, b.updated_at
		FROM boards b
		JOIN board_members bm ON bm.board_id = b.id
		WHERE bm.user_id = $1
		ORDER BY b.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.Title, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

// GetBoardDetail loads a board with its lists and tasks, both ordered by
// position.
func (s *PostgresStore) GetBoardDetail(ctx context.Context, boardID string) (BoardDetail, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	detail := BoardDetail{Board: board}

	detail.Members, err = s.ListBoardMembers(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}

	listRows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at
		FROM lists
		WHERE board_id=$1
		ORDER BY position ASC
	`, boardID)
	if err != nil {
		return BoardDetail{}, fmt.Errorf("list lists: %w", err)
	}
	defer listRows.Close()

	detail.Lists = make([]ListWithTasks, 0)
	index := make(map[string]int)
	for listRows.Next() {
		var item List
		if err := listRows.Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return BoardDetail{}, fmt.Errorf("scan list: %w", err)
		}
		index[item.ID] = len(detail.Lists)
		detail.Lists = append(detail.Lists, ListWithTasks{List: item, Tasks: make([]Task, 0)})
	}
	if err := listRows.Err(); err != nil {
		return BoardDetail{}, fmt.Errorf("iterate lists: %w", err)
	}

	taskRows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.position, t.creator_id, t.assigned_user_id, t.created_at, t.updated_at
		FROM tasks t
		JOIN lists l ON l.id = t.list_id
		WHERE l.board_id=$1
		ORDER BY t.position ASC
	`, boardID)
	if err != nil {
		return BoardDetail{}, fmt.Errorf("list tasks: %w", err)
	}
	defer taskRows.Close()

	for taskRows.Next() {
		var item Task
		if err := taskRows.Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.Position, &item.CreatorID, &item.AssignedUserID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return BoardDetail{}, fmt.Errorf("scan task: %w", err)
		}
		if i, ok := index[item.ListID]; ok {
			detail.Lists[i].Tasks = append(detail.Lists[i].Tasks, item)
		}
	}
	if err := taskRows.Err(); err != nil {
		return BoardDetail{}, fmt.Errorf("iterate tasks: %w", err)
	}
	return detail, nil
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	var item List
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, title, position, created_at, updated_at
		FROM lists
		WHERE id=$1
	`, listID).Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return List{}, err
	}
	return item, nil
}

// GetTaskWithBoard loads a task and the id of the board its list belongs
// to, in one query.
func (s *PostgresStore) GetTaskWithBoard(ctx context.Context, taskID string) (Task, string, error) {
	var item Task
	var boardID string
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.position, t.creator_id, t.assigned_user_id, t.created_at, t.updated_at, l.board_id
		FROM tasks t
		JOIN lists l ON l.id = t.list_id
		WHERE t.id=$1
	`, taskID).Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.Position, &item.CreatorID, &item.AssignedUserID, &item.CreatedAt, &item.UpdatedAt, &boardID)
	if err != nil {
		return Task{}, "", err
	}
	return item, boardID, nil
}

// GetMemberRole returns sql.ErrNoRows when the user is not enrolled on the
// board; callers translate that into NotFound so board existence is never
// revealed to outsiders.
func (s *PostgresStore) GetMemberRole(ctx context.Context, boardID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM board_members WHERE board_id=$1 AND user_id=$2
	`, boardID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

// ListMemberRoles resolves roles for a set of users on one board in a
// single query.
func (s *PostgresStore) ListMemberRoles(ctx context.Context, boardID string, userIDs []string) (map[string]string, error) {
	roles := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return roles, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role
		FROM board_members
		WHERE board_id=$1 AND user_id = ANY($2)
	`, boardID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list member roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, fmt.Errorf("scan member role: %w", err)
		}
		roles[userID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member roles: %w", err)
	}
	return roles, nil
}

// CountViewableTasks returns, per user, how many tasks in the list the
// user created or is assigned to. One query regardless of recipient count.
func (s *PostgresStore) CountViewableTasks(ctx context.Context, listID string, userIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id, COUNT(t.id)::int
		FROM UNNEST($2::text[]) AS u(user_id)
		JOIN tasks t ON t.list_id = $1 AND (t.creator_id = u.user_id OR t.assigned_user_id = u.user_id)
		GROUP BY u.user_id
	`, listID, userIDs)
	if err != nil {
		return nil, fmt.Errorf("count viewable tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, fmt.Errorf("scan viewable count: %w", err)
		}
		counts[userID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate viewable counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) ListBoardMembers(ctx context.Context, boardID string) ([]BoardMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bm.board_id, bm.user_id, bm.role, u.name, bm.created_at
		FROM board_members bm
		JOIN users u ON u.id = bm.user_id
		WHERE bm.board_id=$1
		ORDER BY bm.created_at ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board members: %w", err)
	}
	defer rows.Close()

	items := make([]BoardMember, 0)
	for rows.Next() {
		var item BoardMember
		if err := rows.Scan(&item.BoardID, &item.UserID, &item.Role, &item.UserName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBoardMember(ctx context.Context, boardID, userID string) (BoardMember, error) {
	var item BoardMember
	err := s.db.QueryRowContext(ctx, `
		SELECT bm.board_id, bm.user_id, bm.role, u.name, bm.created_at
		FROM board_members bm
		JOIN users u ON u.id = bm.user_id
		WHERE bm.board_id=$1 AND bm.user_id=$2
	`, boardID, userID).Scan(&item.BoardID, &item.UserID, &item.Role, &item.UserName, &item.CreatedAt)
	if err != nil {
		return BoardMember{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, board_id, user_id, action_type, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.BoardID, item.UserID, item.ActionType, item.EntityType, item.EntityID)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, boardID string, page, limit int) ([]Activity, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.board_id, a.user_id, u.name, a.action_type, a.entity_type, a.entity_id, a.created_at
		FROM activities a
		JOIN users u ON u.id = a.user_id
		WHERE a.board_id=$1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`, boardID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.ID, &item.BoardID, &item.UserID, &item.UserName, &item.ActionType, &item.EntityType, &item.EntityID, &item.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate activity: %w", err)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE board_id=$1`, boardID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
