package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskboard/api/internal/positions"
)

// ErrStaleMove reports that a move's claimed source list or index no
// longer matches the task's actual row. The surrounding transaction rolls
// back and the caller maps this to a conflict.
var ErrStaleMove = errors.New("task was moved concurrently")

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockLists takes row locks on the given list rows so that concurrent
// renumbering within the same scope serializes. Locks are acquired in id
// order regardless of argument order, so two cross-list moves touching
// the same pair cannot deadlock.
func lockLists(ctx context.Context, tx *sql.Tx, listIDs ...string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, board_id FROM lists WHERE id = ANY($1) ORDER BY id FOR UPDATE
	`, listIDs)
	if err != nil {
		return nil, fmt.Errorf("lock lists: %w", err)
	}
	defer rows.Close()

	boards := make(map[string]string, len(listIDs))
	for rows.Next() {
		var id, boardID string
		if err := rows.Scan(&id, &boardID); err != nil {
			return nil, fmt.Errorf("scan locked list: %w", err)
		}
		boards[id] = boardID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked lists: %w", err)
	}
	for _, id := range listIDs {
		if _, ok := boards[id]; !ok {
			return nil, sql.ErrNoRows
		}
	}
	return boards, nil
}

func lockBoard(ctx context.Context, tx *sql.Tx, boardID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID).Scan(&id)
	if err != nil {
		return err
	}
	return nil
}

func shiftTaskPositions(ctx context.Context, tx *sql.Tx, listID string, shift positions.Shift) error {
	if shift.Delta == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET position = position + $1, updated_at = NOW()
		WHERE list_id = $2 AND position >= $3 AND position <= $4
	`, shift.Delta, listID, shift.Lo, shift.Hi)
	if err != nil {
		return fmt.Errorf("shift task positions: %w", err)
	}
	return nil
}

func shiftListPositions(ctx context.Context, tx *sql.Tx, boardID string, shift positions.Shift) error {
	if shift.Delta == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE lists SET position = position + $1, updated_at = NOW()
		WHERE board_id = $2 AND position >= $3 AND position <= $4
	`, shift.Delta, boardID, shift.Lo, shift.Hi)
	if err != nil {
		return fmt.Errorf("shift list positions: %w", err)
	}
	return nil
}

func countTasks(ctx context.Context, tx *sql.Tx, listID string) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE list_id=$1`, listID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// enrollMember inserts a membership row if the user is not yet enrolled,
// reporting whether a row was created. Runs on the transaction's
// consistent view, so the check-then-insert cannot race.
func enrollMember(ctx context.Context, tx *sql.Tx, boardID, userID, role string) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO board_members (board_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (board_id, user_id) DO NOTHING
	`, boardID, userID, role)
	if err != nil {
		return false, fmt.Errorf("enroll member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enroll member rows: %w", err)
	}
	return affected > 0, nil
}

func scanTask(row *sql.Row) (Task, error) {
	var item Task
	err := row.Scan(&item.ID, &item.ListID, &item.Title, &item.Description, &item.Position, &item.CreatorID, &item.AssignedUserID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

const taskColumns = `id, list_id, title, description, position, creator_id, assigned_user_id, created_at, updated_at`

// CreateTask appends a task to its list and, when the task arrives with an
// assignee who is not yet a board member, enrolls that user as "member"
// within the same transaction.
func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, bool, error) {
	var created Task
	var enrolled bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		boards, err := lockLists(ctx, tx, task.ListID)
		if err != nil {
			return err
		}
		count, err := countTasks(ctx, tx, task.ListID)
		if err != nil {
			return err
		}
		pos, _ := positions.Insert(count, count+1)

		row := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (id, list_id, title, description, position, creator_id, assigned_user_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+taskColumns, task.ID, task.ListID, task.Title, task.Description, pos, task.CreatorID, task.AssignedUserID)
		created, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		if task.AssignedUserID != nil && *task.AssignedUserID != "" {
			enrolled, err = enrollMember(ctx, tx, boards[task.ListID], *task.AssignedUserID, "member")
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, false, err
	}
	return created, enrolled, nil
}

// UpdateTask applies a patch to a task's title, description, or assignee.
// Assignment changes auto-enroll the new assignee in the same transaction.
func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (Task, bool, error) {
	var updated Task
	var enrolled bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current Task
		var boardID string
		err := tx.QueryRowContext(ctx, `
			SELECT t.id, t.list_id, t.title, t.description, t.position, t.creator_id, t.assigned_user_id, t.created_at, t.updated_at, l.board_id
			FROM tasks t
			JOIN lists l ON l.id = t.list_id
			WHERE t.id=$1
			FOR UPDATE OF t
		`, taskID).Scan(&current.ID, &current.ListID, &current.Title, &current.Description, &current.Position, &current.CreatorID, &current.AssignedUserID, &current.CreatedAt, &current.UpdatedAt, &boardID)
		if err != nil {
			return err
		}

		title := current.Title
		if patch.Title != nil {
			title = *patch.Title
		}
		description := current.Description
		if patch.Description != nil {
			description = *patch.Description
		}
		assignee := current.AssignedUserID
		if patch.AssignedUserID != nil {
			if *patch.AssignedUserID == "" {
				assignee = nil
			} else {
				assignee = patch.AssignedUserID
			}
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE tasks SET title=$2, description=$3, assigned_user_id=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+taskColumns, taskID, title, description, assignee)
		updated, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		newAssignee := assignee != nil &&
			(current.AssignedUserID == nil || *current.AssignedUserID != *assignee)
		if newAssignee {
			enrolled, err = enrollMember(ctx, tx, boardID, *assignee, "member")
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Task{}, false, err
	}
	return updated, enrolled, nil
}

// MoveTask relocates a task within its list or across lists, keeping both
// scopes dense. The claimed source list and index must match the task's
// current row or the move aborts with ErrStaleMove.
func (s *PostgresStore) MoveTask(ctx context.Context, taskID, sourceListID, destListID string, sourceIndex, destIndex int) (Task, error) {
	var moved Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		listIDs := []string{sourceListID}
		if destListID != sourceListID {
			listIDs = append(listIDs, destListID)
		}
		if _, err := lockLists(ctx, tx, listIDs...); err != nil {
			return err
		}

		var currentListID string
		var currentPos int
		err := tx.QueryRowContext(ctx, `
			SELECT list_id, position FROM tasks WHERE id=$1 FOR UPDATE
		`, taskID).Scan(&currentListID, &currentPos)
		if err != nil {
			return err
		}
		if currentListID != sourceListID || currentPos != sourceIndex {
			return ErrStaleMove
		}

		if sourceListID == destListID {
			count, err := countTasks(ctx, tx, sourceListID)
			if err != nil {
				return err
			}
			pos, shift, ok := positions.MoveWithin(count, sourceIndex, destIndex)
			if ok {
				if err := shiftTaskPositions(ctx, tx, sourceListID, shift); err != nil {
					return err
				}
			}
			row := tx.QueryRowContext(ctx, `
				UPDATE tasks SET position=$2, updated_at=NOW()
				WHERE id=$1
				RETURNING `+taskColumns, taskID, pos)
			moved, err = scanTask(row)
			if err != nil {
				return fmt.Errorf("reposition task: %w", err)
			}
			return nil
		}

		dstCount, err := countTasks(ctx, tx, destListID)
		if err != nil {
			return err
		}
		pos, sourceShift, destShift := positions.MoveAcross(dstCount, sourceIndex, destIndex)
		if err := shiftTaskPositions(ctx, tx, sourceListID, sourceShift); err != nil {
			return err
		}
		if err := shiftTaskPositions(ctx, tx, destListID, destShift); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE tasks SET list_id=$2, position=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING `+taskColumns, taskID, destListID, pos)
		moved, err = scanTask(row)
		if err != nil {
			return fmt.Errorf("relocate task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return moved, nil
}

// DeleteTask removes a task and closes the position gap it leaves.
func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) (Task, error) {
	var deleted Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var listID string
		if err := tx.QueryRowContext(ctx, `SELECT list_id FROM tasks WHERE id=$1`, taskID).Scan(&listID); err != nil {
			return err
		}
		if _, err := lockLists(ctx, tx, listID); err != nil {
			return err
		}
		// The first read ran before the list lock, so a concurrent move may
		// have relocated the task. Re-read under the lock and bail if the
		// task now lives on a list we did not lock. Lists are locked before
		// the task row, matching the order MoveTask uses.
		var lockedListID string
		if err := tx.QueryRowContext(ctx, `SELECT list_id FROM tasks WHERE id=$1 FOR UPDATE`, taskID).Scan(&lockedListID); err != nil {
			return err
		}
		if lockedListID != listID {
			return ErrStaleMove
		}

		row := tx.QueryRowContext(ctx, `
			DELETE FROM tasks WHERE id=$1
			RETURNING `+taskColumns, taskID)
		var err error
		deleted, err = scanTask(row)
		if err != nil {
			return err
		}
		return shiftTaskPositions(ctx, tx, deleted.ListID, positions.Remove(deleted.Position))
	})
	if err != nil {
		return Task{}, err
	}
	return deleted, nil
}

// CreateList appends a list to its board.
func (s *PostgresStore) CreateList(ctx context.Context, list List) (List, error) {
	var created List
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockBoard(ctx, tx, list.BoardID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE board_id=$1`, list.BoardID).Scan(&count); err != nil {
			return fmt.Errorf("count lists: %w", err)
		}
		pos, _ := positions.Insert(count, count+1)
		err := tx.QueryRowContext(ctx, `
			INSERT INTO lists (id, board_id, title, position)
			VALUES ($1, $2, $3, $4)
			RETURNING id, board_id, title, position, created_at, updated_at
		`, list.ID, list.BoardID, list.Title, pos).Scan(&created.ID, &created.BoardID, &created.Title, &created.Position, &created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert list: %w", err)
		}
		return nil
	})
	if err != nil {
		return List{}, err
	}
	return created, nil
}

// UpdateList renames a list and/or moves it within its board's ordering.
func (s *PostgresStore) UpdateList(ctx context.Context, listID string, title *string, position *int) (List, error) {
	var updated List
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		if err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, listID).Scan(&boardID); err != nil {
			return err
		}
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}

		var current List
		err := tx.QueryRowContext(ctx, `
			SELECT id, board_id, title, position, created_at, updated_at
			FROM lists WHERE id=$1 FOR UPDATE
		`, listID).Scan(&current.ID, &current.BoardID, &current.Title, &current.Position, &current.CreatedAt, &current.UpdatedAt)
		if err != nil {
			return err
		}

		newTitle := current.Title
		if title != nil {
			newTitle = *title
		}
		newPos := current.Position
		if position != nil && *position != current.Position {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM lists WHERE board_id=$1`, boardID).Scan(&count); err != nil {
				return fmt.Errorf("count lists: %w", err)
			}
			pos, shift, ok := positions.MoveWithin(count, current.Position, *position)
			if ok {
				if err := shiftListPositions(ctx, tx, boardID, shift); err != nil {
					return err
				}
			}
			newPos = pos
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE lists SET title=$2, position=$3, updated_at=NOW()
			WHERE id=$1
			RETURNING id, board_id, title, position, created_at, updated_at
		`, listID, newTitle, newPos).Scan(&updated.ID, &updated.BoardID, &updated.Title, &updated.Position, &updated.CreatedAt, &updated.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update list: %w", err)
		}
		return nil
	})
	if err != nil {
		return List{}, err
	}
	return updated, nil
}

// DeleteList removes a list with its tasks and closes the board's position
// gap.
func (s *PostgresStore) DeleteList(ctx context.Context, listID string) (List, error) {
	var deleted List
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var boardID string
		if err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id=$1`, listID).Scan(&boardID); err != nil {
			return err
		}
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE list_id=$1`, listID); err != nil {
			return fmt.Errorf("delete list tasks: %w", err)
		}
		err := tx.QueryRowContext(ctx, `
			DELETE FROM lists WHERE id=$1
			RETURNING id, board_id, title, position, created_at, updated_at
		`, listID).Scan(&deleted.ID, &deleted.BoardID, &deleted.Title, &deleted.Position, &deleted.CreatedAt, &deleted.UpdatedAt)
		if err != nil {
			return err
		}
		return shiftListPositions(ctx, tx, boardID, positions.Remove(deleted.Position))
	})
	if err != nil {
		return List{}, err
	}
	return deleted, nil
}

// CreateBoard inserts a board and enrolls its owner as admin.
func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) (Board, error) {
	var created Board
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO boards (id, title, owner_id)
			VALUES ($1, $2, $3)
			RETURNING id, title, owner_id, created_at, updated_at
		`, board.ID, board.Title, board.OwnerID).Scan(&created.ID, &created.Title, &created.OwnerID, &created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO board_members (board_id, user_id, role)
			VALUES ($1, $2, 'admin')
		`, created.ID, board.OwnerID); err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return Board{}, err
	}
	return created, nil
}

// DeleteBoard removes a board and everything hanging off it, audit trail
// included.
func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tasks WHERE list_id IN (SELECT id FROM lists WHERE board_id=$1)
		`, boardID); err != nil {
			return fmt.Errorf("delete board tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM lists WHERE board_id=$1`, boardID); err != nil {
			return fmt.Errorf("delete board lists: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE board_id=$1`, boardID); err != nil {
			return fmt.Errorf("delete board activity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM board_members WHERE board_id=$1`, boardID); err != nil {
			return fmt.Errorf("delete board members: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID); err != nil {
			return fmt.Errorf("delete board: %w", err)
		}
		return nil
	})
}

// AddMember enrolls a user on a board, reporting whether a new membership
// row was created.
func (s *PostgresStore) AddMember(ctx context.Context, boardID, userID, role string) (bool, error) {
	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockBoard(ctx, tx, boardID); err != nil {
			return err
		}
		var err error
		created, err = enrollMember(ctx, tx, boardID, userID, role)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}
