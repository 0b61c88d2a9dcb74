package store

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type Board struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type BoardMember struct {
	BoardID   string    `json:"boardId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
	UserName  string    `json:"userName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type List struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Task struct {
	ID             string    `json:"id"`
	ListID         string    `json:"listId"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Position       int       `json:"position"`
	CreatorID      string    `json:"creatorId"`
	AssignedUserID *string   `json:"assignedUserId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Activity is an append-only audit record. Rows are never updated and are
// removed only when their board is deleted.
type Activity struct {
	ID         string    `json:"id"`
	BoardID    string    `json:"boardId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName,omitempty"`
	ActionType string    `json:"actionType"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ListWithTasks struct {
	List
	Tasks []Task `json:"tasks"`
}

type BoardDetail struct {
	Board
	Members []BoardMember   `json:"members"`
	Lists   []ListWithTasks `json:"lists"`
}

// TaskPatch carries the optional fields of a task update. A nil field is
// left untouched; an AssignedUserID pointing at the empty string clears
// the assignee.
type TaskPatch struct {
	Title          *string
	Description    *string
	AssignedUserID *string
}
