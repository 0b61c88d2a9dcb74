package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

// Event names carried on board channels.
const (
	EventTaskCreated     = "task_created"
	EventTaskUpdated     = "task_updated"
	EventTaskMoved       = "task_moved"
	EventTaskDeleted     = "task_deleted"
	EventListCreated     = "list_created"
	EventListUpdated     = "list_updated"
	EventListDeleted     = "list_deleted"
	EventMemberAdded     = "member_added"
	EventActivityCreated = "activity_created"
)

const emitTimeout = 5 * time.Second

// roleDirectory resolves recipient roles and member task visibility
// against live database state at broadcast time.
type roleDirectory interface {
	ListMemberRoles(ctx context.Context, boardID string, userIDs []string) (map[string]string, error)
	CountViewableTasks(ctx context.Context, listID string, userIDs []string) (map[string]int, error)
}

// Broadcaster fans a committed change out to the subset of connected,
// board-joined clients allowed to see it. Visibility is evaluated per
// recipient against current state. Emits are fire-and-forget: each one
// runs on its own goroutine with its own deadline, so the mutation that
// produced the event never waits on role lookups or delivery.
type Broadcaster struct {
	hub *Hub
	dir roleDirectory
	log *logrus.Logger

	wg sync.WaitGroup
}

func NewBroadcaster(hub *Hub, dir roleDirectory, log *logrus.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, dir: dir, log: log}
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EmitTask delivers a task event to admins and to members who created or
// are assigned the affected task.
func (b *Broadcaster) EmitTask(boardID, event string, payload any, task store.Task) {
	b.dispatch(boardID, event, payload, func(userID string, role rbac.Role, _ map[string]int) bool {
		return rbac.CanViewTask(task, userID, role)
	}, "")
}

// EmitList delivers a list event. A freshly created list is empty and is
// therefore never shown to members; updates and deletions reach a member
// only while the list still holds at least one task they may view.
func (b *Broadcaster) EmitList(boardID, event string, payload any, listID string) {
	if event == EventListCreated {
		b.dispatch(boardID, event, payload, func(_ string, role rbac.Role, _ map[string]int) bool {
			return role == rbac.RoleAdmin
		}, "")
		return
	}
	b.dispatch(boardID, event, payload, func(userID string, role rbac.Role, counts map[string]int) bool {
		if role == rbac.RoleAdmin {
			return true
		}
		return counts[userID] > 0
	}, listID)
}

// EmitMember announces a membership change to every connected board
// participant.
func (b *Broadcaster) EmitMember(boardID string, payload any) {
	b.dispatch(boardID, EventMemberAdded, payload, func(_ string, _ rbac.Role, _ map[string]int) bool {
		return true
	}, "")
}

// EmitActivity announces an appended audit record to the whole room.
func (b *Broadcaster) EmitActivity(boardID string, payload any) {
	b.dispatch(boardID, EventActivityCreated, payload, func(_ string, _ rbac.Role, _ map[string]int) bool {
		return true
	}, "")
}

// dispatch hands the delivery to a worker goroutine with a detached
// context; the caller returns immediately.
func (b *Broadcaster) dispatch(boardID, event string, payload any, allowed func(userID string, role rbac.Role, counts map[string]int) bool, countListID string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		b.deliver(ctx, boardID, event, payload, allowed, countListID)
	}()
}

// Flush waits for every in-flight delivery; used at shutdown and in tests.
func (b *Broadcaster) Flush() {
	b.wg.Wait()
}

// deliver runs the fan-out algorithm: snapshot the room, batch-fetch every
// recipient's role in one query, apply the event's visibility rule,
// deliver to the survivors. Delivery failures are per-recipient and
// swallowed.
func (b *Broadcaster) deliver(ctx context.Context, boardID, event string, payload any, allowed func(userID string, role rbac.Role, counts map[string]int) bool, countListID string) {
	clients := b.hub.Room(boardID)
	if len(clients) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(clients))
	userIDs := make([]string, 0, len(clients))
	for _, client := range clients {
		if _, ok := seen[client.UserID()]; ok {
			continue
		}
		seen[client.UserID()] = struct{}{}
		userIDs = append(userIDs, client.UserID())
	}

	roles, err := b.dir.ListMemberRoles(ctx, boardID, userIDs)
	if err != nil {
		b.log.WithError(err).WithField("board_id", boardID).Error("broadcast role lookup failed")
		return
	}

	// one count query for all member recipients, not one per recipient
	var counts map[string]int
	if countListID != "" {
		memberIDs := make([]string, 0, len(userIDs))
		for _, userID := range userIDs {
			if rbac.Normalize(roles[userID]) != rbac.RoleAdmin {
				memberIDs = append(memberIDs, userID)
			}
		}
		if len(memberIDs) > 0 {
			counts, err = b.dir.CountViewableTasks(ctx, countListID, memberIDs)
			if err != nil {
				b.log.WithError(err).WithField("list_id", countListID).Error("broadcast visibility count failed")
				return
			}
		}
	}

	message, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		b.log.WithError(err).WithField("event", event).Error("broadcast payload marshal failed")
		return
	}

	for _, client := range clients {
		role, ok := roles[client.UserID()]
		if !ok {
			// joined the room but no longer a member; skip
			continue
		}
		if !allowed(client.UserID(), rbac.Normalize(role), counts) {
			continue
		}
		if !client.Send(message) {
			b.log.WithFields(logrus.Fields{
				"event":   event,
				"user_id": client.UserID(),
			}).Debug("dropped event for slow client")
		}
	}
}
