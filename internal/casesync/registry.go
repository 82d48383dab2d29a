package casesync

import (
	"context"
	"log"
	"sync"
	"time"
)

// Session is one live connection bound to a single case. Send must be safe
// for concurrent use; a failing session is skipped during broadcast and
// torn down by its own read loop.
type Session interface {
	UserID() string
	Send(ctx context.Context, payload []byte) error
}

// RoomRegistry tracks the live sessions viewing each case and fans messages
// out to them. Delivery is at-most-once: membership is snapshotted under the
// lock, the lock is released, and each send failure is logged and ignored so
// one dead session never blocks its siblings or the originating mutation.
type RoomRegistry struct {
	sendTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]map[Session]struct{}
}

func NewRoomRegistry(sendTimeout time.Duration) *RoomRegistry {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &RoomRegistry{
		sendTimeout: sendTimeout,
		rooms:       map[string]map[Session]struct{}{},
	}
}

func (r *RoomRegistry) Join(caseID string, s Session) {
	if r == nil || s == nil || caseID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[caseID]
	if !ok {
		room = map[Session]struct{}{}
		r.rooms[caseID] = room
	}
	room[s] = struct{}{}
}

func (r *RoomRegistry) Leave(caseID string, s Session) {
	if r == nil || s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[caseID]
	if !ok {
		return
	}
	delete(room, s)
	if len(room) == 0 {
		delete(r.rooms, caseID)
	}
}

func (r *RoomRegistry) Broadcast(caseID string, payload []byte) {
	if r == nil || len(payload) == 0 {
		return
	}
	r.mu.Lock()
	members := make([]Session, 0, len(r.rooms[caseID]))
	for s := range r.rooms[caseID] {
		members = append(members, s)
	}
	r.mu.Unlock()

	for _, s := range members {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		if err := s.Send(ctx, payload); err != nil {
			log.Printf("casesync: dropping broadcast to session in case %s: %v", caseID, err)
		}
		cancel()
	}
}

// Rooms reports the current number of live sessions per case.
func (r *RoomRegistry) Rooms() map[string]int {
	if r == nil {
		return map[string]int{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]int, len(r.rooms))
	for caseID, room := range r.rooms {
		result[caseID] = len(room)
	}
	return result
}

func (r *RoomRegistry) RoomSize(caseID string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[caseID])
}
