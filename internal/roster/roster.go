// Package roster keeps the local view of who is in the room, rebuilt from
// the events a session delivers.
package roster

import (
	"sort"
	"time"

	"roomchat/internal/models"

	"github.com/c-pro/geche"
)

// Member is a user seen in the room.
type Member struct {
	User     string
	JoinedAt time.Time
	LastSeen time.Time
}

type Roster struct {
	members geche.Geche[string, Member]
	now     func() time.Time
}

func New() *Roster {
	return &Roster{
		members: geche.NewMapCache[string, Member](),
		now:     time.Now,
	}
}

// Apply reconciles one event into the roster. A message from a user that was
// never announced marks them present too.
func (r *Roster) Apply(ev models.ChatEvent) {
	now := r.now()
	switch ev.Kind {
	case models.EventJoined:
		if ev.User == "" {
			return
		}
		r.members.Set(ev.User, Member{User: ev.User, JoinedAt: now, LastSeen: now})
	case models.EventLeft:
		_ = r.members.Del(ev.User)
	case models.EventMessage:
		if ev.User == "" {
			return
		}
		m, err := r.members.Get(ev.User)
		if err != nil {
			m = Member{User: ev.User, JoinedAt: now}
		}
		m.LastSeen = now
		r.members.Set(ev.User, m)
	case models.EventDisconnected:
		r.Reset()
	}
}

// Members returns the present users sorted by name.
func (r *Roster) Members() []Member {
	snapshot := r.members.Snapshot()
	members := make([]Member, 0, len(snapshot))
	for _, m := range snapshot {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].User < members[j].User
	})
	return members
}

func (r *Roster) Names() []string {
	members := r.Members()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.User
	}
	return names
}

func (r *Roster) Has(user string) bool {
	_, err := r.members.Get(user)
	return err == nil
}

func (r *Roster) Len() int {
	return r.members.Len()
}

func (r *Roster) Reset() {
	for user := range r.members.Snapshot() {
		_ = r.members.Del(user)
	}
}
