package multiplayer

import (
	"sort"
	"time"

	"tilecraft.ai/internal/protocol"
)

// OtherPlayer is the local projection of a peer.
type OtherPlayer struct {
	protocol.PlayerState
	LastSeen time.Time
}

// Roster tracks peers by user id. Liveness is evaluated on read.
type Roster struct {
	self    string
	timeout time.Duration
	peers   map[string]*OtherPlayer
}

func NewRoster(selfUserID string, timeout time.Duration) *Roster {
	return &Roster{self: selfUserID, timeout: timeout, peers: map[string]*OtherPlayer{}}
}

// Upsert refreshes a peer. Updates older than the stored one are ignored; a leaving
// update evicts the peer immediately.
func (r *Roster) Upsert(st protocol.PlayerState, seen time.Time) {
	if st.UserID == "" || st.UserID == r.self {
		return
	}
	if st.Leaving {
		delete(r.peers, st.UserID)
		return
	}
	if cur, ok := r.peers[st.UserID]; ok && st.SentAtMS != 0 && st.SentAtMS < cur.SentAtMS {
		return
	}
	r.peers[st.UserID] = &OtherPlayer{PlayerState: st, LastSeen: seen}
}

func (r *Roster) Remove(userID string) { delete(r.peers, userID) }

// Others returns live peers sorted by username, evicting any not refreshed within the timeout.
func (r *Roster) Others(now time.Time) []OtherPlayer {
	out := make([]OtherPlayer, 0, len(r.peers))
	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > r.timeout {
			delete(r.peers, id)
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r *Roster) Clear() { r.peers = map[string]*OtherPlayer{} }
