package domain

import (
	"sort"
	"time"
)

// RoomState 是一个房间的完整在线状态视图。
// 没有成员或所有成员都已确认断开的房间必须被删除。
type RoomState struct {
	RoomID         string                      `json:"roomId"`
	Members        map[string]MembershipRecord `json:"members"`
	CreatedAt      time.Time                   `json:"createdAt"`
	LastNonemptyAt time.Time                   `json:"lastNonemptyAt"`
}

// MemberIDs returns all member ids, sorted.
func (r RoomState) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for id := range r.Members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PresentPeers returns members other than exclude that peers still see in the room,
// ordered by join time.
func PresentPeers(members []MembershipRecord, exclude string) []MembershipRecord {
	peers := make([]MembershipRecord, 0, len(members))
	for _, m := range members {
		if m.MemberID == exclude || !m.State.Present() {
			continue
		}
		peers = append(peers, m)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].JoinedAt.Equal(peers[j].JoinedAt) {
			return peers[i].MemberID < peers[j].MemberID
		}
		return peers[i].JoinedAt.Before(peers[j].JoinedAt)
	})
	return peers
}

// Endable reports whether a room holding these members has to be torn down.
func Endable(members []MembershipRecord) bool {
	return len(members) > 0 && AllConfirmed(members)
}

// AllConfirmed reports whether every record is CONFIRMED_DISCONNECTED.
func AllConfirmed(members []MembershipRecord) bool {
	for _, m := range members {
		if m.State != StateConfirmedDisconnected {
			return false
		}
	}
	return true
}
