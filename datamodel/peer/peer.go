package peer

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// Address is the network location at which a peer accepts direct connections.
type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// Record is the registry-side view of a peer.
type Record struct {
	ID            string
	Address       Address
	LastHeartbeat time.Time
	BlockedBy     map[string]struct{} // Advisory only, never filters listings
}

// Live reports whether the record is within ttl of now.
func (r *Record) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastHeartbeat) < ttl
}

// Snapshot maps peer IDs to addresses. A snapshot is never modified after it is published.
type Snapshot map[string]Address

// Without returns a copy of s that does not contain id.
func (s Snapshot) Without(id string) Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		if k != id {
			out[k] = v
		}
	}
	return out
}

// IDs returns the peer IDs of the snapshot in lexical order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Diff computes the peers present in next but not in prev (joined) and vice versa (left).
func Diff(prev, next Snapshot) (joined []string, left []string) {
	for id := range next {
		if _, ok := prev[id]; !ok {
			joined = append(joined, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			left = append(left, id)
		}
	}
	sort.Strings(joined)
	sort.Strings(left)
	return joined, left
}
