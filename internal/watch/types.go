// Package watch defines core types shared across subsystems.
package watch

import "time"

// PostRecord is one structured post extracted from a mirror document.
// Identity is ID: two records with the same ID are the same post no
// matter when they were fetched. Engagement counters are pointers so
// that "unknown" stays distinguishable from zero.
type PostRecord struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Text        string     `json:"text"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	Handle      string     `json:"handle,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	Replies     *int       `json:"replies,omitempty"`
	Reposts     *int       `json:"reposts,omitempty"`
	Quotes      *int       `json:"quotes,omitempty"`
	Likes       *int       `json:"likes,omitempty"`
	Matches     []string   `json:"matches,omitempty"`
}

// SearchRunResult is everything one aggregator run produced. Posts is
// in discovery order, not chronological. ErrorText and a non-empty
// Posts slice are not mutually exclusive: a mid-run fetch failure
// keeps whatever was collected before it.
type SearchRunResult struct {
	Query      string       `json:"query"`
	MirrorUsed string       `json:"mirror_used,omitempty"`
	FetchedAt  time.Time    `json:"fetched_at"`
	Posts      []PostRecord `json:"posts"`
	ErrorText  string       `json:"error,omitempty"`
}

// MonitorEntry is the stored last-known engagement snapshot for one
// previously observed post.
type MonitorEntry struct {
	Replies   int       `json:"replies"`
	Reposts   int       `json:"reposts"`
	Likes     int       `json:"likes"`
	CheckedAt time.Time `json:"checked_at"`
}

// StateVersion tags the current on-disk MonitorState shape. Older
// untagged shapes are recognized and migrated by the state package.
const StateVersion = 2

// MonitorState is the process's entire durable memory: a flat mapping
// from post ID to MonitorEntry, shared by every configured query.
type MonitorState struct {
	Version int                     `json:"version"`
	Entries map[string]MonitorEntry `json:"entries"`
}

// NewMonitorState returns an empty current-shape state.
func NewMonitorState() MonitorState {
	return MonitorState{
		Version: StateVersion,
		Entries: make(map[string]MonitorEntry),
	}
}

// AlertReason classifies why an alert fired.
type AlertReason string

// Alert reasons emitted by the monitor engine and the VIP job.
const (
	ReasonNew       AlertReason = "new"
	ReasonGrowth    AlertReason = "growth"
	ReasonVIPChange AlertReason = "vip_change"
)

// AuthorProfile is the enrichment lookup's view of an account.
type AuthorProfile struct {
	Handle    string `json:"handle"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
}

// VIPChange describes a shift for a tracked account: either its
// follower/following counts moved, or (when Target is set) its follow
// relationship to another account flipped.
type VIPChange struct {
	Handle        string `json:"handle"`
	PrevFollowers int    `json:"prev_followers,omitempty"`
	Followers     int    `json:"followers,omitempty"`
	PrevFollowing int    `json:"prev_following,omitempty"`
	Following     int    `json:"following,omitempty"`
	Target        string `json:"target,omitempty"`
	PrevFollows   *bool  `json:"prev_follows,omitempty"`
	Follows       *bool  `json:"follows,omitempty"`
}

// AlertDecision is one structured alert handed to the notification
// sink. Author is best-effort enrichment and may be nil. VIP is set
// only on vip_change alerts, which carry no Post.
type AlertDecision struct {
	ID         string         `json:"id"`
	Reason     AlertReason    `json:"reason"`
	QueryKey   string         `json:"query_key,omitempty"`
	QueryLabel string         `json:"query_label,omitempty"`
	Post       PostRecord     `json:"post,omitzero"`
	PrevLikes  int            `json:"prev_likes,omitempty"`
	Author     *AuthorProfile `json:"author,omitempty"`
	VIP        *VIPChange     `json:"vip,omitempty"`
	At         time.Time      `json:"at"`
}

// QueryConfig is one (key, query string, label) triple. The query
// string is opaque to the core and passed verbatim to the source's
// search endpoint.
type QueryConfig struct {
	Key   string `json:"key" mapstructure:"key"`
	Query string `json:"query" mapstructure:"query"`
	Label string `json:"label" mapstructure:"label"`
}

// Document is a fetched mirror page.
type Document struct {
	Body       []byte
	MirrorUsed string
	FinalURL   string
}

// IntPtr is a convenience for building optional counters.
func IntPtr(v int) *int {
	return &v
}
