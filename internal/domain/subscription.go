// Package domain holds the entities the synchronization engine operates
// over: Subscription (a closed, tagged variant set), Video, and Page. It
// mirrors AVMC's internal/domain package in spirit — small, dependency-free
// structs plus the invariants their doc comments spell out — but the shape
// is this system's, not the teacher's.
package domain

import "time"

// SubscriptionKind is a closed enumeration (spec.md's design notes call
// for compile-time dispatch over a fixed variant set, not an open-ended
// plugin registry).
type SubscriptionKind int

const (
	KindFavorites SubscriptionKind = iota
	KindCollection
	KindSubmissions
	KindWatchLater
)

func (k SubscriptionKind) String() string {
	switch k {
	case KindFavorites:
		return "favorites"
	case KindCollection:
		return "collection"
	case KindSubmissions:
		return "submissions"
	case KindWatchLater:
		return "watch_later"
	default:
		return "unknown"
	}
}

// CollectionKind distinguishes the two Collection sub-variants.
type CollectionKind int

const (
	CollectionSeries CollectionKind = iota
	CollectionSeason
)

func (k CollectionKind) String() string {
	if k == CollectionSeason {
		return "season"
	}
	return "series"
}

// SubmissionsFlavor selects between bilibili's two per-creator submission
// listing endpoints (the legacy paginated-by-offset API and the newer
// one cursor-paginated by publish time).
type SubmissionsFlavor int

const (
	SubmissionsLegacy SubmissionsFlavor = iota
	SubmissionsCursor
)

// FilterRule is the optional per-subscription acceptance policy applied
// by the Enrichment Stage (spec.md §4.5) in addition to the Source's own
// should_take/should_filter cursor logic.
type FilterRule struct {
	MinDurationSeconds int
	TitleRegex         string // compiled lazily by the consumer; kept as text here to stay storage-friendly
}

// IsZero reports whether the rule imposes no constraint at all.
func (r FilterRule) IsZero() bool {
	return r.MinDurationSeconds == 0 && r.TitleRegex == ""
}

// Subscription is the abstract row described by spec.md §3: exactly one
// of the four identifying blocks below is populated, selected by Kind
// (invariant V1 at the Video level mirrors this same discriminator).
type Subscription struct {
	ID int64

	Kind SubscriptionKind

	// Favorites: a single numeric media-list id.
	FavoritesMediaID int64

	// Collection: season or series id, scoped to an up-mid (uploader).
	CollectionID    int64
	CollectionMid   int64
	CollectionKind  CollectionKind

	// Submissions: the creator's numeric mid, plus which listing flavor.
	SubmissionsMid    int64
	SubmissionsFlavor SubmissionsFlavor

	// WatchLater carries no extra identifier: it is a singleton (id=1 in
	// the schema, spec.md §6) scoped to the authenticated account.

	Title       string
	RootPath    string
	LatestRowAt time.Time
	Filter      FilterRule
	Enabled     bool

	// ScheduleExpr is a robfig/cron expression (or "@every 30m" style
	// shorthand) governing how often the Task Manager fires this
	// subscription's cycle (spec.md §4.9); empty means "use the process
	// default interval".
	ScheduleExpr string
}

// Validate enforces invariant V1's spirit at construction time: exactly
// one identifying block must be populated for the declared Kind. The
// Repository is the actual writer of the four-nullable-column layout;
// this is the in-memory precondition it relies on.
func (s Subscription) Validate() error {
	switch s.Kind {
	case KindFavorites:
		if s.FavoritesMediaID == 0 {
			return errMissingIdentifier("favorites", "FavoritesMediaID")
		}
	case KindCollection:
		if s.CollectionID == 0 || s.CollectionMid == 0 {
			return errMissingIdentifier("collection", "CollectionID/CollectionMid")
		}
	case KindSubmissions:
		if s.SubmissionsMid == 0 {
			return errMissingIdentifier("submissions", "SubmissionsMid")
		}
	case KindWatchLater:
		// singleton, nothing to validate beyond Kind itself
	default:
		return errUnknownKind(s.Kind)
	}
	return nil
}
