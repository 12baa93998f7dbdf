package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"esgwatch/internal/models"
)

// FeedCapacity bounds the rolling live-update feed.
const FeedCapacity = 50

// MergePolicy decides whether SetLatestScore may replace the stored latest score.
type MergePolicy string

const (
	// MergeLastWrite accepts every write in arrival order. A history fetch that
	// completes after a live update can therefore replace it with older data.
	MergeLastWrite MergePolicy = "last-write"
	// MergeNewest ignores SetLatestScore calls whose RecordedAt is older than the
	// stored latest score.
	MergeNewest MergePolicy = "newest"
)

// ParseMergePolicy maps a config value onto a policy. Empty selects MergeLastWrite.
func ParseMergePolicy(v string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", MergeLastWrite:
		return MergeLastWrite, nil
	case MergeNewest:
		return MergeNewest, nil
	default:
		return "", fmt.Errorf("unknown latest score policy %q", v)
	}
}

// Snapshot is an immutable view of the dashboard state. Callers must not mutate
// the maps or slices it exposes.
type Snapshot struct {
	Companies         []models.Company
	SelectedCompanyID string
	HasSelection      bool
	LatestScores      map[string]models.ESGScore
	ScoreHistory      map[string][]models.ESGScore
	Events            map[string][]models.ESGEvent
	LiveUpdates       []models.LiveUpdate
	SidebarOpen       bool
	ChatOpen          bool
}

// Options tune store behaviour.
type Options struct {
	Policy MergePolicy
	Now    func() time.Time
}

// Store is the shared view state read by every screen. Each operation replaces
// the current snapshot with a new one.
type Store struct {
	mu     sync.RWMutex
	state  *Snapshot
	policy MergePolicy
	now    func() time.Time
}

// New constructs an empty store.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.Policy
	if policy == "" {
		policy = MergeLastWrite
	}
	return &Store{
		state: &Snapshot{
			LatestScores: map[string]models.ESGScore{},
			ScoreHistory: map[string][]models.ESGScore{},
			Events:       map[string][]models.ESGEvent{},
			SidebarOpen:  true,
			ChatOpen:     true,
		},
		policy: policy,
		now:    now,
	}
}

func (s *Store) update(fn func(prev *Snapshot) *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
}

func (s *Store) current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	return *s.current()
}

// SetCompanies replaces the company list wholesale.
func (s *Store) SetCompanies(companies []models.Company) {
	list := append([]models.Company(nil), companies...)
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.Companies = list
		return &next
	})
}

// SelectCompany focuses id. The id is not checked against the company list.
func (s *Store) SelectCompany(id string) {
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.SelectedCompanyID = id
		next.HasSelection = true
		return &next
	})
}

// SetLatestScore upserts the latest score for companyID, subject to the merge policy.
func (s *Store) SetLatestScore(companyID string, score models.ESGScore) {
	s.update(func(prev *Snapshot) *Snapshot {
		if s.policy == MergeNewest {
			if existing, ok := prev.LatestScores[companyID]; ok && score.RecordedAt.Before(existing.RecordedAt.Time) {
				return prev
			}
		}
		next := *prev
		next.LatestScores = withEntry(prev.LatestScores, companyID, score)
		return &next
	})
}

// SetScoreHistory replaces the score history for companyID.
func (s *Store) SetScoreHistory(companyID string, scores []models.ESGScore) {
	list := append(make([]models.ESGScore, 0, len(scores)), scores...)
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.ScoreHistory = withEntry(prev.ScoreHistory, companyID, list)
		return &next
	})
}

// SetEvents replaces the event list for companyID.
func (s *Store) SetEvents(companyID string, events []models.ESGEvent) {
	list := append(make([]models.ESGEvent, 0, len(events)), events...)
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.Events = withEntry(prev.Events, companyID, list)
		return &next
	})
}

// AddLiveUpdate prepends update to the rolling feed and makes its score the
// company's latest. Score history is left untouched.
func (s *Store) AddLiveUpdate(update models.LiveUpdate) {
	score := models.ScoreFromLive(update, s.now())
	s.update(func(prev *Snapshot) *Snapshot {
		size := len(prev.LiveUpdates) + 1
		if size > FeedCapacity {
			size = FeedCapacity
		}
		feed := make([]models.LiveUpdate, 0, size)
		feed = append(feed, update)
		feed = append(feed, prev.LiveUpdates[:size-1]...)

		next := *prev
		next.LiveUpdates = feed
		next.LatestScores = withEntry(prev.LatestScores, update.CompanyID, score)
		return &next
	})
}

// ToggleSidebar flips the sidebar flag.
func (s *Store) ToggleSidebar() {
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.SidebarOpen = !prev.SidebarOpen
		return &next
	})
}

// ToggleChat flips the chat panel flag.
func (s *Store) ToggleChat() {
	s.update(func(prev *Snapshot) *Snapshot {
		next := *prev
		next.ChatOpen = !prev.ChatOpen
		return &next
	})
}

// Companies returns the loaded company list.
func (s *Store) Companies() []models.Company {
	return s.current().Companies
}

// Company looks up a loaded company by id.
func (s *Store) Company(id string) (models.Company, bool) {
	for _, c := range s.current().Companies {
		if c.ID == id {
			return c, true
		}
	}
	return models.Company{}, false
}

// SelectedCompany returns the focused company id, if any.
func (s *Store) SelectedCompany() (string, bool) {
	snap := s.current()
	return snap.SelectedCompanyID, snap.HasSelection
}

// LatestScore returns the latest score for companyID. ok is false when nothing
// has been observed for it yet.
func (s *Store) LatestScore(companyID string) (models.ESGScore, bool) {
	score, ok := s.current().LatestScores[companyID]
	return score, ok
}

// ScoreHistory returns the loaded history. ok is false when it was never loaded;
// a loaded but empty history returns an empty slice and true.
func (s *Store) ScoreHistory(companyID string) ([]models.ESGScore, bool) {
	scores, ok := s.current().ScoreHistory[companyID]
	return scores, ok
}

// Events returns the loaded events with the same absent/empty distinction as ScoreHistory.
func (s *Store) Events(companyID string) ([]models.ESGEvent, bool) {
	events, ok := s.current().Events[companyID]
	return events, ok
}

// LiveFeed returns the rolling feed, most recent first.
func (s *Store) LiveFeed() []models.LiveUpdate {
	return s.current().LiveUpdates
}

func withEntry[V any](src map[string]V, key string, value V) map[string]V {
	dst := make(map[string]V, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	dst[key] = value
	return dst
}
