package reconcile

import (
	"sync"
	"time"
)

const (
	// DefaultMaxGap is the longest pause between two finals that still
	// continues the same group.
	DefaultMaxGap = 4 * time.Second

	// DefaultMaxChars caps the settled text of a single group.
	DefaultMaxChars = 240
)

// Group is a snapshot of consecutive utterances from one speaker in one
// language.
type Group struct {
	// ID increases monotonically per [Grouper], starting at 1.
	ID int

	Speaker  string
	Language string

	// Text is the concatenation of the final utterances in the group.
	Text string

	// Pending is the latest interim text following Text. It is replaced by
	// every interim record and cleared by the next final.
	Pending string

	Started time.Time
	Updated time.Time
}

// GrouperOption is a functional option for [NewGrouper].
type GrouperOption func(*Grouper)

// WithMaxGap overrides [DefaultMaxGap].
func WithMaxGap(d time.Duration) GrouperOption {
	return func(g *Grouper) {
		if d > 0 {
			g.maxGap = d
		}
	}
}

// WithMaxChars overrides [DefaultMaxChars].
func WithMaxChars(n int) GrouperOption {
	return func(g *Grouper) {
		if n > 0 {
			g.maxChars = n
		}
	}
}

// Grouper merges utterance records into display groups. A record joins the
// open group when it has the same speaker and language, arrives within the
// maximum gap, and (for finals) keeps the group under the character cap.
// Otherwise a new group is opened.
//
// All methods are safe for concurrent use.
type Grouper struct {
	maxGap   time.Duration
	maxChars int

	mu     sync.Mutex
	open   *Group
	nextID int
}

// NewGrouper creates a [Grouper] with the default policy, adjusted by opts.
func NewGrouper(opts ...GrouperOption) *Grouper {
	g := &Grouper{
		maxGap:   DefaultMaxGap,
		maxChars: DefaultMaxChars,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Add places rec into a group and returns a snapshot of that group.
func (g *Grouper) Add(rec UtteranceRecord) Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open == nil || !g.accepts(rec) {
		g.nextID++
		g.open = &Group{
			ID:       g.nextID,
			Speaker:  rec.Speaker,
			Language: rec.DominantLanguage,
			Started:  rec.Timestamp,
		}
	}

	grp := g.open
	if grp.Language == "" {
		grp.Language = rec.DominantLanguage
	}
	if rec.IsFinal {
		grp.Text = join(grp.Text, rec.Text)
		grp.Pending = ""
	} else {
		grp.Pending = rec.Text
	}
	grp.Updated = rec.Timestamp
	return *grp
}

// Reset closes the open group. The next record starts a new one.
func (g *Grouper) Reset() {
	g.mu.Lock()
	g.open = nil
	g.mu.Unlock()
}

func (g *Grouper) accepts(rec UtteranceRecord) bool {
	grp := g.open
	if rec.Speaker != grp.Speaker {
		return false
	}
	if rec.DominantLanguage != "" && grp.Language != "" && rec.DominantLanguage != grp.Language {
		return false
	}
	if rec.Timestamp.Sub(grp.Updated) > g.maxGap {
		return false
	}
	if rec.IsFinal && grp.Text != "" && len(grp.Text)+1+len(rec.Text) > g.maxChars {
		return false
	}
	return true
}

func join(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
