package citation

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Tracker registers sources, mints citations, and renders bibliographies.
//
// Sources are deduplicated by normalized URL with a first-write-wins
// policy: registering a URL that already exists returns the existing ID and
// leaves its fields untouched. UpdateSource is the explicit later-write
// path.
//
// A Tracker has the same ownership model as a conversation buffer: one
// caller at a time, no internal locking.
type Tracker struct {
	sources     map[string]*Source
	sourceOrder []string
	citations   map[string]*Citation
	citeOrder   []string
	urlIndex    map[string]string // normalized URL -> source ID
	citeSeq     int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sources:   make(map[string]*Source),
		citations: make(map[string]*Citation),
		urlIndex:  make(map[string]string),
	}
}

// SourceInput holds the fields for registering or updating a source.
type SourceInput struct {
	Title         string
	URL           string
	Author        string
	PublishedDate *time.Time
	Type          SourceType
}

func (in *SourceInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return goerr.New("source title is required", goerr.T(ErrTagValidation))
	}
	if in.Type == "" {
		in.Type = TypeWeb
	}
	if !in.Type.Valid() {
		return goerr.New("unknown source type", goerr.T(ErrTagValidation),
			goerr.V("type", string(in.Type)))
	}
	return nil
}

// normalizeURL trims whitespace, lowercases scheme and host, and drops a
// bare trailing slash, so equivalent spellings of one URL collapse to one
// key. A string that does not parse as a URL is used as-is after trimming.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	}
	return u.String()
}

// AddSource registers a source and returns its ID. When the normalized URL
// is already registered, the existing ID is returned and the existing
// fields win.
func (t *Tracker) AddSource(in SourceInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	normalized := normalizeURL(in.URL)
	if normalized != "" {
		if existing, ok := t.urlIndex[normalized]; ok {
			return existing, nil
		}
	}

	src := &Source{
		ID:            uuid.New().String(),
		Type:          in.Type,
		Title:         in.Title,
		URL:           strings.TrimSpace(in.URL),
		Author:        in.Author,
		PublishedDate: in.PublishedDate,
		AccessedAt:    time.Now().UTC(),
	}

	t.sources[src.ID] = src
	t.sourceOrder = append(t.sourceOrder, src.ID)
	if normalized != "" {
		t.urlIndex[normalized] = src.ID
	}
	return src.ID, nil
}

// UpdateSource overwrites an existing source's fields. This is the explicit
// later-write-wins path that AddSource deliberately is not.
func (t *Tracker) UpdateSource(id string, in SourceInput) error {
	src, ok := t.sources[id]
	if !ok {
		return goerr.New("source not found", goerr.T(ErrTagNotFound), goerr.V("source_id", id))
	}
	if err := in.validate(); err != nil {
		return err
	}

	normalized := normalizeURL(in.URL)
	if normalized != "" {
		if other, ok := t.urlIndex[normalized]; ok && other != id {
			return goerr.New("URL already belongs to another source", goerr.T(ErrTagValidation),
				goerr.V("url", in.URL), goerr.V("source_id", other))
		}
	}

	if old := normalizeURL(src.URL); old != "" && old != normalized {
		delete(t.urlIndex, old)
	}
	if normalized != "" {
		t.urlIndex[normalized] = id
	}

	src.Type = in.Type
	src.Title = in.Title
	src.URL = strings.TrimSpace(in.URL)
	src.Author = in.Author
	src.PublishedDate = in.PublishedDate
	return nil
}

// Source returns the source by ID.
func (t *Tracker) Source(id string) (*Source, error) {
	src, ok := t.sources[id]
	if !ok {
		return nil, goerr.New("source not found", goerr.T(ErrTagNotFound), goerr.V("source_id", id))
	}
	return src, nil
}

// AllSources returns every registered source in registration order,
// including sources that have never been cited.
func (t *Tracker) AllSources() []*Source {
	out := make([]*Source, 0, len(t.sourceOrder))
	for _, id := range t.sourceOrder {
		out = append(out, t.sources[id])
	}
	return out
}

// Cite creates a citation referencing the source. The source must exist in
// this tracker.
func (t *Tracker) Cite(sourceID, quotedText string, pageNumber *int) (*Citation, error) {
	if _, ok := t.sources[sourceID]; !ok {
		return nil, goerr.New("source not found", goerr.T(ErrTagNotFound),
			goerr.V("source_id", sourceID))
	}

	t.citeSeq++
	c := &Citation{
		ID:         fmt.Sprintf("cite_%d", t.citeSeq),
		SourceID:   sourceID,
		QuotedText: quotedText,
		PageNumber: pageNumber,
		CreatedAt:  time.Now().UTC(),
	}
	t.citations[c.ID] = c
	t.citeOrder = append(t.citeOrder, c.ID)
	return c, nil
}

// Citation returns the citation by ID.
func (t *Tracker) Citation(id string) (*Citation, error) {
	c, ok := t.citations[id]
	if !ok {
		return nil, goerr.New("citation not found", goerr.T(ErrTagNotFound),
			goerr.V("citation_id", id))
	}
	return c, nil
}

// AllCitations returns every citation in creation order.
func (t *Tracker) AllCitations() []*Citation {
	out := make([]*Citation, 0, len(t.citeOrder))
	for _, id := range t.citeOrder {
		out = append(out, t.citations[id])
	}
	return out
}

// InlineCitation renders the citation in inline form.
func (t *Tracker) InlineCitation(citationID string, style Style) (string, error) {
	c, err := t.Citation(citationID)
	if err != nil {
		return "", err
	}
	src, err := t.Source(c.SourceID)
	if err != nil {
		return "", err
	}
	return c.Inline(src, style), nil
}

// Bibliography renders one formatted entry per source that has at least one
// citation. Sources never cited are excluded but stay queryable through
// AllSources.
//
// Ordering is a pure function of the current source set: primary sort by
// the chosen key (a source with no author sorts by its title), secondary by
// title, tertiary by ID.
func (t *Tracker) Bibliography(style Style, sortBy SortKey) ([]string, error) {
	if !style.Valid() {
		return nil, goerr.New("unknown citation style", goerr.T(ErrTagValidation),
			goerr.V("style", string(style)))
	}
	if sortBy == "" {
		sortBy = SortByAuthor
	}
	if !sortBy.Valid() {
		return nil, goerr.New("unknown sort key", goerr.T(ErrTagValidation),
			goerr.V("sort_by", string(sortBy)))
	}

	cited := make(map[string]bool, len(t.citations))
	for _, c := range t.citations {
		cited[c.SourceID] = true
	}

	var sources []*Source
	for _, id := range t.sourceOrder {
		if cited[id] {
			sources = append(sources, t.sources[id])
		}
	}

	primary := func(s *Source) string {
		if sortBy == SortByAuthor && s.Author != "" {
			return strings.ToLower(s.Author)
		}
		return strings.ToLower(s.Title)
	}
	sort.SliceStable(sources, func(i, j int) bool {
		pi, pj := primary(sources[i]), primary(sources[j])
		if pi != pj {
			return pi < pj
		}
		ti, tj := strings.ToLower(sources[i].Title), strings.ToLower(sources[j].Title)
		if ti != tj {
			return ti < tj
		}
		return sources[i].ID < sources[j].ID
	})

	entries := make([]string, 0, len(sources))
	for _, src := range sources {
		entries = append(entries, src.Format(style))
	}
	return entries, nil
}

// Statistics summarizes the tracker contents.
type Statistics struct {
	TotalSources   int                `json:"total_sources"`
	TotalCitations int                `json:"total_citations"`
	SourceTypes    map[SourceType]int `json:"source_types"`
	UniqueURLs     int                `json:"unique_urls"`
}

// Statistics returns counts over the current sources and citations.
func (t *Tracker) Statistics() Statistics {
	types := make(map[SourceType]int)
	for _, src := range t.sources {
		types[src.Type]++
	}
	return Statistics{
		TotalSources:   len(t.sources),
		TotalCitations: len(t.citations),
		SourceTypes:    types,
		UniqueURLs:     len(t.urlIndex),
	}
}

// Clear removes all sources and citations. Idempotent.
func (t *Tracker) Clear() {
	t.sources = make(map[string]*Source)
	t.sourceOrder = nil
	t.citations = make(map[string]*Citation)
	t.citeOrder = nil
	t.urlIndex = make(map[string]string)
	t.citeSeq = 0
}

// Snapshot is the JSON-serializable export of a tracker.
type Snapshot struct {
	Sources   []*Source   `json:"sources"`
	Citations []*Citation `json:"citations"`
}

// Snapshot exports the tracker state in insertion order.
func (t *Tracker) Snapshot() *Snapshot {
	snap := &Snapshot{
		Sources:   make([]*Source, 0, len(t.sourceOrder)),
		Citations: make([]*Citation, 0, len(t.citeOrder)),
	}
	for _, id := range t.sourceOrder {
		s := *t.sources[id]
		snap.Sources = append(snap.Sources, &s)
	}
	for _, id := range t.citeOrder {
		c := *t.citations[id]
		snap.Citations = append(snap.Citations, &c)
	}
	return snap
}

// FromSnapshot rebuilds a tracker from an export. Referential integrity is
// validated: a citation referencing an unknown source fails the import.
func FromSnapshot(snap *Snapshot) (*Tracker, error) {
	t := NewTracker()
	for _, src := range snap.Sources {
		if !src.Type.Valid() {
			return nil, goerr.New("unknown source type in snapshot", goerr.T(ErrTagValidation),
				goerr.V("source_id", src.ID), goerr.V("type", string(src.Type)))
		}
		s := *src
		t.sources[s.ID] = &s
		t.sourceOrder = append(t.sourceOrder, s.ID)
		if normalized := normalizeURL(s.URL); normalized != "" {
			t.urlIndex[normalized] = s.ID
		}
	}
	for _, c := range snap.Citations {
		if _, ok := t.sources[c.SourceID]; !ok {
			return nil, goerr.New("citation references unknown source", goerr.T(ErrTagValidation),
				goerr.V("citation_id", c.ID), goerr.V("source_id", c.SourceID))
		}
		cc := *c
		t.citations[cc.ID] = &cc
		t.citeOrder = append(t.citeOrder, cc.ID)

		// Resume numbering past the highest imported ID. Snapshots may
		// carry gaps (cite_1, cite_3), so counting entries is not enough.
		var n int
		if _, err := fmt.Sscanf(cc.ID, "cite_%d", &n); err == nil && n > t.citeSeq {
			t.citeSeq = n
		}
	}
	return t, nil
}
