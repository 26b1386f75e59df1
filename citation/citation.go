// Package citation tracks research sources and renders citations and
// bibliographies in APA, MLA and Chicago styles. It is pure in-memory
// bookkeeping: persistence, if needed, is the caller's concern beyond the
// JSON snapshot support.
package citation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceType classifies an information source.
type SourceType string

const (
	TypeWeb     SourceType = "web"
	TypeArticle SourceType = "article"
	TypeBook    SourceType = "book"
	TypeVideo   SourceType = "video"
	TypeDataset SourceType = "dataset"
	TypeOther   SourceType = "other"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case TypeWeb, TypeArticle, TypeBook, TypeVideo, TypeDataset, TypeOther:
		return true
	}
	return false
}

// Style is a citation formatting convention.
type Style string

const (
	StyleAPA     Style = "apa"
	StyleMLA     Style = "mla"
	StyleChicago Style = "chicago"
)

// Valid reports whether s is a known style.
func (s Style) Valid() bool {
	return s == StyleAPA || s == StyleMLA || s == StyleChicago
}

// SortKey selects the primary bibliography ordering.
type SortKey string

const (
	SortByAuthor SortKey = "author"
	SortByTitle  SortKey = "title"
)

// Valid reports whether k is a known sort key.
func (k SortKey) Valid() bool {
	return k == SortByAuthor || k == SortByTitle
}

// Source is a registered information source. At most one Source exists per
// distinct normalized URL within a Tracker.
type Source struct {
	ID            string     `json:"id"`
	Type          SourceType `json:"type"`
	Title         string     `json:"title"`
	URL           string     `json:"url,omitempty"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	AccessedAt    time.Time  `json:"accessed_at"`
}

// Citation references a Source, optionally with a quote and page number.
// Never mutated after creation.
type Citation struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	QuotedText string    `json:"quoted_text,omitempty"`
	PageNumber *int      `json:"page_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// noDate is the placeholder rendered when a source has no publication date.
const noDate = "n.d."

func (s *Source) year() string {
	if s.PublishedDate == nil {
		return noDate
	}
	return strconv.Itoa(s.PublishedDate.Year())
}

// terminated appends a period unless the part already carries one, so the
// "n.d." placeholder never renders as "n.d..".
func terminated(part string) string {
	if strings.HasSuffix(part, ".") {
		return part
	}
	return part + "."
}

// Format renders the source as a full citation in the given style. Missing
// optional fields are omitted cleanly, never rendered as empty brackets.
func (s *Source) Format(style Style) string {
	switch style {
	case StyleAPA:
		return s.formatAPA()
	case StyleMLA:
		return s.formatMLA()
	case StyleChicago:
		return s.formatChicago()
	default:
		return s.Title
	}
}

// formatAPA: Author. (Year). Title. Retrieved from URL.
func (s *Source) formatAPA() string {
	var parts []string
	if s.Author != "" {
		parts = append(parts, s.Author+".")
	}
	parts = append(parts, "("+s.year()+").")
	parts = append(parts, s.Title+".")
	if s.URL != "" {
		parts = append(parts, "Retrieved from "+s.URL+".")
	}
	return strings.Join(parts, " ")
}

// formatMLA: Author. "Title." Year, URL.
func (s *Source) formatMLA() string {
	var parts []string
	if s.Author != "" {
		parts = append(parts, s.Author+".")
	}
	parts = append(parts, `"`+s.Title+`."`)
	if s.URL != "" {
		parts = append(parts, s.year()+",", s.URL+".")
	} else {
		parts = append(parts, terminated(s.year()))
	}
	return strings.Join(parts, " ")
}

// formatChicago: Author. Title. Year. URL.
func (s *Source) formatChicago() string {
	var parts []string
	if s.Author != "" {
		parts = append(parts, s.Author+".")
	}
	parts = append(parts, s.Title+".")
	parts = append(parts, terminated(s.year()))
	if s.URL != "" {
		parts = append(parts, s.URL+".")
	}
	return strings.Join(parts, " ")
}

// Inline renders the citation in inline form for the given style, using the
// resolved source.
func (c *Citation) Inline(src *Source, style Style) string {
	switch style {
	case StyleAPA:
		switch {
		case src.Author != "" && src.PublishedDate != nil:
			return fmt.Sprintf("(%s, %d)", src.Author, src.PublishedDate.Year())
		case src.Author != "":
			return "(" + src.Author + ")"
		default:
			return "(" + src.Title + ")"
		}
	case StyleMLA:
		switch {
		case src.Author != "" && c.PageNumber != nil:
			return fmt.Sprintf("(%s %d)", src.Author, *c.PageNumber)
		case src.Author != "":
			return "(" + src.Author + ")"
		default:
			return `("` + src.Title + `")`
		}
	default:
		return "[" + c.ID + "]"
	}
}
