// Package news holds the domain records shared by the extractor, the
// prioritizer and the store. It has no dependencies beyond the standard
// library so the prioritizer stays pure.
package news

import "time"

// Article is the normalized record for a single scraped page.
// URL is the unique key: re-fetching the same URL overwrites the record.
type Article struct {
	URL        string
	Section    string
	Headline   string
	Standfirst string
	FullText   *string
	Author     *string
	Date       time.Time
	Tags       map[string]struct{}
	// Available reports whether the full body could be read. A paywalled
	// teaser yields Available=false with FullText nil; that is a success,
	// not an error.
	Available     bool
	PriorityScore *float64
}

// Summary is a listing teaser: what a section page shows before the
// article itself is fetched.
type Summary struct {
	Headline   string
	URL        string
	Standfirst string
}

// Body returns the full text, or "" when the article is a partial record.
func (a *Article) Body() string {
	if a.FullText == nil {
		return ""
	}
	return *a.FullText
}

// AddTag inserts a tag, allocating the set on first use.
func (a *Article) AddTag(tag string) {
	if tag == "" {
		return
	}
	if a.Tags == nil {
		a.Tags = make(map[string]struct{})
	}
	a.Tags[tag] = struct{}{}
}

// TagList returns the tags in no particular order.
func (a *Article) TagList() []string {
	tags := make([]string, 0, len(a.Tags))
	for t := range a.Tags {
		tags = append(tags, t)
	}
	return tags
}
