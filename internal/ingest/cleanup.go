package ingest

import (
	"crypto/tls"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/WordPress/openverse-api/internal/domain"
)

// tagMinConfidence is the lowest machine-generated tag accuracy kept in the
// index.
const tagMinConfidence = 0.90

// tagDenylist drops tags that carry no search value.
var tagDenylist = map[string]bool{
	"no person":      true,
	"squareformat":   true,
	"uploaded:by=flickrmobile": true,
	"uploaded:by=instagram":    true,
	"flickriosapp:filter=flamingo": true,
}

// tagContainsDenylist drops tags that embed upload bookkeeping rather than
// descriptions.
var tagContainsDenylist = []string{
	"flickriosapp",
	"uploaded",
	":",
	"=",
}

var wikiTitlePattern = regexp.MustCompile(`^File:(.+)\.[a-zA-Z0-9]{2,4}$`)

// TLSCache remembers which registered domains answer on https, so protocol
// upgrades probe each domain at most once per refresh.
type TLSCache struct {
	mu      sync.Mutex
	entries map[string]bool
	probe   func(domain string) bool
}

// NewTLSCache creates a TLS capability cache with the default network probe.
func NewTLSCache() *TLSCache {
	return &TLSCache{
		entries: make(map[string]bool),
		probe:   probeTLS,
	}
}

// SupportsTLS reports whether the domain answers a TLS handshake.
func (c *TLSCache) SupportsTLS(domain string) bool {
	c.mu.Lock()
	if supports, ok := c.entries[domain]; ok {
		c.mu.Unlock()
		return supports
	}
	c.mu.Unlock()

	supports := c.probe(domain)

	c.mu.Lock()
	c.entries[domain] = supports
	c.mu.Unlock()
	return supports
}

func probeTLS(domain string) bool {
	conn, err := tls.DialWithDialer(
		&net.Dialer{Timeout: 2 * time.Second},
		"tcp", domain+":443", nil,
	)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// registeredDomain extracts the registrable part of a hostname. Two labels
// are enough for the provider domains in the catalog.
func registeredDomain(host string) string {
	host = strings.TrimSuffix(host, ".")
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// CleanupURL normalizes a malformed media URL. It returns the cleaned URL
// and true, or "" and false when the URL needs no change.
func CleanupURL(rawURL string, tlsCache *TLSCache) (string, bool) {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "", false
	case strings.HasPrefix(rawURL, "http://"):
		host := hostOf(strings.TrimPrefix(rawURL, "http://"))
		if tlsCache.SupportsTLS(registeredDomain(host)) {
			return "https://" + strings.TrimPrefix(rawURL, "http://"), true
		}
		return "", false
	default:
		// Protocol-relative or bare URLs get the best protocol the domain
		// supports.
		trimmed := strings.TrimPrefix(rawURL, "//")
		host := hostOf(trimmed)
		if tlsCache.SupportsTLS(registeredDomain(host)) {
			return "https://" + trimmed, true
		}
		return "http://" + trimmed, true
	}
}

func hostOf(urlWithoutScheme string) string {
	if i := strings.IndexAny(urlWithoutScheme, "/?#"); i >= 0 {
		return urlWithoutScheme[:i]
	}
	return urlWithoutScheme
}

// CleanTags filters out denylisted and low-confidence tags. It returns the
// kept tags and true, or nil and false when nothing was removed.
func CleanTags(tags []domain.Tag) ([]domain.Tag, bool) {
	if len(tags) == 0 {
		return nil, false
	}

	kept := make([]domain.Tag, 0, len(tags))
	for _, tag := range tags {
		if keepTag(tag) {
			kept = append(kept, tag)
		}
	}
	if len(kept) == len(tags) {
		return nil, false
	}
	return kept, true
}

func keepTag(tag domain.Tag) bool {
	name := strings.ToLower(tag.Name)
	if tagDenylist[name] {
		return false
	}
	for _, fragment := range tagContainsDenylist {
		if strings.Contains(name, fragment) {
			return false
		}
	}
	// Zero accuracy means a human-entered tag, which is always kept.
	if tag.Accuracy > 0 && tag.Accuracy < tagMinConfidence {
		return false
	}
	return true
}

// CleanWikiTitle strips the upload prefix and file extension from wiki-style
// titles. It returns the cleaned title and true, or "" and false when the
// title is not wiki-shaped.
func CleanWikiTitle(title string) (string, bool) {
	match := wikiTitlePattern.FindStringSubmatch(title)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// cleanableRow is the subset of a staging row the cleanup passes touch.
type cleanableRow struct {
	ID    int64
	URL   string
	Title string
	Tags  []domain.Tag
}

// rowFixes holds the columns a cleanup pass decided to rewrite. Zero fixes
// means the row needs no update statement at all.
type rowFixes struct {
	URL   *string
	Title *string
	Tags  []domain.Tag
}

func (f rowFixes) empty() bool {
	return f.URL == nil && f.Title == nil && f.Tags == nil
}

// cleanRow applies every cleanup transform to one row.
func cleanRow(row cleanableRow, tlsCache *TLSCache) rowFixes {
	var fixes rowFixes
	if cleaned, changed := CleanupURL(row.URL, tlsCache); changed {
		fixes.URL = &cleaned
	}
	if cleaned, changed := CleanWikiTitle(row.Title); changed {
		fixes.Title = &cleaned
	}
	if cleaned, changed := CleanTags(row.Tags); changed {
		fixes.Tags = cleaned
	}
	return fixes
}

// cleanupBatch is a contiguous id range of staging rows processed by one
// worker. Batches are disjoint, so workers never contend on rows.
type cleanupBatch struct {
	startID, endID int64
}

func splitBatches(maxID int64, batchSize int64) []cleanupBatch {
	if maxID <= 0 {
		return nil
	}
	batches := make([]cleanupBatch, 0, maxID/batchSize+1)
	for start := int64(0); start < maxID; start += batchSize {
		end := start + batchSize
		if end > maxID {
			end = maxID
		}
		batches = append(batches, cleanupBatch{startID: start, endID: end})
	}
	return batches
}
