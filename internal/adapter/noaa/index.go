package noaa

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/couchcryptid/gsod-etl/internal/domain"
)

// YearListing is one year directory of the archive.
type YearListing struct {
	Year     int
	Modified time.Time
}

// Directory listings come either as an Apache table ("2024-01-09 13:41") or as a <pre>
// block ("09-Jan-2024 13:41"), each followed by the size column.
var listingMeta = regexp.MustCompile(`(\d{4}-\d{2}-\d{2} \d{2}:\d{2}|\d{2}-[A-Za-z]{3}-\d{4} \d{2}:\d{2})\s+(\S+)?`)

var yearDir = regexp.MustCompile(`^(\d{4})/?$`)

// ListYears returns the year directories in the archive root, oldest first.
func (c *Client) ListYears(ctx context.Context) ([]YearListing, error) {
	entries, err := c.listing(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	var years []YearListing
	for _, e := range entries {
		m := yearDir.FindStringSubmatch(e.Name)
		if m == nil {
			continue
		}
		y, _ := strconv.Atoi(m[1])
		years = append(years, YearListing{Year: y, Modified: e.Modified})
	}
	sort.Slice(years, func(i, j int) bool { return years[i].Year < years[j].Year })
	return years, nil
}

// ListYear returns the station files (".op.gz") published for a year.
func (c *Client) ListYear(ctx context.Context, year int) ([]domain.Listing, error) {
	entries, err := c.listing(ctx, c.URL(fmt.Sprintf("%d/", year)))
	if err != nil {
		return nil, err
	}

	files := entries[:0]
	for _, e := range entries {
		if strings.HasSuffix(e.Name, domain.ExtOpGz) {
			files = append(files, e)
		}
	}
	return files, nil
}

func (c *Client) listing(ctx context.Context, u string) ([]domain.Listing, error) {
	var entries []domain.Listing
	err := c.get(ctx, u, func(body io.Reader) error {
		var err error
		entries, err = ParseIndex(body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", u, err)
	}
	c.metrics.FilesDownloaded.WithLabelValues("index").Inc()
	return entries, nil
}

// ParseIndex extracts the entries of an Apache-style HTML directory index. Navigation links
// (parent directory, column sorting) are skipped. Entries without a recognisable date keep
// a zero Modified time.
func ParseIndex(r io.Reader) ([]domain.Listing, error) {
	z := html.NewTokenizer(r)

	var (
		entries []domain.Listing
		current *domain.Listing
		inLink  bool
		trailer strings.Builder
	)
	flush := func() {
		if current == nil {
			return
		}
		if m := listingMeta.FindStringSubmatch(trailer.String()); m != nil {
			current.Modified = parseListingTime(m[1])
			current.Size = m[2]
		}
		entries = append(entries, *current)
		current = nil
		trailer.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()
				return entries, nil
			}
			return nil, fmt.Errorf("parse index: %w", z.Err())

		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" {
				continue
			}
			flush()
			inLink = true
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if string(key) == "href" {
					if entry, ok := entryFromHref(string(val)); ok {
						current = &entry
					}
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "a":
				inLink = false
			case "tr":
				flush()
			}

		case html.TextToken:
			if current != nil && !inLink {
				trailer.Write(z.Text())
				trailer.WriteByte(' ')
			}
		}
	}
}

func entryFromHref(href string) (domain.Listing, bool) {
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "/") ||
		strings.HasPrefix(href, "..") || strings.Contains(href, "://") {
		return domain.Listing{}, false
	}
	name, err := url.PathUnescape(href)
	if err != nil {
		return domain.Listing{}, false
	}
	return domain.Listing{Name: name}, true
}

func parseListingTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04", "02-Jan-2006 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
