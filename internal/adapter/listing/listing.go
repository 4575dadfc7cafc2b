package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
)

// Entry is one object key reported by the remote listing.
type Entry struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Page is one decoded listing response.
type Page struct {
	Entries    []Entry
	NextMarker string
	Truncated  bool
}

type client struct {
	httpClient *http.Client
	decoder    Decoder
	cfg        *config.ListingConfig
	log        *slog.Logger
}

func NewClient(cfg *config.ListingConfig, log *slog.Logger) (*client, error) {
	decoder, err := NewDecoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	return NewClientWithHTTP(&http.Client{Timeout: cfg.Timeout.Std()}, decoder, cfg, log), nil
}

func NewClientWithHTTP(httpClient *http.Client, decoder Decoder, cfg *config.ListingConfig, log *slog.Logger) *client {
	return &client{
		httpClient: httpClient,
		decoder:    decoder,
		cfg:        cfg,
		log:        log.With(slog.String("item", "ListingClient")),
	}
}

// List issues exactly one GET for the page of keys under prefix starting
// after marker. A truncated page without an explicit next marker continues
// from its last key; keys are listed in lexicographic order, so that is
// where the next page begins.
func (c *client) List(ctx context.Context, prefix, marker string) (Page, error) {
	reqURL := c.buildURL(prefix, marker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("cannot build listing request: %w", err)
	}
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Page{}, &common.TransientFetchError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, common.StatusError(reqURL, resp.StatusCode)
	}

	page, err := c.decoder.Decode(resp.Body, prefix)
	if err != nil {
		return Page{}, fmt.Errorf("cannot decode listing page: %w", err)
	}

	if page.Truncated && page.NextMarker == "" {
		if len(page.Entries) < 1 {
			return Page{}, fmt.Errorf("listing %s: %w", reqURL, common.ErrBadListing)
		}

		page.NextMarker = page.Entries[len(page.Entries)-1].Key
		c.log.Debug("Page carries no next marker, continuing from last key", slog.String("marker", page.NextMarker))
	}

	return page, nil
}

func (c *client) buildURL(prefix, marker string) string {
	q := url.Values{}
	q.Set("prefix", prefix)
	q.Set("max-keys", strconv.Itoa(c.cfg.PageSize))
	if marker != "" {
		q.Set("marker", marker)
	}

	return c.cfg.Host + "/?" + q.Encode()
}
