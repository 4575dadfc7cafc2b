package listing

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/config"
)

// Decoder turns one listing response body into a Page. Which decoder runs
// is a config choice: bucket hosts answer with ListBucketResult XML, plain
// file hosts with a directory index page.
type Decoder interface {
	Decode(r io.Reader, prefix string) (Page, error)
}

func NewDecoder(format string) (Decoder, error) {
	switch format {
	case config.FormatXML:
		return &xmlDecoder{}, nil
	case config.FormatHTML:
		return &htmlDecoder{}, nil
	}

	return nil, fmt.Errorf("unknown listing format: %s", format)
}

type listBucketResult struct {
	IsTruncated bool   `xml:"IsTruncated"`
	NextMarker  string `xml:"NextMarker"`
	Contents    []struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		LastModified time.Time `xml:"LastModified"`
	} `xml:"Contents"`
}

type xmlDecoder struct{}

func (d *xmlDecoder) Decode(r io.Reader, _ string) (Page, error) {
	var res listBucketResult
	if err := xml.NewDecoder(r).Decode(&res); err != nil {
		return Page{}, fmt.Errorf("cannot decode bucket listing: %w", err)
	}

	page := Page{
		NextMarker: res.NextMarker,
		Truncated:  res.IsTruncated,
		Entries:    make([]Entry, 0, len(res.Contents)),
	}

	for _, obj := range res.Contents {
		page.Entries = append(page.Entries, Entry{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	return page, nil
}
