package listing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/config"
)

const bucketPage = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>historical-data</Name>
  <Prefix>data/BTCUSDT/</Prefix>
  <IsTruncated>true</IsTruncated>
  <NextMarker>data/BTCUSDT/BTCUSDT-1m-2024-01-02.zip</NextMarker>
  <Contents>
    <Key>data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip</Key>
    <LastModified>2024-01-02T03:04:05.000Z</LastModified>
    <Size>123456</Size>
  </Contents>
  <Contents>
    <Key>data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip.CHECKSUM</Key>
    <LastModified>2024-01-02T03:04:06.000Z</LastModified>
    <Size>64</Size>
  </Contents>
</ListBucketResult>`

const indexPage = `<html><body><h1>Index of /data/BTCUSDT/</h1><pre>
<a href="?C=N;O=D">Name</a>
<a href="/data/">Parent Directory</a>
<a href="BTCUSDT-1m-2024-01-01.zip">BTCUSDT-1m-2024-01-01.zip</a>
<a href="BTCUSDT-1m-2024-01-01.zip.CHECKSUM">BTCUSDT-1m-2024-01-01.zip.CHECKSUM</a>
<a href="/data/BTCUSDT/BTCUSDT-1m-2024-01-02.zip">BTCUSDT-1m-2024-01-02.zip</a>
<a href="archive/">archive/</a>
<a href="https://elsewhere.example.com/other.zip">other.zip</a>
<a href="BTCUSDT-1m-2024-01-01.zip">duplicate</a>
</pre></body></html>`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestClient(t *testing.T, srv *httptest.Server, format string) *client {
	t.Helper()

	cfg := &config.ListingConfig{
		Host:     srv.URL,
		Format:   format,
		PageSize: 1000,
		Timeout:  config.Duration(5 * time.Second),
	}

	decoder, err := NewDecoder(format)
	require.NoError(t, err)

	return NewClientWithHTTP(srv.Client(), decoder, cfg, testLogger())
}

func TestXMLDecoder(t *testing.T) {
	page, err := (&xmlDecoder{}).Decode(strings.NewReader(bucketPage), "data/BTCUSDT/")
	require.NoError(t, err)

	require.True(t, page.Truncated)
	require.Equal(t, "data/BTCUSDT/BTCUSDT-1m-2024-01-02.zip", page.NextMarker)
	require.Len(t, page.Entries, 2)
	require.Equal(t, "data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip", page.Entries[0].Key)
	require.Equal(t, int64(123456), page.Entries[0].Size)
	require.True(t, page.Entries[0].LastModified.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	require.Equal(t, "data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip.CHECKSUM", page.Entries[1].Key)
}

func TestXMLDecoderBadPayload(t *testing.T) {
	_, err := (&xmlDecoder{}).Decode(strings.NewReader("<not-closed"), "")
	require.Error(t, err)
}

func TestHTMLDecoder(t *testing.T) {
	page, err := (&htmlDecoder{}).Decode(strings.NewReader(indexPage), "data/BTCUSDT/")
	require.NoError(t, err)

	require.False(t, page.Truncated)
	require.Empty(t, page.NextMarker)

	keys := make([]string, 0, len(page.Entries))
	for _, entry := range page.Entries {
		keys = append(keys, entry.Key)
	}
	require.Equal(t, []string{
		"data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip",
		"data/BTCUSDT/BTCUSDT-1m-2024-01-01.zip.CHECKSUM",
		"data/BTCUSDT/BTCUSDT-1m-2024-01-02.zip",
	}, keys)
}

func TestDecoderParity(t *testing.T) {
	xmlBody := `<ListBucketResult><IsTruncated>false</IsTruncated>
		<Contents><Key>data/BTCUSDT/a.zip</Key></Contents>
		<Contents><Key>data/BTCUSDT/b.zip</Key></Contents></ListBucketResult>`
	htmlBody := `<html><body><pre>
		<a href="a.zip">a.zip</a>
		<a href="b.zip">b.zip</a>
		</pre></body></html>`

	xmlPage, err := (&xmlDecoder{}).Decode(strings.NewReader(xmlBody), "data/BTCUSDT/")
	require.NoError(t, err)

	htmlPage, err := (&htmlDecoder{}).Decode(strings.NewReader(htmlBody), "data/BTCUSDT/")
	require.NoError(t, err)

	require.Len(t, htmlPage.Entries, len(xmlPage.Entries))
	for i := range xmlPage.Entries {
		require.Equal(t, xmlPage.Entries[i].Key, htmlPage.Entries[i].Key)
	}
}

func TestNewDecoderUnknownFormat(t *testing.T) {
	_, err := NewDecoder("json")
	require.Error(t, err)
}

func TestClientListRequest(t *testing.T) {
	var gotQuery url.Values
	var gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		io.WriteString(w, `<ListBucketResult><IsTruncated>false</IsTruncated></ListBucketResult>`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, config.FormatXML).List(context.Background(), "data/BTCUSDT/", "data/BTCUSDT/x.zip")
	require.NoError(t, err)

	require.Equal(t, "data/BTCUSDT/", gotQuery.Get("prefix"))
	require.Equal(t, "1000", gotQuery.Get("max-keys"))
	require.Equal(t, "data/BTCUSDT/x.zip", gotQuery.Get("marker"))
	require.Equal(t, common.UserAgent, gotUA)
}

func TestClientMarkerFallback(t *testing.T) {
	testCases := []struct {
		name           string
		body           string
		expectedMarker string
		expectedErr    error
	}{
		{
			name: "explicit marker wins",
			body: `<ListBucketResult><IsTruncated>true</IsTruncated><NextMarker>explicit</NextMarker>
				<Contents><Key>a.zip</Key></Contents></ListBucketResult>`,
			expectedMarker: "explicit",
		},
		{
			name: "continues from last key",
			body: `<ListBucketResult><IsTruncated>true</IsTruncated>
				<Contents><Key>a.zip</Key></Contents><Contents><Key>b.zip</Key></Contents></ListBucketResult>`,
			expectedMarker: "b.zip",
		},
		{
			name:        "truncated page without entries",
			body:        `<ListBucketResult><IsTruncated>true</IsTruncated></ListBucketResult>`,
			expectedErr: common.ErrBadListing,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			page, err := newTestClient(t, srv, config.FormatXML).List(context.Background(), "", "")
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				require.False(t, common.Retryable(err))

				return
			}

			require.NoError(t, err)
			require.True(t, page.Truncated)
			require.Equal(t, tc.expectedMarker, page.NextMarker)
		})
	}
}

func TestClientStatusMapping(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "server error", status: http.StatusInternalServerError, retryable: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, retryable: true},
		{name: "throttled", status: http.StatusTooManyRequests, retryable: true},
		{name: "not found", status: http.StatusNotFound, retryable: false},
		{name: "forbidden", status: http.StatusForbidden, retryable: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, config.FormatXML).List(context.Background(), "", "")
			require.Error(t, err)
			require.Equal(t, tc.retryable, common.Retryable(err))

			if tc.retryable {
				var transientErr *common.TransientFetchError
				require.ErrorAs(t, err, &transientErr)
				require.Equal(t, tc.status, transientErr.StatusCode)
			} else {
				var permanentErr *common.PermanentFetchError
				require.ErrorAs(t, err, &permanentErr)
				require.Equal(t, tc.status, permanentErr.StatusCode)
			}
		})
	}
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := newTestClient(t, srv, config.FormatXML).List(context.Background(), "", "")

	var transientErr *common.TransientFetchError
	require.ErrorAs(t, err, &transientErr)
	require.True(t, common.Retryable(err))
}
