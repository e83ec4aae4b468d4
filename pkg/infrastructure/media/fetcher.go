// Package media downloads documents that are sent on behalf of API callers.
//
// Source URLs are operator-controlled, so any declared content type is
// accepted. Nothing is validated against an allow-list.
package media

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

const fallbackMimeType = "application/octet-stream"

// Fetcher downloads media over HTTP.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher creates a fetcher. A zero timeout leaves the download bounded
// only by the caller's context.
func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Fetcher{client: client}
}

// Fetch downloads sourceURL into memory.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (*channel.Media, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", sourceURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch media %s: %s", sourceURL, resp.Status())
	}

	body := resp.Body()
	return &channel.Media{
		Data:     body,
		MimeType: detectMimeType(resp.Header().Get("Content-Type"), sourceURL, body),
		FileName: path.Base(resp.RawResponse.Request.URL.Path),
	}, nil
}

// detectMimeType prefers the declared type, then the URL extension, then
// content sniffing.
func detectMimeType(declared, sourceURL string, body []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
		return strings.TrimSpace(strings.Split(declared, ";")[0])
	}
	if ext := path.Ext(strings.SplitN(sourceURL, "?", 2)[0]); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			if parsed, _, err := mime.ParseMediaType(mt); err == nil {
				return parsed
			}
		}
	}
	if len(body) > 0 {
		if mt, _, err := mime.ParseMediaType(http.DetectContentType(body)); err == nil {
			return mt
		}
	}
	return fallbackMimeType
}
