package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

const defaultMaxImageBytes = 20 << 20

// Image is a downloaded image with its detected MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// ImageFetcher downloads patient-supplied images for the vision provider.
type ImageFetcher struct {
	httpClient *resty.Client
	maxBytes   int64
}

func NewImageFetcher(timeout time.Duration, maxBytes int64) *ImageFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	return &ImageFetcher{
		httpClient: resty.New().
			SetHeader("User-Agent", "patient-portal/1.0").
			SetTimeout(timeout),
		maxBytes: maxBytes,
	}
}

// Fetch downloads the image at url. At most maxBytes+1 bytes are read from
// the body, so an oversized or endless response fails without being buffered.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("image fetch failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return nil, &statusError{code: resp.StatusCode(), msg: "image fetch error for " + url}
	}
	if resp.RawResponse.ContentLength > f.maxBytes {
		return nil, permanentf("image at %s exceeds %d bytes", url, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image at %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, permanentf("image at %s is empty", url)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, permanentf("image at %s exceeds %d bytes", url, f.maxBytes)
	}

	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, permanentf("content at %s is %s, not an image", url, mimeType)
	}
	return &Image{MIMEType: mimeType, Data: data}, nil
}
