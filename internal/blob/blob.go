package blob

import (
	"context"
)

// Object describes a stored blob. Pathname is the store-internal key; URL is
// where a client can fetch it.
type Object struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Store is the narrow upload/fetch interface the coordinator speaks. The
// backend behind it (local disk, cloud bucket) is a deployment choice.
type Store interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (*Object, error)
	Open(ctx context.Context, pathname string) ([]byte, error)
}
