package cas

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// Pusher uploads blobs with the two-step POST then PUT upload flow.
type Pusher struct {
	Registry
}

// Push uploads content and returns the blob URL.
func (p Pusher) Push(ctx context.Context, id artifact.ID, content []byte, mediaType string) (string, error) {
	if p.BaseURL == "" || id.Digest == "" {
		return "", fmt.Errorf("missing base URL or digest")
	}
	initURL := fmt.Sprintf("%s/v2/%s/blobs/uploads/", p.base(), p.repo())
	initReq, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, nil)
	if err != nil {
		return "", err
	}
	p.auth(initReq)
	cli := p.client(5 * time.Minute)
	initResp, err := cli.Do(initReq)
	if err != nil {
		return "", err
	}
	initResp.Body.Close()
	if initResp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("init upload status %d", initResp.StatusCode)
	}
	loc := initResp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("upload location missing")
	}
	putURL, err := uploadURL(p.base(), loc, id.Digest)
	if err != nil {
		return "", err
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	putReq.ContentLength = int64(len(content))
	putReq.Header.Set("Content-Type", "application/octet-stream")
	if mediaType != "" {
		putReq.Header.Set("Content-Type", mediaType)
	}
	p.auth(putReq)
	putResp, err := cli.Do(putReq)
	if err != nil {
		return "", err
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("push status %d", putResp.StatusCode)
	}
	return p.blobURL(id.Digest), nil
}

// uploadURL resolves the Location header and appends the digest query.
func uploadURL(base, loc, digest string) (string, error) {
	if strings.HasPrefix(loc, "/") {
		loc = base + loc
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("upload location %q: %w", loc, err)
	}
	q := u.Query()
	q.Set("digest", digest)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
