package cas

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// Registry addresses one repository of an OCI registry such as Zot.
type Registry struct {
	BaseURL  string
	Repo     string
	Username string
	Password string
	Client   *http.Client
}

func (r Registry) repo() string {
	repo := strings.Trim(r.Repo, "/")
	if repo == "" {
		repo = "crossbuild"
	}
	return repo
}

func (r Registry) base() string { return strings.TrimRight(r.BaseURL, "/") }

func (r Registry) blobURL(digest string) string {
	return fmt.Sprintf("%s/v2/%s/blobs/%s", r.base(), r.repo(), digest)
}

func (r Registry) client(timeout time.Duration) *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return &http.Client{Timeout: timeout}
}

func (r Registry) auth(req *http.Request) {
	if r.Username != "" || r.Password != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}
}

// ZotStore checks a registry for blobs with HEAD /v2/<repo>/blobs/<digest>.
type ZotStore struct {
	Registry
}

// Has reports whether the blob exists in the configured repo.
func (z ZotStore) Has(ctx context.Context, id artifact.ID) (bool, error) {
	if z.BaseURL == "" || id.Digest == "" {
		return false, nil
	}
	url := z.blobURL(id.Digest)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	z.auth(req)
	resp, err := z.client(10 * time.Second).Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("registry unexpected status %d for %s", resp.StatusCode, url)
	}
}
