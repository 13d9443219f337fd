package scorpio

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/monogit/monogit/config"
)

// RemoteStore reads trees and blobs for one monorepo path over HTTP against
// a protocol.Server's /file/tree, /file/blob and /file/ref endpoints. This
// is the transport boundary the architecture requires between the FUSE
// mount process and the git server: Dictionary and FileNode read through a
// RemoteStore instead of sharing an in-process object/ref store, the way a
// real Scorpio mount can run on a different machine than the repo it's
// mounting.
type RemoteStore struct {
	baseURL    string
	repoPath   string
	httpClient *http.Client
	maxRetries int
}

// NewRemoteStore builds a RemoteStore against baseURL (e.g.
// "http://localhost:9004") for repoPath, honoring cfg's fetch timeout and
// retry budget.
func NewRemoteStore(baseURL, repoPath string, cfg config.ScorpioConfig) *RemoteStore {
	timeout := time.Duration(cfg.FetchTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.FetchMaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &RemoteStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		repoPath:   repoPath,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
	}
}

func (r *RemoteStore) get(endpoint string, query url.Values) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("repo", r.repoPath)
	reqURL := fmt.Sprintf("%s/file/%s?%s", r.baseURL, endpoint, query.Encode())

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		body, status, err := r.doGet(reqURL)
		if err != nil {
			lastErr = err
			continue
		}
		if status == http.StatusNotFound {
			return nil, errors.Errorf("scorpio: %s not found: %s", endpoint, strings.TrimSpace(string(body)))
		}
		if status != http.StatusOK {
			lastErr = errors.Errorf("scorpio: %s request failed: %d: %s", endpoint, status, strings.TrimSpace(string(body)))
			continue
		}
		return body, nil
	}
	return nil, errors.Wrap(lastErr, "scorpio: git server request failed")
}

func (r *RemoteStore) doGet(reqURL string) ([]byte, int, error) {
	resp, err := r.httpClient.Get(reqURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// Tree fetches the tree object at hash, decoded from the server's
// pack.TreeEntry JSON rows into scorpio's own TreeEntry type.
func (r *RemoteStore) Tree(hash string) ([]TreeEntry, error) {
	body, err := r.get("tree", url.Values{"hash": {hash}})
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "scorpio: failed to decode tree response")
	}
	return entries, nil
}

// Blob fetches the raw content of the blob at hash.
func (r *RemoteStore) Blob(hash string) ([]byte, error) {
	return r.get("blob", url.Values{"hash": {hash}})
}

// Ref fetches the current (commit, tree) pair for refName.
func (r *RemoteStore) Ref(refName string) (commit, tree string, err error) {
	body, err := r.get("ref", url.Values{"ref": {refName}})
	if err != nil {
		return "", "", err
	}
	var out struct {
		Commit string `json:"commit"`
		Tree   string `json:"tree"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", "", errors.Wrap(err, "scorpio: failed to decode ref response")
	}
	return out.Commit, out.Tree, nil
}

var _ treeReader = (*RemoteStore)(nil)
