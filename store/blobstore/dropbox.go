// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	defaultDropboxContentURL = "https://content.dropboxapi.com/2"
	defaultDropboxAPIURL     = "https://api.dropboxapi.com/2"
)

// DropboxEndpoints returns the OAuth2 endpoint set for Dropbox.
func DropboxEndpoints() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  "https://www.dropbox.com/oauth2/authorize",
		TokenURL: "https://api.dropboxapi.com/oauth2/token",
	}
}

// TokenStore persists refreshed OAuth tokens. The keystore implements this;
// this backend is the only place refresh logic lives.
type TokenStore interface {
	StoreToken(provider string, tok *oauth2.Token) error
}

// DropboxBlobstore stores blobs as files in a Dropbox app folder. Access
// tokens expire; on 401 the token is refreshed once using the refresh token
// and the call retried, with the new token written back to the TokenStore.
type DropboxBlobstore struct {
	httpClient *http.Client
	conf       *oauth2.Config
	folder     string
	contentURL string
	apiURL     string

	mu     sync.Mutex
	token  *oauth2.Token
	tokens TokenStore
}

var _ Blobstore = (*DropboxBlobstore)(nil)

// NewDropboxBlobstore creates a DropboxBlobstore rooted at folder.
func NewDropboxBlobstore(conf *oauth2.Config, token *oauth2.Token, tokens TokenStore, folder string) *DropboxBlobstore {
	return &DropboxBlobstore{
		httpClient: http.DefaultClient,
		conf:       conf,
		folder:     "/" + strings.Trim(folder, "/"),
		contentURL: defaultDropboxContentURL,
		apiURL:     defaultDropboxAPIURL,
		token:      token,
		tokens:     tokens,
	}
}

// Path returns the Dropbox folder path.
func (bs *DropboxBlobstore) Path() string {
	return bs.folder
}

func (bs *DropboxBlobstore) fullPath(key string) string {
	return bs.folder + "/" + strings.TrimPrefix(key, "/")
}

func (bs *DropboxBlobstore) accessToken() string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.token.AccessToken
}

// refreshToken exchanges the refresh token for a new access token and
// persists it. Called at most once per failed request.
func (bs *DropboxBlobstore) refreshToken(ctx context.Context) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	stale := *bs.token
	stale.Expiry = oauth2Expired()
	tok, err := bs.conf.TokenSource(ctx, &stale).Token()
	if err != nil {
		return fmt.Errorf("dropbox token refresh failed: %w", err)
	}

	bs.token = tok
	if bs.tokens != nil {
		if err := bs.tokens.StoreToken("dropbox", tok); err != nil {
			return err
		}
	}
	return nil
}

// do issues a request, refreshing the access token and retrying once on 401.
func (bs *DropboxBlobstore) do(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	req, err := build(bs.accessToken())
	if err != nil {
		return nil, err
	}
	resp, err := bs.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err = bs.refreshToken(ctx); err != nil {
			return nil, err
		}
		req, err = build(bs.accessToken())
		if err != nil {
			return nil, err
		}
		resp, err = bs.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Exists checks file metadata for the given key.
func (bs *DropboxBlobstore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := bs.rpc(ctx, bs.apiURL+"/files/get_metadata",
		map[string]any{"path": bs.fullPath(key)})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	if isDropboxNotFound(resp) {
		return false, nil
	}
	return false, dropboxStatusError("get_metadata", resp)
}

// Get downloads the portion of a file specified by br. Dropbox honors HTTP
// Range headers on the download endpoint. A negative offset is sent as a
// suffix range, so br's length is not applied to it.
func (bs *DropboxBlobstore) Get(ctx context.Context, key string, br BlobRange) (io.ReadCloser, string, error) {
	arg, err := json.Marshal(map[string]any{"path": bs.fullPath(key)})
	if err != nil {
		return nil, "", err
	}

	resp, err := bs.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, bs.contentURL+"/files/download", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Dropbox-API-Arg", string(arg))
		if !br.isAllRange() {
			req.Header.Set("Range", httpRange(br))
		}
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}

	if isDropboxNotFound(resp) {
		resp.Body.Close()
		return nil, "", NotFound{Key: key}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, "", dropboxStatusError("download", resp)
	}

	var meta struct {
		Rev string `json:"rev"`
	}
	if raw := resp.Header.Get("Dropbox-API-Result"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	return resp.Body, meta.Rev, nil
}

// Put uploads a file, overwriting any existing revision.
func (bs *DropboxBlobstore) Put(ctx context.Context, key string, totalSize int64, reader io.Reader) (string, error) {
	return bs.upload(ctx, key, reader, map[string]any{".tag": "overwrite"})
}

// CheckAndPut uploads in update mode so the write only lands if the file's
// current revision matches.
func (bs *DropboxBlobstore) CheckAndPut(ctx context.Context, expectedVersion, key string, totalSize int64, reader io.Reader) (string, error) {
	mode := map[string]any{".tag": "add"}
	if expectedVersion != "" {
		mode = map[string]any{".tag": "update", "update": expectedVersion}
	}

	rev, err := bs.upload(ctx, key, reader, mode)
	if err != nil {
		if strings.Contains(err.Error(), "conflict") {
			return "", CheckAndPutError{Key: key, ExpectedVersion: expectedVersion}
		}
		return "", err
	}
	return rev, nil
}

func (bs *DropboxBlobstore) upload(ctx context.Context, key string, reader io.Reader, mode map[string]any) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	arg, err := json.Marshal(map[string]any{
		"path": bs.fullPath(key),
		"mode": mode,
		"mute": true,
	})
	if err != nil {
		return "", err
	}

	resp, err := bs.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, bs.contentURL+"/files/upload", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Dropbox-API-Arg", string(arg))
		req.Header.Set("Content-Type", "application/octet-stream")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", dropboxStatusError("upload", resp)
	}

	var meta struct {
		Rev string `json:"rev"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", err
	}
	return meta.Rev, nil
}

// Delete removes a file. Missing files are ignored.
func (bs *DropboxBlobstore) Delete(ctx context.Context, key string) error {
	resp, err := bs.rpc(ctx, bs.apiURL+"/files/delete_v2",
		map[string]any{"path": bs.fullPath(key)})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || isDropboxNotFound(resp) {
		return nil
	}
	return dropboxStatusError("delete", resp)
}

// List enumerates files under the folder recursively and filters by prefix.
func (bs *DropboxBlobstore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	type entry struct {
		Tag  string `json:".tag"`
		Path string `json:"path_display"`
	}
	var page struct {
		Entries []entry `json:"entries"`
		Cursor  string  `json:"cursor"`
		HasMore bool    `json:"has_more"`
	}

	resp, err := bs.rpc(ctx, bs.apiURL+"/files/list_folder",
		map[string]any{"path": bs.folder, "recursive": true})
	for {
		if err != nil {
			return nil, err
		}
		if isDropboxNotFound(resp) {
			resp.Body.Close()
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, dropboxStatusError("list_folder", resp)
		}

		page.Entries = page.Entries[:0]
		if err = json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body.Close()

		for _, e := range page.Entries {
			if e.Tag != "file" {
				continue
			}
			key := strings.TrimPrefix(e.Path, bs.folder+"/")
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}

		if !page.HasMore {
			return keys, nil
		}
		resp, err = bs.rpc(ctx, bs.apiURL+"/files/list_folder/continue",
			map[string]any{"cursor": page.Cursor})
	}
}

func (bs *DropboxBlobstore) rpc(ctx context.Context, url string, args map[string]any) (*http.Response, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return bs.do(ctx, func(token string) (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// isDropboxNotFound reports whether a response is a path/not_found error.
// Dropbox signals missing paths as 409 with an error summary in the body, so
// this consumes the body of conflict responses.
func isDropboxNotFound(resp *http.Response) bool {
	if resp.StatusCode != http.StatusConflict {
		return false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.Contains(string(body), "not_found")
}

func dropboxStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("dropbox %s failed: %s: %s", op, resp.Status, string(body))
}

// oauth2Expired returns a time far enough in the past that the oauth2
// TokenSource always refreshes.
func oauth2Expired() time.Time {
	return time.Unix(1, 0)
}
