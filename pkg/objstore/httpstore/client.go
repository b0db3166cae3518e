// Package httpstore speaks a minimal object protocol over HTTP:
//
//	PUT    {base}/{key}   body = object, Content-Type = object type
//	GET    {base}/{key}   404 when missing
//	DELETE {base}/{key}   succeeds when missing
//
// Requests carry "Authorization: Bearer <token>" when a token is set.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tqbf/sitesync/pkg/objstore"
	"github.com/tqbf/sitesync/pkg/paths"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) objectURL(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.BaseURL + "/" + strings.Join(segs, "/")
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return resp, nil
}

type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf(
			"api %d (%s): %s",
			e.StatusCode, e.Code, e.Message,
		)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, objstore.ErrNotFound) match a 404.
func (e *APIError) Is(target error) bool {
	return target == objstore.ErrNotFound &&
		e.StatusCode == http.StatusNotFound
}

func parseAPIError(status int, body []byte) error {
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return &APIError{
			StatusCode: status,
			Message:    parsed.Error,
			Code:       parsed.Code,
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}

func (c *Client) Get(
	ctx context.Context, key string,
) (*objstore.Object, error) {
	if err := paths.ValidateKey(key); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.objectURL(key), nil,
	)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = objstore.DefaultContentType
	}
	return &objstore.Object{Data: data, ContentType: ct}, nil
}

func (c *Client) Put(
	ctx context.Context,
	key string,
	data []byte,
	contentType string,
) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	if contentType == "" {
		contentType = objstore.DefaultContentType
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut, c.objectURL(key), bytes.NewReader(data),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := paths.ValidateKey(key); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodDelete, c.objectURL(key), nil,
	)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if errors.Is(err, objstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
