// Package cpclient talks to a running bridge's control plane.
package cpclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imroc/req/v3"

	"github.com/vobby/vobby/internal/controlplane"
	"github.com/vobby/vobby/internal/version"
)

var ErrNoBaseURL = errors.New("cpclient: control plane url missing")

// APIError is the {code, error} body the control plane answers failures with.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane: %s - %s", e.Code, e.Message)
}

type Client struct {
	http *req.Client
}

func New(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	c := req.C().
		SetBaseURL(baseURL).
		SetTimeout(5*time.Second).
		SetUserAgent(version.UserAgent()).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	if token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return &Client{http: c}, nil
}

func (c *Client) Status(ctx context.Context) (*controlplane.StatusResponse, error) {
	var out controlplane.StatusResponse
	resp, err := c.http.R().SetContext(ctx).SetSuccessResult(&out).Get("/v1/status")
	return &out, check(resp, err, "status")
}

func (c *Client) Tree(ctx context.Context) (*controlplane.TreeResponse, error) {
	var out controlplane.TreeResponse
	resp, err := c.http.R().SetContext(ctx).SetSuccessResult(&out).Get("/v1/tree")
	return &out, check(resp, err, "tree")
}

// TreeText returns the indented listing of the server's tree.
func (c *Client) TreeText(ctx context.Context) (string, error) {
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("format", "text").Get("/v1/tree")
	if err := check(resp, err, "tree"); err != nil {
		return "", err
	}
	return resp.String(), nil
}

func (c *Client) Documents(ctx context.Context) (*controlplane.DocumentsResponse, error) {
	var out controlplane.DocumentsResponse
	resp, err := c.http.R().SetContext(ctx).SetSuccessResult(&out).Get("/v1/documents")
	return &out, check(resp, err, "documents")
}

func (c *Client) Identities(ctx context.Context) (*controlplane.IdentitiesResponse, error) {
	var out controlplane.IdentitiesResponse
	resp, err := c.http.R().SetContext(ctx).SetSuccessResult(&out).Get("/v1/identities")
	return &out, check(resp, err, "identities")
}

// CreateNode asks the server to add a file or, with dir set, a directory.
func (c *Client) CreateNode(ctx context.Context, path string, dir bool) error {
	kind := "file"
	if dir {
		kind = "dir"
	}
	resp, err := c.http.R().SetContext(ctx).
		SetBody(&controlplane.CreateNodeRequest{Path: path, Kind: kind}).
		Post("/v1/nodes")
	return check(resp, err, "create node")
}

func (c *Client) RemoveNode(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("path", path).Delete("/v1/nodes")
	return check(resp, err, "remove node")
}

func (c *Client) Explore(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(&controlplane.ExploreRequest{Path: path}).
		Post("/v1/explore")
	return check(resp, err, "explore")
}

func check(resp *req.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = resp.StatusCode
			return fmt.Errorf("%s: %w", op, apiErr)
		}
		return fmt.Errorf("%s: unexpected status %s", op, resp.Status)
	}
	return nil
}
