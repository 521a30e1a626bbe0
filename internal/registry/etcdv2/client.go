// Package etcdv2 reads a registrator tree through the etcd v2 keys API:
// a recursive GET for the full tree and a recursive long-poll GET with
// waitIndex for change notifications.
package etcdv2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrSnakeDoc/lbwatch/internal/registry"
	"github.com/MrSnakeDoc/lbwatch/internal/utils"
)

const (
	// IndexHeader carries the etcd index a response is consistent with.
	IndexHeader = "X-Etcd-Index"

	// errorCodeIndexCleared is returned when waitIndex is older than the
	// event history etcd keeps.
	errorCodeIndexCleared = 401

	maxErrorBody = 512
)

// Options tunes the HTTP side of the client.
type Options struct {
	// FetchTimeout bounds the full recursive read. The long poll is never
	// bounded. Zero means no timeout.
	FetchTimeout time.Duration

	// Transport overrides the base round tripper (tests).
	Transport http.RoundTripper
}

// Client implements registry.Client for one etcd endpoint and path.
type Client struct {
	keysURL      string // scheme://host/v2/keys/<path>
	address      string
	http         *http.Client
	fetchTimeout time.Duration
}

// New builds a client from a registry URL such as
// etcd://etcd.local:2379/services or http://127.0.0.1:2379/services.
func New(rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("registry url %q has no host", rawURL)
	}

	scheme := u.Scheme
	switch scheme {
	case "etcd", "":
		scheme = "http"
	case "http", "https":
	default:
		return nil, fmt.Errorf("registry url %q: unsupported scheme %q", rawURL, u.Scheme)
	}

	base := opts.Transport
	if base == nil {
		base = newTransport()
	}

	keysPath := "/" + strings.Trim(u.Path, "/")
	if keysPath == "/" {
		keysPath = ""
	}

	return &Client{
		keysURL:      scheme + "://" + u.Host + "/v2/keys" + keysPath,
		address:      u.String(),
		http:         &http.Client{Transport: otelhttp.NewTransport(base)},
		fetchTimeout: opts.FetchTimeout,
	}, nil
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Address returns the registry URL as configured.
func (c *Client) Address() string { return c.address }

// Close drops idle keep-alive connections. The client stays usable.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Fetch performs a recursive read of the watched path.
func (c *Client) Fetch(ctx context.Context) (*registry.Response, error) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	u := c.keysURL + "?" + url.Values{"recursive": {"true"}}.Encode()
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer utils.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(u, resp)
	}

	raw := resp.Header.Get(IndexHeader)
	index, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("GET %s: header %s=%q: %w", u, IndexHeader, raw, registry.ErrMissingIndex)
	}

	var payload struct {
		Node *registry.Node `json:"node"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("GET %s: decode body: %w", u, err)
	}
	if payload.Node == nil {
		return nil, fmt.Errorf("GET %s: response has no node", u)
	}

	return &registry.Response{Node: payload.Node, Index: index}, nil
}

// Wait long-polls the watched path for a change at or after index.
//
// When etcd no longer remembers index it answers at once with
// "event index cleared"; that is reported as a change so the caller
// refetches the whole tree right away.
func (c *Client) Wait(ctx context.Context, index uint64) error {
	u := c.keysURL + "?" + url.Values{
		"wait":      {"true"},
		"recursive": {"true"},
		"waitIndex": {strconv.FormatUint(index, 10)},
	}.Encode()

	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer utils.DrainAndClose(resp.Body)

	// etcd flushes the 200 header when the watch starts and writes the
	// event only once something changes.
	if resp.StatusCode == http.StatusOK {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return fmt.Errorf("GET %s: read watch event: %w", u, err)
		}
		return nil
	}

	serr := statusError(u, resp)
	var etcdErr struct {
		ErrorCode int `json:"errorCode"`
	}
	if json.Unmarshal([]byte(serr.Body), &etcdErr) == nil && etcdErr.ErrorCode == errorCodeIndexCleared {
		return nil
	}
	return serr
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	return resp, nil
}

func statusError(u string, resp *http.Response) *registry.StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &registry.StatusError{
		URL:        u,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
