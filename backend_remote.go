package musepa

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/knakk/digest"
	"github.com/sirupsen/logrus"
)

// checkReachable performs the constructor-time GET reachability probe
// shared by both remote backend variants, grounded on get_endpoint()'s
// requests.get(base).status_code != requests.codes.ok check in the
// original implementation.
func checkReachable(client *http.Client, base string) error {
	resp, err := client.Get(base)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrBackendUnreachable, base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: status %s", ErrBackendUnreachable, base, resp.Status)
	}
	return nil
}

// remoteOption configures the HTTP client of a remote backend.
type remoteOption func(*http.Client)

// DigestAuth returns an option that configures a remote backend's HTTP
// client for digest authentication, mirroring the DigestAuth option
// function on the sparql.Repo type this is grounded on.
func DigestAuth(username, password string) remoteOption {
	return func(c *http.Client) {
		c.Transport = digest.NewTransport(username, password)
	}
}

func Timeout(d time.Duration) remoteOption {
	return func(c *http.Client) {
		c.Timeout = d
	}
}

// RemoteA reaches a single SPARQL 1.1 Protocol endpoint (the "Blazegraph"
// shape in the original implementation): query via GET ?query=, update via
// POST ?update= (format=sparql) or a raw body POST with a format-specific
// Content-Type (ttl/n3).
type RemoteA struct {
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

// NewRemoteA constructs a RemoteA backend and performs the constructor-time
// reachability check against endpoint; it returns ErrBackendUnreachable if
// that GET does not answer 200.
func NewRemoteA(endpoint string, log logrus.FieldLogger, opts ...remoteOption) (*RemoteA, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := &http.Client{}
	for _, opt := range opts {
		opt(client)
	}
	if err := checkReachable(client, endpoint); err != nil {
		return nil, err
	}
	return &RemoteA{endpoint: endpoint, client: client, log: log}, nil
}

func (r *RemoteA) Query(sparql string) ([]byte, bool) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		r.log.WithError(err).Error("remote-A: invalid endpoint")
		return nil, false
	}
	q := u.Query()
	q.Set("query", sparql)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		r.log.WithError(err).Error("remote-A: building query request")
		return nil, false
	}
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).Error("remote-A: query request failed")
		return nil, false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		r.log.WithField("status", resp.StatusCode).Error("remote-A: query returned non-200")
		return nil, false
	}
	return body, true
}

func (r *RemoteA) Update(content string, format string) ([]byte, bool) {
	var req *http.Request
	var err error
	switch format {
	case FormatSparql:
		// Blazegraph takes the update text as a query parameter, not a
		// request body: requests.post(uri, params={"update": content}) in
		// the original implementation.
		q := url.Values{}
		q.Set("update", content)
		req, err = http.NewRequest(http.MethodPost, r.endpoint+"?"+q.Encode(), nil)
	case FormatTurtle:
		req, err = http.NewRequest(http.MethodPost, r.endpoint, bytes.NewBufferString(content))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-turtle")
		}
	case FormatN3:
		req, err = http.NewRequest(http.MethodPost, r.endpoint, bytes.NewBufferString(content))
		if err == nil {
			req.Header.Set("Content-Type", "text/rdf+n3")
		}
	default:
		r.log.WithField("format", format).Error("remote-A: unknown format")
		return nil, false
	}
	if err != nil {
		r.log.WithError(err).Error("remote-A: building update request")
		return nil, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).Error("remote-A: update request failed")
		return nil, false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		r.log.WithField("status", resp.StatusCode).Error("remote-A: update returned non-200")
		return nil, false
	}
	return body, true
}

// RemoteB targets a dataset-style endpoint exposing <base>/query,
// <base>/update and <base>/data (the "Fuseki" shape in the original
// implementation).
type RemoteB struct {
	base   string
	client *http.Client
	log    logrus.FieldLogger
}

// NewRemoteB constructs a RemoteB backend. base is mandatory (there is no
// sensible default dataset URL) and is reachability-checked the same way
// as RemoteA.
func NewRemoteB(base string, log logrus.FieldLogger, opts ...remoteOption) (*RemoteB, error) {
	if base == "" {
		return nil, fmt.Errorf("%w: remote-B endpoint parameter is mandatory", ErrBackendUnreachable)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := &http.Client{}
	for _, opt := range opts {
		opt(client)
	}
	if err := checkReachable(client, base); err != nil {
		return nil, err
	}
	return &RemoteB{base: strings.TrimRight(base, "/"), client: client, log: log}, nil
}

func (r *RemoteB) Query(sparql string) ([]byte, bool) {
	req, err := http.NewRequest(http.MethodPost, r.base+"/query", strings.NewReader(sparql))
	if err != nil {
		r.log.WithError(err).Error("remote-B: building query request")
		return nil, false
	}
	req.Header.Set("Content-Type", "application/sparql-query")
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).Error("remote-B: query request failed")
		return nil, false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		r.log.WithField("status", resp.StatusCode).Error("remote-B: query returned non-200")
		return nil, false
	}
	return body, true
}

func (r *RemoteB) Update(content string, format string) ([]byte, bool) {
	var path, contentType string
	switch format {
	case FormatSparql:
		path, contentType = "/update", "application/sparql-update"
	case FormatTurtle, FormatN3:
		path, contentType = "/data", "text/n3; charset=utf-8"
	default:
		r.log.WithField("format", format).Error("remote-B: unknown format")
		return nil, false
	}

	req, err := http.NewRequest(http.MethodPost, r.base+path, strings.NewReader(content))
	if err != nil {
		r.log.WithError(err).Error("remote-B: building update request")
		return nil, false
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).Error("remote-B: update request failed")
		return nil, false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.log.WithField("status", resp.StatusCode).Error("remote-B: update returned non-2xx")
		return nil, false
	}
	return body, true
}
