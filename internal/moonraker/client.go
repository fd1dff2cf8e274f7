package moonraker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/jsonc"

	"printfarm/core-go/internal/mdns"
)

const maxResponseBytes = 8 << 20

// Gateway performs one request against the printer reachable at address and
// returns the raw JSON body.
type Gateway interface {
	Do(ctx context.Context, address string, req Request) (json.RawMessage, error)
}

// HostResolver resolves hostnames the system resolver may not know about.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

type Options struct {
	Timeout  time.Duration
	Resolver HostResolver
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

type Client struct {
	log     zerolog.Logger
	http    *http.Client
	timeout time.Duration
}

func NewClient(log zerolog.Logger, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := opts.Transport
	if transport == nil {
		dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = dialContext(dialer, opts.Resolver)
		t.MaxIdleConnsPerHost = 4
		transport = t
	}

	return &Client{
		log:     log,
		http:    &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// BaseURL prefixes http:// when the stored address carries no scheme.
func BaseURL(address string) string {
	u := strings.TrimSpace(address)
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

func (c *Client) Do(ctx context.Context, address string, req Request) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := BaseURL(address) + req.Path
	if q := req.Encode(); q != "" {
		target += "?" + q
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	c.log.Trace().
		Str("method", method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("device request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Method: method, URL: target, StatusCode: resp.StatusCode}
	}
	if !validBody(body, req.Lenient) {
		return nil, &MalformedResponseError{What: "response body is not json"}
	}
	return body, nil
}

func validBody(body []byte, lenient bool) bool {
	if json.Valid(body) {
		return true
	}
	return lenient && json.Valid(jsonc.ToJSON(body))
}

// DecodeResult unwraps Moonraker's {"result": ...} envelope into dst.
func DecodeResult(raw []byte, dst any) error {
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return &MalformedResponseError{What: "envelope", Err: err}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return &MalformedResponseError{What: "missing result"}
	}
	if err := json.Unmarshal(env.Result, dst); err != nil {
		return &MalformedResponseError{What: "result", Err: err}
	}
	return nil
}

func dialContext(d *net.Dialer, r HostResolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil || r == nil || !mdns.IsLocalName(host) {
			return d.DialContext(ctx, network, addr)
		}

		addrs, err := r.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			// Fall back to the system resolver (nss-mdns, avahi).
			return d.DialContext(ctx, network, addr)
		}

		var lastErr error
		for _, a := range addrs {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(a.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no addresses")
		}
		return nil, lastErr
	}
}
