package lnaddr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client resolves Lightning addresses and fetches invoices from LNURL-pay
// callbacks. All calls are bounded by the configured timeouts; the client
// never retries on its own.
type Client struct {
	http            *http.Client
	resolveTimeout  time.Duration
	callbackTimeout time.Duration
}

func NewClient(resolveTimeout, callbackTimeout time.Duration) *Client {
	if resolveTimeout <= 0 {
		resolveTimeout = 5 * time.Second
	}
	if callbackTimeout <= 0 {
		callbackTimeout = 10 * time.Second
	}
	return &Client{
		http:            &http.Client{},
		resolveTimeout:  resolveTimeout,
		callbackTimeout: callbackTimeout,
	}
}

// PayParams is the resolved LNURL-pay endpoint for a Lightning address.
type PayParams struct {
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	Metadata       string `json:"metadata,omitempty"`
	Tag            string `json:"tag"`
	CommentAllowed int    `json:"commentAllowed,omitempty"`
	AllowsNostr    bool   `json:"allowsNostr,omitempty"`
	NostrPubkey    string `json:"nostrPubkey,omitempty"`
}

// SupportsZaps reports whether the destination can issue NIP-57 zap receipts.
func (p *PayParams) SupportsZaps() bool {
	return p.AllowsNostr && p.NostrPubkey != ""
}

// Identity is a NIP-05 resolution result.
type Identity struct {
	Pubkey string   `json:"pubkey"`
	Relays []string `json:"relays,omitempty"`
}

// Invoice is the payment artifact returned by an LNURL-pay callback.
type Invoice struct {
	PR     string        `json:"pr"`
	Routes []interface{} `json:"routes"`
}

type lnurlPayResponse struct {
	Tag            string `json:"tag"`
	Callback       string `json:"callback"`
	MinSendable    *int64 `json:"minSendable"`
	MaxSendable    *int64 `json:"maxSendable"`
	Metadata       string `json:"metadata"`
	CommentAllowed int    `json:"commentAllowed"`
	AllowsNostr    bool   `json:"allowsNostr"`
	NostrPubkey    string `json:"nostrPubkey"`
}

type nostrJSON struct {
	Names  map[string]string   `json:"names"`
	Relays map[string][]string `json:"relays"`
}

// ResolveLNURL looks up https://domain/.well-known/lnurlp/name and validates
// the LNURL-pay response.
func (c *Client) ResolveLNURL(ctx context.Context, address string) (*PayParams, error) {
	name, domain, err := SplitAddress(address)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, url.PathEscape(name))
	var out lnurlPayResponse
	if err := c.getJSON(ctx, endpoint, c.resolveTimeout, domain, &out); err != nil {
		return nil, err
	}

	if out.Tag != "payRequest" {
		return nil, badRequest(CodeNotLnurlPay, "address does not support LNURL-pay")
	}
	if out.Callback == "" || out.MinSendable == nil || out.MaxSendable == nil {
		return nil, upstream(CodeInvalidResponse, "invalid LNURL-pay response")
	}

	return &PayParams{
		Callback:       out.Callback,
		MinSendable:    *out.MinSendable,
		MaxSendable:    *out.MaxSendable,
		Metadata:       out.Metadata,
		Tag:            out.Tag,
		CommentAllowed: out.CommentAllowed,
		AllowsNostr:    out.AllowsNostr,
		NostrPubkey:    out.NostrPubkey,
	}, nil
}

// ResolveNIP05 looks up https://domain/.well-known/nostr.json?name= and
// returns the pubkey (and its advertised relays, if any) for name.
func (c *Client) ResolveNIP05(ctx context.Context, address string) (*Identity, error) {
	name, domain, err := SplitAddress(address)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, url.QueryEscape(name))
	var out nostrJSON
	if err := c.getJSON(ctx, endpoint, c.resolveTimeout, domain, &out); err != nil {
		return nil, err
	}

	if out.Names == nil {
		return nil, upstream(CodeInvalidResponse, "invalid nostr.json format")
	}
	pubkey, ok := out.Names[name]
	if !ok || pubkey == "" {
		return nil, newErr(CodeNotFound, http.StatusNotFound, "name %q not found at %s", name, domain)
	}

	return &Identity{Pubkey: pubkey, Relays: out.Relays[pubkey]}, nil
}

// FetchInvoice calls the LNURL-pay callback with amount (millisatoshis) and
// the optional nostr/lnurl params and returns the bolt11 invoice. The
// returned invoice carries exactly the requested amount or the upstream
// rejects it; no conversion happens here.
func (c *Client) FetchInvoice(ctx context.Context, callback string, amountMsat int64, nostrParam, lnurlParam string) (*Invoice, error) {
	if callback == "" {
		return nil, badRequest(CodeMissingCallback, "missing or invalid callback URL")
	}
	cbURL, err := url.Parse(callback)
	if err != nil || (cbURL.Scheme != "https" && cbURL.Scheme != "http") {
		return nil, badRequest(CodeInvalidCallback, "invalid callback URL format")
	}
	if amountMsat <= 0 {
		return nil, badRequest(CodeInvalidAmount, "amount must be a positive integer (millisatoshis)")
	}

	q := cbURL.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	if nostrParam != "" {
		q.Set("nostr", nostrParam)
	}
	if lnurlParam != "" {
		q.Set("lnurl", lnurlParam)
	}
	cbURL.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, c.callbackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cbURL.String(), nil)
	if err != nil {
		return nil, badRequest(CodeInvalidCallback, "invalid callback URL format")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, upstream(CodeUnreachable, "could not fetch invoice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstream(CodeUpstreamError, "callback returned %d", resp.StatusCode)
	}

	var raw struct {
		Status string        `json:"status"`
		Reason string        `json:"reason"`
		PR     string        `json:"pr"`
		Routes []interface{} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, upstream(CodeInvalidResponse, "malformed callback response")
	}

	if raw.Status == "ERROR" {
		reason := raw.Reason
		if reason == "" {
			reason = "upstream error"
		}
		return nil, badRequest(CodeLnurlError, "%s", reason)
	}
	if raw.PR == "" {
		return nil, upstream(CodeInvalidResponse, "no invoice returned from callback")
	}

	routes := raw.Routes
	if routes == nil {
		routes = []interface{}{}
	}
	return &Invoice{PR: raw.PR, Routes: routes}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, timeout time.Duration, domain string, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return badRequest(CodeInvalidFormat, "invalid address")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return upstream(CodeUnreachable, "could not reach %s: %v", domain, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstream(CodeUpstreamError, "upstream returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstream(CodeInvalidResponse, "malformed upstream response")
	}
	return nil
}
