package votesim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	headerNextPointer = "X-Next-Pointer"
	maxSubmitTries    = 4
	pageSize          = 200
)

// Outcome classifies the response to one vote submission.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeRejected
	OutcomeFailed
)

// errRetryable marks responses worth another attempt.
var errRetryable = errors.New("retryable response")

// Client talks to the versus HTTP API.
type Client struct {
	http        *http.Client
	baseURL     string
	voterHeader string
}

// NewClient creates a client for baseURL.
func NewClient(baseURL, voterHeader string, timeout time.Duration) *Client {
	if voterHeader == "" {
		voterHeader = "X-Voter-Id"
	}
	return &Client{
		http:        &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		voterHeader: voterHeader,
	}
}

// Health returns nil when the service reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// Submit posts one vote, retrying transport errors and 5xx responses.
func (c *Client) Submit(ctx context.Context, v Vote) (Outcome, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return OutcomeFailed, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (Outcome, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/votes", bytes.NewReader(body))
		if err != nil {
			return OutcomeFailed, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(c.voterHeader, v.VoterID)

		resp, err := c.http.Do(req)
		if err != nil {
			return OutcomeFailed, err
		}
		defer drain(resp)

		switch {
		case resp.StatusCode == http.StatusOK:
			return OutcomeAccepted, nil
		case resp.StatusCode == http.StatusConflict:
			return OutcomeDuplicate, nil
		case resp.StatusCode >= http.StatusInternalServerError:
			return OutcomeFailed, fmt.Errorf("%w: status %d", errRetryable, resp.StatusCode)
		default:
			return OutcomeRejected, nil
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxSubmitTries))
}

// Standings walks every leaderboard page of a collection, best first.
func (c *Client) Standings(ctx context.Context, collection string) ([]Entry, int, error) {
	var (
		all     []Entry
		pages   int
		pointer string
	)
	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		if pointer != "" {
			q.Set("pointer", pointer)
		}
		u := c.baseURL + "/collections/" + url.PathEscape(collection) + "/standings?" + q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, pages, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, pages, fmt.Errorf("fetch standings: %w", err)
		}

		var page []Entry
		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return nil, pages, fmt.Errorf("fetch standings: status %d", resp.StatusCode)
		}
		err = json.NewDecoder(resp.Body).Decode(&page)
		next := resp.Header.Get(headerNextPointer)
		drain(resp)
		if err != nil {
			return nil, pages, fmt.Errorf("decode standings: %w", err)
		}

		pages++
		all = append(all, page...)
		if next == "" {
			return all, pages, nil
		}
		pointer = next
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
