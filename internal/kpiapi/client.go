// Package kpiapi reads the platform KPIs reported by the running admin API so
// locally recomputed numbers can be checked against them.
package kpiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/report"
)

const (
	kpiEndpoint    = "/api/super-admin/kpis"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

var ErrUnauthorized = errors.New("kpi api rejected the service key")

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Snapshot holds the numeric leaves of a KPI response under dotted keys.
type Snapshot map[string]float64

// Fetch loads the KPIs for one period. A "data" envelope is unwrapped.
func (c *Client) Fetch(ctx context.Context, period domain.Period) (Snapshot, error) {
	endpoint := kpiEndpoint + "?period=" + url.QueryEscape(string(period))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kpi api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading kpi api response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w (HTTP %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("kpi api: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding kpi api response: %w", err)
	}
	if data, ok := payload["data"].(map[string]any); ok {
		payload = data
	}
	return Numeric(payload)
}

// Numeric flattens v and keeps only the numeric leaves.
func Numeric(v any) (Snapshot, error) {
	flat, err := report.Flatten(v)
	if err != nil {
		return nil, err
	}
	out := Snapshot{}
	for key, value := range flat {
		if n, ok := value.(float64); ok {
			out[key] = n
		}
	}
	return out, nil
}

// Diff is one compared KPI. Missing names the side that lacks the key.
type Diff struct {
	Key     string
	Local   float64
	Remote  float64
	Delta   float64
	Within  bool
	Missing string
}

// Compare lines up both snapshots by key. Values agree when they differ by
// at most tolerance, relative to the remote value, or by less than a cent.
func Compare(local, remote Snapshot, tolerance float64) []Diff {
	keys := map[string]struct{}{}
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	out := make([]Diff, 0, len(keys))
	for key := range keys {
		l, hasLocal := local[key]
		r, hasRemote := remote[key]
		d := Diff{Key: key, Local: l, Remote: r, Delta: l - r}
		switch {
		case !hasLocal:
			d.Missing = "local"
		case !hasRemote:
			d.Missing = "remote"
		default:
			d.Within = math.Abs(d.Delta) < 0.01 || math.Abs(d.Delta) <= math.Abs(r)*tolerance
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
