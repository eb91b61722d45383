package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"openlegalrag/internal/pkg/logger"
)

const moduleCourtListener = "search.courtlistener"

const TargetCourtListener = "courtlistener"

// Targets lists the search backends accepted by /api/search.
var Targets = []string{TargetCourtListener}

var ErrUnknownTarget = errors.New("unknown search target")

// Result is one opinion returned by a search, with its full text.
type Result struct {
	RefTag      int    `json:"ref_tag"`
	ID          string `json:"id"`
	CaseName    string `json:"case_name"`
	Court       string `json:"court"`
	AbsoluteURL string `json:"absolute_url"`
	Status      string `json:"status"`
	DateFiled   string `json:"date_filed"`
	Text        string `json:"text"`
	PromptText  string `json:"prompt_text"`
	UIText      string `json:"ui_text"`
	UIURL       string `json:"ui_url"`
}

type CourtListenerConfig struct {
	APIURL     string
	BaseURL    string
	APIToken   string
	MaxResults int
}

type CourtListener struct {
	httpClient *http.Client
	cfg        CourtListenerConfig
	logger     logger.ILogger
}

func NewCourtListener(cfg CourtListenerConfig, log logger.ILogger) *CourtListener {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 4
	}
	if !strings.HasSuffix(cfg.APIURL, "/") {
		cfg.APIURL += "/"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &CourtListener{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cfg:        cfg,
		logger:     log,
	}
}

var (
	filedAfterPattern  = regexp.MustCompile(`dateFiled:\[([0-9]{4}-[0-9]{2}-[0-9]{2}) TO`)
	filedBeforePattern = regexp.MustCompile(`dateFiled:\[[0-9]{4}-[0-9]{2}-[0-9]{2} TO ([0-9]{4}-[0-9]{2}-[0-9]{2})\]`)
)

// ExtractDateRange pulls "dateFiled:[A TO B]" bounds out of a search statement
// as "YYYY/MM/DD". Both are empty unless the full range is present.
func ExtractDateRange(statement string) (after, before string) {
	a := filedAfterPattern.FindStringSubmatch(statement)
	b := filedBeforePattern.FindStringSubmatch(statement)
	if a == nil || b == nil {
		return "", ""
	}
	return strings.ReplaceAll(a[1], "-", "/"), strings.ReplaceAll(b[1], "-", "/")
}

type searchHit struct {
	ID          json.RawMessage `json:"id"`
	CaseName    string          `json:"caseName"`
	Court       string          `json:"court"`
	AbsoluteURL string          `json:"absolute_url"`
	Status      string          `json:"status"`
	DateFiled   string          `json:"dateFiled"`
	Opinions    []struct {
		ID json.RawMessage `json:"id"`
	} `json:"opinions"`
}

// opinionID prefers the nested opinion id returned by the v4 API.
func (h searchHit) opinionID() string {
	for _, o := range h.Opinions {
		if id := rawID(o.ID); id != "" {
			return id
		}
	}
	return rawID(h.ID)
}

func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

// Search runs statement against the search API and fetches the text of the
// first MaxResults opinions. Opinions whose text cannot be fetched are left out.
func (c *CourtListener) Search(ctx context.Context, statement string) ([]Result, error) {
	params := url.Values{}
	params.Set("type", "o")
	params.Set("order_by", "score desc")
	params.Set("q", statement)
	if after, before := ExtractDateRange(statement); after != "" {
		params.Set("filed_after", after)
		params.Set("filed_before", before)
	}

	var page struct {
		Results []searchHit `json:"results"`
	}
	if err := c.getJSON(ctx, "search/", params, &page); err != nil {
		return nil, fmt.Errorf("courtlistener search failed: %w", err)
	}

	results := make([]Result, 0, c.cfg.MaxResults)
	for _, hit := range page.Results {
		if len(results) >= c.cfg.MaxResults {
			break
		}
		id := hit.opinionID()
		text, err := c.opinionText(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn(moduleCourtListener, "fetch opinion text failed, result skipped", map[string]interface{}{
				"opinion_id": id,
				"error":      err,
			})
			continue
		}

		r := Result{
			ID:          id,
			CaseName:    hit.CaseName,
			Court:       hit.Court,
			AbsoluteURL: c.cfg.BaseURL + hit.AbsoluteURL,
			Status:      hit.Status,
			DateFiled:   hit.DateFiled,
			Text:        text,
		}
		n := len(results) + 1
		r.RefTag = n
		year := yearOf(r.DateFiled)
		r.PromptText = fmt.Sprintf("[%d] %s (%s) %s, as sourced from %s:", n, r.CaseName, year, r.Court, r.AbsoluteURL)
		r.UIText = fmt.Sprintf("[%d] %s (%s), %s", n, r.CaseName, year, r.Court)
		r.UIURL = r.AbsoluteURL
		results = append(results, r)
	}
	return results, nil
}

func (c *CourtListener) opinionText(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("search hit has no opinion id")
	}
	params := url.Values{}
	params.Set("id", id)

	var page struct {
		Results []struct {
			HTML              string `json:"html"`
			HTMLWithCitations string `json:"html_with_citations"`
			PlainText         string `json:"plain_text"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "opinions/", params, &page); err != nil {
		return "", err
	}
	if len(page.Results) == 0 {
		return "", fmt.Errorf("opinion %s not found", id)
	}
	o := page.Results[0]
	switch {
	case o.HTML != "":
		return HTMLToText(o.HTML), nil
	case o.HTMLWithCitations != "":
		return HTMLToText(o.HTMLWithCitations), nil
	case o.PlainText != "":
		return strings.TrimSpace(o.PlainText), nil
	}
	return "", fmt.Errorf("opinion %s has no text", id)
}

func (c *CourtListener) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Token "+c.cfg.APIToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func yearOf(date string) string {
	if len(date) > 4 {
		return date[:4]
	}
	return date
}
