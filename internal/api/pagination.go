// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tomnomnom/linkheader"
)

// Pager extracts the items of one page and the URL of the next page.
// An empty next URL ends the listing.
type Pager func(pageURL string, resp *Response) (items []json.RawMessage, next string, err error)

// LinkHeaderPager reads a JSON array body and follows the rel="next" entry of
// the Link header, the convention used by GitHub, GitLab and Gitea.
func LinkHeaderPager(pageURL string, resp *Response) ([]json.RawMessage, string, error) {
	var items []json.RawMessage
	if err := resp.JSON(&items); err != nil {
		return nil, "", err
	}

	for _, link := range linkheader.Parse(resp.Header.Get("Link")).FilterByRel("next") {
		next, err := resolve(pageURL, link.URL)
		if err != nil {
			return nil, "", err
		}
		return items, next, nil
	}

	return items, "", nil
}

// ListAll follows pages starting at startURL until the pager reports no next
// page and returns every item in order. Nothing is kept between calls.
func (c *Client) ListAll(ctx context.Context, startURL string, headers http.Header, pager Pager) ([]json.RawMessage, error) {
	if pager == nil {
		pager = LinkHeaderPager
	}

	var all []json.RawMessage
	seen := make(map[string]bool)

	for pageURL := startURL; pageURL != ""; {
		if seen[pageURL] {
			return nil, fmt.Errorf("pagination loop detected at %s", pageURL)
		}
		seen[pageURL] = true

		resp, err := c.Request(ctx, http.MethodGet, pageURL, headers, nil)
		if err != nil {
			return nil, err
		}

		items, next, err := pager(pageURL, resp)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %s: %w", pageURL, err)
		}

		all = append(all, items...)
		c.logf("Fetched %d items from %s (%d total)", len(items), pageURL, len(all))
		pageURL = next
	}

	return all, nil
}

func resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %s: %w", base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid next page URL %s: %w", ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
