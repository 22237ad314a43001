// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package ssh

import (
	"context"
)

// HostResult is the outcome of one connectivity test
type HostResult struct {
	Endpoint Endpoint
	Err      error
}

// CheckHosts tests every distinct SSH endpoint among urls, one at a time
func (a *Authenticator) CheckHosts(ctx context.Context, urls []string) []HostResult {
	endpoints := Endpoints(urls)
	results := make([]HostResult, 0, len(endpoints))
	for _, ep := range endpoints {
		if ctx.Err() != nil {
			results = append(results, HostResult{Endpoint: ep, Err: ctx.Err()})
			continue
		}
		results = append(results, HostResult{Endpoint: ep, Err: a.TestConnection(ctx, ep)})
	}
	return results
}
