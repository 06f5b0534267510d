package gh

import (
	"context"
	"fmt"

	gogithub "github.com/google/go-github/v80/github"
)

// CodeMatch is one file matched by a code search, with its text fragments.
type CodeMatch struct {
	Path      string   `json:"path"`
	Fragments []string `json:"matches"`
}

// CodeSearchResult is the outcome of one scoped code search.
type CodeSearchResult struct {
	Matches    []CodeMatch `json:"results"`
	TotalCount int         `json:"totalCount"`
}

// SearchCode runs a text search scoped to this repository through the code
// search API. Search shares the installation credential and rate budget with
// file fetching, so it can fail under load; callers degrade gracefully.
func (f *Fetcher) SearchCode(ctx context.Context, query string) (*CodeSearchResult, error) {
	client, err := f.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, treeTimeout)
	defer cancel()

	scoped := fmt.Sprintf("%s repo:%s/%s", query, f.owner, f.repo)
	res, resp, err := client.Search.Code(ctx, scoped, &gogithub.SearchOptions{
		TextMatch:   true,
		ListOptions: gogithub.ListOptions{PerPage: 20},
	})
	f.limiter.Update(resp)
	if err != nil {
		return nil, fmt.Errorf("code search: %w", err)
	}

	out := &CodeSearchResult{
		Matches:    make([]CodeMatch, 0, len(res.CodeResults)),
		TotalCount: res.GetTotal(),
	}
	for _, item := range res.CodeResults {
		match := CodeMatch{Path: item.GetPath(), Fragments: []string{}}
		for _, tm := range item.TextMatches {
			if tm.GetFragment() != "" {
				match.Fragments = append(match.Fragments, tm.GetFragment())
			}
		}
		out.Matches = append(out.Matches, match)
	}
	return out, nil
}
