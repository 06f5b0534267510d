package gh

import (
	"github.com/askrepo/askrepo/internal/indexing"
)

// Factory opens Fetchers for the indexing orchestrator. Each run gets a
// fresh Fetcher so installation tokens never outlive the run that minted
// them.
type Factory struct {
	Tokens TokenProvider
}

func (f *Factory) Open(installationID int64, repoFullName string) indexing.Source {
	return NewFetcher(f.Tokens, installationID, repoFullName)
}
