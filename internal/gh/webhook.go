package gh

import (
	"net/http"

	gogithub "github.com/google/go-github/v80/github"
)

// PushChanges is the distilled view of a push event the indexing pipeline
// cares about.
type PushChanges struct {
	RepoID         int64
	InstallationID int64
	Branch         string
	ChangedFiles   []string
	RemovedFiles   []string
}

// ValidateWebhook verifies the HMAC signature and returns the raw payload.
func ValidateWebhook(r *http.Request, secret []byte) ([]byte, error) {
	return gogithub.ValidatePayload(r, secret)
}

// ParsePushEvent decodes a webhook payload into a push event, or nil when
// the delivery is some other event type.
func ParsePushEvent(r *http.Request, payload []byte) (*gogithub.PushEvent, error) {
	event, err := gogithub.ParseWebHook(gogithub.WebHookType(r), payload)
	if err != nil {
		return nil, err
	}
	push, ok := event.(*gogithub.PushEvent)
	if !ok {
		return nil, nil
	}
	return push, nil
}

// ExtractPushChanges folds a push event's commits into deduplicated changed
// and removed file sets. A file both modified and later removed in the same
// push lands in the removed set only.
func ExtractPushChanges(event *gogithub.PushEvent) PushChanges {
	changed := make(map[string]struct{})
	removed := make(map[string]struct{})

	for _, commit := range event.Commits {
		for _, p := range commit.Added {
			delete(removed, p)
			changed[p] = struct{}{}
		}
		for _, p := range commit.Modified {
			delete(removed, p)
			changed[p] = struct{}{}
		}
		for _, p := range commit.Removed {
			delete(changed, p)
			removed[p] = struct{}{}
		}
	}

	out := PushChanges{
		RepoID:         event.GetRepo().GetID(),
		InstallationID: event.GetInstallation().GetID(),
		Branch:         branchFromRef(event.GetRef()),
		ChangedFiles:   setToSlice(changed),
		RemovedFiles:   setToSlice(removed),
	}
	return out
}

func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
