// Package identity generates entity slugs and tracks unsaved draft ids.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DraftPrefix is the marker prefix for locally minted draft ids. Any id
// beginning with "new_<entity>_" is treated as unsaved.
const DraftPrefix = "new_"

// Slugify derives a stable slug from a display name: lowercased, runs of
// non-alphanumerics collapsed to a single underscore, leading and trailing
// underscores trimmed. An empty result falls back to "entity".
func Slugify(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			if b.Len() > 0 {
				pendingSep = true
			}
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	slug := b.String()
	if slug == "" {
		return "entity"
	}
	return slug
}

// Issuer mints draft ids and remembers which ids it issued, so that the
// draft check is a set lookup rather than a pure prefix sniff. This keeps a
// legitimately slugified name that happens to start with "new_" from being
// misread as an unsaved draft.
type Issuer struct {
	entity string

	mu     sync.Mutex
	issued map[string]bool
}

// NewIssuer creates an issuer for one entity kind, e.g. "agent" or "task".
func NewIssuer(entity string) *Issuer {
	return &Issuer{
		entity: entity,
		issued: make(map[string]bool),
	}
}

// Draft mints a fresh draft id for an entity that has not been persisted.
func (i *Issuer) Draft() string {
	id := DraftPrefix + i.entity + "_" + uuid.New().String()[:8]
	i.mu.Lock()
	i.issued[id] = true
	i.mu.Unlock()
	return id
}

// IsDraft reports whether id identifies an unsaved draft. An empty id is
// always a draft: an entity that has never been persisted may reach the save
// path before any id was minted for it. Otherwise the issued set is
// consulted first, then the minted-id shape (`new_<entity>_` plus an 8-char
// hex fragment) for draft ids minted by another issuer instance. The shape
// check is strict so a persisted slug such as "new_agent_id" (from the name
// "New-Agent@ID") is never mistaken for a draft even though it shares the
// prefix.
func (i *Issuer) IsDraft(id string) bool {
	if id == "" {
		return true
	}
	i.mu.Lock()
	issued := i.issued[id]
	i.mu.Unlock()
	if issued {
		return true
	}
	return i.hasMintedShape(id)
}

func (i *Issuer) hasMintedShape(id string) bool {
	prefix := DraftPrefix + i.entity + "_"
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	frag := strings.TrimPrefix(id, prefix)
	if len(frag) != 8 {
		return false
	}
	for _, r := range frag {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Promote forgets a draft id once the entity is persisted under its final
// slug. Safe to call for ids the issuer never minted.
func (i *Issuer) Promote(draftID string) {
	i.mu.Lock()
	delete(i.issued, draftID)
	i.mu.Unlock()
}
