// Package card implements the agent-card directory (spec.md §3, §4.2):
// an in-memory registry from agentId to its public card plus flock
// metadata, with skill-tag reverse lookup and archetype-driven skill
// synthesis. Grounded on the teacher's pkg/registry.BaseRegistry
// map+mutex shape, specialized with the tag index §4.2 requires.
package card

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/flockmesh/flock/pkg/a2a"
)

// Skill is one discoverable capability advertised on a card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Card is the public record advertised at
// /.well-known/agent-card.json (spec.md §3).
type Card struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Version     string  `json:"version"`
	URL         string  `json:"url"`
	Skills      []Skill `json:"skills"`
}

// Meta is the flock-specific metadata attached to a card: role and the
// hosting node, neither of which belong in the public a2a card body.
type Meta struct {
	Role      a2a.AgentRole `json:"role"`
	Archetype string        `json:"archetype,omitempty"`
	NodeID    string        `json:"nodeId"`
}

// Entry pairs a Card with its Meta, as held in the registry.
type Entry struct {
	Card Card
	Meta Meta
}

// Registry is the card directory: per-agent entries plus a tag index.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	tagIdx  map[string]map[string]bool // tag -> set of agentIDs
}

// NewRegistry returns an empty card directory.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		tagIdx:  make(map[string]map[string]bool),
	}
}

// Register inserts or replaces an agent's card (spec.md §4.1:
// "duplicates replace the card but keep the agent endpoint stable").
func (r *Registry) Register(agentID string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[agentID]; ok {
		entry.Card.URL = existing.Card.URL
		r.unindexLocked(agentID, existing.Card.Skills)
	}
	r.entries[agentID] = entry
	r.indexLocked(agentID, entry.Card.Skills)
}

// Unregister removes an agent's card (idempotent).
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[agentID]
	if !ok {
		return
	}
	r.unindexLocked(agentID, existing.Card.Skills)
	delete(r.entries, agentID)
}

// Has reports whether agentID is registered.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[agentID]
	return ok
}

// Get returns the card entry for agentID.
func (r *Registry) Get(agentID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[agentID]
	return e, ok
}

// List returns every registered card, for the aggregate
// /.well-known/agent-card.json directory listing (spec.md §3, §6).
func (r *Registry) List() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// UpdateCard merges name/description and wholesale-replaces skills
// (spec.md §4.2's updateCard contract, §8 property 1: card update
// atomicity).
func (r *Registry) UpdateCard(agentID string, name, description *string, skills []Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[agentID]
	if !ok {
		return fmt.Errorf("card: unknown agent %q", agentID)
	}

	r.unindexLocked(agentID, entry.Card.Skills)

	if name != nil {
		entry.Card.Name = *name
	}
	if description != nil {
		entry.Card.Description = *description
	}
	if skills != nil {
		entry.Card.Skills = skills
	}

	r.entries[agentID] = entry
	r.indexLocked(agentID, entry.Card.Skills)
	return nil
}

// FindBySkill returns every agentID whose current card carries the tag
// (spec.md §4.2, §8 property 1).
func (r *Registry) FindBySkill(tag string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.tagIdx[tag]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *Registry) indexLocked(agentID string, skills []Skill) {
	for _, sk := range skills {
		for _, tag := range sk.Tags {
			if r.tagIdx[tag] == nil {
				r.tagIdx[tag] = make(map[string]bool)
			}
			r.tagIdx[tag][agentID] = true
		}
	}
}

func (r *Registry) unindexLocked(agentID string, skills []Skill) {
	for _, sk := range skills {
		for _, tag := range sk.Tags {
			if set := r.tagIdx[tag]; set != nil {
				delete(set, agentID)
				if len(set) == 0 {
					delete(r.tagIdx, tag)
				}
			}
		}
	}
}

var (
	focusSectionRE     = regexp.MustCompile(`(?is)##\s*Starting Focus\s*\n(.*?)(\n##|\z)`)
	knowledgeSectionRE = regexp.MustCompile(`(?is)##\s*Starting Knowledge\s*\n(.*?)(\n##|\z)`)
	listItemRE         = regexp.MustCompile(`(?m)^[\s]*[-*]\s+(.+)$`)
	nonSlugRE          = regexp.MustCompile(`[^a-z0-9]+`)
)

// SynthesizeSkills derives a worker's skills from the "Starting Focus"
// and "Starting Knowledge" markdown sections of its archetype template
// (spec.md §4.2's "Archetype-driven skill synthesis"). Pure and
// idempotent given the same archetype text and slug.
func SynthesizeSkills(archetypeSlug, archetypeText string) []Skill {
	var skills []Skill

	if m := focusSectionRE.FindStringSubmatch(archetypeText); m != nil {
		items := listItemRE.FindAllStringSubmatch(m[1], -1)
		if len(items) > 0 {
			skills = append(skills, Skill{
				ID:          archetypeSlug + "-focus",
				Name:        "Starting Focus",
				Description: strings.TrimSpace(items[0][1]),
				Tags:        []string{archetypeSlug},
			})
		}
	}

	if m := knowledgeSectionRE.FindStringSubmatch(archetypeText); m != nil {
		for _, item := range listItemRE.FindAllStringSubmatch(m[1], -1) {
			label := strings.TrimSpace(item[1])
			skills = append(skills, Skill{
				ID:          archetypeSlug + "-" + slugify(label),
				Name:        label,
				Description: label,
				Tags:        []string{archetypeSlug},
			})
		}
	}

	return skills
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
