// Package catalog implements the category-keyed message pool used to render
// reminder text, with uniqueness-within-appointment selection.
package catalog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/internal/classifier"
	"github.com/clinicflow/appointment-service/internal/store"
)

// MessageSource loads the template pool for a category from storage.
type MessageSource interface {
	ListMessages(ctx context.Context, category string) ([]store.Message, error)
}

// Catalog holds category-keyed template pools, loaded from storage and
// cached in memory; Refresh reloads a category on demand.
type Catalog struct {
	mu    sync.RWMutex
	pools map[classifier.MessageCategory][]string
	src   MessageSource
}

// New creates an empty catalog backed by src.
func New(src MessageSource) *Catalog {
	return &Catalog{pools: make(map[classifier.MessageCategory][]string), src: src}
}

// Refresh reloads the in-memory pool for category from storage.
func (c *Catalog) Refresh(ctx context.Context, category classifier.MessageCategory) error {
	msgs, err := c.src.ListMessages(ctx, string(category))
	if err != nil {
		return fmt.Errorf("catalog: refresh %s: %w", category, err)
	}
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	c.mu.Lock()
	c.pools[category] = texts
	c.mu.Unlock()
	return nil
}

// UsedSet tracks templates already rendered for a single appointment; scope
// is the caller's responsibility (one per appointment lifetime, not global).
type UsedSet map[string]struct{}

// NewUsedSet creates an empty used-set.
func NewUsedSet() UsedSet {
	return make(UsedSet)
}

// Reset clears a used-set in place (ExhaustedPool recovery).
func (s UsedSet) Reset() {
	for k := range s {
		delete(s, k)
	}
}

// PickUnique returns an entry from category's pool whose text is not
// already in used, chosen uniformly at random, then adds it to used.
func (c *Catalog) PickUnique(category classifier.MessageCategory, used UsedSet) (string, error) {
	c.mu.RLock()
	pool := c.pools[category]
	c.mu.RUnlock()

	if len(pool) == 0 {
		return "", apperr.E(apperr.KindEmptyCategory, fmt.Sprintf("no messages configured for category %s", category), nil)
	}

	var remaining []string
	for _, text := range pool {
		if _, taken := used[text]; !taken {
			remaining = append(remaining, text)
		}
	}
	if len(remaining) == 0 {
		return "", apperr.E(apperr.KindExhaustedPool, fmt.Sprintf("category %s exhausted for this appointment", category), nil)
	}

	choice := remaining[rand.IntN(len(remaining))]
	used[choice] = struct{}{}
	return choice, nil
}

// Render substitutes every literal occurrence of "name" in text with
// displayName.
func Render(text, displayName string) string {
	return strings.ReplaceAll(text, "name", displayName)
}

// SeedUsed marks every template in category's pool that would render (for
// displayName) to one of deliveredBodies as already used, so a later
// PickUnique call for the same appointment won't repeat a template sent
// earlier in that appointment's lifetime.
func (c *Catalog) SeedUsed(category classifier.MessageCategory, used UsedSet, displayName string, deliveredBodies []string) {
	c.mu.RLock()
	pool := c.pools[category]
	c.mu.RUnlock()

	delivered := make(map[string]struct{}, len(deliveredBodies))
	for _, body := range deliveredBodies {
		delivered[body] = struct{}{}
	}
	for _, tmpl := range pool {
		if _, sent := delivered[Render(tmpl, displayName)]; sent {
			used[tmpl] = struct{}{}
		}
	}
}
