// Package grant defines the named credit grants that fund the balance:
// in-app purchase products and the rewarded-ad bonus.
package grant

import (
	"fmt"
	"sort"
	"strings"
)

// Source describes where a grant's credits come from.
type Source string

const (
	SourcePurchase Source = "purchase"
	SourceReward   Source = "reward"
)

// Well-known grant keys.
const (
	KeyCredits50  = "credits_50"
	KeyCredits100 = "credits_100"
	KeyAdReward   = "ad_reward"
)

// Grant is a fixed number of credits identified by a product key.
type Grant struct {
	Key     string `json:"key"     toml:"key"     yaml:"key"`
	Name    string `json:"name"    toml:"name"    yaml:"name"`
	Credits int64  `json:"credits" toml:"credits" yaml:"credits"`
	Source  Source `json:"source"  toml:"source"  yaml:"source"`
}

// Validate checks that the grant can be added to a ledger.
func (g Grant) Validate() error {
	if strings.TrimSpace(g.Key) == "" {
		return fmt.Errorf("grant: key is required")
	}
	if g.Credits <= 0 {
		return fmt.Errorf("grant %s: credits must be positive, got %d", g.Key, g.Credits)
	}
	switch g.Source {
	case SourcePurchase, SourceReward:
	default:
		return fmt.Errorf("grant %s: unknown source %q", g.Key, g.Source)
	}
	return nil
}

// Catalog is an immutable set of grants keyed by Grant.Key.
type Catalog struct {
	grants map[string]Grant
}

// NewCatalog builds a catalog, rejecting invalid or duplicate grants.
func NewCatalog(grants ...Grant) (*Catalog, error) {
	c := &Catalog{grants: make(map[string]Grant, len(grants))}
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.grants[g.Key]; dup {
			return nil, fmt.Errorf("grant: duplicate key %s", g.Key)
		}
		c.grants[g.Key] = g
	}
	return c, nil
}

// DefaultCatalog returns the store products and the ad reward.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Grant{Key: KeyCredits50, Name: "50 Credits", Credits: 50, Source: SourcePurchase},
		Grant{Key: KeyCredits100, Name: "100 Credits", Credits: 100, Source: SourcePurchase},
		Grant{Key: KeyAdReward, Name: "Rewarded ad", Credits: 10, Source: SourceReward},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the grant with the given key.
func (c *Catalog) Lookup(key string) (Grant, bool) {
	g, ok := c.grants[key]
	return g, ok
}

// List returns all grants ordered by key.
func (c *Catalog) List() []Grant {
	out := make([]Grant, 0, len(c.grants))
	for _, g := range c.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
