package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/contentpipe/tools/web_fetch"
	"github.com/mohammad-safakhou/contentpipe/tools/web_search"
)

// Role is what a retrieval tool does for the researcher.
type Role string

const (
	RoleSearch Role = "SEARCH"
	RoleFetch  Role = "FETCH"
	RoleOther  Role = "OTHER"
)

// Classify derives a role from a tool name for cards that declare none.
func Classify(name string) Role {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "search") || strings.Contains(n, "web"):
		return RoleSearch
	case strings.Contains(n, "crawl") || strings.Contains(n, "fetch") || strings.Contains(n, "scrape"):
		return RoleFetch
	default:
		return RoleOther
	}
}

// ToolCard is registry metadata for a retrieval tool.
type ToolCard struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Role         Role     `json:"role,omitempty"`
	Provider     string   `json:"provider"`
	CostEstimate float64  `json:"cost_estimate"`
	SideEffects  []string `json:"side_effects"`
	Checksum     string   `json:"checksum"`
	Signature    string   `json:"signature"`
}

// ErrToolMissing indicates a required role has no registered tool.
var ErrToolMissing = errors.New("required tool missing")

// ErrRoleMismatch indicates an implementation that cannot serve its role.
var ErrRoleMismatch = errors.New("tool does not implement its role")

// Searcher is a registered SEARCH tool.
type Searcher struct {
	Card ToolCard
	web_search.WebSearcher
}

// Fetcher is a registered FETCH tool.
type Fetcher struct {
	Card ToolCard
	web_fetch.WebFetcher
}

type entry struct {
	card ToolCard
	impl any
}

// Registry holds validated tools keyed by name.
type Registry struct {
	mu      sync.RWMutex
	secret  string
	tools   map[string]entry
	closers []io.Closer
}

// NewRegistry returns an empty registry. With a signing secret every card
// must carry a valid HMAC signature.
func NewRegistry(signingSecret string) *Registry {
	return &Registry{secret: signingSecret, tools: make(map[string]entry)}
}

// Register validates card, resolves its role and binds impl. A card with the
// same name replaces the existing one only when its version is greater.
func (r *Registry) Register(card ToolCard, impl any) error {
	if strings.TrimSpace(card.Name) == "" {
		return fmt.Errorf("tool card has no name")
	}
	if err := validateSignature(card, r.secret); err != nil {
		return fmt.Errorf("tool %s@%s signature invalid: %w", card.Name, card.Version, err)
	}
	if card.Role == "" {
		card.Role = Classify(card.Name)
	}
	switch card.Role {
	case RoleSearch:
		if _, ok := impl.(web_search.WebSearcher); !ok {
			return fmt.Errorf("%w: %s is %s", ErrRoleMismatch, card.Name, card.Role)
		}
	case RoleFetch:
		if _, ok := impl.(web_fetch.WebFetcher); !ok {
			return fmt.Errorf("%w: %s is %s", ErrRoleMismatch, card.Name, card.Role)
		}
	case RoleOther:
	default:
		return fmt.Errorf("tool %s: unknown role %q", card.Name, card.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tools[card.Name]
	if !ok || versionGreater(card.Version, existing.card.Version) {
		r.tools[card.Name] = entry{card: card, impl: impl}
	}
	return nil
}

// Require fails with ErrToolMissing unless every role has a tool.
func (r *Registry) Require(roles ...Role) error {
	for _, role := range roles {
		if len(r.ByRole(role)) == 0 {
			return fmt.Errorf("%w: %s", ErrToolMissing, role)
		}
	}
	return nil
}

// Tool returns the card registered under name.
func (r *Registry) Tool(name string) (ToolCard, bool) {
	if r == nil {
		return ToolCard{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.card, ok
}

// ByRole lists cards with role, sorted by name.
func (r *Registry) ByRole(role Role) []ToolCard {
	var out []ToolCard
	for _, e := range r.entries() {
		if e.card.Role == role {
			out = append(out, e.card)
		}
	}
	return out
}

// Cards lists every card sorted by name.
func (r *Registry) Cards() []ToolCard {
	entries := r.entries()
	out := make([]ToolCard, len(entries))
	for i, e := range entries {
		out[i] = e.card
	}
	return out
}

// Searchers returns the SEARCH tools in name order.
func (r *Registry) Searchers() []Searcher {
	var out []Searcher
	for _, e := range r.entries() {
		if e.card.Role == RoleSearch {
			out = append(out, Searcher{Card: e.card, WebSearcher: e.impl.(web_search.WebSearcher)})
		}
	}
	return out
}

// Fetchers returns the FETCH tools in name order.
func (r *Registry) Fetchers() []Fetcher {
	var out []Fetcher
	for _, e := range r.entries() {
		if e.card.Role == RoleFetch {
			out = append(out, Fetcher{Card: e.card, WebFetcher: e.impl.(web_fetch.WebFetcher)})
		}
	}
	return out
}

func (r *Registry) entries() []entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entry, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].card.Name < out[j].card.Name })
	return out
}

// ComputeChecksum returns a deterministic hash of the card payload, excluding
// checksum and signature.
func ComputeChecksum(tc ToolCard) (string, error) {
	payload := map[string]interface{}{
		"name":          tc.Name,
		"version":       tc.Version,
		"description":   tc.Description,
		"role":          tc.Role,
		"provider":      tc.Provider,
		"cost_estimate": tc.CostEstimate,
		"side_effects":  tc.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignToolCard computes an HMAC signature using the signing secret.
func SignToolCard(tc ToolCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign fills Checksum and Signature on tc.
func Sign(tc ToolCard, secret string) (ToolCard, error) {
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		return tc, err
	}
	tc.Checksum = checksum
	if secret == "" {
		return tc, nil
	}
	sig, err := SignToolCard(tc, secret)
	if err != nil {
		return tc, err
	}
	tc.Signature = sig
	return tc, nil
}

func validateSignature(tc ToolCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignToolCard(tc, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(tc.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	return compareVersions(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
