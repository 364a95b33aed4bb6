// Package router implements the Model Router (spec.md §4.2): it wraps two
// model.Client handles, a "search" model and an "orchestrator" model, and
// routes each call to one or the other based on a MessageClassifier run
// over the latest user/assistant content.
package router

import (
	"context"
	"sync"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
)

// orchestratorKeywords are matched case-insensitively against the routed
// message's text content. Per Design Notes §9 / SPEC_FULL.md §10(a), "plan"
// is kept as a literal keyword: a false-positive routes one extra call to
// the orchestrator model rather than silently under-routing a planning
// request, and the source's own behaviour treats it the same way.
var orchestratorKeywords = []string{
	"facts survey",
	"updated facts survey",
	"plan",
	"final answer",
	"final answer to the original question",
}

// Classifier decides which model handle should serve a message, based on a
// case-folded fixed-string match over content. Keywords are held in a plain
// byte trie without failure links, so classification costs
// O(|content| × longest keyword) rather than O(|content|).
type Classifier struct {
	trie *trieNode
}

type trieNode struct {
	children map[byte]*trieNode
	terminal bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: map[byte]*trieNode{}}
}

// NewClassifier builds a Classifier matching any of keywords as a
// case-insensitive substring.
func NewClassifier(keywords []string) *Classifier {
	root := newTrieNode()
	for _, kw := range keywords {
		insert(root, toLower(kw))
	}
	return &Classifier{trie: root}
}

// DefaultClassifier returns the Classifier over spec.md §4.2's keyword list.
func DefaultClassifier() *Classifier {
	return NewClassifier(orchestratorKeywords)
}

func insert(root *trieNode, s string) {
	n := root
	for i := 0; i < len(s); i++ {
		c := s[i]
		child, ok := n.children[c]
		if !ok {
			child = newTrieNode()
			n.children[c] = child
		}
		n = child
	}
	n.terminal = true
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// MatchesAny reports whether any registered keyword occurs as a substring of
// content (case-insensitive). It walks the trie afresh from every byte
// position of content, stopping at the first keyword found; the walk from
// each position is bounded by the longest keyword.
func (c *Classifier) MatchesAny(content string) bool {
	s := toLower(content)
	for start := 0; start < len(s); start++ {
		n := c.trie
		for i := start; i < len(s); i++ {
			child, ok := n.children[s[i]]
			if !ok {
				break
			}
			n = child
			if n.terminal {
				return true
			}
		}
	}
	return false
}

// Target names which handle a call was routed to.
type Target string

const (
	TargetSearch       Target = "search"
	TargetOrchestrator Target = "orchestrator"
)

// Classify returns the Target for a message's text content, per spec.md
// §4.2's routing rule.
func (c *Classifier) Classify(content string) Target {
	if c.MatchesAny(content) {
		return TargetOrchestrator
	}
	return TargetSearch
}

// Router wraps the search and orchestrator model.Client handles, routes each
// call, and snapshots token usage after every call.
type Router struct {
	search       model.Client
	orchestrator model.Client
	classifier   *Classifier

	mu    sync.Mutex
	last  model.TokenUsage
	total model.TokenUsage
}

// New constructs a Router over the given search/orchestrator handles. A nil
// classifier defaults to DefaultClassifier().
func New(search, orchestrator model.Client, classifier *Classifier) *Router {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Router{search: search, orchestrator: orchestrator, classifier: classifier}
}

// ID identifies the router by "search.id+orchestrator.id" per spec.md §4.2.
func (r *Router) ID() string {
	return r.search.Identify() + "+" + r.orchestrator.Identify()
}

// targetFor selects the handle for the given messages by classifying the
// latest user/assistant content.
func (r *Router) targetFor(messages []model.Message) (model.Client, Target) {
	content := latestRoutableContent(messages)
	target := r.classifier.Classify(content)
	if target == TargetOrchestrator {
		return r.orchestrator, target
	}
	return r.search, target
}

func latestRoutableContent(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == model.RoleUser || m.Role == model.RoleAssistant {
			return model.TextContent(m)
		}
	}
	return ""
}

// Generate routes and performs a single non-streaming completion. A
// provider error is propagated verbatim per spec.md §4.2; the router
// performs no retry.
func (r *Router) Generate(ctx context.Context, messages []model.Message, opts model.Options) (model.Message, model.TokenUsage, error) {
	client, _ := r.targetFor(messages)
	msg, usage, err := client.Generate(ctx, messages, opts)
	if err != nil {
		return msg, usage, err
	}
	r.snapshot(usage)
	return msg, usage, nil
}

// GenerateStream routes and performs a streaming completion.
func (r *Router) GenerateStream(ctx context.Context, messages []model.Message, opts model.Options) (<-chan model.Delta, error) {
	client, _ := r.targetFor(messages)
	ch, err := client.GenerateStream(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	out := make(chan model.Delta)
	go func() {
		defer close(out)
		for d := range ch {
			if d.Usage != nil {
				r.snapshot(*d.Usage)
			}
			out <- d
		}
	}()
	return out, nil
}

// Target exposes which handle would serve messages without invoking it;
// used by loops that want to log routing decisions.
func (r *Router) Target(messages []model.Message) Target {
	_, t := r.targetFor(messages)
	return t
}

func (r *Router) snapshot(u model.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = u
	r.total = r.total.Add(u)
}

// TokenCounts returns the most recent call's usage and the running total
// across all calls made through this Router.
func (r *Router) TokenCounts() (last, total model.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.total
}
