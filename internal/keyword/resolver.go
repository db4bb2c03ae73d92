// Package keyword reduces recognised utterances to canonical commands.
//
// Resolution has two stages. If the whole utterance is itself a trigger
// phrase (which is how multi-word aliases such as "as real" match), exactly
// that one command is returned. Otherwise the utterance is split on
// whitespace and every token that is an alias contributes its command, left
// to right, duplicates kept. Unknown tokens are skipped.
//
// An optional phonetic fallback maps near-miss tokens (e.g. "tobie") to the
// closest single-word alias. It is off by default.
package keyword

import (
	"strings"
	"sync/atomic"
)

// Option configures a [Resolver].
type Option func(*vocabulary)

// WithPhoneticFallback enables phonetic matching for tokens with no exact
// alias. See [PhoneticMatcher] for the scoring rules.
func WithPhoneticFallback(m *PhoneticMatcher) Option {
	return func(v *vocabulary) { v.phonetic = m }
}

type vocabulary struct {
	table    *AliasTable
	phonetic *PhoneticMatcher
}

// Resolver maps utterances to commands using an [AliasTable]. It is safe for
// concurrent use; [Resolver.Reload] swaps the vocabulary atomically.
type Resolver struct {
	vocab atomic.Pointer[vocabulary]
}

// NewResolver returns a Resolver over table. A nil table selects the
// built-in vocabulary.
func NewResolver(table *AliasTable, opts ...Option) *Resolver {
	r := &Resolver{}
	r.Reload(table, opts...)
	return r
}

// Reload replaces the table and options. Resolve calls already running keep
// the previous vocabulary.
func (r *Resolver) Reload(table *AliasTable, opts ...Option) {
	if table == nil {
		table = Default()
	}
	v := &vocabulary{table: table}
	for _, o := range opts {
		o(v)
	}
	r.vocab.Store(v)
}

// Table returns the alias table in use.
func (r *Resolver) Table() *AliasTable { return r.vocab.Load().table }

// Resolve returns the commands triggered by utterance in order of
// appearance. The result is empty (nil) when nothing matches.
func (r *Resolver) Resolve(utterance string) []string {
	phrase := normalize(utterance)
	if phrase == "" {
		return nil
	}
	v := r.vocab.Load()
	if cmd, ok := v.table.Lookup(phrase); ok {
		return []string{cmd}
	}

	var out []string
	for _, tok := range strings.Fields(phrase) {
		if cmd, ok := v.table.Lookup(tok); ok {
			out = append(out, cmd)
			continue
		}
		if v.phonetic == nil {
			continue
		}
		if alias, ok := v.phonetic.Match(tok, v.table.words); ok {
			cmd, _ := v.table.Lookup(alias)
			out = append(out, cmd)
		}
	}
	return out
}
