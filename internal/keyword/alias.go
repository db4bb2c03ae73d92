package keyword

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AliasTable maps trigger phrases to canonical commands. Keys are lowercase,
// whitespace-normalised and never empty. An AliasTable is immutable after
// construction and safe for concurrent use.
type AliasTable struct {
	aliases  map[string]string
	phrases  []string // sorted keys
	words    []string // sorted single-token keys
	commands []string // sorted, deduplicated values
}

// NewAliasTable validates and copies m. Keys and values are lowercased and
// their whitespace collapsed. Empty keys or values, and keys that collide
// after normalisation, are errors; all problems are reported together.
func NewAliasTable(m map[string]string) (*AliasTable, error) {
	if len(m) == 0 {
		return nil, errors.New("keyword: alias table must not be empty")
	}

	t := &AliasTable{aliases: make(map[string]string, len(m))}
	var errs []error

	// Iterate in sorted order so error output is stable.
	for _, raw := range slices.Sorted(maps.Keys(m)) {
		key := normalize(raw)
		cmd := normalize(m[raw])
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("keyword: alias %q is empty", raw))
			continue
		case cmd == "":
			errs = append(errs, fmt.Errorf("keyword: alias %q has an empty command", raw))
			continue
		case strings.ContainsRune(cmd, 0):
			errs = append(errs, fmt.Errorf("keyword: command %q for alias %q contains a NUL byte", cmd, raw))
			continue
		}
		if prev, dup := t.aliases[key]; dup {
			errs = append(errs, fmt.Errorf("keyword: alias %q collides with an existing alias for %q", raw, prev))
			continue
		}
		t.aliases[key] = cmd
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	t.phrases = slices.Sorted(maps.Keys(t.aliases))
	seen := make(map[string]struct{})
	for _, p := range t.phrases {
		if !strings.Contains(p, " ") {
			t.words = append(t.words, p)
		}
		cmd := t.aliases[p]
		if _, ok := seen[cmd]; !ok {
			seen[cmd] = struct{}{}
			t.commands = append(t.commands, cmd)
		}
	}
	slices.Sort(t.commands)
	return t, nil
}

// Lookup returns the command for phrase. phrase must already be normalised.
func (t *AliasTable) Lookup(phrase string) (string, bool) {
	cmd, ok := t.aliases[phrase]
	return cmd, ok
}

// Commands returns the sorted set of canonical commands.
func (t *AliasTable) Commands() []string {
	return slices.Clone(t.commands)
}

// Aliases returns every trigger phrase, sorted.
func (t *AliasTable) Aliases() []string {
	return slices.Clone(t.phrases)
}

// Len returns the number of trigger phrases.
func (t *AliasTable) Len() int { return len(t.aliases) }

// DefaultAliases returns a fresh copy of the built-in vocabulary.
func DefaultAliases() map[string]string {
	groups := []struct {
		command string
		aliases []string
	}{
		{"undyne", []string{"fish", "undyne", "water", "spear"}},
		{"sans", []string{"snas", "snaz", "sans", "patrick", "lazy", "joke", "puns", "grill"}},
		{"asgore", []string{"truck", "burgentruck", "burgen", "asgore", "king", "throne", "crown", "fire"}},
		{"papyrus", []string{"papyrus", "papy", "bones", "spaghetti", "blue", "skeleton"}},
		{"asriel", []string{"asriel", "as real", "israel", "god", "flower", "flowey"}},
		{"ouch", []string{"hurt", "damage", "attack", "pain", "injury", "hit", "bleed", "ouchie", "ouch"}},
		{"maddummy", []string{"dummy"}},
		{"toriel", []string{"caretaker", "toriel"}},
		{"togore", []string{"togo", "togore", "tagore", "togor"}},
		{"jevil", []string{"jevil", "general"}},
		{"toby", []string{"toby", "fox", "tobey", "tobias"}},
		{"heal", []string{"refused"}},
		{"puzzle", []string{"puzzle"}},
	}

	m := make(map[string]string, 64)
	for _, g := range groups {
		for _, a := range g.aliases {
			m[a] = g.command
		}
	}
	return m
}

// Default returns an AliasTable built from [DefaultAliases].
func Default() *AliasTable {
	t, err := NewAliasTable(DefaultAliases())
	if err != nil {
		panic("keyword: built-in alias table is invalid: " + err.Error())
	}
	return t
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
