// Package rules holds the declarative extraction policy: which event kinds
// map to which membership transition, and which payload locations feed each
// logical member attribute.
package rules

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/faeln1/membersync/internal/domain/member"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Field names a logical member attribute.
type Field string

const (
	FieldMemberID     Field = "member_id"
	FieldMembershipID Field = "membership_id"
	FieldEmail        Field = "email"
	FieldDisplayName  Field = "display_name"
	FieldUsername     Field = "username"
	FieldAvatarURL    Field = "avatar_url"
	FieldJoinedAt     Field = "joined_at"
)

var requiredFields = []Field{FieldMemberID, FieldMembershipID, FieldEmail, FieldDisplayName, FieldUsername, FieldAvatarURL, FieldJoinedAt}

type document struct {
	Events struct {
		KindFields  []string `yaml:"kind_fields"`
		TimeFields  []string `yaml:"time_fields"`
		Valid       []string `yaml:"valid"`
		Invalid     []string `yaml:"invalid"`
		Updated     []string `yaml:"updated"`
		Installed   []string `yaml:"installed"`
		Uninstalled []string `yaml:"uninstalled"`
	} `yaml:"events"`
	Tenant struct {
		Headers         []string      `yaml:"headers"`
		Query           []string      `yaml:"query"`
		BodyContainers  []string      `yaml:"body_containers"`
		BodyKeys        []string      `yaml:"body_keys"`
		NameFields      []string      `yaml:"name_fields"`
		SlugFields      []string      `yaml:"slug_fields"`
		RefererPatterns []patternSpec `yaml:"referer_patterns"`
		Placeholders    []string      `yaml:"placeholders"`
	} `yaml:"tenant"`
	Fields       map[string][]string `yaml:"fields"`
	CustomFields []string            `yaml:"custom_fields"`
}

type patternSpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// RefererPattern is one compiled URL shape; the first capture group is the candidate.
type RefererPattern struct {
	Name string
	Re   *regexp.Regexp
}

// Set is a compiled, read-only rule table.
type Set struct {
	KindFields []string
	TimeFields []string

	TenantHeaders    []string
	TenantQuery      []string
	TenantBodyPaths  []string
	TenantNameFields []string
	TenantSlugFields []string
	RefererPatterns  []RefererPattern

	CustomFields []string

	kinds        map[string]member.Transition
	fields       map[Field][]string
	placeholders map[string]struct{}
}

// Provider hands out the current rule set; implementations may swap it at runtime.
type Provider interface {
	Rules() *Set
}

type staticProvider struct{ set *Set }

func (p staticProvider) Rules() *Set { return p.set }

// Static wraps a fixed rule set.
func Static(set *Set) Provider { return staticProvider{set: set} }

// Default compiles the embedded rule table.
func Default() (*Set, error) {
	return Parse(nil)
}

// MustDefault is Default for wiring code and tests.
func MustDefault() *Set {
	set, err := Default()
	if err != nil {
		panic(err)
	}
	return set
}

// Parse compiles override on top of the embedded defaults. Any key present in
// override replaces the default list wholesale.
func Parse(override []byte) (*Set, error) {
	var doc document
	if err := yaml.Unmarshal(defaultYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}
	if len(override) > 0 {
		if err := yaml.Unmarshal(override, &doc); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
	}
	return compile(doc)
}

func compile(doc document) (*Set, error) {
	set := &Set{
		KindFields:       cleanList(doc.Events.KindFields),
		TimeFields:       cleanList(doc.Events.TimeFields),
		TenantHeaders:    cleanList(doc.Tenant.Headers),
		TenantQuery:      cleanList(doc.Tenant.Query),
		TenantNameFields: cleanList(doc.Tenant.NameFields),
		TenantSlugFields: cleanList(doc.Tenant.SlugFields),
		CustomFields:     cleanList(doc.CustomFields),
		kinds:            make(map[string]member.Transition),
		fields:           make(map[Field][]string),
		placeholders:     make(map[string]struct{}),
	}
	if len(set.KindFields) == 0 {
		return nil, fmt.Errorf("rules: events.kind_fields is empty")
	}

	groups := []struct {
		transition member.Transition
		kinds      []string
	}{
		{member.TransitionValid, doc.Events.Valid},
		{member.TransitionInvalid, doc.Events.Invalid},
		{member.TransitionUpdated, doc.Events.Updated},
		{member.TransitionInstalled, doc.Events.Installed},
		{member.TransitionUninstalled, doc.Events.Uninstalled},
	}
	for _, g := range groups {
		for _, kind := range g.kinds {
			key := CanonicalKind(kind)
			if key == "" {
				continue
			}
			if prev, exists := set.kinds[key]; exists && prev != g.transition {
				return nil, fmt.Errorf("rules: event kind %q mapped to both %s and %s", kind, prev, g.transition)
			}
			set.kinds[key] = g.transition
		}
	}

	// Containers are listed outermost first; every key is tried per container
	// before descending.
	for _, container := range doc.Tenant.BodyContainers {
		prefix := strings.Trim(strings.TrimSpace(container), ".")
		for _, key := range cleanList(doc.Tenant.BodyKeys) {
			if prefix == "" {
				set.TenantBodyPaths = append(set.TenantBodyPaths, key)
			} else {
				set.TenantBodyPaths = append(set.TenantBodyPaths, prefix+"."+key)
			}
		}
	}

	for _, rp := range doc.Tenant.RefererPatterns {
		re, err := regexp.Compile(rp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: referer pattern %q: %w", rp.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("rules: referer pattern %q has no capture group", rp.Name)
		}
		set.RefererPatterns = append(set.RefererPatterns, RefererPattern{Name: rp.Name, Re: re})
	}

	for _, p := range doc.Tenant.Placeholders {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			set.placeholders[p] = struct{}{}
		}
	}

	for name, paths := range doc.Fields {
		set.fields[Field(name)] = cleanList(paths)
	}
	for _, f := range requiredFields {
		if len(set.fields[f]) == 0 {
			return nil, fmt.Errorf("rules: no candidates for field %s", f)
		}
	}
	return set, nil
}

// Transition maps a raw event kind to its canonical transition.
func (s *Set) Transition(kind string) member.Transition {
	return s.kinds[CanonicalKind(kind)]
}

// Candidates lists the payload paths for f in priority order.
func (s *Set) Candidates(f Field) []string {
	return s.fields[f]
}

// IsPlaceholder reports whether a referer capture is a generic host segment.
func (s *Set) IsPlaceholder(v string) bool {
	_, ok := s.placeholders[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// CanonicalKind folds the spellings platforms use for the same event:
// case, underscores vs dots and stray spaces.
func CanonicalKind(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	lower := strings.ToLower(cleaned)
	lower = strings.ReplaceAll(lower, "_", ".")
	lower = strings.ReplaceAll(lower, " ", "")
	return lower
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
