package services

import (
	"strings"
	"time"

	"github.com/faeln1/membersync/internal/domain/webhook"
	"github.com/faeln1/membersync/internal/rules"
)

// extractedMember is the per-field best effort read of one payload.
type extractedMember struct {
	MemberID     string
	MembershipID string
	Email        string
	DisplayName  string
	Username     string
	AvatarURL    string
	JoinedAt     *time.Time
	CustomFields map[string]any
}

func extractMember(set *rules.Set, obj map[string]any) extractedMember {
	doc := webhook.NewDoc(obj)
	out := extractedMember{
		MemberID:     doc.FirstString(set.Candidates(rules.FieldMemberID)),
		MembershipID: doc.FirstString(set.Candidates(rules.FieldMembershipID)),
		Email:        strings.ToLower(doc.FirstString(set.Candidates(rules.FieldEmail))),
		DisplayName:  doc.FirstString(set.Candidates(rules.FieldDisplayName)),
		Username:     doc.FirstString(set.Candidates(rules.FieldUsername)),
		AvatarURL:    doc.FirstString(set.Candidates(rules.FieldAvatarURL)),
		CustomFields: collectCustomFields(doc, set.CustomFields),
	}
	for _, path := range set.Candidates(rules.FieldJoinedAt) {
		raw, ok := doc.Lookup(path)
		if !ok {
			continue
		}
		if t, ok := ParseTimestamp(raw); ok {
			out.JoinedAt = &t
		}
		break
	}
	return out
}

// fillFrom copies attributes this extraction lacks from other. Identity is
// never taken from enrichment.
func (m *extractedMember) fillFrom(other extractedMember) {
	if m.Email == "" {
		m.Email = other.Email
	}
	if m.DisplayName == "" {
		m.DisplayName = other.DisplayName
	}
	if m.Username == "" {
		m.Username = other.Username
	}
	if m.AvatarURL == "" {
		m.AvatarURL = other.AvatarURL
	}
	if m.JoinedAt == nil {
		m.JoinedAt = other.JoinedAt
	}
	m.CustomFields = mergeFields(m.CustomFields, other.CustomFields)
}

func firstString(obj map[string]any, paths []string) string {
	return webhook.NewDoc(obj).FirstString(paths)
}

// collectCustomFields merges every candidate location that holds a mapping,
// later locations overwriting earlier ones key by key.
func collectCustomFields(doc webhook.Doc, paths []string) map[string]any {
	out := map[string]any{}
	for _, path := range paths {
		raw, ok := doc.Lookup(path)
		if !ok {
			continue
		}
		if obj, ok := webhook.AsMap(raw); ok {
			for k, v := range obj {
				out[k] = v
			}
			continue
		}
		if list, ok := raw.([]any); ok {
			for k, v := range answerPairs(list) {
				out[k] = v
			}
		}
	}
	return out
}

// answerPairs reads the [{"question": ..., "answer": ...}] form some
// platforms use for form responses.
func answerPairs(list []any) map[string]any {
	out := map[string]any{}
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key := firstString(obj, []string{"question", "label", "name", "key", "field"})
		if key == "" {
			continue
		}
		for _, field := range []string{"answer", "value", "response"} {
			if v, ok := obj[field]; ok {
				out[key] = v
				break
			}
		}
	}
	return out
}

func mergeFields(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// eventTime prefers a timestamp the sender stamped on the event itself.
func eventTime(set *rules.Set, env *webhook.Envelope, received time.Time) time.Time {
	root := webhook.NewDoc(env.Root)
	for _, path := range set.TimeFields {
		raw, ok := root.Lookup(path)
		if !ok {
			continue
		}
		if t, ok := ParseTimestamp(raw); ok {
			return t
		}
	}
	return received.UTC()
}

// tenantDetails reads the best-effort tenant label and slug from the payload.
func tenantDetails(set *rules.Set, env *webhook.Envelope) (name, slug string) {
	doc := webhook.NewDoc(env.Data)
	return doc.FirstString(set.TenantNameFields), doc.FirstString(set.TenantSlugFields)
}
