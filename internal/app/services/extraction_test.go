package services

import (
	"testing"
	"time"

	"github.com/faeln1/membersync/internal/domain/webhook"
	"github.com/faeln1/membersync/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEnvelope(t *testing.T, set *rules.Set, body string) *webhook.Envelope {
	t.Helper()
	env, err := webhook.Parse([]byte(body), set.KindFields)
	require.NoError(t, err)
	return env
}

func TestExtractMemberEnveloped(t *testing.T) {
	set := rules.MustDefault()
	env := parseEnvelope(t, set, `{
		"action": "membership.went_valid",
		"data": {
			"id": "mem_1",
			"user": {"id": "user_1", "email": "Ada@Example.COM", "username": "ada", "name": "Ada L", "profile_pic_url": "https://cdn/x.png"},
			"created_at": 1700000000,
			"custom_fields": {"team": "core"},
			"metadata": {"plan": "pro", "team": "ops"}
		}
	}`)

	ext := extractMember(set, env.Data)
	assert.Equal(t, "user_1", ext.MemberID)
	assert.Equal(t, "mem_1", ext.MembershipID)
	assert.Equal(t, "ada@example.com", ext.Email)
	assert.Equal(t, "ada", ext.Username)
	assert.Equal(t, "Ada L", ext.DisplayName)
	assert.Equal(t, "https://cdn/x.png", ext.AvatarURL)
	require.NotNil(t, ext.JoinedAt)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), *ext.JoinedAt)
	// later locations win key by key
	assert.Equal(t, map[string]any{"team": "ops", "plan": "pro"}, ext.CustomFields)
}

func TestExtractMemberFlatWithNameParts(t *testing.T) {
	set := rules.MustDefault()
	env := parseEnvelope(t, set, `{
		"event": "membership_went_valid",
		"user_id": "u9",
		"membership_id": "m9",
		"email": "x@y.z",
		"first_name": "Grace",
		"last_name": "Hopper",
		"custom_field_responses": [
			{"question": "Company", "answer": "Navy"},
			{"label": "Role", "value": "Admiral"},
			{"answer": "orphan"}
		]
	}`)

	ext := extractMember(set, env.Data)
	assert.Equal(t, "u9", ext.MemberID)
	assert.Equal(t, "m9", ext.MembershipID)
	assert.Equal(t, "Grace Hopper", ext.DisplayName)
	assert.Nil(t, ext.JoinedAt)
	assert.Equal(t, map[string]any{"Company": "Navy", "Role": "Admiral"}, ext.CustomFields)
}

func TestExtractMemberIgnoresImplausibleJoinTime(t *testing.T) {
	set := rules.MustDefault()
	env := parseEnvelope(t, set, `{"action":"membership.went_valid","data":{"user_id":"u","created_at":"garbage"}}`)
	assert.Nil(t, extractMember(set, env.Data).JoinedAt)
}

func TestFillFromKeepsPayloadValues(t *testing.T) {
	joined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ext := extractedMember{MemberID: "u1", Email: "a@b.c", CustomFields: map[string]any{"a": 1}}
	ext.fillFrom(extractedMember{
		MemberID:     "other",
		Email:        "enriched@b.c",
		DisplayName:  "Enriched",
		JoinedAt:     &joined,
		CustomFields: map[string]any{"b": 2},
	})

	assert.Equal(t, "u1", ext.MemberID)
	assert.Equal(t, "a@b.c", ext.Email)
	assert.Equal(t, "Enriched", ext.DisplayName)
	assert.Equal(t, &joined, ext.JoinedAt)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, ext.CustomFields)
}

func TestEventTime(t *testing.T) {
	set := rules.MustDefault()
	received := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

	env := parseEnvelope(t, set, `{"action":"membership.went_valid","timestamp":1700000000000,"data":{}}`)
	assert.Equal(t, int64(1700000000000), eventTime(set, env, received).UnixMilli())

	env = parseEnvelope(t, set, `{"action":"membership.went_valid","data":{}}`)
	assert.Equal(t, received, eventTime(set, env, received))
}

func TestTenantDetails(t *testing.T) {
	set := rules.MustDefault()
	env := parseEnvelope(t, set, `{"action":"app.installed","data":{"company":{"id":"biz_1","title":"Acme","route":"acme"}}}`)
	name, slug := tenantDetails(set, env)
	assert.Equal(t, "Acme", name)
	assert.Equal(t, "acme", slug)
}
