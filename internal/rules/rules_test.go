package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faeln1/membersync/internal/domain/member"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTransitions(t *testing.T) {
	set := MustDefault()

	cases := map[string]member.Transition{
		"membership.went_valid":           member.TransitionValid,
		"membership_went_valid":           member.TransitionValid,
		"Membership.Went_Valid":           member.TransitionValid,
		"app_membership_went_invalid":     member.TransitionInvalid,
		"membership.went_invalid":         member.TransitionInvalid,
		"membership_metadata_updated":     member.TransitionUpdated,
		"app_membership_metadata_updated": member.TransitionUpdated,
		"app.installed":                   member.TransitionInstalled,
		"app_uninstalled":                 member.TransitionUninstalled,
		"payment.succeeded":               member.TransitionNone,
		"":                                member.TransitionNone,
	}
	for kind, want := range cases {
		assert.Equal(t, want, set.Transition(kind), "kind %q", kind)
	}
}

func TestCanonicalKind(t *testing.T) {
	assert.Equal(t, "membership.went.valid", CanonicalKind(" Membership_Went_Valid "))
	assert.Equal(t, "", CanonicalKind("   "))
}

func TestDefaultTenantBodyPathsOrder(t *testing.T) {
	set := MustDefault()
	require.NotEmpty(t, set.TenantBodyPaths)
	assert.Equal(t, "company_id", set.TenantBodyPaths[0])

	rootIdx := indexOf(set.TenantBodyPaths, "company_id")
	dataIdx := indexOf(set.TenantBodyPaths, "data.company_id")
	productIdx := indexOf(set.TenantBodyPaths, "data.product.company_id")
	assert.True(t, rootIdx < dataIdx && dataIdx < productIdx)
}

func TestPlaceholders(t *testing.T) {
	set := MustDefault()
	assert.True(t, set.IsPlaceholder("WWW"))
	assert.False(t, set.IsPlaceholder("acme"))
}

func TestParseOverrideReplacesLists(t *testing.T) {
	set, err := Parse([]byte(`
events:
  valid: [member.joined]
fields:
  email: [contact.email]
`))
	require.NoError(t, err)
	assert.Equal(t, member.TransitionValid, set.Transition("member_joined"))
	assert.Equal(t, member.TransitionNone, set.Transition("membership.went_valid"))
	assert.Equal(t, member.TransitionInvalid, set.Transition("membership.went_invalid"))
	assert.Equal(t, []string{"contact.email"}, set.Candidates(FieldEmail))
	assert.NotEmpty(t, set.Candidates(FieldMemberID))
}

func TestParseRejectsConflictingKinds(t *testing.T) {
	_, err := Parse([]byte(`
events:
  valid: [membership.changed]
  invalid: [membership_changed]
`))
	require.Error(t, err)
}

func TestParseRejectsBadRefererPattern(t *testing.T) {
	_, err := Parse([]byte(`
tenant:
  referer_patterns:
    - name: broken
      pattern: '(['
`))
	require.Error(t, err)

	_, err = Parse([]byte(`
tenant:
  referer_patterns:
    - name: nogroup
      pattern: 'company'
`))
	require.Error(t, err)
}

func TestLoaderReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  valid: [member.joined]\n"), 0o600))

	loader, err := NewLoader(path, nil)
	require.NoError(t, err)
	assert.Equal(t, member.TransitionValid, loader.Rules().Transition("member.joined"))

	var notified *Set
	loader.OnChange(func(s *Set) { notified = s })

	require.NoError(t, os.WriteFile(path, []byte("events:\n  valid: [member.added]\n"), 0o600))
	set, err := loader.Reload()
	require.NoError(t, err)
	assert.Same(t, set, notified)
	assert.Equal(t, member.TransitionValid, loader.Rules().Transition("member.added"))

	require.NoError(t, os.WriteFile(path, []byte("events: [:::"), 0o600))
	_, err = loader.Reload()
	require.Error(t, err)
	assert.Same(t, set, loader.Rules())
}

func TestLoaderWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  valid: [member.joined]\n"), 0o600))

	loader, err := NewLoader(path, nil)
	require.NoError(t, err)
	stop, err := loader.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("events:\n  valid: [member.enrolled]\n"), 0o600))
	require.Eventually(t, func() bool {
		return loader.Rules().Transition("member.enrolled") == member.TransitionValid
	}, 5*time.Second, 20*time.Millisecond)
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
