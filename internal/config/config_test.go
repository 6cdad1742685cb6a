package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "accident", cfg.CaseTypeFor("incident"))
	require.Equal(t, "other", cfg.CaseTypeFor("injury"))
	require.Equal(t, 7*24*time.Hour, cfg.NewCaseWindow())
	require.Contains(t, cfg.RBAC.Roles, "team_leader")
	require.True(t, cfg.Notifications.Inbox)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no admin", `
case_types: {default: other}
lifecycle: {new_case_window_days: 7}
rbac:
  roles:
    worker: {permissions: [incident.submit]}
`, "must include admin"},
		{"no default case type", `
lifecycle: {new_case_window_days: 7}
rbac: {roles: {admin: {permissions: ["*"]}}}
`, "case_types.default"},
		{"zero window", `
case_types: {default: other}
lifecycle: {new_case_window_days: 0}
rbac: {roles: {admin: {permissions: ["*"]}}}
`, "new_case_window_days"},
		{"unknown webhook event", `
case_types: {default: other}
lifecycle: {new_case_window_days: 7}
rbac: {roles: {admin: {permissions: ["*"]}}}
notifications:
  webhooks:
    - url: http://example.test/hook
      events: [case_exploded]
`, "unknown event"},
		{"bad log format", `
case_types: {default: other}
lifecycle: {new_case_window_days: 7}
rbac: {roles: {admin: {permissions: ["*"]}}}
logging: {format: xml}
`, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWebhookDefaults(t *testing.T) {
	all := Webhook{URL: "http://x"}
	require.True(t, all.Subscribed("approval_needed"))
	require.Equal(t, 5*time.Second, all.Timeout())

	some := Webhook{URL: "http://x", Events: []string{"incident_rejected"}, TimeoutMS: 250}
	require.False(t, some.Subscribed("incident_approved"))
	require.True(t, some.Subscribed("incident_rejected"))
	require.Equal(t, 250*time.Millisecond, some.Timeout())
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Nil(t, cfg)
	_, err = Load(dir)
	require.Error(t, err)

	custom := Default()
	custom.CaseTypes.Mapping["illness"] = "sick_leave"
	custom.Lifecycle.NewCaseWindowDays = 3
	data, err := custom.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "caseline.yml"), data, 0o644))

	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, "sick_leave", cfg.CaseTypeFor("illness"))
	require.Equal(t, 3*24*time.Hour, cfg.NewCaseWindow())
}
