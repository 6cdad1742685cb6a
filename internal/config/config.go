package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml.
type Config struct {
	CaseTypes struct {
		// Mapping from incident type to the exception type of the case it becomes.
		Mapping map[string]string `yaml:"mapping"`
		Default string            `yaml:"default"`
	} `yaml:"case_types"`
	Lifecycle struct {
		NewCaseWindowDays int `yaml:"new_case_window_days"`
	} `yaml:"lifecycle"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Notifications struct {
		Inbox    bool      `yaml:"inbox"`
		Log      bool      `yaml:"log"`
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type Webhook struct {
	URL       string   `yaml:"url"`
	Events    []string `yaml:"events"`
	Secret    string   `yaml:"secret"`
	TimeoutMS int      `yaml:"timeout_ms"`
}

// Notification kinds a webhook may subscribe to.
var NotificationKinds = []string{"approval_needed", "incident_approved", "incident_rejected"}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with caseline config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CaseTypes.Default) == "" {
		return fmt.Errorf("config.case_types.default is required")
	}
	for incidentType, caseType := range c.CaseTypes.Mapping {
		if incidentType == "" || strings.TrimSpace(caseType) == "" {
			return fmt.Errorf("config.case_types.mapping has empty entry %q -> %q", incidentType, caseType)
		}
	}
	if c.Lifecycle.NewCaseWindowDays < 1 {
		return fmt.Errorf("config.lifecycle.new_case_window_days must be at least 1")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutMS < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_ms must not be negative", i)
		}
		for _, evt := range hook.Events {
			if !knownKind(evt) {
				return fmt.Errorf("config.notifications.webhooks[%d] subscribes to unknown event %s", i, evt)
			}
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.logging.format must be text or json")
	}
	return nil
}

func knownKind(kind string) bool {
	for _, k := range NotificationKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CaseTypeFor maps an incident type to a case exception type.
func (c *Config) CaseTypeFor(incidentType string) string {
	if t, ok := c.CaseTypes.Mapping[incidentType]; ok {
		return t
	}
	return c.CaseTypes.Default
}

// NewCaseWindow is how long a case without a stored status shows as new.
func (c *Config) NewCaseWindow() time.Duration {
	return time.Duration(c.Lifecycle.NewCaseWindowDays) * 24 * time.Hour
}

// Subscribed reports whether the webhook wants events of kind. An empty
// event list subscribes to everything.
func (w Webhook) Subscribed(kind string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// Timeout returns the per-request timeout, 5s when unset.
func (w Webhook) Timeout() time.Duration {
	if w.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config back to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `case_types:
  mapping:
    incident: accident
  default: other

lifecycle:
  new_case_window_days: 7

rbac:
  roles:
    worker:
      description: "Reports incidents and follows their own cases"
      permissions: [incident.submit, incident.read_own, case.read_own, notification.read]
    team_leader:
      description: "Approves or rejects incidents for their team"
      permissions: [incident.submit, incident.report_others, incident.read, incident.decide, case.read_team, notification.read]
    supervisor:
      description: "Oversees the cases of their teams"
      permissions: [incident.read, case.read_team, notification.read]
    whs:
      description: "WHS control center"
      permissions: [incident.report_others, incident.read, case.read, case.advance, case.close, notification.read, event.read]
    clinician:
      description: "Triages, assesses and rehabilitates"
      permissions: [case.read, case.advance, case.notes, notification.read]
    executive:
      description: "Reads the organisation-wide summary"
      permissions: [case.read, case.summary, notification.read]
    admin:
      description: "Full access"
      permissions: ["*"]

notifications:
  inbox: true
  log: true
  webhooks: []

logging:
  level: info
  format: text
`
