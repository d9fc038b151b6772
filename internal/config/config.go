package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cp "github.com/otiai10/copy"
	"gopkg.in/yaml.v3"

	"github.com/roostbot/roost/internal/trigger"
)

var (
	cfgMux   sync.RWMutex
	Roost    *RoostCfg
	Profiles map[string]*ProfileCfg
	Version  = "dev"

	// baseDir is where ConfigDir resolves configuration from. Overridable via
	// the --config-dir flag before Load.
	baseDir = "config"
)

// RoostCfg is the global configuration shared by every profile: front-end
// bridges, web console, storage and debug settings.
type RoostCfg struct {
	Debug struct {
		Log bool `yaml:"log"`
	} `yaml:"debug"`
	LogSaveDirectory string `yaml:"logSaveDirectory"`
	CommandPrefix    string `yaml:"commandPrefix"`
	Bridge           struct {
		// URL of the external game-protocol gateway, e.g. ws://localhost:9090/session.
		URL                string `yaml:"url"`
		DialTimeoutSeconds int    `yaml:"dialTimeoutSeconds"`
	} `yaml:"bridge"`
	Web struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"web"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Discord struct {
		Enabled   bool     `yaml:"enabled"`
		Token     string   `yaml:"token"`
		ChannelID string   `yaml:"channelId"`
		BotAdmins []string `yaml:"botAdmins"`
	} `yaml:"discord"`
	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		ChatID  int64  `yaml:"chatId"`
		Token   string `yaml:"token"`
	} `yaml:"telegram"`
	Ngrok struct {
		Enabled       bool   `yaml:"enabled"`
		SendURL       bool   `yaml:"sendUrl"`
		Authtoken     string `yaml:"authtoken"`
		Region        string `yaml:"region"`
		Domain        string `yaml:"domain"`
		BasicAuthUser string `yaml:"basicAuthUser"`
		BasicAuthPass string `yaml:"basicAuthPass"`
	} `yaml:"ngrok"`
}

// Address is one server endpoint in the connection history.
type Address struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// maxAddressHistory caps the persisted address history, most recent first.
const maxAddressHistory = 10

// ProfileCfg is one operator identity and everything tied to it: target
// server, trigger rules, timing tuning. Ban state is deliberately not part of
// it; it is recomputed each session.
//
// The struct is shared between the session controller, the command dispatcher
// and the config reloader, which run on different goroutines. Runtime reads
// and writes of the mutable fields go through the accessor methods below; the
// bare fields are for loading, saving and single-threaded setup.
type ProfileCfg struct {
	mu sync.RWMutex

	ProfileName string `yaml:"-"`

	Username string `yaml:"username"`
	Auth     string `yaml:"auth"`
	Server   struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		// Version is the protocol version to present, empty or "auto" for
		// auto-detect.
		Version string `yaml:"version"`
	} `yaml:"server"`
	AddressHistory []Address      `yaml:"addressHistory"`
	Triggers       []trigger.Rule `yaml:"triggers"`
	ReplyDelimiter string         `yaml:"replyDelimiter"`
	ReplyDelayMs   int            `yaml:"replyDelayMs"`
	Stealth        struct {
		MinDelayMs       int `yaml:"minDelayMs"`
		MaxDelayMs       int `yaml:"maxDelayMs"`
		ReconnectDelayMs int `yaml:"reconnectDelayMs"`
	} `yaml:"stealth"`
	AntiAFK struct {
		Enabled        bool `yaml:"enabled"`
		BaseIntervalMs int  `yaml:"baseIntervalMs"`
		JitterMs       int  `yaml:"jitterMs"`
	} `yaml:"antiAfk"`
}

// SetBaseDir points the package at a different configuration directory. Must
// be called before Load.
func SetBaseDir(dir string) {
	cfgMux.Lock()
	defer cfgMux.Unlock()
	baseDir = dir
}

func BaseDir() string {
	cfgMux.RLock()
	defer cfgMux.RUnlock()
	return baseDir
}

// Load reads the global config plus every profile directory under the config
// root. Safe to call again to pick up external edits.
func Load() error {
	cfgMux.Lock()
	defer cfgMux.Unlock()

	previous := Profiles
	Profiles = make(map[string]*ProfileCfg)

	globalPath := filepath.Join(baseDir, "roost.yaml")
	r, err := os.Open(globalPath)
	if err != nil {
		return fmt.Errorf("error loading %s: %w", globalPath, err)
	}
	defer r.Close()

	d := yaml.NewDecoder(r)
	if err = d.Decode(&Roost); err != nil {
		return fmt.Errorf("error reading config %s: %w", globalPath, err)
	}
	Roost.validate()

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("error reading config directory %s: %w", baseDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "template" {
			continue
		}

		profileCfg := ProfileCfg{}
		profilePath := filepath.Join(baseDir, entry.Name(), "profile.yaml")
		pr, err := os.Open(profilePath)
		if err != nil {
			return fmt.Errorf("error loading profile %s: %w", profilePath, err)
		}

		pd := yaml.NewDecoder(pr)
		if err = pd.Decode(&profileCfg); err != nil {
			_ = pr.Close()
			return fmt.Errorf("error reading %s profile config: %w", profilePath, err)
		}
		_ = pr.Close()

		profileCfg.ProfileName = entry.Name()
		profileCfg.Validate()

		// The supervisor and dispatcher hold the profile pointer for the life
		// of the process; a reload must land in that object, not replace it.
		if live, ok := previous[entry.Name()]; ok {
			live.applyFrom(&profileCfg)
			Profiles[entry.Name()] = live
		} else {
			Profiles[entry.Name()] = &profileCfg
		}
	}

	return nil
}

func (c *RoostCfg) validate() {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.Bridge.DialTimeoutSeconds <= 0 {
		c.Bridge.DialTimeoutSeconds = 30
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8087
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join("data", "roost.db")
	}
}

// Validate fills defaults for anything the operator left unset.
func (c *ProfileCfg) Validate() {
	if c.Server.Port <= 0 {
		c.Server.Port = 25565
	}
	if strings.EqualFold(c.Server.Version, "auto") {
		c.Server.Version = ""
	}
	if c.ReplyDelimiter == "" {
		c.ReplyDelimiter = trigger.DefaultDelimiter
	}
	if c.ReplyDelayMs <= 0 {
		c.ReplyDelayMs = 500
	}
	if c.Stealth.MinDelayMs <= 0 {
		c.Stealth.MinDelayMs = 1000
	}
	if c.Stealth.MaxDelayMs < c.Stealth.MinDelayMs {
		c.Stealth.MaxDelayMs = 5000
	}
	if c.Stealth.ReconnectDelayMs <= 0 {
		c.Stealth.ReconnectDelayMs = 10000
	}
	if c.AntiAFK.BaseIntervalMs <= 0 {
		c.AntiAFK.BaseIntervalMs = 4000
	}
	if c.AntiAFK.JitterMs <= 0 {
		c.AntiAFK.JitterMs = 1000
	}
	if len(c.AddressHistory) > maxAddressHistory {
		c.AddressHistory = c.AddressHistory[:maxAddressHistory]
	}
}

// RecordAddress moves the address to the front of the history, deduplicating
// and truncating to the cap.
func (c *ProfileCfg) RecordAddress(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	updated := []Address{{Host: host, Port: port}}
	for _, a := range c.AddressHistory {
		if a.Host == host && a.Port == port {
			continue
		}
		updated = append(updated, a)
	}
	if len(updated) > maxAddressHistory {
		updated = updated[:maxAddressHistory]
	}
	c.AddressHistory = updated
}

// Target returns the configured server endpoint.
func (c *ProfileCfg) Target() (string, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Host, c.Server.Port
}

// SetTarget points the profile at a different server endpoint.
func (c *ProfileCfg) SetTarget(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.Host = host
	c.Server.Port = port
}

// Identity returns the username and auth mode used in the login handshake.
func (c *ProfileCfg) Identity() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Username, c.Auth
}

// ProtocolVersion returns the protocol version to present, empty for
// auto-detect.
func (c *ProfileCfg) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.Version
}

func (c *ProfileCfg) SetProtocolVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.EqualFold(version, "auto") {
		version = ""
	}
	c.Server.Version = version
}

// TriggerRules returns a copy of the rule set, safe to iterate or rebuild
// while other goroutines update the profile.
func (c *ProfileCfg) TriggerRules() []trigger.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]trigger.Rule(nil), c.Triggers...)
}

func (c *ProfileCfg) SetTriggerRules(rules []trigger.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Triggers = rules
}

// ReplyPlan returns the reply segment delimiter and the inter-segment delay.
func (c *ProfileCfg) ReplyPlan() (string, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ReplyDelimiter, time.Duration(c.ReplyDelayMs) * time.Millisecond
}

// StealthWindow returns the pre-connect delay bounds.
func (c *ProfileCfg) StealthWindow() (time.Duration, time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Stealth.MinDelayMs) * time.Millisecond,
		time.Duration(c.Stealth.MaxDelayMs) * time.Millisecond
}

// ReconnectDelay returns the fixed backoff before an automatic reconnect.
func (c *ProfileCfg) ReconnectDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Stealth.ReconnectDelayMs) * time.Millisecond
}

// applyFrom copies the persisted fields of src into the live profile object,
// so a reload reaches the components holding the pointer.
func (c *ProfileCfg) applyFrom(src *ProfileCfg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Username = src.Username
	c.Auth = src.Auth
	c.Server = src.Server
	c.AddressHistory = src.AddressHistory
	c.Triggers = src.Triggers
	c.ReplyDelimiter = src.ReplyDelimiter
	c.ReplyDelayMs = src.ReplyDelayMs
	c.Stealth = src.Stealth
	c.AntiAFK = src.AntiAFK
}

func GetProfile(name string) (*ProfileCfg, bool) {
	cfgMux.RLock()
	defer cfgMux.RUnlock()
	p, ok := Profiles[name]
	return p, ok
}

func GetProfiles() map[string]*ProfileCfg {
	cfgMux.RLock()
	defer cfgMux.RUnlock()
	out := make(map[string]*ProfileCfg, len(Profiles))
	for k, v := range Profiles {
		out[k] = v
	}
	return out
}

// SaveGlobal persists the global config. Write failures are returned, not
// swallowed: the caller acknowledges the operator only after a successful
// write.
func SaveGlobal(cfg *RoostCfg) error {
	if cfg == nil {
		return errors.New("global config is nil")
	}
	text, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshalling global config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(BaseDir(), "roost.yaml"), text, 0644); err != nil {
		return fmt.Errorf("error writing global config: %w", err)
	}
	return nil
}

// SaveProfile persists one profile. Validates first so corrected fields end up
// in the written YAML.
func SaveProfile(cfg *ProfileCfg) error {
	if cfg == nil || cfg.ProfileName == "" {
		return errors.New("profile config is nil or unnamed")
	}
	cfg.mu.Lock()
	cfg.Validate()
	text, err := yaml.Marshal(cfg)
	cfg.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error marshalling profile config: %w", err)
	}
	path := filepath.Join(BaseDir(), cfg.ProfileName, "profile.yaml")
	if err := os.WriteFile(path, text, 0644); err != nil {
		return fmt.Errorf("error writing profile config: %w", err)
	}
	return nil
}

// CreateFromTemplate scaffolds a new profile directory by copying the
// template directory.
func CreateFromTemplate(name string) error {
	if name == "" {
		return errors.New("profile name is required")
	}
	if _, exists := GetProfile(name); exists {
		return errors.New("profile already exists")
	}

	if err := cp.Copy(filepath.Join(BaseDir(), "template"), filepath.Join(BaseDir(), name)); err != nil {
		return fmt.Errorf("error copying template profile: %w", err)
	}

	return Load()
}
