package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	OverridesAdded   []string
	OverridesRemoved []string
	OverridesChanged []string

	ModesChanged bool
	NewModes     ModesConfig

	CapabilitiesChanged bool
	NewDisabled         []string

	RateLimitChanged bool
	NewMaxRPM        int

	SchedulerChanged bool
	NewPollInterval  SchedulerConfig

	MainChatIDChanged bool
	NewMainChatID     int64

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.OverridesAdded) > 0 ||
		len(d.OverridesRemoved) > 0 ||
		len(d.OverridesChanged) > 0 ||
		d.ModesChanged ||
		d.CapabilitiesChanged ||
		d.RateLimitChanged ||
		d.SchedulerChanged ||
		d.MainChatIDChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	for id := range new.Agents.Overrides {
		if _, ok := old.Agents.Overrides[id]; !ok {
			d.OverridesAdded = append(d.OverridesAdded, id)
		}
	}
	for id := range old.Agents.Overrides {
		if _, ok := new.Agents.Overrides[id]; !ok {
			d.OverridesRemoved = append(d.OverridesRemoved, id)
		}
	}
	for id, newOv := range new.Agents.Overrides {
		if oldOv, ok := old.Agents.Overrides[id]; ok {
			if !reflect.DeepEqual(oldOv, newOv) {
				d.OverridesChanged = append(d.OverridesChanged, id)
			}
		}
	}
	slices.Sort(d.OverridesAdded)
	slices.Sort(d.OverridesRemoved)
	slices.Sort(d.OverridesChanged)

	if old.Modes != new.Modes {
		d.ModesChanged = true
		d.NewModes = new.Modes
	}

	if !slices.Equal(old.Capabilities.Disabled, new.Capabilities.Disabled) {
		d.CapabilitiesChanged = true
		d.NewDisabled = new.Capabilities.Disabled
	}

	if old.Agents.MaxRPM != new.Agents.MaxRPM {
		d.RateLimitChanged = true
		d.NewMaxRPM = new.Agents.MaxRPM
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewPollInterval = new.Scheduler
	}

	if old.Telegram.MainChatID != new.Telegram.MainChatID {
		d.MainChatIDChanged = true
		d.NewMainChatID = new.Telegram.MainChatID
	}

	// Non-reloadable warnings
	if old.LLM != new.LLM {
		d.NonReloadable = append(d.NonReloadable, "llm")
	}
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
