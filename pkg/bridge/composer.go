package bridge

import "fmt"

// Composer collects the components used by a FolderAccessBridge. Only the
// provider and the settings store are required; without a picker, folder
// selection fails with ErrNoPickerHost, and without a locker an in-process
// fallback is used.
type Composer struct {
	Provider DocumentProvider

	UsesSettings bool
	Settings     SettingsStore
	UsesPicker   bool
	Picker       Picker
	UsesLocker   bool
	Locker       Locker
}

// NewComposer creates a new and empty composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Capabilities returns a string representing the provided extensions in a
// human-readable format meant for debugging.
func (c *Composer) Capabilities() string {
	str := "Provider: "
	if c.Provider != nil {
		str += fmt.Sprintf("%T", c.Provider)
	} else {
		str += "✗"
	}

	str += ` Settings: `
	if c.UsesSettings {
		str += fmt.Sprintf("%T", c.Settings)
	} else {
		str += "✗"
	}
	str += ` Picker: `
	if c.UsesPicker {
		str += fmt.Sprintf("%T", c.Picker)
	} else {
		str += "✗"
	}
	str += ` Locker: `
	if c.UsesLocker {
		str += fmt.Sprintf("%T", c.Locker)
	} else {
		str += "✗"
	}

	return str
}

func (c *Composer) UseProvider(provider DocumentProvider) {
	c.Provider = provider
}

func (c *Composer) UseSettings(x SettingsStore) {
	c.UsesSettings = x != nil
	c.Settings = x
}

func (c *Composer) UsePicker(x Picker) {
	c.UsesPicker = x != nil
	c.Picker = x
}

func (c *Composer) UseLocker(x Locker) {
	c.UsesLocker = x != nil
	c.Locker = x
}
