package tui

import "github.com/charmbracelet/bubbles/key"

// listKeys holds key bindings for a list screen.
type listKeys struct {
	Up       key.Binding
	Down     key.Binding
	Previous key.Binding
	Next     key.Binding
	Filter   key.Binding
	PageSize key.Binding
	Delete   key.Binding
	Confirm  key.Binding
	Cancel   key.Binding
	Refresh  key.Binding
	Quit     key.Binding
}

// ShortHelp returns the bindings shown in the help bar.
func (k listKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Previous, k.Next, k.Filter, k.Delete, k.Quit}
}

// FullHelp returns the bindings grouped for expanded help.
func (k listKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Previous, k.Next},
		{k.Filter, k.PageSize, k.Refresh},
		{k.Delete, k.Confirm, k.Cancel, k.Quit},
	}
}

// confirmKeys is the help shown while a delete waits for confirmation.
type confirmKeys struct {
	Confirm key.Binding
	Cancel  key.Binding
}

func (k confirmKeys) ShortHelp() []key.Binding  { return []key.Binding{k.Confirm, k.Cancel} }
func (k confirmKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

// ListKeyMap returns the key bindings of a list screen.
func ListKeyMap() listKeys {
	return listKeys{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Previous: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "prev page"),
		),
		Next: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next page"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		PageSize: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "page size"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "delete"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "confirm"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n/esc", "cancel"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
