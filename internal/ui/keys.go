package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines all keyboard bindings for the dashboard.
type keyMap struct {
	Quit       key.Binding
	Help       key.Binding
	CycleTheme key.Binding
	Tab        key.Binding
	ShiftTab   key.Binding
	Escape     key.Binding

	ViewOrder  key.Binding
	ViewCart   key.Binding
	ViewWallet key.Binding
	ViewMenu   key.Binding
	ViewLogs   key.Binding

	Refresh    key.Binding
	TrackOrder key.Binding
	Up         key.Binding
	Down       key.Binding

	AddToCart key.Binding
	Increase  key.Binding
	Decrease  key.Binding
	Remove    key.Binding

	Confirm key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("h", "?"),
			key.WithHelp("h/?", "Toggle help"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "Cycle theme"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "Cycle views"),
		),
		ShiftTab: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "Cycle views (reverse)"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Cancel"),
		),

		ViewOrder: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "Order"),
		),
		ViewCart: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Cart"),
		),
		ViewWallet: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "Wallet"),
		),
		ViewMenu: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "Menu"),
		),
		ViewLogs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "Logs"),
		),

		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Refresh view"),
		),
		TrackOrder: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "Track an order"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "Scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "Scroll down"),
		),

		AddToCart: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "Add menu item to cart"),
		),
		Increase: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "More of cart item"),
		),
		Decrease: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "Less of cart item"),
		),
		Remove: key.NewBinding(
			key.WithKeys("x", "delete"),
			key.WithHelp("x", "Remove cart item"),
		),

		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Confirm"),
		),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.TrackOrder, k.Refresh, k.Help, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ViewOrder, k.ViewCart, k.ViewWallet, k.ViewMenu, k.ViewLogs},
		{k.Up, k.Down},
		{k.AddToCart, k.Increase, k.Decrease, k.Remove},
		{k.TrackOrder, k.Refresh},
		{k.CycleTheme, k.Help, k.Quit},
	}
}
