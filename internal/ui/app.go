package ui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/cart"
	"github.com/five82/platter/internal/logtail"
	"github.com/five82/platter/internal/prefs"
	"github.com/five82/platter/internal/session"
	"github.com/five82/platter/internal/state"
	"github.com/five82/platter/internal/versions"
	"github.com/five82/platter/internal/wallet"
)

// View represents the current active view.
type View int

const (
	ViewOrder View = iota
	ViewCart
	ViewWallet
	ViewMenu
	ViewLogs
	viewCount
)

func (v View) String() string {
	switch v {
	case ViewOrder:
		return "Order"
	case ViewCart:
		return "Cart"
	case ViewWallet:
		return "Wallet"
	case ViewMenu:
		return "Menu"
	case ViewLogs:
		return "Logs"
	default:
		return "?"
	}
}

const (
	logTailLines   = 500
	defaultRefresh = time.Second
)

// Options configures the UI.
type Options struct {
	Context      context.Context
	Session      *session.Session
	LogPath      string
	Prefs        prefs.Prefs
	PrefsPath    string
	RefreshEvery time.Duration
}

// Model is the root application state for Bubble Tea.
type Model struct {
	ctx       context.Context
	session   *session.Session
	logPath   string
	prefs     prefs.Prefs
	prefsPath string
	refresh   time.Duration

	theme       Theme
	keys        keyMap
	help        help.Model
	currentView View
	width       int
	height      int
	showHelp    bool
	visible     bool

	tracking bool
	input    textinput.Model

	orderID  string
	order    state.Snapshot
	hasOrder bool
	cart     cart.State
	wallet   wallet.Snapshot
	versions versions.State
	menu     []api.MenuItem
	menuErr  string
	// Selected rows in the Menu and Cart views.
	menuCursor int
	cartCursor int
	logs     []logtail.Entry
	logView  viewport.Model
	notice   string
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	refresh := opts.RefreshEvery
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	input := textinput.New()
	input.Placeholder = "order id"
	input.CharLimit = 64

	return Model{
		ctx:         ctx,
		session:     opts.Session,
		logPath:     opts.LogPath,
		prefs:       opts.Prefs,
		prefsPath:   prefsPath,
		refresh:     refresh,
		theme:       GetTheme(opts.Prefs.Theme),
		keys:        DefaultKeyMap(),
		help:        help.New(),
		currentView: ViewOrder,
		visible:     true,
		input:       input,
		orderID:     opts.Prefs.LastOrderID,
		logView:     viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd(m.refresh), m.snapshotCmd()}
	if m.orderID != "" {
		cmds = append(cmds, m.trackCmd(m.orderID))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.logView.Width = msg.Width
		m.logView.Height = max(msg.Height-4, 1)
		m.updateLogView()
		return m, nil

	case tea.FocusMsg:
		m.setVisible(true)
		return m, nil

	case tea.BlurMsg:
		m.setVisible(false)
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(m.refresh), m.snapshotCmd()}
		if m.currentView == ViewMenu && m.visible {
			cmds = append(cmds, m.menuCmd())
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.applySnapshot(msg)
		return m, nil

	case menuMsg:
		m.menu, m.menuErr = msg.items, ""
		if msg.err != nil {
			m.menuErr = msg.err.Error()
		}
		m.menuCursor = clampCursor(m.menuCursor, len(m.menu))
		return m, nil

	case cartMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.cart = msg.state
		m.cartCursor = clampCursor(m.cartCursor, len(m.cart.Items))
		if msg.notice != "" {
			m.notice = msg.notice
		}
		return m, nil

	case trackedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.orderID = msg.orderID
		m.notice = "Tracking order " + msg.orderID
		m.prefs.RememberOrder(msg.orderID)
		return m, m.savePrefsCmd()

	case noticeMsg:
		m.notice = string(msg)
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.tracking {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.tracking = false
			id := m.input.Value()
			m.input.Blur()
			m.input.Reset()
			return m, m.trackCmd(id)
		case key.Matches(msg, m.keys.Escape):
			m.tracking = false
			m.input.Blur()
			m.input.Reset()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.prefs.Theme = m.theme.Name
		return m, m.savePrefsCmd()
	case key.Matches(msg, m.keys.Tab):
		m.currentView = (m.currentView + 1) % viewCount
	case key.Matches(msg, m.keys.ShiftTab):
		m.currentView = (m.currentView + viewCount - 1) % viewCount
	case key.Matches(msg, m.keys.ViewOrder):
		m.currentView = ViewOrder
	case key.Matches(msg, m.keys.ViewCart):
		m.currentView = ViewCart
	case key.Matches(msg, m.keys.ViewWallet):
		m.currentView = ViewWallet
	case key.Matches(msg, m.keys.ViewMenu):
		m.currentView = ViewMenu
		return m, m.menuCmd()
	case key.Matches(msg, m.keys.ViewLogs):
		m.currentView = ViewLogs
	case key.Matches(msg, m.keys.TrackOrder):
		m.tracking = true
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	case key.Matches(msg, m.keys.Up):
		switch m.currentView {
		case ViewLogs:
			m.logView.ScrollUp(1)
		case ViewMenu:
			m.menuCursor = clampCursor(m.menuCursor-1, len(m.menu))
		case ViewCart:
			m.cartCursor = clampCursor(m.cartCursor-1, len(m.cart.Items))
		}
	case key.Matches(msg, m.keys.Down):
		switch m.currentView {
		case ViewLogs:
			m.logView.ScrollDown(1)
		case ViewMenu:
			m.menuCursor = clampCursor(m.menuCursor+1, len(m.menu))
		case ViewCart:
			m.cartCursor = clampCursor(m.cartCursor+1, len(m.cart.Items))
		}
	case key.Matches(msg, m.keys.AddToCart), key.Matches(msg, m.keys.Confirm):
		if m.currentView == ViewMenu {
			return m, m.addToCartCmd()
		}
	case key.Matches(msg, m.keys.Increase):
		if id, ok := m.selectedCartItem(); ok && m.currentView == ViewCart {
			return m, m.cartCmd(func(ctx context.Context, c *cart.Store) (cart.State, error) {
				return c.IncrementQuantity(ctx, id)
			}, "")
		}
	case key.Matches(msg, m.keys.Decrease):
		if id, ok := m.selectedCartItem(); ok && m.currentView == ViewCart {
			return m, m.cartCmd(func(ctx context.Context, c *cart.Store) (cart.State, error) {
				return c.DecrementQuantity(ctx, id)
			}, "")
		}
	case key.Matches(msg, m.keys.Remove):
		if id, ok := m.selectedCartItem(); ok && m.currentView == ViewCart {
			return m, m.cartCmd(func(ctx context.Context, c *cart.Store) (cart.State, error) {
				return c.RemoveItem(ctx, id)
			}, "Removed from cart")
		}
	}
	return m, nil
}

func clampCursor(cursor, n int) int {
	if n == 0 {
		return 0
	}
	return min(max(cursor, 0), n-1)
}

func (m Model) selectedCartItem() (string, bool) {
	if m.cartCursor >= len(m.cart.Items) {
		return "", false
	}
	return m.cart.Items[m.cartCursor].ID, true
}

// setVisible forwards terminal focus to the session so pollers and streams
// pause while the dashboard is in the background.
func (m *Model) setVisible(visible bool) {
	m.visible = visible
	if m.session != nil {
		m.session.SetVisible(visible)
	}
}

func (m *Model) applySnapshot(msg snapshotMsg) {
	m.cart = msg.cart
	m.cartCursor = clampCursor(m.cartCursor, len(m.cart.Items))
	m.wallet = msg.wallet
	m.versions = msg.versions
	if msg.order.Notice != "" && msg.order.Notice != m.order.Notice {
		m.notice = msg.order.Notice
	}
	m.order, m.hasOrder = msg.order, msg.hasOrder
	follow := m.logView.AtBottom()
	m.logs = msg.logs
	m.updateLogView()
	if follow {
		m.logView.GotoBottom()
	}
}

// Messages

type tickMsg time.Time

type snapshotMsg struct {
	order    state.Snapshot
	hasOrder bool
	cart     cart.State
	wallet   wallet.Snapshot
	versions versions.State
	logs     []logtail.Entry
}

type menuMsg struct {
	items []api.MenuItem
	err   error
}

type trackedMsg struct {
	orderID string
	err     error
}

type noticeMsg string

type cartMsg struct {
	state  cart.State
	notice string
	err    error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) snapshotCmd() tea.Cmd {
	s, orderID, logPath := m.session, m.orderID, m.logPath
	return func() tea.Msg {
		var msg snapshotMsg
		if s != nil {
			msg.cart = s.Cart.State()
			msg.wallet = s.Wallet.Snapshot()
			msg.versions = s.Versions.State()
			if t, ok := s.Tracker(orderID); ok {
				msg.order, msg.hasOrder = t.Snapshot(), true
			}
		}
		if logPath != "" {
			msg.logs, _ = logtail.Tail(logPath, logTailLines)
		}
		return msg
	}
}

func (m Model) menuCmd() tea.Cmd {
	if m.session == nil {
		return nil
	}
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		items, err := s.Catalog.MenuItems(ctx)
		return menuMsg{items: items, err: err}
	}
}

func (m Model) addToCartCmd() tea.Cmd {
	if m.menuCursor >= len(m.menu) {
		return nil
	}
	item := m.menu[m.menuCursor]
	if !item.Available {
		return func() tea.Msg { return noticeMsg(item.Name + " is unavailable") }
	}
	return m.cartCmd(func(ctx context.Context, c *cart.Store) (cart.State, error) {
		return c.AddItem(ctx, cart.FromMenuItem(item))
	}, "Added "+item.Name)
}

// cartCmd runs one cart mutation off the update loop.
func (m Model) cartCmd(op func(context.Context, *cart.Store) (cart.State, error), notice string) tea.Cmd {
	if m.session == nil {
		return nil
	}
	ctx, c := m.ctx, m.session.Cart
	return func() tea.Msg {
		st, err := op(ctx, c)
		return cartMsg{state: st, notice: notice, err: err}
	}
}

func (m Model) trackCmd(orderID string) tea.Cmd {
	if m.session == nil {
		return nil
	}
	ctx, s, prev := m.ctx, m.session, m.orderID
	return func() tea.Msg {
		t, err := s.TrackOrder(ctx, orderID)
		if err != nil {
			return trackedMsg{err: err}
		}
		if prev != "" && prev != t.OrderID() {
			s.Untrack(prev)
		}
		return trackedMsg{orderID: t.OrderID()}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	if m.session == nil {
		return nil
	}
	ctx, s, view, orderID := m.ctx, m.session, m.currentView, m.orderID
	return func() tea.Msg {
		switch view {
		case ViewOrder:
			t, ok := s.Tracker(orderID)
			if !ok {
				return noticeMsg("No order tracked")
			}
			if err := t.Refresh(ctx); err != nil {
				return noticeMsg(err.Error())
			}
			return noticeMsg("Order refreshed")
		case ViewWallet:
			if err := s.Wallet.RefreshWalletData(ctx); err != nil {
				return noticeMsg(err.Error())
			}
			return noticeMsg("Wallet refreshed")
		case ViewMenu:
			if err := s.Versions.Poll(ctx); err != nil {
				return noticeMsg(err.Error())
			}
			items, err := s.Catalog.MenuItems(ctx)
			return menuMsg{items: items, err: err}
		}
		return nil
	}
}

func (m Model) savePrefsCmd() tea.Cmd {
	path, p := m.prefsPath, m.prefs
	return func() tea.Msg {
		if err := prefs.Save(path, p); err != nil {
			return noticeMsg("save prefs: " + err.Error())
		}
		return nil
	}
}

// Run starts the Bubble Tea program. Focus reporting lets the terminal tell
// the dashboard when it loses focus.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && m.ctx.Err() != nil {
		return nil
	}
	return err
}
