package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/platter/internal/orderstream"
	"github.com/five82/platter/internal/state"
)

// View implements tea.Model.
func (m Model) View() string {
	styles := m.theme.Styles()
	var body string
	if m.showHelp {
		body = m.help.FullHelpView(m.keys.FullHelp())
	} else {
		body = m.renderContent(styles)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(styles),
		body,
		m.renderFooter(styles),
	)
}

func (m Model) renderHeader(styles Styles) string {
	tabs := []string{styles.Logo.Render("platter")}
	for v := View(0); v < viewCount; v++ {
		style := styles.Tab
		if v == m.currentView {
			style = styles.ActiveTab
		}
		tabs = append(tabs, style.Render(v.String()))
	}
	if !m.visible {
		tabs = append(tabs, styles.FaintText.Render("paused"))
	}
	return styles.Header.Width(m.width).Render(strings.Join(tabs, " "))
}

func (m Model) renderFooter(styles Styles) string {
	if m.tracking {
		return styles.Footer.Width(m.width).Render("Track order: " + m.input.View())
	}
	parts := []string{m.help.ShortHelpView(m.keys.ShortHelp())}
	if m.notice != "" {
		parts = append(parts, styles.InfoText.Render(m.notice))
	}
	return styles.Footer.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderContent(styles Styles) string {
	switch m.currentView {
	case ViewOrder:
		return m.renderOrder(styles)
	case ViewCart:
		return m.renderCart(styles)
	case ViewWallet:
		return m.renderWallet(styles)
	case ViewMenu:
		return m.renderMenu(styles)
	case ViewLogs:
		return m.logView.View()
	default:
		return ""
	}
}

func (m Model) renderOrder(styles Styles) string {
	if !m.hasOrder {
		return styles.Panel.Render(styles.MutedText.Render("No order tracked. Press t to track one."))
	}
	snap := m.order
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styles.AccentText.Render("Order"), snap.OrderID)
	status := snap.Status()
	fmt.Fprintf(&b, "Status      %s\n", styles.StatusStyle(status).Render(status.Label()))
	fmt.Fprintf(&b, "Connection  %s", connectionLabel(styles, snap))
	if snap.Polling {
		b.WriteString(styles.WarningText.Render("  (polling)"))
	}
	b.WriteByte('\n')
	if snap.LastError != "" {
		style := styles.WarningText
		if snap.Fatal {
			style = styles.DangerText
		}
		fmt.Fprintf(&b, "%s\n", style.Render(snap.LastError))
	}
	if o := snap.Order; o != nil {
		if o.OrderNumber != "" {
			fmt.Fprintf(&b, "Number      %s\n", o.OrderNumber)
		}
		for _, item := range o.Items {
			fmt.Fprintf(&b, "  %2d × %-24s %8.2f\n", item.Quantity, item.Name, item.Price*float64(item.Quantity))
		}
		if o.Total > 0 {
			fmt.Fprintf(&b, "Total       %.2f\n", o.Total)
		}
		if len(o.StatusHistory) > 0 {
			b.WriteString(styles.MutedText.Render("History") + "\n")
			for _, h := range o.StatusHistory {
				fmt.Fprintf(&b, "  %s  %s\n", styles.FaintText.Render(h.Timestamp), h.Status.Label())
			}
		}
	}
	return styles.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func connectionLabel(styles Styles, snap state.Snapshot) string {
	label := snap.Connection.String()
	switch snap.Connection {
	case orderstream.StateOpen:
		return styles.SuccessText.Render(label)
	case orderstream.StateReconnecting:
		return styles.WarningText.Render(fmt.Sprintf("%s (attempt %d)", label, snap.ConsecutiveFailures))
	case orderstream.StateFailed:
		return styles.DangerText.Render(label)
	default:
		return styles.MutedText.Render(label)
	}
}

func (m Model) renderCart(styles Styles) string {
	if m.cart.Empty() {
		return styles.Panel.Render(styles.MutedText.Render("Cart is empty."))
	}
	var b strings.Builder
	for i, item := range m.cart.Items {
		fmt.Fprintf(&b, "%s%2d × %-24s %8.2f\n", cursorMark(styles, i == m.cartCursor), item.Quantity, item.Name, item.LineTotal())
	}
	fmt.Fprintf(&b, "%d items", m.cart.TotalItems)
	if m.cart.TotalPriceWithoutDiscount > m.cart.TotalPrice {
		fmt.Fprintf(&b, "  %s", styles.FaintText.Strikethrough(true).Render(fmt.Sprintf("%.2f", m.cart.TotalPriceWithoutDiscount)))
	}
	fmt.Fprintf(&b, "  %s", styles.SuccessText.Render(fmt.Sprintf("%.2f", m.cart.TotalPrice)))
	return styles.Panel.Render(b.String())
}

func (m Model) renderWallet(styles Styles) string {
	w := m.wallet
	var b strings.Builder
	fmt.Fprintf(&b, "Balance   %s\n", styles.SuccessText.Render(fmt.Sprintf("%.2f", w.Balance)))
	if w.ReferralCode != "" {
		fmt.Fprintf(&b, "Referral  %s  (%d/%d, earned %.2f)\n", styles.AccentText.Render(w.ReferralCode),
			w.ReferralStats.SuccessfulReferrals, w.ReferralStats.TotalReferrals, w.ReferralStats.TotalEarned)
	}
	if w.Error != "" {
		fmt.Fprintf(&b, "%s\n", styles.WarningText.Render(w.Error))
	}
	for _, tx := range w.Transactions {
		style := styles.SuccessText
		if tx.Amount < 0 {
			style = styles.DangerText
		}
		fmt.Fprintf(&b, "  %s  %s  %s\n", styles.FaintText.Render(tx.CreatedAt), style.Render(fmt.Sprintf("%+8.2f", tx.Amount)), tx.Description)
	}
	if w.BalanceFetchedAt.IsZero() {
		b.WriteString(styles.MutedText.Render("Press r to load the wallet."))
	}
	return styles.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderMenu(styles Styles) string {
	var b strings.Builder
	if m.versions.Known {
		v := m.versions.Current
		fmt.Fprintf(&b, "%s\n", styles.FaintText.Render(fmt.Sprintf("menu v%d  categories v%d  banners v%d", v.Menu, v.Categories, v.Banners)))
	}
	if m.menuErr != "" {
		fmt.Fprintf(&b, "%s\n", styles.WarningText.Render(m.menuErr))
	}
	for i, item := range m.menu {
		name := item.Name
		if !item.Available {
			name = styles.FaintText.Render(name + " (unavailable)")
		}
		fmt.Fprintf(&b, "%s%-32s %8.2f", cursorMark(styles, i == m.menuCursor), name, item.Price)
		if n := m.cart.Quantity(item.ID); n > 0 {
			fmt.Fprintf(&b, "  %s", styles.AccentText.Render(fmt.Sprintf("×%d in cart", n)))
		}
		b.WriteByte('\n')
	}
	if len(m.menu) == 0 && m.menuErr == "" {
		b.WriteString(styles.MutedText.Render("Loading menu..."))
	}
	return styles.Panel.Render(strings.TrimRight(b.String(), "\n"))
}

func cursorMark(styles Styles, selected bool) string {
	if selected {
		return styles.AccentText.Render("› ")
	}
	return "  "
}

func (m *Model) updateLogView() {
	lines := make([]string, len(m.logs))
	for i, e := range m.logs {
		lines[i] = e.String()
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
}
