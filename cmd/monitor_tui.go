// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	staleAfter = 5 * time.Second // meters send every second
	listWidth  = 30
)

// Focus states
const (
	focusMeterList = iota
	focusChannelTable
	focusFilter
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// meter represents an energy meter seen on the group
type meter struct {
	serial   uint32
	susyID   uint16
	origin   string
	lastSeen time.Time
	reading  *speedwire.EnergyMeterReading
}

// Implement list.Item interface
func (d meter) Title() string { return fmt.Sprintf("Meter %d", d.serial) }
func (d meter) Description() string {
	if time.Since(d.lastSeen) > staleAfter {
		return d.origin + " (stale)"
	}
	return d.origin
}
func (d meter) FilterValue() string { return fmt.Sprintf("%d", d.serial) }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	listener *speedwire.Listener
	info     string

	// Meter tracking
	meters    map[uint32]*meter
	meterList list.Model

	// Devices answering discovery requests
	devices map[string]time.Time

	// Channel view
	channelTable table.Model
	filterInput  textinput.Model
	focusedField int

	stats         *speedwire.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
	closed   bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorDataMsg struct {
	telegram speedwire.Telegram
}

type monitorErrorMsg struct {
	err error
}

type listenerClosedMsg struct{}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(l *speedwire.Listener, info string) monitorModel {
	// Initialize text input for the channel filter
	ti := textinput.New()
	ti.Placeholder = "name, OBIS or phase"
	ti.Prompt = "Filter: "
	ti.CharLimit = 24
	ti.Width = 24

	// Initialize meter list with empty items
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	meterList := list.New([]list.Item{}, delegate, listWidth, 10)
	meterList.Title = "Meters"
	meterList.SetShowStatusBar(false)
	meterList.SetShowHelp(false)
	meterList.SetFilteringEnabled(false)

	channelTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Channel", Width: 20},
			{Title: "OBIS", Width: 10},
			{Title: "Phase", Width: 6},
			{Title: "Value", Width: 16},
		}),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12"))
	channelTable.SetStyles(styles)

	return monitorModel{
		listener:      l,
		info:          info,
		meters:        make(map[uint32]*meter),
		meterList:     meterList,
		devices:       make(map[string]time.Time),
		channelTable:  channelTable,
		filterInput:   ti,
		focusedField:  focusMeterList,
		stats:         speedwire.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateSizes()

	case monitorTickMsg:
		m.stats.CalculateRates()
		// Refresh stale markers
		m.updateMeterList()
		return m, monitorTickCmd()

	case monitorDataMsg:
		m.processTelegram(msg.telegram)

	case monitorErrorMsg:
		m.stats.UpdateError(msg.err)
		if isParseError(msg.err) {
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("SOCKET ERROR: %v", msg.err), true)
		}

	case timeoutMsg:
		m.stats.UpdateTimeout()
		m.addLogEntry("Receive timeout, no telegrams on the group", false)

	case listenerClosedMsg:
		m.closed = true
		m.addLogEntry("Listener closed", true)
	}

	// Update child components
	var cmd tea.Cmd
	switch m.focusedField {
	case focusMeterList:
		m.meterList, cmd = m.meterList.Update(msg)
	case focusChannelTable:
		m.channelTable, cmd = m.channelTable.Update(msg)
	case focusFilter:
		m.filterInput, cmd = m.filterInput.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The filter swallows everything but its exit keys
	if m.focusedField == focusFilter {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter", "esc", "tab":
			m.filterInput.Blur()
			m.focusedField = focusChannelTable
			m.channelTable.Focus()
			m.updateChannelTable()
			return m, nil
		}
		var cmd tea.Cmd
		m.filterInput, cmd = m.filterInput.Update(msg)
		m.updateChannelTable()
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		if m.focusedField == focusMeterList {
			m.focusedField = focusChannelTable
			m.channelTable.Focus()
		} else {
			m.focusedField = focusMeterList
			m.channelTable.Blur()
		}
		return m, nil

	case "/":
		m.focusedField = focusFilter
		m.channelTable.Blur()
		return m, m.filterInput.Focus()

	case "d":
		if !m.closed {
			m.listener.SendDiscoveryRequest()
			m.addLogEntry("Discovery request sent", false)
		}
		return m, nil

	case "r":
		m.stats.Reset()
		m.addLogEntry("Statistics reset", false)
		return m, nil
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusMeterList {
		m.meterList, cmd = m.meterList.Update(msg)
		m.updateChannelTable()
	} else {
		m.channelTable, cmd = m.channelTable.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("SPEEDWIRE MONITOR"))
	s.WriteString(" ")
	status := m.info
	if m.closed {
		status = errorStyle.Render("LISTENER CLOSED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch /=filter d=discover", status)))
	s.WriteString("\n\n")

	if len(m.meters) == 0 {
		s.WriteString(warningStyle.Render("Waiting for energy meter readings..."))
		s.WriteString("\n")
		s.WriteString(fmt.Sprintf("Discovery responses: %d\n\n", len(m.devices)))
	} else {
		// Layout: left panel (meters) | right panel (channels)
		listStyle := boxStyle.Width(listWidth)
		tableStyle := boxStyle
		if m.focusedField == focusMeterList {
			listStyle = focusedBoxStyle.Width(listWidth)
		} else {
			tableStyle = focusedBoxStyle
		}

		right := strings.Builder{}
		right.WriteString(m.renderMeterHeader(statsLabelStyle, statsValueStyle))
		right.WriteString("\n")
		right.WriteString(m.filterInput.View())
		right.WriteString("\n")
		right.WriteString(m.channelTable.View())

		s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			listStyle.Render(m.meterList.View()), " ", tableStyle.Render(right.String())))
		s.WriteString("\n\n")
	}

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderMeterHeader(statsLabelStyle, statsValueStyle lipgloss.Style) string {
	selected := m.getSelectedMeter()
	if selected == nil || selected.reading == nil {
		return "No meter selected"
	}

	r := selected.reading
	return fmt.Sprintf("%s %s   %s %s   %s %s\n%s %s",
		statsLabelStyle.Render("SUSyID:"), statsValueStyle.Render(fmt.Sprintf("%d", r.SUSyID())),
		statsLabelStyle.Render("Serial:"), statsValueStyle.Render(fmt.Sprintf("%d", r.Serial())),
		statsLabelStyle.Render("Firmware:"), statsValueStyle.Render(r.FirmwareString()),
		statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(uint64(r.MeasuringTime()))),
	)
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	errorCount := m.stats.ParseErrors + m.stats.OtherErrors
	errText := statsValueStyle.Render(fmt.Sprintf("%d", errorCount))
	if errorCount > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", errorCount))
	}

	content := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s   %s %s",
		statsLabelStyle.Render("Telegrams:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalTelegrams)),
		statsLabelStyle.Render("Readings:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.EnergyMeter)),
		statsLabelStyle.Render("Errors:"), errText,
		statsLabelStyle.Render("Timeouts:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Timeouts)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tel/s", m.stats.TelegramRate)),
	)
	return boxStyle.Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.channelTable.Height() - 16
	if logHeight < 3 {
		logHeight = 3
	}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for i := startIdx; i < len(m.errorLog); i++ {
		entry := m.errorLog[i]
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(logContent.String()))
	return s.String()
}

//////////////////////////////////////////////////////////////
// Telegram Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processTelegram(t speedwire.Telegram) {
	switch v := t.(type) {
	case *speedwire.EnergyMeterReading:
		m.stats.Update(t, speedwire.ValidateReading(v))

		d, ok := m.meters[v.Serial()]
		if !ok {
			d = &meter{serial: v.Serial()}
			m.meters[v.Serial()] = d
			m.addLogEntry(fmt.Sprintf("New energy meter %d at %s", v.Serial(), t.Origin()), false)
		}
		d.susyID = v.SUSyID()
		d.origin = t.Origin().String()
		d.lastSeen = t.Timestamp()
		d.reading = v

		if !ok {
			m.updateMeterList()
		}
		if selected := m.getSelectedMeter(); selected != nil && selected.serial == v.Serial() {
			m.updateChannelTable()
		}

	case *speedwire.DiscoveryResponse:
		m.stats.Update(t, nil)
		origin := t.Origin().String()
		if _, ok := m.devices[origin]; !ok {
			m.addLogEntry(fmt.Sprintf("Device %s answered discovery", origin), false)
		}
		m.devices[origin] = t.Timestamp()

	default:
		m.stats.Update(t, nil)
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) getSelectedMeter() *meter {
	item := m.meterList.SelectedItem()
	if item == nil {
		return nil
	}
	return m.meters[item.(meter).serial]
}

// updateMeterList rebuilds the list items ordered by serial
func (m *monitorModel) updateMeterList() {
	serials := make([]uint32, 0, len(m.meters))
	for serial := range m.meters {
		serials = append(serials, serial)
	}
	sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

	items := make([]list.Item, len(serials))
	for i, serial := range serials {
		items[i] = *m.meters[serial]
	}
	m.meterList.SetItems(items)
	m.updateChannelTable()
}

// updateChannelTable shows the filtered channels of the selected meter
func (m *monitorModel) updateChannelTable() {
	selected := m.getSelectedMeter()
	if selected == nil || selected.reading == nil {
		m.channelTable.SetRows(nil)
		return
	}

	filter := strings.ToLower(strings.TrimSpace(m.filterInput.Value()))
	rows := make([]table.Row, 0, len(speedwire.Channels()))
	for _, id := range selected.reading.Identifiers() {
		v, _ := selected.reading.Value(id)
		c, known := speedwire.ChannelByID(id)

		row := table.Row{"?", id.String(), "", fmt.Sprintf("%d", v)}
		if known {
			row = table.Row{c.Name, id.String(), c.Phase().String(), speedwire.FormatValue(c, v)}
		}
		if filter != "" && !strings.Contains(strings.ToLower(strings.Join(row[:3], " ")), filter) {
			continue
		}
		rows = append(rows, row)
	}
	m.channelTable.SetRows(rows)
}

func (m *monitorModel) updateSizes() {
	// Adjust list and table size based on terminal size
	height := m.height / 2
	if height < 6 {
		height = 6
	}
	m.meterList.SetSize(listWidth-2, height)
	m.channelTable.SetHeight(height - 4)
}
