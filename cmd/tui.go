// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thermoquad/speedwire/pkg/speedwire"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// meterSummary is the latest reading of one energy meter
type meterSummary struct {
	timestamp time.Time
	origin    string
	serial    uint32
	firmware  string
	uptime    uint64 // milliseconds
	pIn       uint64
	pOut      uint64
	frequency uint64
	anomalies int
}

// TUI model
type model struct {
	info          string
	statsInterval int
	showAll       bool
	stats         *speedwire.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	meters        map[uint32]*meterSummary
	width         int
	height        int
	quitting      bool
}

// Messages
type tickMsg time.Time
type telegramMsg struct {
	telegram         speedwire.Telegram
	err              error
	validationErrors []speedwire.ValidationError
}
type timeoutMsg struct{}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24
	months := days / 30
	years := months / 12

	seconds %= 60
	minutes %= 60
	hours %= 24
	days %= 30
	months %= 12

	parts := []string{}
	for _, p := range []struct {
		n    uint64
		unit string
	}{
		{years, "year"}, {months, "month"}, {days, "day"},
		{hours, "hour"}, {minutes, "minute"},
	} {
		if p.n == 1 {
			parts = append(parts, "1 "+p.unit)
		} else if p.n > 1 {
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func initialModel(info string, statsInterval int, showAll bool) model {
	return model{
		info:          info,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         speedwire.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		meters:        make(map[uint32]*meterSummary),
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Update statistics rates
		m.stats.CalculateRates()
		return m, tickCmd()

	case timeoutMsg:
		m.stats.UpdateTimeout()
		m.addLogEntry("Receive timeout, no telegrams on the group", false)

	case telegramMsg:
		if msg.err != nil {
			m.stats.UpdateError(msg.err)
			if isParseError(msg.err) {
				m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.err), true)
			} else {
				m.addLogEntry(fmt.Sprintf("SOCKET ERROR: %v", msg.err), true)
			}
			break
		}

		t := msg.telegram
		m.stats.Update(t, msg.validationErrors)
		m.trackMeter(t, len(msg.validationErrors))

		if len(msg.validationErrors) > 0 {
			for _, err := range msg.validationErrors {
				m.addLogEntry(fmt.Sprintf("%s %s: %s", t.Kind(), t.Origin(), err.Message), true)
			}
		} else if t.Kind() == speedwire.KindDiscoveryResponse {
			m.addLogEntry(fmt.Sprintf("Discovery response from %s", t.Origin()), false)
		} else if m.showAll {
			m.addLogEntry(fmt.Sprintf("%s from %s (valid)", t.Kind(), t.Origin()), false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
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

// trackMeter keeps the latest summary of every energy meter
func (m *model) trackMeter(t speedwire.Telegram, anomalies int) {
	r, ok := t.(*speedwire.EnergyMeterReading)
	if !ok {
		return
	}

	s, ok := m.meters[r.Serial()]
	if !ok {
		s = &meterSummary{serial: r.Serial()}
		m.meters[r.Serial()] = s
		m.addLogEntry(fmt.Sprintf("New energy meter %d at %s", r.Serial(), t.Origin()), false)
	}
	s.timestamp = t.Timestamp()
	s.origin = t.Origin().String()
	s.firmware = r.FirmwareString()
	s.uptime = uint64(r.MeasuringTime())
	s.pIn, _ = r.Channel(speedwire.TotalPIn)
	s.pOut, _ = r.Channel(speedwire.TotalPOut)
	s.frequency, _ = r.Channel(speedwire.NetFrequency)
	s.anomalies += anomalies
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("SPEEDWIRE - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Listening: %s | Mode: %s | 'r' resets statistics, 'q' quits",
		m.info, func() string {
			if m.showAll {
				return "All telegrams"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	totalErrors := m.stats.ParseErrors + m.stats.OtherErrors + m.stats.AnomalousReadings
	var validPercent, errorPercent float64
	if m.stats.TotalTelegrams > 0 {
		valid := m.stats.TotalTelegrams - m.stats.ParseErrors - m.stats.AnomalousReadings
		validPercent = float64(valid) * 100.0 / float64(m.stats.TotalTelegrams)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalTelegrams)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalTelegrams)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Meter:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.EnergyMeter)),
		statsLabelStyle.Render("Discovery:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.DiscoveryResponses)),
		statsLabelStyle.Render("Generic:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Generic)),
	))

	if m.stats.ParseErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ParseErrors)),
			headerStyle.Render("envelope"), m.stats.EnvelopeErrors,
			headerStyle.Render("terminator"), m.stats.TerminatorErrors,
			headerStyle.Render("truncated"), m.stats.TruncatedErrors,
			headerStyle.Render("width"), m.stats.WidthErrors,
		))
	}

	if m.stats.AnomalousReadings > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousReadings)),
			headerStyle.Render("missing"), m.stats.MissingChannels,
			headerStyle.Render("power factor"), m.stats.PowerFactor,
			headerStyle.Render("frequency"), m.stats.Frequency,
			headerStyle.Render("voltage"), m.stats.Voltage,
			headerStyle.Render("bidirectional"), m.stats.Bidirectional,
		))
	}

	if m.stats.OtherErrors > 0 || m.stats.Timeouts > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Socket Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.OtherErrors)),
			statsLabelStyle.Render("Timeouts:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Timeouts)),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Telegram Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f tel/s", m.stats.TelegramRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Meters section (only shown once a reading arrived)
	if len(m.meters) > 0 {
		s.WriteString(statsLabelStyle.Render("Energy Meters:"))
		s.WriteString("\n")

		serials := make([]uint32, 0, len(m.meters))
		for serial := range m.meters {
			serials = append(serials, serial)
		}
		sort.Slice(serials, func(i, j int) bool { return serials[i] < serials[j] })

		metersContent := strings.Builder{}
		for i, serial := range serials {
			meter := m.meters[serial]
			if i > 0 {
				metersContent.WriteString("\n")
			}
			metersContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
				statsLabelStyle.Render("Serial:"), statsValueStyle.Render(fmt.Sprintf("%d", meter.serial)),
				statsLabelStyle.Render("Address:"), statsValueStyle.Render(meter.origin),
				statsLabelStyle.Render("Firmware:"), statsValueStyle.Render(meter.firmware),
			))
			metersContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
				statsLabelStyle.Render("Import:"), statsValueStyle.Render(speedwire.FormatValue(speedwire.TotalPIn, meter.pIn)),
				statsLabelStyle.Render("Export:"), statsValueStyle.Render(speedwire.FormatValue(speedwire.TotalPOut, meter.pOut)),
				statsLabelStyle.Render("Frequency:"), statsValueStyle.Render(speedwire.FormatValue(speedwire.NetFrequency, meter.frequency)),
			))
			metersContent.WriteString(fmt.Sprintf("%s %s",
				statsLabelStyle.Render("Uptime:"), statsValueStyle.Render(formatUptime(meter.uptime)),
			))
			if meter.anomalies > 0 {
				metersContent.WriteString("   " + warningStyle.Render(fmt.Sprintf("%d anomalies", meter.anomalies)))
			}
			metersContent.WriteString("\n")
		}

		s.WriteString(boxStyle.Render(metersContent.String()))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 15 - 4*len(m.meters) // Reserve space for header, stats and meters
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
