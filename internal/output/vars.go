package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	success2Style = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light grey
	segmentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))            // purple
	streamStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

var StyleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"paused":  "‖",
	"info":    "ℹ",
	"arrow":   "→",
	"bullet":  "•",
	"dot":     "·",
	"hline":   "━",
}

// transfer status -> indicator symbol and message style
var statusSymbols = map[string]string{
	StatusSuccess: "pass",
	StatusError:   "fail",
	StatusWarning: "warning",
	StatusPaused:  "paused",
	StatusPending: "pending",
	StatusActive:  "bullet",
}

var statusStyles = map[string]lipgloss.Style{
	StatusSuccess: successStyle,
	StatusError:   errorStyle,
	StatusWarning: warningStyle,
	StatusPaused:  warningStyle,
	StatusPending: pendingStyle,
	StatusActive:  infoStyle,
}

// segment state names as reported by the engine
var segmentStyles = map[string]lipgloss.Style{
	"pending": pendingStyle,
	"active":  segmentStyle,
	"done":    successStyle,
	"failed":  errorStyle,
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}
func PrintHeader(text string) {
	fmt.Println(headerStyle.Render(text))
}
func FSuccess(text string) string {
	return successStyle.Render(text)
}
func FInfo(text string) string {
	return infoStyle.Render(text)
}
func FDebug(text string) string {
	return debugStyle.Render(text)
}
func FStream(text string) string {
	return streamStyle.Render(text)
}

// FSegmentState renders a segment state in its own colour.
func FSegmentState(state string) string {
	if style, ok := segmentStyles[state]; ok {
		return style.Render(state)
	}
	return debugStyle.Render(state)
}
