package output

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
	StatusPaused  = "paused"
)

type segmentView struct {
	written int64
	total   int64
	state   string
}

// TransferOutput is the display state of one transfer.
type TransferOutput struct {
	ID          int
	Name        string
	Status      string
	Message     string
	Note        string
	Downloaded  int64
	Total       int64
	Segments    map[int]*segmentView
	StreamLines []string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

type Manager struct {
	outputs      map[int]*TransferOutput
	mutex        sync.RWMutex
	numLines     int
	maxStreams   int
	maxSegments  int
	errors       []ErrorReport
	doneCh       chan struct{}
	displayTick  time.Duration
	count        int
	displayWg    sync.WaitGroup
	interactive  bool
	showSegments bool
}

func NewManager() *Manager {
	return &Manager{
		outputs:     make(map[int]*TransferOutput),
		maxStreams:  10,
		maxSegments: 8,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
		interactive: IsTerminal(),
	}
}

// ShowSegments adds one progress line per active segment below each transfer.
func (m *Manager) ShowSegments(show bool) {
	m.showSegments = show
}

func (m *Manager) Interactive() bool {
	return m.interactive
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.count++
	m.outputs[m.count] = &TransferOutput{
		ID:          m.count,
		Name:        name,
		Status:      StatusPending,
		Total:       -1,
		Segments:    make(map[int]*segmentView),
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}
	return m.count
}

func (m *Manager) SetName(id int, name string) {
	m.update(id, func(info *TransferOutput) { info.Name = name })
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(info *TransferOutput) { info.Message = message })
}

func (m *Manager) SetStatus(id int, status string) {
	m.update(id, func(info *TransferOutput) { info.Status = status })
}

func (m *Manager) SetNote(id int, note string) {
	m.update(id, func(info *TransferOutput) { info.Note = note })
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if info, exists := m.outputs[id]; exists {
		return info.Status
	}
	return "unknown"
}

// UpdateProgress records transfer-level progress. A negative total means the
// size is not known yet.
func (m *Manager) UpdateProgress(id int, downloaded, total int64) {
	m.update(id, func(info *TransferOutput) {
		info.Downloaded = downloaded
		info.Total = total
		if info.Status == StatusPending {
			info.Status = StatusActive
		}
	})
}

func (m *Manager) UpdateSegment(id, segment int, written, total int64, state string) {
	m.update(id, func(info *TransferOutput) {
		seg, ok := info.Segments[segment]
		if !ok {
			seg = &segmentView{}
			info.Segments[segment] = seg
		}
		seg.written, seg.total, seg.state = written, total, state
	})
}

// ResetSegments drops the segment views after the transfer was re-planned.
func (m *Manager) ResetSegments(id int) {
	m.update(id, func(info *TransferOutput) { info.Segments = make(map[int]*segmentView) })
}

func (m *Manager) AddStreamLine(id int, line string) {
	m.update(id, func(info *TransferOutput) {
		info.StreamLines = append(info.StreamLines, wrapText(line, 2+4)...)
		if len(info.StreamLines) > m.maxStreams {
			info.StreamLines = info.StreamLines[len(info.StreamLines)-m.maxStreams:]
		}
	})
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, StatusSuccess, message, nil)
}

// Pause marks a transfer that stopped with a resumable checkpoint.
func (m *Manager) Pause(id int, message string) {
	m.finish(id, StatusPaused, message, nil)
}

func (m *Manager) ReportError(id int, err error) {
	m.finish(id, StatusError, "", err)
}

func (m *Manager) finish(id int, status, message string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	info, exists := m.outputs[id]
	if !exists {
		return
	}
	info.StreamLines = nil
	info.Segments = make(map[int]*segmentView)
	info.Complete = true
	info.Status = status
	info.Error = err
	info.LastUpdated = time.Now()
	switch {
	case message != "":
		info.Message = message
	case err != nil:
		info.Message = fmt.Sprintf("Failed %s", info.Name)
	default:
		info.Message = fmt.Sprintf("Completed %s", info.Name)
	}
	if err != nil {
		m.errors = append(m.errors, ErrorReport{Name: info.Name, Error: err, Time: time.Now()})
	}
	if !m.interactive {
		fmt.Println(m.statusLine(info))
	}
}

func (m *Manager) update(id int, fn func(*TransferOutput)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if info, exists := m.outputs[id]; exists {
		fn(info)
		info.LastUpdated = time.Now()
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	style, ok := statusStyles[status]
	if !ok {
		style = infoStyle
	}
	return style.Render(StyleSymbols[cmp.Or(statusSymbols[status], "bullet")])
}

func (m *Manager) styleMessage(status, message string) string {
	if status == StatusActive {
		return pendingStyle.Render(message)
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(message)
	}
	return pendingStyle.Render(message)
}

func (m *Manager) statusLine(info *TransferOutput) string {
	elapsed := time.Since(info.StartTime).Round(time.Second)
	if info.Complete {
		elapsed = info.LastUpdated.Sub(info.StartTime).Round(time.Second)
	}
	return fmt.Sprintf("%s%s %s %s", strings.Repeat(" ", 2), m.GetStatusIndicator(info.Status),
		debugStyle.Render(elapsed.String()), m.styleMessage(info.Status, info.Message))
}

// detailLines renders the progress bar, the segment lines and any stream
// output of an active transfer.
func (m *Manager) detailLines(info *TransferOutput) []string {
	var lines []string
	if info.Status == StatusActive {
		elapsed := time.Since(info.StartTime).Seconds()
		text := fmt.Sprintf("%s / %s", FormatBytes(info.Downloaded), FormatBytes(info.Total))
		lines = append(lines, fmt.Sprintf("%s%s %s %s", PrintProgressBar(info.Downloaded, info.Total, 30),
			debugStyle.Render(text), StyleSymbols["bullet"], debugStyle.Render(FormatSpeed(info.Downloaded, elapsed))))
		if info.Note != "" {
			lines = append(lines, info.Note)
		}
	}
	if m.showSegments && len(info.Segments) > 1 {
		ids := make([]int, 0, len(info.Segments))
		for id, seg := range info.Segments {
			if seg.state == "active" || seg.state == "failed" {
				ids = append(ids, id)
			}
		}
		sort.Ints(ids)
		if len(ids) > m.maxSegments {
			ids = ids[:m.maxSegments]
		}
		for _, id := range ids {
			seg := info.Segments[id]
			lines = append(lines, fmt.Sprintf("%s#%-3d %s", PrintProgressBar(seg.written, seg.total, 20), id, FSegmentState(seg.state)))
		}
	}
	return append(lines, info.StreamLines...)
}

func (m *Manager) sorted() (active, pending, completed []*TransferOutput) {
	all := make([]*TransferOutput, 0, len(m.outputs))
	for _, info := range m.outputs {
		all = append(all, info)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, info := range all {
		switch {
		case info.Complete:
			completed = append(completed, info)
		case info.Status == StatusPending && info.Message == "":
			pending = append(pending, info)
		default:
			active = append(active, info)
		}
	}
	return active, pending, completed
}

func (m *Manager) render() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	available := getTerminalHeight() - 3
	active, pending, completed := m.sorted()

	var lines []string
	for _, info := range active {
		lines = append(lines, m.statusLine(info))
		for _, line := range m.detailLines(info) {
			lines = append(lines, strings.Repeat(" ", 2+4)+streamStyle.Render(line))
		}
	}
	for range pending {
		lines = append(lines, fmt.Sprintf("%s%s %s", strings.Repeat(" ", 2), m.GetStatusIndicator(StatusPending), pendingStyle.Render("Waiting...")))
	}
	if len(completed) > 10 {
		lines = append(lines, infoStyle.Render(fmt.Sprintf("%s%d transfers completed with varying hidden status ...", strings.Repeat(" ", 2), len(completed)-8)))
		completed = completed[len(completed)-8:]
	}
	for _, info := range completed {
		lines = append(lines, m.statusLine(info))
	}
	if available > 0 && len(lines) > available {
		lines = lines[:available]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	lines := m.render()
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	m.numLines = len(lines)
}

// StartDisplay redraws the live view until StopDisplay. Without a terminal
// nothing is redrawn; finished transfers print one line each instead.
func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
	m.ShowSummary()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", 2) + errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Printf("%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Name))
		fmt.Printf("%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

func (m *Manager) ShowSummary() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Println()
	var success, failures, paused int
	for _, info := range m.outputs {
		switch info.Status {
		case StatusSuccess:
			success++
		case StatusError:
			failures++
		case StatusPaused:
			paused++
		}
	}
	fmt.Println(strings.Repeat(" ", 2) + success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.outputs))))
	if paused > 0 {
		fmt.Println(strings.Repeat(" ", 2) + warningStyle.Render(fmt.Sprintf("Paused %d of %d (run again to resume)", paused, len(m.outputs))))
	}
	if failures > 0 {
		fmt.Println(strings.Repeat(" ", 2) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.outputs))))
	}
	m.displayErrors()
	fmt.Println()
}
