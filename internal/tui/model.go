// Package tui renders live sync and download progress with Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/tui/styles"
)

const (
	labelWidth = 28
	barWidth   = 24
)

// entityOrder fixes the row order of the sync section
var entityOrder = []domain.Entity{
	domain.EntityCategories,
	domain.EntityTracks,
	domain.EntityHomeSections,
}

// Options configures a progress view
type Options struct {
	Title string
	Job   Job

	Sync      <-chan domain.SyncProgress
	Downloads <-chan domain.DownloadProgress

	// Tracks are listed as pending rows, in order, before their first event.
	Tracks    []domain.Track
	UsedBytes func() int64

	Input  io.Reader
	Output io.Writer
}

type keyMap struct {
	Stop key.Binding
}

var keys = keyMap{
	Stop: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "stop"),
	),
}

type syncRow struct {
	progress domain.SyncProgress
}

type downloadRow struct {
	id       string
	label    string
	progress int
	status   domain.DownloadStatus
	err      string
	removed  bool
}

// Model is the Bubble Tea model of a progress view
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	syncRows map[domain.Entity]*syncRow
	order    []string
	rows     map[string]*downloadRow

	spinner spinner.Model
	bar     progress.Model

	stopping  bool
	done      bool
	err       error
	usedBytes int64
}

// NewModel builds a view that runs opts.Job under ctx. Stopping the view
// cancels ctx and waits for the job to return.
func NewModel(ctx context.Context, opts Options) Model {
	ctx, cancel := context.WithCancel(ctx)
	m := Model{
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		syncRows: make(map[domain.Entity]*syncRow),
		rows:     make(map[string]*downloadRow),
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(styles.SpinnerStyle),
		),
		bar: progress.New(
			progress.WithSolidFill(string(styles.Dusk)),
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
		),
	}
	for _, t := range opts.Tracks {
		m.row(t.ID).label = t.Title
	}
	return m
}

// Init starts the job, the listeners and the spinner
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.opts.Job != nil {
		cmds = append(cmds, runJobCmd(m.ctx, m.opts.Job, m.opts.UsedBytes))
	}
	if c := listenSyncCmd(m.opts.Sync); c != nil {
		cmds = append(cmds, c)
	}
	if c := listenDownloadCmd(m.opts.Downloads); c != nil {
		cmds = append(cmds, c)
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !key.Matches(msg, keys.Stop) {
			return m, nil
		}
		if m.stopping {
			return m, tea.Quit
		}
		m.stopping = true
		m.cancel()
		return m, nil

	case SyncProgressMsg:
		m.applySync(msg.Progress)
		return m, msg.NextCmd

	case DownloadProgressMsg:
		m.applyDownload(msg.Progress)
		return m, msg.NextCmd

	case JobDoneMsg:
		for _, p := range msg.Final {
			m.applyDownload(p)
		}
		m.done = true
		m.err = msg.Err
		m.usedBytes = msg.UsedBytes
		m.cancel()
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applySync(p domain.SyncProgress) {
	row, ok := m.syncRows[p.Entity]
	if !ok {
		row = &syncRow{}
		m.syncRows[p.Entity] = row
	}
	if row.progress.Done && p.Started {
		// a later pass over the same entity restarts the row
		row.progress = domain.SyncProgress{}
	}
	row.progress.Entity = p.Entity
	row.progress.Started = row.progress.Started || p.Started
	if p.Done {
		row.progress = p
	}
}

func (m *Model) applyDownload(p domain.DownloadProgress) {
	row := m.row(p.TrackID)
	if p.Removed {
		row.removed = true
		return
	}
	row.removed = false
	row.status = p.Status
	row.err = p.Error
	if p.Status == domain.StatusCompleted {
		row.progress = 100
	} else if p.Progress > row.progress || p.Status == domain.StatusPending {
		row.progress = p.Progress
	}
}

func (m *Model) row(id string) *downloadRow {
	if r, ok := m.rows[id]; ok {
		return r
	}
	r := &downloadRow{id: id, label: id, status: domain.StatusPending}
	m.rows[id] = r
	m.order = append(m.order, id)
	return r
}

// Err returns the job's error, or context.Canceled when the view quit
// before the job returned.
func (m Model) Err() error {
	if !m.done {
		return context.Canceled
	}
	return m.err
}

// View renders the view
func (m Model) View() string {
	var b strings.Builder
	if m.opts.Title != "" {
		b.WriteString(styles.TitleStyle.Render(m.opts.Title))
		b.WriteString("\n\n")
	}

	for _, e := range entityOrder {
		if row, ok := m.syncRows[e]; ok {
			b.WriteString(m.renderSync(row.progress))
			b.WriteString("\n")
		}
	}
	if len(m.syncRows) > 0 && len(m.order) > 0 {
		b.WriteString("\n")
	}
	for _, id := range m.order {
		b.WriteString(m.renderDownload(m.rows[id]))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return styles.Frame.Render(b.String())
}

func (m Model) renderSync(p domain.SyncProgress) string {
	label := styles.LabelStyle.Render(styles.Pad(string(p.Entity), 14))
	if !p.Done {
		return m.spinner.View() + " " + label + styles.DimStyle.Render("syncing")
	}
	r := p.Result
	switch {
	case p.FromCache:
		return styles.WarnStyle.Render(styles.FromCacheChar) + " " + label + styles.WarnStyle.Render("offline, serving cache")
	case p.Error != nil:
		return styles.ErrorStyle.Render(styles.FailedChar) + " " + label + styles.ErrorStyle.Render(p.Error.Error())
	case r.NotModified:
		return styles.SuccessStyle.Render(styles.DoneChar) + " " + label + styles.DimStyle.Render("not modified")
	}
	detail := fmt.Sprintf("+%d ~%d -%d", r.Added, r.Updated, r.Deleted)
	if r.UpdateOnly {
		detail += styles.WarnStyle.Render("  partial snapshot, kept local rows")
	}
	return styles.SuccessStyle.Render(styles.DoneChar) + " " + label + detail
}

func (m Model) renderDownload(r *downloadRow) string {
	label := styles.LabelStyle.Render(styles.Pad(styles.Truncate(r.label, labelWidth), labelWidth))
	if r.removed {
		return styles.DimStyle.Render(styles.RemovedChar) + " " + label + " " + styles.DimStyle.Render("removed")
	}
	icon := styles.StatusIcon(r.status)
	if !r.status.Terminal() && !m.done {
		icon = m.spinner.View()
	}
	line := icon + " " + label + " " + m.bar.ViewAs(float64(r.progress)/100) + fmt.Sprintf(" %3d%%", r.progress)
	switch r.status {
	case domain.StatusFailed:
		line += " " + styles.ErrorStyle.Render(r.err)
	case domain.StatusPaused:
		line += " " + styles.WarnStyle.Render("paused")
	}
	return line
}

func (m Model) footer() string {
	if !m.done {
		if m.stopping {
			return styles.DimStyle.Render("stopping...")
		}
		return styles.HelpKeyStyle.Render(keys.Stop.Help().Key) + " " + styles.HelpDescStyle.Render(keys.Stop.Help().Desc)
	}
	completed := 0
	for _, r := range m.rows {
		if r.status == domain.StatusCompleted && !r.removed {
			completed++
		}
	}
	var parts []string
	if len(m.rows) > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d downloaded", completed, len(m.rows)))
	}
	if m.opts.UsedBytes != nil {
		parts = append(parts, humanize.Bytes(uint64(m.usedBytes))+" on disk")
	}
	if m.err != nil {
		parts = append(parts, styles.ErrorStyle.Render(m.err.Error()))
	}
	if len(parts) == 0 {
		return styles.SuccessStyle.Render("done")
	}
	return strings.Join(parts, styles.DimStyle.Render(" · "))
}

// Run shows the view until the job returns and reports the job's error.
func Run(ctx context.Context, opts Options) error {
	m := NewModel(ctx, opts)
	defer m.cancel()

	var popts []tea.ProgramOption
	if opts.Input != nil {
		popts = append(popts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		popts = append(popts, tea.WithOutput(opts.Output))
	}
	final, err := tea.NewProgram(m, popts...).Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	if fm, ok := final.(Model); ok {
		return fm.Err()
	}
	return nil
}
