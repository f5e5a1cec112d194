package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tmail/internal/fastmail"
	"github.com/nhle/tmail/internal/model"
)

// SyncState represents the current state of the refresh loop.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the state of the last refresh.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a refresh completes.
type SyncResultMsg struct {
	Emails []model.MaskedEmail
	Error  error

	// AuthError is set when the token was rejected.
	AuthError bool

	// NewCount is the number of addresses not seen in earlier results.
	NewCount int
}

// Refresher fetches the full list of masked emails.
type Refresher interface {
	Refresh(ctx context.Context) ([]model.MaskedEmail, error)
}

// defaultInterval applies when New is given a non-positive interval.
const defaultInterval = 120 * time.Second

// Poller refreshes masked emails in the background and delivers the
// results to the Bubble Tea runtime.
type Poller struct {
	src       Refresher
	interval  time.Duration
	timeout   time.Duration
	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	status    SyncStatus
	seen      map[string]bool
	running   bool
}

// New creates a Poller that refreshes src every interval, bounding each
// refresh by timeout.
func New(src Refresher, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{
		src:       src,
		interval:  interval,
		timeout:   timeout,
		resultCh:  make(chan SyncResultMsg, 4),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start returns a tea.Cmd that starts the polling goroutine and
// subscribes to results.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.WaitForNextResult()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate refresh. A refresh already queued
// absorbs the trigger.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the state of the last refresh.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetch()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fetch()
		case <-p.triggerCh:
			p.fetch()
		}
	}
}

// fetch performs a single refresh and sends a SyncResultMsg.
func (p *Poller) fetch() {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	emails, err := p.src.Refresh(ctx)
	if err != nil {
		p.setStatus(SyncError, err)
		p.sendResult(SyncResultMsg{
			Error:     err,
			AuthError: fastmail.IsAuthError(err),
		})
		return
	}

	p.mu.Lock()
	newCount := 0
	if p.seen != nil {
		for _, me := range emails {
			if !p.seen[me.Email] {
				newCount++
			}
		}
	}
	p.seen = make(map[string]bool, len(emails))
	for _, me := range emails {
		p.seen[me.Email] = true
	}
	p.mu.Unlock()

	p.setStatus(SyncIdle, nil)
	p.sendResult(SyncResultMsg{Emails: emails, NewCount: newCount})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg without blocking once stopped.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	case <-p.stopCh:
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next refresh
// result. Call it again after handling each SyncResultMsg.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-p.resultCh:
			return result
		case <-p.stopCh:
			return nil
		}
	}
}
