package client

import (
	"context"
	"sync"
	"time"

	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
	"github.com/draftwire/draftwire/internal/service"
)

type State int

const (
	StateIdle State = iota
	StateEditing
	StateSaving
	StateSaved
	StateConflicted
)

type Resolution int

const (
	KeepMine Resolution = iota
	UseServer
	RetryMerge
)

type SaveResult struct {
	Conflict       bool
	NewVersion     int
	CurrentVersion int
	ServerContent  string
}

type Activity struct {
	ActiveUsers    []string `json:"active_users"`
	CurrentVersion int      `json:"current_version"`
	LastModifiedBy string   `json:"last_modified_by"`
	LastModifiedAt int64    `json:"last_modified_at"`
}

type DraftSnapshot struct {
	Content string `json:"content"`
	Version int    `json:"version"`
}

// API is the server surface the controller drives. HTTPClient is the real
// implementation; tests substitute a fake.
type API interface {
	Save(ctx context.Context, draftID, content string, expectedVersion int) (*SaveResult, error)
	Activity(ctx context.Context, draftID string) (*Activity, error)
	FetchDraft(ctx context.Context, draftID string) (*DraftSnapshot, error)
}

// Conflict is what gets surfaced to the user when auto-merge declined the
// retry. ServerVersion is the expected version for a KeepMine/RetryMerge
// resolution.
type Conflict struct {
	LocalContent  string
	ServerContent string
	ServerVersion int
}

type Hooks struct {
	Saved         func(version int)
	RemoteUpdated func(editorID, content string, version int)
	Conflicted    func(Conflict)
	SaveFailed    func(err error)
}

type Options struct {
	DebounceDelay   time.Duration
	PollInterval    time.Duration
	MaxMergeRetries int
	RetryBackoff    time.Duration
	Merge           service.MergeThresholds
}

func (o *Options) applyDefaults() {
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxMergeRetries <= 0 {
		o.MaxMergeRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 250 * time.Millisecond
	}
	if o.Merge.Window == 0 {
		o.Merge = service.DefaultMergeThresholds()
	}
}

// Controller runs the per-draft reconciliation state machine: debounced
// auto-save with the locally known version, conflict handling with a bounded
// auto-merge retry, and a poll loop that folds server-side changes back into
// the local view. Push events and poll results share one lastKnown version
// guard so a change observed by both transports is applied once.
type Controller struct {
	api     API
	draftID string
	opts    Options
	hooks   Hooks

	mu          sync.Mutex
	state       State
	content     string
	version     int
	lastSavedAt time.Time
	conflict    *Conflict
	debounce    *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(api API, draftID, content string, version int, opts Options, hooks Hooks) *Controller {
	opts.applyDefaults()
	return &Controller{
		api:     api,
		draftID: draftID,
		opts:    opts,
		hooks:   hooks,
		state:   StateIdle,
		content: content,
		version: version,
	}
}

func (c *Controller) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.pollLoop()
}

func (c *Controller) Stop() {
	c.mu.Lock()
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Version() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Edit records a local change and arms the debounce timer. Further edits
// before expiry push the save out again.
func (c *Controller) Edit(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	c.state = StateEditing
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.opts.DebounceDelay, func() {
		c.save()
	})
}

// Flush saves immediately, bypassing the debounce. No-op unless there are
// unsaved edits.
func (c *Controller) Flush() {
	c.mu.Lock()
	if c.state != StateEditing {
		c.mu.Unlock()
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.mu.Unlock()
	c.save()
}

// Resolve applies the user's choice for a surfaced conflict.
func (c *Controller) Resolve(resolution Resolution) {
	c.mu.Lock()
	conflict := c.conflict
	if conflict == nil {
		c.mu.Unlock()
		return
	}
	c.conflict = nil
	switch resolution {
	case UseServer:
		c.content = conflict.ServerContent
		c.version = conflict.ServerVersion
		c.state = StateIdle
		c.mu.Unlock()
	case KeepMine, RetryMerge:
		c.content = conflict.LocalContent
		c.version = conflict.ServerVersion
		c.state = StateEditing
		c.mu.Unlock()
		c.save()
	default:
		c.mu.Unlock()
	}
}

// ApplyPush feeds a content-updated event from the push channel through the
// shared version guard.
func (c *Controller) ApplyPush(editorID, content string, version int) {
	c.applyRemote(editorID, content, version)
}

func (c *Controller) save() {
	c.mu.Lock()
	content := c.content
	expected := c.version
	c.state = StateSaving
	c.mu.Unlock()

	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	retries := 0
	for {
		result, err := c.api.Save(ctx, c.draftID, content, expected)
		if err != nil {
			if appErr.IsUnavailable(err) && retries < c.opts.MaxMergeRetries {
				// No version was consumed, so the same expectedVersion is
				// still the right one to retry with.
				retries++
				if !c.sleep(c.opts.RetryBackoff) {
					return
				}
				continue
			}
			c.failSave(err)
			return
		}
		if !result.Conflict {
			c.finishSave(content, result.NewVersion)
			return
		}
		if retries < c.opts.MaxMergeRetries && service.CanAutoMerge(content, result.ServerContent, c.opts.Merge) {
			retries++
			expected = result.CurrentVersion
			if !c.sleep(c.opts.RetryBackoff) {
				return
			}
			continue
		}
		c.surfaceConflict(content, result)
		return
	}
}

func (c *Controller) finishSave(saved string, newVersion int) {
	c.mu.Lock()
	c.version = newVersion
	c.lastSavedAt = time.Now()
	if c.content == saved {
		c.state = StateIdle
	} else {
		// More typing happened while the save was in flight; the debounce
		// timer for it is already armed.
		c.state = StateEditing
	}
	hook := c.hooks.Saved
	c.mu.Unlock()
	if hook != nil {
		hook(newVersion)
	}
}

func (c *Controller) failSave(err error) {
	c.mu.Lock()
	c.state = StateEditing
	hook := c.hooks.SaveFailed
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func (c *Controller) surfaceConflict(local string, result *SaveResult) {
	conflict := Conflict{
		LocalContent:  local,
		ServerContent: result.ServerContent,
		ServerVersion: result.CurrentVersion,
	}
	c.mu.Lock()
	c.state = StateConflicted
	c.conflict = &conflict
	hook := c.hooks.Conflicted
	c.mu.Unlock()
	if hook != nil {
		hook(conflict)
	}
}

func (c *Controller) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

func (c *Controller) pollOnce() {
	activity, err := c.api.Activity(c.ctx, c.draftID)
	if err != nil {
		return
	}
	c.mu.Lock()
	stale := activity.CurrentVersion > c.version && c.state == StateIdle
	c.mu.Unlock()
	if !stale {
		return
	}
	snapshot, err := c.api.FetchDraft(c.ctx, c.draftID)
	if err != nil {
		return
	}
	c.applyRemote(activity.LastModifiedBy, snapshot.Content, snapshot.Version)
}

// applyRemote is the single reconciliation point for both transports: it
// applies a server-side change only when the version is strictly newer and
// no local edit or save is in flight. The first transport to apply bumps the
// version, so the other drops the same change.
func (c *Controller) applyRemote(editorID, content string, version int) {
	c.mu.Lock()
	if version <= c.version || c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.content = content
	c.version = version
	hook := c.hooks.RemoteUpdated
	c.mu.Unlock()
	if hook != nil {
		hook(editorID, content, version)
	}
}

func (c *Controller) sleep(d time.Duration) bool {
	ctx := c.ctx
	if ctx == nil {
		time.Sleep(d)
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
