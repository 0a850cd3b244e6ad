package floor

import (
    "context"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog"

    "supermafia/judge/internal/gate"
    "supermafia/judge/internal/room"
    "supermafia/judge/internal/types"
)

// AbstainReply is broadcast when a vote is requested in a room with no players.
const AbstainReply = "No players to vote for. Abstaining."

const deliverTimeout = 5 * time.Second

const (
    opAcquire    = "start_turn"
    opRelease    = "end_turn"
    opCancel     = "cancel_turn"
    opDisconnect = "disconnect"
    opTranscript = "transcript"
)

// Generator produces judge replies. Implementations are fail-soft: they always
// return text and never surface service errors.
type Generator interface {
    Generate(ctx context.Context, speaker, utterance string) string
    Vote(ctx context.Context, candidates []string) string
}

// Membership is the roster view the controller validates against.
type Membership interface {
    Contains(identity string) bool
    Snapshot() []string
}

type Broadcaster interface {
    Broadcast(ctx context.Context, payload []byte) error
}

type Journal interface {
    AppendEvent(roomCode, typ string, payload map[string]any) types.Event
}

type Options struct {
    RoomCode          string
    TranscriptTimeout time.Duration
    FlushDuration     time.Duration

    Gate        *gate.Gate
    Members     Membership
    Generator   Generator
    Broadcaster Broadcaster
    Speaker     room.Speaker
    Journal     Journal
    // OnReply is called after every delivered reply, turn or vote.
    OnReply func(msg room.JudgeMessage)

    Logger zerolog.Logger
}

type command struct {
    op       string
    identity string
    text     string
    final    bool
    reply    chan error
}

type result struct {
    epoch uint64
    id    string
    text  string
}

// Controller serializes every turn event for one room through a single goroutine.
type Controller struct {
    opts Options
    log  zerolog.Logger

    ctx     context.Context
    cancel  context.CancelFunc
    inbox   chan command
    results chan result
    done    chan struct{}
    once    sync.Once

    // Owned by run.
    phase         Phase
    holder        string
    epoch         uint64
    armedEpoch    uint64
    acquiredAt    time.Time
    committed     []string
    interim       string
    genCancel     context.CancelFunc
    timeoutTimer  *time.Timer
    flushTimer    *time.Timer
    timeoutActive bool
    flushActive   bool

    viewMu sync.RWMutex
    view   State
}

func New(opts Options) *Controller {
    if opts.TranscriptTimeout <= 0 {
        opts.TranscriptTimeout = 10 * time.Second
    }
    if opts.FlushDuration <= 0 {
        opts.FlushDuration = 2 * time.Second
    }
    if opts.Gate == nil {
        opts.Gate = gate.New(nil)
    }
    if opts.Speaker == nil {
        opts.Speaker = room.NopSpeaker{}
    }
    ctx, cancel := context.WithCancel(context.Background())
    c := &Controller{
        opts:    opts,
        log:     opts.Logger.With().Str("component", "floor").Str("room", opts.RoomCode).Logger(),
        ctx:     ctx,
        cancel:  cancel,
        inbox:   make(chan command, 64),
        results: make(chan result, 1),
        done:    make(chan struct{}),
    }
    go c.run()
    return c
}

// AcquireTurn grants the floor to identity if the room is idle.
func (c *Controller) AcquireTurn(ctx context.Context, identity string) error {
    return c.do(ctx, command{op: opAcquire, identity: identity})
}

// ReleaseTurn ends the holder's capture and opens the finalize window.
func (c *Controller) ReleaseTurn(ctx context.Context, identity string) error {
    return c.do(ctx, command{op: opRelease, identity: identity})
}

// CancelTurn drops the holder's turn without a reply.
func (c *Controller) CancelTurn(ctx context.Context, identity string) error {
    return c.do(ctx, command{op: opCancel, identity: identity})
}

// HolderDisconnected cancels the turn if identity holds the floor.
func (c *Controller) HolderDisconnected(identity string) {
    _ = c.do(context.Background(), command{op: opDisconnect, identity: identity})
}

// Transcript feeds a speech-to-text segment. Segments from anyone but the
// routed holder are dropped.
func (c *Controller) Transcript(identity, text string, final bool) {
    _ = c.do(context.Background(), command{op: opTranscript, identity: identity, text: text, final: final})
}

// RequestVote asks the judge for an advisory vote among the current players.
// It does not touch the turn state.
func (c *Controller) RequestVote(ctx context.Context) (string, error) {
    select {
    case <-c.done:
        return "", ErrClosed
    default:
    }
    var candidates []string
    if c.opts.Members != nil {
        candidates = c.opts.Members.Snapshot()
    }
    c.record("vote_requested", map[string]any{"candidates": candidates})

    text := AbstainReply
    if len(candidates) > 0 {
        text = c.opts.Generator.Vote(ctx, candidates)
    }
    c.deliver(room.KindVote, uuid.NewString(), text)
    return text, nil
}

func (c *Controller) State() State {
    c.viewMu.RLock()
    defer c.viewMu.RUnlock()
    return c.view
}

// Done is closed once the controller has stopped.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Close stops the controller, closing the gate and interrupting any speech.
func (c *Controller) Close() {
    c.once.Do(func() {
        c.cancel()
        <-c.done
        c.opts.Speaker.Interrupt()
    })
}

func (c *Controller) do(ctx context.Context, cmd command) error {
    cmd.reply = make(chan error, 1)
    select {
    case c.inbox <- cmd:
    case <-c.done:
        return ErrClosed
    case <-ctx.Done():
        return ctx.Err()
    }
    select {
    case err := <-cmd.reply:
        return err
    case <-c.done:
        return ErrClosed
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (c *Controller) run() {
    defer close(c.done)
    for {
        select {
        case <-c.ctx.Done():
            c.stopTimers()
            c.opts.Gate.Close()
            if c.genCancel != nil {
                c.genCancel()
            }
            return
        case cmd := <-c.inbox:
            err := c.handle(cmd)
            if err != nil {
                c.reject(cmd, err)
            }
            cmd.reply <- err
        case <-timerC(c.flushTimer, c.flushActive):
            c.flushActive = false
            c.finalize("silence")
        case <-timerC(c.timeoutTimer, c.timeoutActive):
            c.timeoutActive = false
            c.finalize("timeout")
        case res := <-c.results:
            c.deliverTurn(res)
        }
    }
}

func (c *Controller) handle(cmd command) error {
    switch cmd.op {
    case opAcquire:
        return c.acquire(cmd.identity)
    case opRelease:
        return c.release(cmd.identity)
    case opCancel:
        if c.phase == Idle {
            return ErrInvalidTransition
        }
        if c.holder != cmd.identity {
            return ErrNotHolder
        }
        c.abort("cancelled")
    case opDisconnect:
        if c.phase != Idle && c.holder == cmd.identity {
            c.abort("disconnected")
        }
    case opTranscript:
        c.transcript(cmd.identity, cmd.text, cmd.final)
    }
    return nil
}

func (c *Controller) acquire(identity string) error {
    if c.opts.Members != nil && !c.opts.Members.Contains(identity) {
        return ErrUnknownParticipant
    }
    // Any player asking for the floor cuts agent speech, even when refused.
    c.opts.Speaker.Interrupt()
    switch c.phase {
    case Listening:
        if c.holder == identity {
            return nil
        }
        return ErrFloorHeld
    case Finalizing:
        if c.holder == identity {
            return ErrInvalidTransition
        }
        return ErrFloorHeld
    case Responding:
        return ErrBusy
    }

    c.discardPending()
    c.epoch++
    c.holder = identity
    c.acquiredAt = time.Now()
    c.opts.Gate.Open(identity)
    c.setState(Listening)
    c.record("turn_started", map[string]any{"identity": identity, "epoch": c.epoch})
    c.log.Info().Str("identity", identity).Uint64("epoch", c.epoch).Msg("turn started")
    return nil
}

func (c *Controller) release(identity string) error {
    if c.phase == Idle || c.phase == Responding {
        return ErrInvalidTransition
    }
    if c.holder != identity {
        return ErrNotHolder
    }
    if c.phase == Finalizing {
        return nil
    }

    c.opts.Gate.Close()
    c.setState(Finalizing)
    c.armedEpoch = c.epoch
    resetTimer(&c.timeoutTimer, &c.timeoutActive, c.opts.TranscriptTimeout)
    resetTimer(&c.flushTimer, &c.flushActive, c.opts.FlushDuration)
    c.record("turn_released", map[string]any{"identity": identity, "epoch": c.epoch})
    c.log.Debug().Str("identity", identity).Msg("turn released, finalizing")
    return nil
}

// abort returns the room to Idle without a reply. Any generation in flight is
// cancelled and its result will fail the phase check in deliverTurn.
func (c *Controller) abort(reason string) {
    from := c.phase
    identity := c.holder
    c.stopTimers()
    c.opts.Gate.Close()
    c.discardPending()
    if c.genCancel != nil {
        c.genCancel()
        c.genCancel = nil
    }
    c.holder = ""
    c.setState(Idle)
    c.record("turn_cancelled", map[string]any{"identity": identity, "reason": reason, "phase": from.String()})
    c.log.Info().Str("identity", identity).Str("reason", reason).Str("phase", from.String()).Msg("turn cancelled")
}

func (c *Controller) transcript(identity, text string, final bool) {
    accept := (c.phase == Listening && c.opts.Gate.Accepts(identity)) ||
        (c.phase == Finalizing && c.holder == identity)
    if !accept {
        return
    }
    text = strings.TrimSpace(text)
    if final {
        if text != "" {
            c.committed = append(c.committed, text)
        }
        c.interim = ""
    } else {
        c.interim = text
    }
    if c.phase == Finalizing {
        resetTimer(&c.flushTimer, &c.flushActive, c.opts.FlushDuration)
    }
}

func (c *Controller) finalize(trigger string) {
    if c.phase != Finalizing || c.armedEpoch != c.epoch {
        return
    }
    c.stopTimers()
    utterance := c.pendingText()
    c.discardPending()
    metricFinalize.WithLabelValues(trigger).Inc()
    c.setState(Responding)
    c.record("turn_finalized", map[string]any{"identity": c.holder, "trigger": trigger, "chars": len(utterance)})
    c.log.Info().Str("identity", c.holder).Str("trigger", trigger).Int("chars", len(utterance)).Msg("turn finalized")

    ctx, cancel := context.WithCancel(c.ctx)
    c.genCancel = cancel
    epoch := c.epoch
    speaker := c.holder
    go func() {
        text := c.opts.Generator.Generate(ctx, speaker, utterance)
        select {
        case c.results <- result{epoch: epoch, id: uuid.NewString(), text: text}:
        case <-c.ctx.Done():
        }
    }()
}

func (c *Controller) deliverTurn(res result) {
    if res.epoch != c.epoch || c.phase != Responding {
        metricStaleResults.Inc()
        c.log.Debug().Uint64("epoch", res.epoch).Uint64("current", c.epoch).Msg("discarding stale reply")
        return
    }
    if c.genCancel != nil {
        c.genCancel()
        c.genCancel = nil
    }
    c.deliver(room.KindTurn, res.id, res.text)
    metricTurnDuration.Observe(time.Since(c.acquiredAt).Seconds())
    c.holder = ""
    c.setState(Idle)
}

// deliver broadcasts a reply and starts speaking it. Broadcast failures are
// logged; delivery counts as complete either way.
func (c *Controller) deliver(kind, id, text string) {
    msg := room.NewJudgeMessage(id, kind, text)
    ctx, cancel := context.WithTimeout(c.ctx, deliverTimeout)
    defer cancel()
    if c.opts.Broadcaster != nil {
        if err := c.opts.Broadcaster.Broadcast(ctx, msg.Encode()); err != nil {
            c.log.Warn().Err(err).Str("kind", kind).Msg("reply broadcast failed")
        }
    }
    c.record("judge_reply", map[string]any{"id": id, "kind": kind, "message": text})
    if c.opts.OnReply != nil {
        c.opts.OnReply(msg)
    }
    go func() {
        if err := c.opts.Speaker.Speak(c.ctx, text); err != nil {
            c.log.Debug().Err(err).Msg("speech playback ended early")
        }
    }()
}

func (c *Controller) reject(cmd command, err error) {
    metricRejections.WithLabelValues(cmd.op, Reason(err)).Inc()
    c.record("turn_rejected", map[string]any{"op": cmd.op, "identity": cmd.identity, "reason": Reason(err)})
    c.log.Info().
        Str("op", cmd.op).
        Str("identity", cmd.identity).
        Str("state", c.phase.String()).
        Str("holder", c.holder).
        Str("reason", Reason(err)).
        Msg("turn request rejected")
}

// setState transitions the phase and records the metric. The holder and epoch
// must already be updated.
func (c *Controller) setState(to Phase) {
    from := c.phase
    if from == to {
        return
    }
    metricStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
    c.phase = to
    c.viewMu.Lock()
    c.view = State{Phase: to, Holder: c.holder, Epoch: c.epoch}
    c.viewMu.Unlock()
}

func (c *Controller) record(typ string, payload map[string]any) {
    if c.opts.Journal == nil {
        return
    }
    c.opts.Journal.AppendEvent(c.opts.RoomCode, typ, payload)
}

func (c *Controller) pendingText() string {
    parts := append([]string(nil), c.committed...)
    if c.interim != "" {
        parts = append(parts, c.interim)
    }
    return strings.Join(parts, " ")
}

func (c *Controller) discardPending() {
    c.committed = nil
    c.interim = ""
}

func (c *Controller) stopTimers() {
    stopTimer(&c.timeoutTimer, &c.timeoutActive)
    stopTimer(&c.flushTimer, &c.flushActive)
}

func stopTimer(t **time.Timer, active *bool) {
    if *t == nil {
        return
    }
    if !(*t).Stop() {
        select {
        case <-(*t).C:
        default:
        }
    }
    *active = false
}

func resetTimer(t **time.Timer, active *bool, d time.Duration) {
    if *t == nil {
        *t = time.NewTimer(d)
        *active = true
        return
    }
    stopTimer(t, active)
    (*t).Reset(d)
    *active = true
}

func timerC(t *time.Timer, active bool) <-chan time.Time {
    if !active || t == nil {
        return nil
    }
    return t.C
}
