package api

import (
    "context"
    "crypto/subtle"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "sync"
    "time"

    lkauth "github.com/livekit/protocol/auth"
    "github.com/livekit/protocol/livekit"
    "github.com/livekit/protocol/webhook"
    "github.com/rs/zerolog"
    "golang.org/x/time/rate"

    "supermafia/judge/internal/auth"
    "supermafia/judge/internal/config"
    "supermafia/judge/internal/health"
    "supermafia/judge/internal/room"
    "supermafia/judge/internal/store"
    "supermafia/judge/internal/supervisor"
    "supermafia/judge/internal/types"
)

// Rooms is the supervisor surface the HTTP API drives.
type Rooms interface {
    Spawn(ctx context.Context, code string) error
    Remove(code string)
    Rooms() []types.RoomInfo
    Dispatch(ctx context.Context, code, method, identity string) (supervisor.Reply, error)
    ParticipantLeft(code, identity string)
}

type Handlers struct {
    cfg   config.Config
    rooms Rooms
    store *store.Store
    host  health.Pinger
    log   zerolog.Logger

    // Checks overrides the readiness checks; tests use it.
    Checks func(ctx context.Context) health.HealthStatus
    // Annotate adds runtime status to listed rooms.
    Annotate func(info *types.RoomInfo)

    mu       sync.Mutex
    limiters map[string]*rate.Limiter
}

func NewHandlers(cfg config.Config, rooms Rooms, st *store.Store, host health.Pinger, log zerolog.Logger) *Handlers {
    h := &Handlers{
        cfg:      cfg,
        rooms:    rooms,
        store:    st,
        host:     host,
        log:      log.With().Str("component", "api").Logger(),
        limiters: make(map[string]*rate.Limiter),
    }
    h.Checks = func(ctx context.Context) health.HealthStatus {
        return health.CheckAll(ctx, h.cfg, h.host, nil)
    }
    return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) code(r *http.Request) string {
    return room.NormalizeCode(r.PathValue("code"), h.cfg.Agent.RoomPrefix)
}

func (h *Handlers) known(code string) bool {
    for _, info := range h.rooms.Rooms() {
        if info.Code == code {
            return true
        }
    }
    return false
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
    defer cancel()
    st := h.Checks(ctx)
    status := http.StatusOK
    if !st.OK {
        status = http.StatusServiceUnavailable
    }
    writeJSON(w, status, st)
}

func (h *Handlers) HandleListRooms(w http.ResponseWriter, r *http.Request) {
    rooms := h.rooms.Rooms()
    if h.Annotate != nil {
        for i := range rooms {
            h.Annotate(&rooms[i])
        }
    }
    writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *Handlers) HandleSpawnRoom(w http.ResponseWriter, r *http.Request) {
    if !h.operator(w, r) {
        return
    }
    var body struct {
        Code string `json:"code"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    code := room.NormalizeCode(body.Code, h.cfg.Agent.RoomPrefix)
    if err := h.rooms.Spawn(r.Context(), code); err != nil {
        http.Error(w, err.Error(), spawnStatus(err))
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"ok": true, "code": code, "room_name": room.RoomName(h.cfg.Agent.RoomPrefix, code)})
}

func spawnStatus(err error) int {
    switch {
    case errors.Is(err, supervisor.ErrNotAdmitted):
        return http.StatusBadRequest
    case errors.Is(err, supervisor.ErrMissingCredentials):
        return http.StatusServiceUnavailable
    default:
        return http.StatusBadGateway
    }
}

func (h *Handlers) HandleRemoveRoom(w http.ResponseWriter, r *http.Request) {
    if !h.operator(w, r) {
        return
    }
    code := h.code(r)
    h.rooms.Remove(code)
    h.forgetLimiter(code)
    writeJSON(w, http.StatusOK, map[string]any{"ok": true, "code": code})
}

func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
    code := h.code(r)
    events := h.store.ListEvents(code)
    if len(events) == 0 && !h.known(code) {
        http.NotFound(w, r)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "code":   code,
        "events": events,
    })
}

// HandleAction runs a turn control method for the player named by the bearer
// token, for clients that cannot use room RPC.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
    code := h.code(r)
    token, ok := bearer(r)
    if !ok || h.cfg.Auth.TokenSecret == "" {
        http.Error(w, "missing bearer token", http.StatusUnauthorized)
        return
    }
    identity, err := auth.ValidatePlayerToken(h.cfg.Auth.TokenSecret, token, code, time.Now(), h.cfg.Auth.TokenSkewSecs)
    if err != nil {
        http.Error(w, "invalid token", http.StatusUnauthorized)
        return
    }
    if !h.limiter(code).Allow() {
        http.Error(w, "rate limited", http.StatusTooManyRequests)
        return
    }
    var body struct {
        Action string `json:"action"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
        http.Error(w, "invalid body", http.StatusBadRequest)
        return
    }
    reply, err := h.rooms.Dispatch(r.Context(), code, body.Action, identity)
    if errors.Is(err, supervisor.ErrNotFound) {
        http.NotFound(w, r)
        return
    }
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    writeJSON(w, http.StatusOK, reply)
}

func (h *Handlers) HandleMintWorkerToken(w http.ResponseWriter, r *http.Request) {
    if !h.admin(w, r) {
        return
    }
    code := h.code(r)
    exp := time.Now().Add(h.tokenTTL()).Unix()
    token, err := auth.GenerateWorkerToken(h.cfg.Auth.TokenSecret, code, exp)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp})
}

func (h *Handlers) HandleMintPlayerToken(w http.ResponseWriter, r *http.Request) {
    if !h.admin(w, r) {
        return
    }
    var body struct {
        Identity string `json:"identity"`
    }
    if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Identity == "" {
        http.Error(w, "identity required", http.StatusBadRequest)
        return
    }
    code := h.code(r)
    exp := time.Now().Add(h.tokenTTL()).Unix()
    token, err := auth.GeneratePlayerToken(h.cfg.Auth.TokenSecret, code, body.Identity, exp)
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp})
}

// HandleWebhook follows room lifecycle notifications from the LiveKit server.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
    if !h.cfg.HasLiveKitCredentials() {
        http.Error(w, "webhooks not configured", http.StatusServiceUnavailable)
        return
    }
    ev, err := webhook.ReceiveWebhookEvent(r, lkauth.NewSimpleKeyProvider(h.cfg.LiveKit.APIKey, h.cfg.LiveKit.APISecret))
    if err != nil {
        h.log.Warn().Err(err).Msg("rejected webhook")
        http.Error(w, "invalid webhook", http.StatusUnauthorized)
        return
    }
    h.handleEvent(r.Context(), ev)
    w.WriteHeader(http.StatusOK)
}

func (h *Handlers) handleEvent(ctx context.Context, ev *livekit.WebhookEvent) {
    if ev.GetRoom() == nil {
        return
    }
    code, ok := room.Admit(ev.GetRoom().GetName(), h.cfg.Agent.RoomPrefix)
    if !ok {
        return
    }
    log := h.log.With().Str("event", ev.GetEvent()).Str("room", code).Logger()
    switch ev.GetEvent() {
    case webhook.EventRoomStarted:
        // Spawning outlives the webhook request.
        go func() {
            sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
            defer cancel()
            if err := h.rooms.Spawn(sctx, code); err != nil {
                log.Error().Err(err).Msg("spawn from webhook failed")
            }
        }()
    case webhook.EventRoomFinished:
        h.rooms.Remove(code)
        h.forgetLimiter(code)
    case webhook.EventParticipantLeft:
        if p := ev.GetParticipant(); p != nil {
            h.rooms.ParticipantLeft(code, p.GetIdentity())
        }
    default:
        log.Debug().Msg("ignored webhook")
    }
}

// admin gates token minting, which also needs a signing secret.
func (h *Handlers) admin(w http.ResponseWriter, r *http.Request) bool {
    if h.cfg.Auth.TokenSecret == "" {
        http.Error(w, "token minting disabled", http.StatusForbidden)
        return false
    }
    return h.operator(w, r)
}

// operator checks the admin bearer key. Without a configured key the
// room-management endpoints are closed.
func (h *Handlers) operator(w http.ResponseWriter, r *http.Request) bool {
    if h.cfg.Auth.AdminKey == "" {
        http.Error(w, "admin api disabled", http.StatusForbidden)
        return false
    }
    key, ok := bearer(r)
    if !ok || subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.Auth.AdminKey)) != 1 {
        http.Error(w, "unauthorized", http.StatusUnauthorized)
        return false
    }
    return true
}

func (h *Handlers) tokenTTL() time.Duration {
    if h.cfg.Auth.TokenTTL > 0 {
        return h.cfg.Auth.TokenTTL
    }
    return 2 * time.Hour
}

func (h *Handlers) limiter(code string) *rate.Limiter {
    h.mu.Lock()
    defer h.mu.Unlock()
    l := h.limiters[code]
    if l == nil {
        rps, burst := h.cfg.API.ActionRPS, h.cfg.API.ActionBurst
        if rps <= 0 {
            rps = 5
        }
        if burst <= 0 {
            burst = 10
        }
        l = rate.NewLimiter(rate.Limit(rps), burst)
        h.limiters[code] = l
    }
    return l
}

func (h *Handlers) forgetLimiter(code string) {
    h.mu.Lock()
    delete(h.limiters, code)
    h.mu.Unlock()
}

func bearer(r *http.Request) (string, bool) {
    authz := r.Header.Get("Authorization")
    if !strings.HasPrefix(authz, "Bearer ") {
        return "", false
    }
    return strings.TrimPrefix(authz, "Bearer "), true
}
