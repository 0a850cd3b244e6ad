package judge

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
)

// ErrService marks every failure talking to the reasoning service.
var ErrService = errors.New("reasoning service failure")

type Phase struct {
    Kind string `json:"kind"`
}

// GameContext is the game state sent with every question.
type GameContext struct {
    Phase        Phase    `json:"phase"`
    Round        int      `json:"round"`
    AlivePlayers []string `json:"alivePlayers"`
}

type hostRequest struct {
    Question    string      `json:"question"`
    GameContext GameContext `json:"gameContext"`
    Provider    string      `json:"provider,omitempty"`
}

// Asker sends one question to the reasoning service.
type Asker interface {
    Ask(ctx context.Context, question string, gc GameContext) (string, error)
}

// HostClient calls the game web app's host endpoint.
type HostClient struct {
    http     *http.Client
    base     string
    provider string
}

func NewHostClient(baseURL, provider string, hc *http.Client) *HostClient {
    if hc == nil {
        hc = &http.Client{}
    }
    return &HostClient{http: hc, base: baseURL, provider: provider}
}

// Ask posts a question and returns the answer text, which may be empty when
// the service replied without one.
func (c *HostClient) Ask(ctx context.Context, question string, gc GameContext) (string, error) {
    if gc.AlivePlayers == nil {
        gc.AlivePlayers = []string{}
    }
    var out bytes.Buffer
    if err := json.NewEncoder(&out).Encode(hostRequest{Question: question, GameContext: gc, Provider: c.provider}); err != nil {
        return "", fmt.Errorf("%w: encode: %v", ErrService, err)
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/host", &out)
    if err != nil { return "", fmt.Errorf("%w: %v", ErrService, err) }
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(req)
    if err != nil { return "", fmt.Errorf("%w: %v", ErrService, err) }
    defer resp.Body.Close()
    if resp.StatusCode/100 != 2 {
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
        return "", fmt.Errorf("%w: host: %s: %s", ErrService, resp.Status, string(b))
    }
    var parsed struct{ Answer string `json:"answer"` }
    if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
        return "", fmt.Errorf("%w: decode: %v", ErrService, err)
    }
    return parsed.Answer, nil
}

// Ping checks that the service answers HTTP at all.
func (c *HostClient) Ping(ctx context.Context) error {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
    if err != nil { return err }
    resp, err := c.http.Do(req)
    if err != nil { return fmt.Errorf("%w: %v", ErrService, err) }
    resp.Body.Close()
    if resp.StatusCode >= 500 {
        return fmt.Errorf("%w: host: %s", ErrService, resp.Status)
    }
    return nil
}
