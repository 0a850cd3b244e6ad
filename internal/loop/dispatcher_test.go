package loop

import (
    "sync"
    "testing"
    "time"

    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "supermafia/judge/internal/workerws"
)

type segment struct {
    identity string
    text     string
    final    bool
}

type fakeTranscriber struct {
    mu   sync.Mutex
    segs []segment
}

func (f *fakeTranscriber) Transcript(identity, text string, final bool) {
    f.mu.Lock()
    f.segs = append(f.segs, segment{identity, text, final})
    f.mu.Unlock()
}

type recorded struct {
    room string
    typ  string
}

func newDispatcher(t *testing.T, ttsTimeout time.Duration) (*Dispatcher, *fakeTranscriber, *[]recorded) {
    t.Helper()
    tr := &fakeTranscriber{}
    var events []recorded
    lookup := func(code string) (Transcriber, bool) {
        if code != "ABC" {
            return nil, false
        }
        return tr, true
    }
    rec := func(code, typ string, _ map[string]any) { events = append(events, recorded{code, typ}) }
    return New(lookup, rec, ttsTimeout, zerolog.Nop()), tr, &events
}

func TestTranscriptRouting(t *testing.T) {
    d, tr, _ := newDispatcher(t, 0)

    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTranscript, Payload: map[string]any{"identity": "alice", "text": "I am town", "final": true}})
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTranscript, Payload: map[string]any{"identity": "alice", "text": "and", "final": false}})
    // dropped: no identity, blank interim, unknown room
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTranscript, Payload: map[string]any{"text": "x", "final": true}})
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTranscript, Payload: map[string]any{"identity": "alice", "text": "  "}})
    d.OnMessage("ZZZ", workerws.Message{Type: workerws.TypeTranscript, Payload: map[string]any{"identity": "bob", "text": "hi", "final": true}})

    require.Len(t, tr.segs, 2)
    assert.Equal(t, segment{"alice", "I am town", true}, tr.segs[0])
    assert.Equal(t, segment{"alice", "and", false}, tr.segs[1])
}

func TestPlaybackState(t *testing.T) {
    d, _, events := newDispatcher(t, 0)

    assert.False(t, d.Speaking("ABC"))
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSStarted, UtteranceID: "u1"})
    assert.True(t, d.Speaking("ABC"))
    assert.False(t, d.Speaking("DEF"))

    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSFirstAudio, UtteranceID: "u1"})
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeCmdAck, CommandID: "c1"})
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSStopped, UtteranceID: "u1", Payload: map[string]any{"reason": "completed"}})
    assert.False(t, d.Speaking("ABC"))

    var types []string
    for _, e := range *events {
        assert.Equal(t, "ABC", e.room)
        types = append(types, e.typ)
    }
    assert.Equal(t, []string{"tts_started", "tts_first_audio", "cmd_ack", "tts_stopped"}, types)
}

func TestHelloResetsPlayback(t *testing.T) {
    d, _, _ := newDispatcher(t, 0)
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSStarted, UtteranceID: "u1"})
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeHello})
    assert.False(t, d.Speaking("ABC"))
}

func TestPlaybackTimeoutReset(t *testing.T) {
    d, _, events := newDispatcher(t, 10*time.Millisecond)
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSStarted, UtteranceID: "u1"})
    time.Sleep(20 * time.Millisecond)
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSFirstAudio, UtteranceID: "u1"})

    assert.False(t, d.Speaking("ABC"))
    last := (*events)[len(*events)-1]
    assert.Equal(t, "tts_timeout_reset", last.typ)
}

func TestForget(t *testing.T) {
    d, _, _ := newDispatcher(t, 0)
    d.OnMessage("ABC", workerws.Message{Type: workerws.TypeTTSStarted})
    d.Forget("ABC")
    assert.False(t, d.Speaking("ABC"))
}
