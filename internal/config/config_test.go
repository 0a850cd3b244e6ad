package config

import (
    "os"
    "testing"
    "time"
)

func TestLoadDefaults(t *testing.T) {
    // Clear relevant envs
    os.Unsetenv("JUDGE_ADDR")
    os.Unsetenv("LOG_LEVEL")
    os.Unsetenv("AGENT_ROOM_PREFIX")
    os.Unsetenv("TURN_TRANSCRIPT_TIMEOUT")
    os.Unsetenv("TURN_FLUSH_DURATION")

    c := Load()

    if c.Server.Addr != ":8080" {
        t.Fatalf("expected default addr :8080, got %q", c.Server.Addr)
    }
    if c.Server.LogLevel != "info" {
        t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
    }
    if c.Agent.RoomPrefix != "mafia-" {
        t.Fatalf("expected default room prefix, got %q", c.Agent.RoomPrefix)
    }
    if c.Agent.Identity != "ptt-agent" {
        t.Fatalf("expected default agent identity, got %q", c.Agent.Identity)
    }
    if c.Turn.TranscriptTimeout != 10*time.Second || c.Turn.FlushDuration != 2*time.Second {
        t.Fatalf("unexpected finalize window defaults: %v / %v", c.Turn.TranscriptTimeout, c.Turn.FlushDuration)
    }
    if c.Host.FallbackReply != "I'm listening..." {
        t.Fatalf("unexpected fallback reply %q", c.Host.FallbackReply)
    }
}

func TestLoadEnvOverrides(t *testing.T) {
    t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")
    t.Setenv("LIVEKIT_API_KEY", "key")
    t.Setenv("LIVEKIT_API_SECRET", "secret")
    t.Setenv("TURN_FLUSH_DURATION", "750ms")
    t.Setenv("NEXT_PUBLIC_API_URL", "http://host:3000/")

    c := Load()

    if !c.HasLiveKitCredentials() {
        t.Fatalf("expected livekit credentials to be present")
    }
    if c.Turn.FlushDuration != 750*time.Millisecond {
        t.Fatalf("expected flush 750ms, got %v", c.Turn.FlushDuration)
    }
    if c.Host.BaseURL != "http://host:3000" {
        t.Fatalf("expected trailing slash trimmed, got %q", c.Host.BaseURL)
    }
}
