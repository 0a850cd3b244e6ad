package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/spf13/viper"
)

type Config struct {
    Server struct {
        Addr      string
        LogLevel  string
        LogPretty bool
    }
    Admin struct {
        GRPCAddr string
    }
    LiveKit struct {
        URL       string
        APIKey    string
        APISecret string
    }
    Agent struct {
        Identity   string
        Name       string
        RoomPrefix string
        Welcome    string
        // TranscriberPrefix identifies speech-to-text participants trusted to
        // publish transcripts for other players.
        TranscriberPrefix string
    }
    Turn struct {
        TranscriptTimeout time.Duration
        FlushDuration     time.Duration
    }
    Host struct {
        BaseURL       string
        Provider      string
        Timeout       time.Duration
        FallbackReply string
        DefaultAnswer string
    }
    Supervisor struct {
        MonitorInterval time.Duration
        IdleEvictAfter  time.Duration
    }
    Auth struct {
        TokenSecret   string
        TokenSkewSecs int
        AdminKey      string
        TokenTTL      time.Duration
    }
    API struct {
        ActionRPS   float64
        ActionBurst int
    }
    Worker struct {
        TTSTimeout time.Duration
    }
}

// HasLiveKitCredentials reports whether every value needed to join a room is set.
func (c Config) HasLiveKitCredentials() bool {
    return c.LiveKit.URL != "" && c.LiveKit.APIKey != "" && c.LiveKit.APISecret != ""
}

func Load() Config {
    v := viper.New()
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    // Defaults
    v.SetDefault("server.addr", ":8080")
    v.SetDefault("server.log_level", "info")
    v.SetDefault("server.log_pretty", false)

    v.SetDefault("admin.grpc_addr", ":9090")

    v.SetDefault("agent.identity", "ptt-agent")
    v.SetDefault("agent.name", "AI Judge")
    v.SetDefault("agent.room_prefix", "mafia-")
    v.SetDefault("agent.transcriber_prefix", "transcriber-")
    v.SetDefault("agent.welcome", "The AI Judge has joined the room. Press and hold the microphone to speak.")

    v.SetDefault("turn.transcript_timeout", "10s")
    v.SetDefault("turn.flush_duration", "2s")

    v.SetDefault("host.base_url", "http://localhost:3000")
    v.SetDefault("host.provider", "baseten")
    v.SetDefault("host.timeout", "30s")
    v.SetDefault("host.fallback_reply", "I'm listening...")
    v.SetDefault("host.default_answer", "I hear you. Continue.")

    v.SetDefault("supervisor.monitor_interval", "5s")
    v.SetDefault("supervisor.idle_evict_after", "0s")

    v.SetDefault("auth.token_skew_secs", 60)
    v.SetDefault("auth.token_ttl", "2h")

    v.SetDefault("api.action_rps", 5)
    v.SetDefault("api.action_burst", 10)

    v.SetDefault("worker.tts_timeout", "60s")

    // Map envs
    v.BindEnv("server.addr", "JUDGE_ADDR")
    v.BindEnv("server.log_level", "LOG_LEVEL")
    v.BindEnv("server.log_pretty", "LOG_PRETTY")

    v.BindEnv("admin.grpc_addr", "ADMIN_GRPC_ADDR")

    v.BindEnv("livekit.url", "LIVEKIT_URL", "LIVEKIT_WS_URL")
    v.BindEnv("livekit.api_key", "LIVEKIT_API_KEY")
    v.BindEnv("livekit.api_secret", "LIVEKIT_API_SECRET")

    v.BindEnv("agent.identity", "AGENT_IDENTITY")
    v.BindEnv("agent.name", "AGENT_NAME")
    v.BindEnv("agent.room_prefix", "AGENT_ROOM_PREFIX")
    v.BindEnv("agent.transcriber_prefix", "AGENT_TRANSCRIBER_PREFIX")
    v.BindEnv("agent.welcome", "AGENT_WELCOME")

    v.BindEnv("turn.transcript_timeout", "TURN_TRANSCRIPT_TIMEOUT")
    v.BindEnv("turn.flush_duration", "TURN_FLUSH_DURATION")

    v.BindEnv("host.base_url", "NEXT_PUBLIC_API_URL")
    v.BindEnv("host.provider", "HOST_PROVIDER")
    v.BindEnv("host.timeout", "HOST_TIMEOUT")
    v.BindEnv("host.fallback_reply", "HOST_FALLBACK_REPLY")
    v.BindEnv("host.default_answer", "HOST_DEFAULT_ANSWER")

    v.BindEnv("supervisor.monitor_interval", "SUPERVISOR_MONITOR_INTERVAL")
    v.BindEnv("supervisor.idle_evict_after", "SUPERVISOR_IDLE_EVICT_AFTER")

    v.BindEnv("auth.token_secret", "JUDGE_TOKEN_SECRET")
    v.BindEnv("auth.token_skew_secs", "JUDGE_TOKEN_SKEW_SECS")
    v.BindEnv("auth.admin_key", "JUDGE_ADMIN_KEY")
    v.BindEnv("auth.token_ttl", "JUDGE_TOKEN_TTL")

    v.BindEnv("api.action_rps", "API_ACTION_RPS")
    v.BindEnv("api.action_burst", "API_ACTION_BURST")

    v.BindEnv("worker.tts_timeout", "WORKER_TTS_TIMEOUT")

    var c Config
    c.Server.Addr = toString(v.Get("server.addr"))
    c.Server.LogLevel = v.GetString("server.log_level")
    c.Server.LogPretty = v.GetBool("server.log_pretty")

    c.Admin.GRPCAddr = v.GetString("admin.grpc_addr")

    c.LiveKit.URL = v.GetString("livekit.url")
    c.LiveKit.APIKey = v.GetString("livekit.api_key")
    c.LiveKit.APISecret = v.GetString("livekit.api_secret")

    c.Agent.Identity = v.GetString("agent.identity")
    c.Agent.Name = v.GetString("agent.name")
    c.Agent.RoomPrefix = v.GetString("agent.room_prefix")
    c.Agent.TranscriberPrefix = v.GetString("agent.transcriber_prefix")
    c.Agent.Welcome = v.GetString("agent.welcome")

    c.Turn.TranscriptTimeout = v.GetDuration("turn.transcript_timeout")
    c.Turn.FlushDuration = v.GetDuration("turn.flush_duration")

    c.Host.BaseURL = strings.TrimRight(v.GetString("host.base_url"), "/")
    c.Host.Provider = v.GetString("host.provider")
    c.Host.Timeout = v.GetDuration("host.timeout")
    c.Host.FallbackReply = v.GetString("host.fallback_reply")
    c.Host.DefaultAnswer = v.GetString("host.default_answer")

    c.Supervisor.MonitorInterval = v.GetDuration("supervisor.monitor_interval")
    c.Supervisor.IdleEvictAfter = v.GetDuration("supervisor.idle_evict_after")

    c.Auth.TokenSecret = v.GetString("auth.token_secret")
    c.Auth.TokenSkewSecs = v.GetInt("auth.token_skew_secs")
    c.Auth.AdminKey = v.GetString("auth.admin_key")
    c.Auth.TokenTTL = v.GetDuration("auth.token_ttl")

    c.API.ActionRPS = v.GetFloat64("api.action_rps")
    c.API.ActionBurst = v.GetInt("api.action_burst")

    c.Worker.TTSTimeout = v.GetDuration("worker.tts_timeout")

    return c
}

func toString(v any) string { return fmt.Sprint(v) }
