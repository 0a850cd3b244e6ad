// Package judge turns finished turns into judge replies via the reasoning service.
package judge

import (
    "context"
    "strings"
    "time"

    "github.com/rs/zerolog"
)

const (
    kindTurn = "turn"
    kindVote = "vote"
)

type GeneratorOptions struct {
    Timeout       time.Duration
    FallbackReply string
    DefaultAnswer string
    // Players supplies the alive player list for the game context.
    Players func() []string
    Logger  zerolog.Logger
}

// Generator is fail-soft: service failures become the fallback reply.
type Generator struct {
    asker Asker
    opts  GeneratorOptions
    log   zerolog.Logger
}

func NewGenerator(a Asker, opts GeneratorOptions) *Generator {
    if opts.Timeout <= 0 {
        opts.Timeout = 30 * time.Second
    }
    if opts.FallbackReply == "" {
        opts.FallbackReply = "I'm listening..."
    }
    if opts.DefaultAnswer == "" {
        opts.DefaultAnswer = "I hear you. Continue."
    }
    return &Generator{asker: a, opts: opts, log: opts.Logger.With().Str("component", "judge").Logger()}
}

// Generate answers a completed turn. An empty utterance is still sent so the
// judge can prompt the player to go on.
func (g *Generator) Generate(ctx context.Context, speaker, utterance string) string {
    return g.ask(ctx, kindTurn, turnQuestion(speaker, utterance), g.players())
}

// Vote asks for an advisory elimination vote among candidates.
func (g *Generator) Vote(ctx context.Context, candidates []string) string {
    return g.ask(ctx, kindVote, voteQuestion(candidates), candidates)
}

func (g *Generator) ask(ctx context.Context, kind, question string, alive []string) string {
    ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
    defer cancel()

    start := time.Now()
    answer, err := g.asker.Ask(ctx, question, GameContext{
        Phase:        Phase{Kind: "Discussion"},
        Round:        1,
        AlivePlayers: alive,
    })
    metricGenerationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
    if err != nil {
        metricGenerations.WithLabelValues(kind, "fallback").Inc()
        g.log.Error().Err(err).Str("kind", kind).Msg("reasoning request failed, using fallback")
        return g.opts.FallbackReply
    }
    answer = strings.TrimSpace(answer)
    if answer == "" {
        metricGenerations.WithLabelValues(kind, "default").Inc()
        return g.opts.DefaultAnswer
    }
    metricGenerations.WithLabelValues(kind, "ok").Inc()
    g.log.Info().Str("kind", kind).Str("answer", preview(answer, 50)).Msg("judge answered")
    return answer
}

func (g *Generator) players() []string {
    if g.opts.Players == nil {
        return nil
    }
    return g.opts.Players()
}

func preview(s string, n int) string {
    if len(s) <= n {
        return s
    }
    return s[:n] + "..."
}
