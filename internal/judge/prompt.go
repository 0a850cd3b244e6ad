package judge

import (
    "fmt"
    "strings"
)

func turnQuestion(speaker, utterance string) string {
    utterance = strings.TrimSpace(utterance)
    if utterance == "" {
        return fmt.Sprintf("Player %s held the floor but nothing was heard. Invite them to continue.", speaker)
    }
    return fmt.Sprintf("Player %s has made their case to you, the AI Judge: %q", speaker, utterance)
}

func voteQuestion(candidates []string) string {
    return "Based on the arguments you've heard, you must now vote to eliminate one player or abstain.\n\n" +
        "Available players: " + strings.Join(candidates, ", ") + "\n\n" +
        "Who do you vote to eliminate? Respond with just the player name, or say 'abstain' if you cannot decide. " +
        "Then briefly explain your reasoning in 1-2 sentences."
}
