package consensus

import "github.com/nextlevelbuilder/gohive/internal/providers"

// imageTokenEstimate is the flat per-image token charge used by the context
// estimator (providers bill roughly this for a mid-size image).
const imageTokenEstimate = 768

// EstimateTokens approximates the token count of a message list at ~4 chars
// per token. Deterministic and cheap; used by the <ctx> injector and the
// overflow guard, never for billing.
func EstimateTokens(msgs []providers.Message) int {
	chars := 0
	images := 0
	for _, m := range msgs {
		chars += len(m.Content) + len(m.Role)
		images += len(m.Images)
	}
	return chars/4 + images*imageTokenEstimate
}
