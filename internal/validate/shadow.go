package validate

import (
	"log"

	"github.com/proofmeet/courtcard-engine/internal/config"
)

// ──────────────────────────────────────────────────────────────────
// Rule-variant shadow mode
//
// Two attendance-window rule variants coexist in the field: the
// cumulative form (lateness + early departure over the grace fails)
// and the per-side max form (either side alone over the grace fails).
// The configured variant is normative; the other runs in shadow so
// operators can watch how often the choice changes a verdict before
// switching jurisdictions over.
// ──────────────────────────────────────────────────────────────────

// ValidateWithShadow runs the normative rule set and, when the two
// window-rule variants disagree on the session, logs the divergence.
// The returned outcome is always the normative one.
func ValidateWithShadow(in Input, sessionID string) Outcome {
	primary := Validate(in)

	shadowIn := in
	if in.WindowRule == config.WindowRuleCumulative {
		shadowIn.WindowRule = config.WindowRuleMax
	} else {
		shadowIn.WindowRule = config.WindowRuleCumulative
	}
	shadow := Validate(shadowIn)

	if primary.Verdict != shadow.Verdict {
		log.Printf("[Validator] DIVERGENCE on session %s: %s rule → %s, %s rule → %s",
			sessionID, in.WindowRule, primary.Verdict, shadowIn.WindowRule, shadow.Verdict)
	}
	return primary
}
