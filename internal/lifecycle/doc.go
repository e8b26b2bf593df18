// Package lifecycle encodes the allowed status transitions for devices,
// alerts, and vulnerabilities.
//
// The package is pure and stateless. Both the entity store (authoritative)
// and every observer's reconciliation engine (defensive) call it.
//
// # Transition Graphs
//
//	Device (cyclic, no terminal state):
//	  online ⇄ offline ⇄ unknown ⇄ online
//
//	Alert (acyclic, two terminal states):
//	  open ──▶ investigating ──▶ resolved
//	    │            └─────────▶ false_positive
//	    ├──────────────────────▶ resolved
//	    └──────────────────────▶ false_positive
//
//	Vulnerability (acyclic, two terminal states):
//	  unpatched ──▶ in_progress ──▶ patched | mitigated
//	      └───────────────────────▶ patched | mitigated
//
// A proposed transition to the current status is accepted as a no-op.
// Anything not listed is rejected with ErrInvalidTransition.
//
// Closed alerts and finished vulnerabilities never reopen. There is no
// reopen edge; adding one is a product decision, not a fix.
package lifecycle
