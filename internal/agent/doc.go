// Package agent contains the cycle orchestrator that turns trigger events
// into sponsorship decisions. It chains observation, cheap filtering,
// budget-gated reasoning, confidence and emergency gates, and finally
// dispatches through an executor or logs the intent in simulation mode.
package agent
