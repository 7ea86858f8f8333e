// Package triage is the business boundary for Beacon's SOS pipeline. It
// defines the Case lifecycle state machine, the Service (intake, async
// pipeline dispatch, rescuer actions), the pure validation engine that can
// override AI urgency, the Store interface, and the domain models.
package triage
