// Package authorizationengine implements the custody authorization engine
// inside the custody context.
//
// The module owns the vault authorization state machine: sole ownership,
// guardian set maintenance, delegated-spend allowance accounting,
// quorum-based owner recovery voting, and the single value-movement
// operation those rules gate. It keeps business rules in application/domain
// layers and isolates infrastructure concerns behind ports and adapters.
package authorizationengine
