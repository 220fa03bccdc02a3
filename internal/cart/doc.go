// Package cart holds the customer's cart and persists it across restarts.
//
// # Overview
//
// Store keeps a list of Items plus three derived totals: TotalItems (sum of
// quantities), TotalPrice (sum of discounted line totals) and
// TotalPriceWithoutDiscount. The totals are recomputed from the items inside
// the same critical section as every mutation, so no reader ever sees items
// and totals disagree.
//
// # Invariants
//
//   - Quantity >= 1 for every item present; reaching 0 removes the line
//   - Adding an id already in the cart bumps its quantity by one and ignores
//     the other fields of the incoming item
//   - Totals are rounded to cents
//
// # Persistence
//
// Every mutation writes the full state to storage.KeyCart through the
// configured storage.Store. A missing, unreadable or corrupt entry loads as an
// empty cart and is logged, never returned as an error. Persisted totals are
// ignored on load and recomputed from the items.
//
// # Subscriptions
//
// Subscribe hands out a channel of States for UI layers. Delivery is
// latest-wins; a slow reader skips intermediate states.
package cart
