// Package wallet caches the customer's wallet and persists it across
// restarts.
//
// Each field of the Snapshot (balance, transactions, referral summary,
// referral code) carries its own fetch stamp and is fresh for CacheDuration.
// The Fetch methods are cache-aside: unless forced, a non-default fresh
// field is returned without calling the backend.
//
// Failure policy differs per field. A failed balance or summary fetch resets
// the balance to 0, and the summary also clears the referral code and stats.
// A failed transactions or referral code fetch keeps what was cached. Every
// failure sets Snapshot.Error; the next success clears it.
//
// ClearCache wipes memory only and is what logout uses. HardRefresh also
// deletes storage.KeyWallet before refetching.
package wallet
