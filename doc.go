// Package identity implements an identity backend: account registration,
// authentication, and self-service recovery gated by short-lived one-time
// codes, plus a long-lived access/refresh session model.
//
// Verification flows:
//   - Registration, password reset, password change, and email change all run
//     as multi-request state machines. Ephemeral state lives in a
//     ChallengeStore keyed by flow kind and correlation key; the in-memory
//     store covers single-process deployments and the Redis store covers
//     everything else. A pending record is consumed exactly once, on its
//     terminal verification step, or replaced by a newer issuance.
//   - One-time codes are verified expiry-first: a correct code past its
//     window fails as expired, never as a mismatch.
//
// Sessions:
//   - Login issues an access/refresh token pair and persists the refresh
//     token on the user record, so a second login invalidates the first.
//     Refresh requires the presented token to match the stored value, which
//     makes server-side revocation possible by clearing the column.
//
// The durable account store and mail dispatcher are collaborators behind the
// Users and Mailer interfaces; everything else in the package is wiring.
package identity
