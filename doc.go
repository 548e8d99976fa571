// Package kyc implements the lifecycle of KYC (know your customer) upgrade
// requests: issuance and single-use redemption of scoped access tokens, the
// submission flow that turns a redeemed token into a request, and the approval
// state machine that moves requests through review.
//
// Access tokens:
//   - TokenIssuer mints an opaque secret for one account. Only the sha256 digest
//     is persisted together with the account scope and a fixed expiry.
//   - TokenValidator redeems a token with a single conditional UPDATE so that
//     concurrent redemptions of the same secret produce exactly one winner.
//     Validate is a read-only pre-check and must not gate submissions.
//
// Request lifecycle:
//   - Requests start Pending and move through InReview to Approved or Rejected,
//     and finally Archived, following the table returned by AllowedTargets.
//   - LifecycleEngine.ProcessAction runs the status compare-and-swap, the
//     approval action, the privilege ratchet and the audit entry in one
//     transaction. Any failure rolls every write back.
//
// Activity sinks:
//   - ActivitySink receives post-commit lifecycle events (token issued, request
//     submitted, request transitioned). Sinks run best-effort and never affect
//     the outcome of an operation. Audit entries, in contrast, are part of the
//     unit of work.
package kyc
