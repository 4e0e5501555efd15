// Package accounts provides self service account management: registration
// with email verification, session login and logout, and profile editing.
//
// Verification lifecycle:
//   - A registration moves through VerificationState values (pending_creation,
//     inactive, email_sent, active and the two failure states) and
//     Transition rejects any edge outside its table. Accounts are stored inactive and
//     only VerifyAccountHandler activates them.
//   - RegisterUserHandler stores the account and sends the verification
//     email in one transaction, a failed send rolls the account back so the
//     address can register again.
//   - Verification tokens are signed JWTs bound to a fingerprint of the
//     account. Activating or logging in changes the fingerprint, which makes
//     every link a single use link.
//
// Sessions:
//   - Auther verifies credentials for active accounts and issues session
//     tokens. RouteAuthenticator stores them in an http only cookie and
//     ProtectedRoute binds the session to the request context.
//
// Activity sinks:
//   - ActivitySink receives registration, verification, login and profile
//     events. Sinks run best-effort (errors are logged) so they never block
//     a request.
package accounts
