// Package route gates navigation on the authenticated session state.
//
// A Guard decision never races the startup window: every evaluation
// waits for the session store's bootstrap gate before reading auth
// state, so a protected route visited at launch resolves against the
// validated session rather than redirecting an already signed-in user.
//
// Protected routes fall back to the sign-in entry, guest-only routes
// to the dashboard. The recovery gate handles password-reset links,
// including the expired-link errors the provider reports in the URL
// fragment.
package route
