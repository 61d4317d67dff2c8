// ABOUTME: Package documentation for the auth HTTP surface
// ABOUTME: Describes the route groups and how they compose the core services

// Package webadmin serves the HTTP authentication surface: passkey
// registration and login ceremonies, the password token fallback,
// token refresh, trusted-device management, and guarded admin routes.
//
// The package is a thin route layer. Ceremony logic lives in
// internal/ceremony, device trust in internal/device, token issuance
// in internal/token, and authorization in internal/guard; handlers
// here translate between HTTP and those services and enforce the
// response shape {"success": false, "error": ..., "code": ...} on
// failures.
package webadmin
