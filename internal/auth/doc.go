// Package auth defines the credential validation boundary.
//
// Token issuance lives in an external subsystem; the gateway only verifies
// a presented credential and resolves it to a user identity at admission
// time. The default implementation verifies HS256 JWTs.
package auth
