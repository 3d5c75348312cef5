// Package account is the read-only view of forum accounts used by login.
//
// Profile and credential CRUD belong to the account service; this package
// only resolves an account by email and checks a submitted password.
package account
