// Package password hashes and verifies member passwords.
//
// New hashes are Argon2id in the PHC string form. Verify also accepts
// bcrypt hashes ($2a$, $2b$, $2y$) carried over from the previous
// deployment, unless Legacy.AllowBcrypt is off.
//
// Stored hashes are untrusted input: Verify rejects malformed strings and
// cost parameters far above the configured ones.
package password
