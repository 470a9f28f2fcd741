// Package password hashes credentials with Argon2id and checks the
// configured strength rule.
//
// Hashes are stored as PHC strings,
//
//	$argon2id$v=19$m=<KiB>,t=<iterations>,p=<threads>$<salt>$<key>
//
// with standard padded base64 for salt and key. Stored parameters below the
// package floors are treated as malformed. [Argon2.NeedsUpgrade] lets the
// caller re-hash on the next successful login. Nothing here logs or persists
// plaintext.
package password
