// Package password hashes credentials with Argon2id and checks new
// passwords against a signup [Policy].
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can rehash on the next successful login. Plaintext is never stored
// or logged here.
package password
