// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can rehash on the next successful login. [Argon2.VerifyDummy] burns the
// same work as a real verification for callers that have no stored hash.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords (callers supply plaintext and receive hashes).
//   - Import any other dirauth package.
//   - Log plaintext passwords.
package password
