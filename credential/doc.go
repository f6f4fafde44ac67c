// Package credential defines the five credential record types held by the
// token cache (access token, refresh token, ID token, account, app metadata)
// together with their canonical cache keys and scope-set algebra.
//
// Keys are a pure function of a record's identifying fields: replacing a
// secret never changes the key. All key comparison is case-insensitive, which
// is achieved by lower-casing the joined key form. The JSON shape of each
// record follows the cross-language cache schema (short snake_case field
// names, unix-second timestamps serialized as quoted strings), and every
// record carries an AdditionalFields bucket so fields written by newer
// implementations survive a load/store round-trip untouched.
package credential
