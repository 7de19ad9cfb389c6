// Package answer defines the records exchanged by the answer submission
// pipeline and the canonical encoding of answer payloads.
//
// All other internal packages import answer; answer imports nothing
// internal.
//
// Payloads are opaque to the pipeline. They are stored and compared in
// canonical JSON form so that two submissions of the same answer produce
// byte-identical rows and the same digest:
//   - object keys sorted by UTF-16 code units (RFC 8785)
//   - strings NFC normalised, only quote, backslash and control
//     characters escaped
//   - numbers kept exactly as received
//   - no insignificant whitespace
package answer
