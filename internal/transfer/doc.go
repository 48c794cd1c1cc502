// Package transfer implements a single-file resumable HTTP download.
//
// The length of the destination file is the only resume checkpoint: there
// is no sidecar journal. A transfer asks the server for bytes from the
// current file length onward and interprets the response status:
//
//   - 206: the server honored the range. If the Content-Range start does
//     not match the requested offset the local file is truncated to the
//     server-reported start (the server is authoritative).
//   - 200: the server ignored the range. The local partial file is
//     discarded and the download restarts from zero.
//   - 416: the requested offset is at or past end-of-file, meaning the
//     local copy is already complete.
//
// Transfers perform no internal retry; a failed attempt propagates to the
// caller, and retrying is always safe because state is recovered purely
// from the bytes on disk.
package transfer
