// Package downloader orchestrates multi-file model downloads.
//
// A Session drives one model's files through the redirect-aware client and
// the resumable transfer, strictly sequentially. Sequential transfer is a
// deliberate choice: it keeps bandwidth fair across concurrent model
// downloads and keeps the merged progress math simple.
//
// The destination directory tree is the only persisted state. Each file's
// on-disk length is its resume checkpoint; re-running a failed or
// interrupted session picks up exactly where the bytes stopped.
//
// # Lifecycle
//
//	PENDING → [MANIFEST_FETCH] → {RESUMING|DOWNLOADING} per file
//	        → ALL_FILES_COMPLETE → [EXTRACTING] → VALIDATING → COMPLETE
//
// FAILED is reachable from any state; a caller-driven retry simply creates
// and runs a new Session over the same directory.
package downloader
