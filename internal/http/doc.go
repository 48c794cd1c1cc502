// Package http provides an HTTP client for authenticated model downloads.
//
// This package handles:
//   - Manual redirect following that preserves the Authorization header
//   - Range requests for resumable downloads
//   - HEAD requests to discover file size and range support
//   - Diagnosis of 401/403/404 responses (bad token vs gated repository
//     vs missing file)
//
// Content hosts commonly answer an authenticated request with a 302 to a
// CDN on a different host. Go's default client re-issues the request there
// but strips the Authorization header across host changes, which turns a
// valid token into a silent 403. The client here disables automatic
// redirects and re-attaches Authorization and Range itself on every hop.
//
// # Usage
//
//	client := http.NewClient(Options{
//	    Token: os.Getenv("HF_TOKEN"),
//	})
//
//	// Get file info
//	info, err := client.Head(ctx, url)
//	// info.Size, info.AcceptsRanges
//
//	// Open a download, resuming from a byte offset
//	resp, err := client.Get(ctx, url, offset)
//	defer resp.Body.Close()
package http
