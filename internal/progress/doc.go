// Package progress provides progress tracking for model downloads.
//
// A Tracker turns raw byte counts into Event values carrying cumulative
// bytes, the expected total, and a smoothed transfer speed. Events flow to
// a single callback; TotalBytes == 0 means the total is unknown and the
// consumer should render an indeterminate bar.
//
// # Usage
//
//	tracker := progress.NewTracker(totalBytes, func(ev progress.Event) {
//	    fmt.Printf("%s / %s (%s/s)\n",
//	        progress.FormatBytes(ev.BytesDownloaded),
//	        progress.FormatBytes(ev.TotalBytes),
//	        progress.FormatBytes(int64(ev.BytesPerSecond)))
//	})
//
//	// Update as bytes land on disk
//	tracker.Update(cumulativeBytes)
//
// The package also holds the byte/duration formatting helpers shared by
// the CLI and config parsing.
package progress
