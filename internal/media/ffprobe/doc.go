// Package ffprobe shells out to ffprobe and decodes its JSON report.
//
// Capabilities use it to verify generated artifacts before they are
// recorded: the music stage confirms a downloaded track decodes as audio
// with a usable duration, and the video stage confirms a render carries
// a video stream at the expected resolution. A corrupt download or a
// silent render failure is caught at the stage boundary instead of by
// whatever consumes the artifact next.
package ffprobe
