// Package ffmpegcmd builds and runs ffmpeg invocations for the video
// stage: composing a still image and an audio track into a video, and
// extracting thumbnail frames from the result.
//
// Argument lists are assembled by pure functions (ComposeArgs,
// ThumbnailArgs) so they can be inspected without spawning a process.
// Execution failures are classified for the retry policy: a context
// deadline maps to a timeout, a missing binary to local IO, and
// anything else stays unclassified with ffmpeg's stderr attached.
package ffmpegcmd
