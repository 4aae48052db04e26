// Package rendering implements the video stage capability: the cover
// image looped over the audio track through ffmpeg, verified with
// ffprobe, plus an optional thumbnail frame. Inputs come from the
// prior stages' recorded artifacts, falling back to their conventional
// directory locations.
package rendering
