// Package musicgen implements the music stage capability. It drives
// one generation through the Suno API end to end: reserve quota,
// submit the prompt, poll the task at the configured interval inside
// the generation budget, download the audio, and verify it with
// ffprobe before reporting the artifact.
package musicgen
