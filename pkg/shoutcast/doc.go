// Package shoutcast reads ICY/Shoutcast streams with the metadata blocks
// stripped out, so the transcoder only ever sees audio bytes.
//
// It started as a fork of github.com/romantomjak/shoutcast:
//   - Playlist URLs (.pls, .m3u) are resolved through the resolver package before connecting
//   - ICY metadata blocks are read and skipped, title changes are reported through a callback
//   - No client timeout on the body so a live stream can be played indefinitely
package shoutcast
