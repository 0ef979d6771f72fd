// Package h264 builds and parses the H.264 syntax the encoder core owns:
// sequence and picture parameter sets (with VUI and HRD), slice headers,
// caption SEI messages, Annex B framing and the AVC decoder configuration
// record.
//
// Writers reject syntax branches they do not implement with [ErrUnsupported]
// and never emit a partial header in that case.
package h264
