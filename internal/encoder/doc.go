// Package encoder implements the H.264 encode core that sits in front of a
// hardware coder: GOP and key-frame decisions, B-frame reordering, header
// synthesis, reference list management and the coded output queue.
//
// Pixel work is delegated to a [Backend]. The [Encoder] is driven by two
// goroutines: one feeds frames through [Encoder.Encode] (or
// [Encoder.Reorder] and [Encoder.SubmitEncode]), the other drains coded
// units with [Encoder.GetOutput]. Configuration is exchanged through typed
// parameter blocks under a lock separate from the output queue lock.
package encoder
