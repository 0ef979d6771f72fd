// Package dpb implements a decoded picture buffer with bumping output.
//
// A [DPB] holds pictures that are waiting for display or are still needed
// for reference. Pictures leave in ascending picture order count through an
// [OutputFunc]. Two policies exist: the general N-slot policy, and a 2-slot
// policy for the forward/backward reference topology of MPEG-2 style
// decoding, selected by constructing the buffer with capacity 2.
//
// A DPB is not safe for concurrent use.
package dpb
