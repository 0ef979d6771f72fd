// Package bitstream implements MSB-first bit writing and reading for H.264
// syntax: fixed-width fields, Exp-Golomb codes, RBSP trailing bits, NAL unit
// headers and emulation prevention.
//
// [Writer] is the building block used by the header builders in
// [github.com/zsiec/hwcodec/internal/h264]. [Reader] mirrors it for parsers
// and round-trip tests.
package bitstream
