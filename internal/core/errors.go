// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with %w and match with errors.Is.
var (
	// Parse errors
	ErrMalformedHeader         = errors.New("xlat: malformed header")
	ErrTruncatedEmbeddedPacket = errors.New("xlat: truncated embedded packet")
	ErrExcessiveNesting        = errors.New("xlat: excessive icmp error nesting")

	// Conversion errors
	ErrUnsupportedVersion   = errors.New("xlat: unsupported ip version")
	ErrBufferTooSmall       = errors.New("xlat: header buffer too small")
	ErrConversionPending    = errors.New("xlat: conversion already pending")
	ErrEmbeddedNotConverted = errors.New("xlat: embedded packet not converted")
	ErrUntranslatableICMP   = errors.New("xlat: untranslatable icmp message")

	// Driver errors
	ErrUnmappable = errors.New("xlat: address not mappable")
	ErrFragmented = errors.New("xlat: fragmented packet")
	ErrTTLExpired = errors.New("xlat: ttl expired in transit")

	// Framing errors
	ErrPacketTooShort   = errors.New("xlat: packet too short")
	ErrUnsupportedProto = errors.New("xlat: unsupported protocol")

	// Configuration errors
	ErrConfigInvalid = errors.New("xlat: invalid configuration")
)

// DropReason returns a short, stable label for err suitable for metrics.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrTruncatedEmbeddedPacket):
		return "truncated_embedded"
	case errors.Is(err, ErrExcessiveNesting):
		return "excessive_nesting"
	case errors.Is(err, ErrUntranslatableICMP):
		return "untranslatable_icmp"
	case errors.Is(err, ErrUnmappable):
		return "unmappable"
	case errors.Is(err, ErrFragmented):
		return "fragmented"
	case errors.Is(err, ErrTTLExpired):
		return "ttl_expired"
	case errors.Is(err, ErrPacketTooShort):
		return "too_short"
	case errors.Is(err, ErrUnsupportedProto):
		return "unsupported_proto"
	default:
		return "other"
	}
}
