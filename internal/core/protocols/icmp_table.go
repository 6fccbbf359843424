package protocols

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/xlat/internal/core"
)

// ICMP type and code mapping between ICMPv4 and ICMPv6 (RFC 7915 sections
// 4.2 and 5.2). Anything not listed is not translated.

// Time exceeded codes are shared by both families.
const (
	codeHopLimit   = 0
	codeReassembly = 1
)

type icmpKey struct {
	typ, code uint8
}

type restRule uint8

const (
	restZero         restRule = iota // unused field, cleared
	restKeep                         // echo identifier and sequence
	restMTU                          // next-hop MTU, adjusted for header size
	restPointer                      // parameter problem pointer, remapped
	restProtoPointer                 // IPv6 pointer at the next header field
)

type icmpRule struct {
	typ, code uint8
	rest      restRule
}

var icmp4to6 = map[icmpKey]icmpRule{
	{layers.ICMPv4TypeEchoRequest, 0}: {layers.ICMPv6TypeEchoRequest, 0, restKeep},
	{layers.ICMPv4TypeEchoReply, 0}:   {layers.ICMPv6TypeEchoReply, 0, restKeep},

	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeNet}:                 {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHost}:                {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeProtocol}:            {layers.ICMPv6TypeParameterProblem, layers.ICMPv6CodeUnrecognizedNextHeader, restProtoPointer},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort}:                {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodePortUnreachable, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeFragmentationNeeded}: {layers.ICMPv6TypePacketTooBig, 0, restMTU},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeSourceRoutingFailed}: {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeNetUnknown}:          {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHostUnknown}:         {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeSourceIsolated}:      {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeNetAdminProhibited}:  {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAdminProhibited, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHostAdminProhibited}: {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAdminProhibited, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeNetTOS}:              {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHostTOS}:             {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeCommAdminProhibited}: {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAdminProhibited, restZero},
	{layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePrecedenceCutoff}:    {layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAdminProhibited, restZero},

	{layers.ICMPv4TypeTimeExceeded, codeHopLimit}:   {layers.ICMPv6TypeTimeExceeded, codeHopLimit, restZero},
	{layers.ICMPv4TypeTimeExceeded, codeReassembly}: {layers.ICMPv6TypeTimeExceeded, codeReassembly, restZero},

	{layers.ICMPv4TypeParameterProblem, layers.ICMPv4CodePointerIndicatesError}: {layers.ICMPv6TypeParameterProblem, layers.ICMPv6CodeErroneousHeaderField, restPointer},
	{layers.ICMPv4TypeParameterProblem, layers.ICMPv4CodeBadLength}:             {layers.ICMPv6TypeParameterProblem, layers.ICMPv6CodeErroneousHeaderField, restPointer},
}

var icmp6to4 = map[icmpKey]icmpRule{
	{layers.ICMPv6TypeEchoRequest, 0}: {layers.ICMPv4TypeEchoRequest, 0, restKeep},
	{layers.ICMPv6TypeEchoReply, 0}:   {layers.ICMPv4TypeEchoReply, 0, restKeep},

	{layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeNoRouteToDst}:       {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHost, restZero},
	{layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAdminProhibited}:    {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHostAdminProhibited, restZero},
	{layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeBeyondScopeOfSrc}:   {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHost, restZero},
	{layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodeAddressUnreachable}: {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeHost, restZero},
	{layers.ICMPv6TypeDestinationUnreachable, layers.ICMPv6CodePortUnreachable}:    {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodePort, restZero},

	{layers.ICMPv6TypePacketTooBig, 0}: {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeFragmentationNeeded, restMTU},

	{layers.ICMPv6TypeTimeExceeded, codeHopLimit}:   {layers.ICMPv4TypeTimeExceeded, codeHopLimit, restZero},
	{layers.ICMPv6TypeTimeExceeded, codeReassembly}: {layers.ICMPv4TypeTimeExceeded, codeReassembly, restZero},

	{layers.ICMPv6TypeParameterProblem, layers.ICMPv6CodeErroneousHeaderField}:   {layers.ICMPv4TypeParameterProblem, layers.ICMPv4CodePointerIndicatesError, restPointer},
	{layers.ICMPv6TypeParameterProblem, layers.ICMPv6CodeUnrecognizedNextHeader}: {layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4CodeProtocol, restZero},
}

// pointer4to6 maps an IPv4 header byte offset to the IPv6 field holding the
// same information; -1 has no counterpart.
var pointer4to6 = [20]int8{
	0, 1, 4, 4, // version/IHL, TOS, total length
	-1, -1, -1, -1, // identification, flags, fragment offset
	7, 6, // TTL, protocol
	-1, -1, // header checksum
	8, 8, 8, 8, // source address
	24, 24, 24, 24, // destination address
}

// pointer6to4 maps an IPv6 header byte offset to the IPv4 field.
var pointer6to4 = [40]int8{
	0, 1, -1, -1, // version/traffic class, flow label
	2, 2, 9, 8, // payload length, next header, hop limit
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16, 16,
}

// nextHeaderPointer is the IPv6 header offset of the next header field.
const nextHeaderPointer = 6

// mtuPlateaus are the RFC 1191 plateau values, used when an IPv4 router
// reports fragmentation needed without an MTU.
var mtuPlateaus = [...]int{65535, 32000, 17914, 8166, 4352, 2002, 1492, 1006, 508, 296, 68}

func icmpRules(from Version) map[icmpKey]icmpRule {
	if from == IPv4 {
		return icmp4to6
	}
	return icmp6to4
}

// translateEcho returns the type and code of an echo message in the other
// family.
func translateEcho(from Version, typ, code uint8) (uint8, uint8, error) {
	rule, ok := icmpRules(from)[icmpKey{typ, code}]
	if !ok || rule.rest != restKeep {
		return 0, 0, untranslatable(from, typ, code)
	}
	return rule.typ, rule.code, nil
}

// translateError returns the header of an ICMP error in the other family.
// inner is the quoted packet, used to derive a missing MTU.
func translateError(from Version, typ, code uint8, rest [4]byte, inner *IP) (uint8, uint8, [4]byte, error) {
	var out [4]byte
	rule, ok := icmpRules(from)[icmpKey{typ, code}]
	if !ok || rule.rest == restKeep {
		return 0, 0, out, untranslatable(from, typ, code)
	}

	switch rule.rest {
	case restMTU:
		setU32(out[:], 0, translateMTU(from, rest, inner))
	case restProtoPointer:
		setU32(out[:], 0, nextHeaderPointer)
	case restPointer:
		// ICMPv4 carries an 8-bit pointer, ICMPv6 a 32-bit one.
		ptr := int(rest[0])
		if from == IPv6 {
			ptr = int(min(getU32(rest[:], 0), 0xff))
		}
		var mapped int8 = -1
		switch {
		case from == IPv4 && ptr < len(pointer4to6):
			mapped = pointer4to6[ptr]
		case from == IPv6 && ptr < len(pointer6to4):
			mapped = pointer6to4[ptr]
		}
		if mapped < 0 {
			return 0, 0, out, fmt.Errorf("%w: parameter problem pointer %d", core.ErrUntranslatableICMP, ptr)
		}
		if from == IPv4 {
			setU32(out[:], 0, uint32(mapped))
		} else {
			out[0] = byte(mapped)
		}
	}
	return rule.typ, rule.code, out, nil
}

func translateMTU(from Version, rest [4]byte, inner *IP) uint32 {
	if from == IPv6 {
		mtu := getU32(rest[:], 0)
		switch {
		case mtu < 20:
			return 0
		case mtu-20 > 0xffff:
			return 0xffff
		default:
			return mtu - 20
		}
	}
	mtu := int(getU16(rest[:], 2))
	if mtu == 0 {
		mtu = plateau(inner.TotalLen())
	}
	return uint32(mtu + 20)
}

// plateau returns the largest plateau value below size.
func plateau(size int) int {
	for _, p := range mtuPlateaus {
		if p < size {
			return p
		}
	}
	return mtuPlateaus[len(mtuPlateaus)-1]
}

func untranslatable(from Version, typ, code uint8) error {
	return fmt.Errorf("%w: %s type %d code %d", core.ErrUntranslatableICMP, from, typ, code)
}
