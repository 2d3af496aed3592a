package sniff

import (
	"bytes"
	"encoding/binary"

	"github.com/pires/go-proxyproto"
)

const (
	peekSize = 512

	// Longest possible headers: a v1 line including CRLF, and the v2 fixed
	// part plus the largest address block.
	maxV1HeaderLen = 108
	maxV2HeaderLen = 16 + 216

	v2FixedLen = 16
)

type signatureMatch int

const (
	sigMismatch signatureMatch = iota
	sigPartial
	sigFull
)

func matchSignature(buf, sig []byte) signatureMatch {
	if len(buf) < len(sig) {
		if bytes.HasPrefix(sig, buf) {
			return sigPartial
		}
		return sigMismatch
	}
	if bytes.HasPrefix(buf, sig) {
		return sigFull
	}
	return sigMismatch
}

type verdict int

const (
	verdictNormal verdict = iota
	verdictPending
	verdictHeader
)

func (v verdict) String() string {
	switch v {
	case verdictNormal:
		return "normal"
	case verdictPending:
		return "pending"
	case verdictHeader:
		return "header"
	default:
		return "unknown"
	}
}

// frame classifies the bytes seen so far at the start of a connection. With
// verdictHeader it also returns the length of the header to decode.
func frame(buf []byte) (verdict, int) {
	v1 := matchSignature(buf, proxyproto.SIGV1)
	v2 := matchSignature(buf, proxyproto.SIGV2)

	switch {
	case v1 == sigFull:
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return verdictHeader, i + 1
		}
		if len(buf) > maxV1HeaderLen {
			return verdictNormal, 0
		}
		return verdictPending, 0
	case v2 == sigFull:
		if len(buf) >= v2FixedLen {
			total := v2FixedLen + int(binary.BigEndian.Uint16(buf[14:v2FixedLen]))
			if len(buf) >= total {
				return verdictHeader, total
			}
		}
		if len(buf) > maxV2HeaderLen {
			return verdictNormal, 0
		}
		return verdictPending, 0
	case v1 == sigPartial, v2 == sigPartial:
		return verdictPending, 0
	}
	return verdictNormal, 0
}
