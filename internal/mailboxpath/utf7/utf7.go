// Package utf7 implements Modified UTF-7, the mailbox-name encoding of
// RFC 3501 §5.1.3 (itself a restriction of RFC 2152). It is used by
// internal/mailboxpath to encode and decode mailbox path segments for
// servers that haven't enabled UTF8=ACCEPT.
package utf7

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// ErrInvalid is returned for malformed Modified UTF-7 input: an
// unterminated "&" shift sequence, or a base64 run that doesn't decode
// to a whole number of UTF-16 code units.
var ErrInvalid = errors.New("utf7: invalid modified UTF-7")

const encodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,"

// Modified UTF-7 uses standard base64 with "," instead of "/" and no padding.
var b64 = base64.NewEncoding(encodeAlphabet).WithPadding(base64.NoPadding)

// Decode converts a Modified UTF-7 mailbox name to UTF-8.
func Decode(src string) (string, error) {
	dst, err := AppendDecode(nil, []byte(src))
	if err != nil {
		return "", err
	}
	return string(dst), nil
}

// Encode converts a UTF-8 mailbox name to Modified UTF-7.
func Encode(src string) string {
	dst, _ := AppendEncode(nil, []byte(src))
	return string(dst)
}

// AppendDecode appends the UTF-8 decoding of src to dst.
func AppendDecode(dst, src []byte) ([]byte, error) {
	for len(src) > 0 {
		c := src[0]
		src = src[1:]
		if c != '&' {
			dst = append(dst, c)
			continue
		}
		i := bytes.IndexByte(src, '-')
		if i == -1 {
			return nil, ErrInvalid
		}
		if i == 0 {
			src = src[1:]
			dst = append(dst, '&')
			continue
		}
		scratch := make([]byte, b64.DecodedLen(i))
		n, err := b64.Decode(scratch, src[:i])
		src = src[i+1:]
		if err != nil {
			return nil, fmt.Errorf("utf7: decode: %w", err)
		}
		scratch = scratch[:n]
		if len(scratch)%2 == 1 {
			return nil, ErrInvalid
		}
		for len(scratch) > 0 {
			r := rune(scratch[0])<<8 | rune(scratch[1])
			scratch = scratch[2:]
			if utf16.IsSurrogate(r) {
				if len(scratch) < 2 {
					return nil, ErrInvalid
				}
				r2 := rune(scratch[0])<<8 | rune(scratch[1])
				scratch = scratch[2:]
				r = utf16.DecodeRune(r, r2)
			}
			dst = appendRune(dst, r)
		}
	}
	return dst, nil
}

func appendRune(slice []byte, c rune) []byte {
	var b [4]byte
	return append(slice, b[:utf8.EncodeRune(b[:], c)]...)
}

// AppendEncode appends the Modified UTF-7 encoding of src to dst.
func AppendEncode(dst, src []byte) ([]byte, error) {
	for len(src) > 0 {
		r, sz := utf8.DecodeRune(src)
		if r == '&' {
			dst = append(dst, '&', '-')
			src = src[1:]
			continue
		} else if r < utf8.RuneSelf {
			dst = append(dst, byte(r))
			src = src[1:]
			continue
		}
		scratch := make([]byte, 0, 64)
		for len(src) > 0 {
			r, sz = utf8.DecodeRune(src)
			if r < utf8.RuneSelf {
				break
			}
			src = src[sz:]
			if r1, r2 := utf16.EncodeRune(r); r1 != '�' {
				scratch = append(scratch, byte(r1>>8), byte(r1))
				r = r2
			}
			scratch = append(scratch, byte(r>>8), byte(r))
		}

		b64len := b64.EncodedLen(len(scratch))
		dst = append(dst, '&')
		dst = append(dst, make([]byte, b64len)...)
		b64.Encode(dst[len(dst)-b64len:], scratch)
		dst = append(dst, '-')
	}
	return dst, nil
}
