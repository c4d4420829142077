package codec

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/go-objectsid"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}

	utf16le = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	utf16be = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
)

// binaryDecoders render well-known binary attributes as text.
var binaryDecoders = map[string]func([]byte) any{
	"objectguid": decodeGUID,
	"objectsid":  decodeSID,
}

// binaryAttributes must be requested as raw bytes from the directory.
var binaryAttributes = map[string]bool{
	"objectguid":      true,
	"objectsid":       true,
	"jpegphoto":       true,
	"thumbnailphoto":  true,
	"usercertificate": true,
}

// IsBinaryAttribute reports whether values of the attribute are binary.
// Attributes requested with the ";binary" option always are.
func IsBinaryAttribute(name string) bool {
	name = strings.ToLower(name)
	return binaryAttributes[name] || strings.HasSuffix(name, ";binary")
}

// decodeBytes returns text for UTF-8 payloads and UTF-16 payloads carrying a
// byte order mark; anything else is returned as is.
func decodeBytes(b []byte) any {
	if bytes.HasPrefix(b, bomUTF16LE) {
		if out, err := utf16le.NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	if bytes.HasPrefix(b, bomUTF16BE) {
		if out, err := utf16be.NewDecoder().Bytes(b); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return b
}

// decodeGUID converts Active Directory's mixed-endian GUID layout into the
// canonical UUID string. Data1..Data3 are little-endian, Data4 is kept as is.
func decodeGUID(b []byte) any {
	if len(b) != 16 {
		return decodeBytes(b)
	}
	std := make([]byte, 16)
	std[0], std[1], std[2], std[3] = b[3], b[2], b[1], b[0]
	std[4], std[5] = b[5], b[4]
	std[6], std[7] = b[7], b[6]
	copy(std[8:], b[8:])

	id, err := uuid.FromBytes(std)
	if err != nil {
		return decodeBytes(b)
	}
	return id.String()
}

// decodeSID renders a binary security identifier as S-1-5-21-...
func decodeSID(b []byte) any {
	// revision, sub-authority count, 6-byte authority, 4 bytes per sub-authority
	if len(b) < 8 || len(b) != 8+4*int(b[1]) {
		return decodeBytes(b)
	}
	sid := objectsid.Decode(b)
	return sid.String()
}
