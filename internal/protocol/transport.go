package protocol

import (
	"bufio"
	"fmt"
	"io"

	"github.com/lor00x/goldap/message"
)

// maxMessageSize bounds a single request so a bad length prefix cannot
// make the server allocate arbitrary memory.
const maxMessageSize = 16 << 20

// Reader decodes BER-encoded LDAP messages from a stream. Bytes past the
// end of one message stay buffered for the next read, so pipelined requests
// are not lost.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for message decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadMessage reads the next LDAP message. io.EOF is returned unwrapped
// when the peer closes the stream between messages.
func (r *Reader) ReadMessage() (*message.LDAPMessage, error) {
	header := make([]byte, 2, 6)
	if _, err := io.ReadFull(r.r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}
	if header[0] != 0x30 {
		return nil, fmt.Errorf("unexpected message tag 0x%02x", header[0])
	}

	// Long form lengths carry the byte count in the low bits.
	if header[1]&0x80 != 0 {
		extra := int(header[1] & 0x7F)
		if extra == 0 || extra > 4 {
			return nil, fmt.Errorf("invalid BER length encoding")
		}
		header = header[:2+extra]
		if _, err := io.ReadFull(r.r, header[2:]); err != nil {
			return nil, fmt.Errorf("failed to read message length: %w", err)
		}
	}

	length, headerLen := parseBERLength(header)
	if length < 0 {
		return nil, fmt.Errorf("invalid BER length encoding")
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", length)
	}

	data := make([]byte, headerLen+length)
	copy(data, header)
	if _, err := io.ReadFull(r.r, data[headerLen:]); err != nil {
		return nil, fmt.Errorf("failed to read full message: %w", err)
	}

	msg, err := message.ReadLDAPMessage(message.NewBytes(0, data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode LDAP message: %w", err)
	}
	return &msg, nil
}

// WriteLDAPMessage writes a BER-encoded LDAP message to w
func WriteLDAPMessage(w io.Writer, msg *message.LDAPMessage) error {
	data, err := msg.Write()
	if err != nil {
		return fmt.Errorf("failed to encode LDAP message: %w", err)
	}

	if _, err := w.Write(data.Bytes()); err != nil {
		return fmt.Errorf("failed to write to connection: %w", err)
	}
	return nil
}

// parseBERLength parses BER length encoding from a byte slice
// Returns: (content length, header length)
// BER length encoding:
// - Short form: 0xxxxxxx (0-127)
// - Long form: 1xxxxxxx [length bytes]
func parseBERLength(data []byte) (int, int) {
	if len(data) < 2 {
		return -1, 0
	}

	lengthByte := data[1]
	if lengthByte&0x80 == 0 {
		return int(lengthByte), 2
	}

	numLengthBytes := int(lengthByte & 0x7F)
	if numLengthBytes == 0 || numLengthBytes > 4 {
		return -1, 0
	}
	if len(data) < 2+numLengthBytes {
		return -1, 0
	}

	length := 0
	for i := 0; i < numLengthBytes; i++ {
		length = (length << 8) | int(data[2+i])
	}
	return length, 2 + numLengthBytes
}
