package storage

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/beaconlabs/beacon/api"
)

// Batch is one finalized batch file delivered to the upload pipeline:
// the file name as ID plus the decoded event payloads in write order.
type Batch struct {
	ID     string
	Events [][]byte
}

// maxDecodedEventSize is a sanity cap on a single length prefix while
// decoding. A prefix beyond it means the file is corrupt, not that an event
// of that size was ever accepted.
const maxDecodedEventSize = 32 << 20

// appendEvent writes one length-prefixed event blob. The prefix is a 4-byte
// big-endian length over data, which is ciphertext when encryption is
// installed.
func appendEvent(w io.Writer, data []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// decodeAll reads every length-prefixed event from r, decrypting each blob
// when an encryption adapter is installed. Any framing or decryption error
// invalidates the whole batch.
func decodeAll(r io.Reader, enc api.DataEncryption) ([][]byte, error) {
	var events [][]byte
	var prefix [4]byte
	for {
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if size == 0 || size > maxDecodedEventSize {
			return nil, fmt.Errorf("implausible event size %d", size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("read event body: %w", err)
		}
		if enc != nil {
			decrypted, err := enc.Decrypt(data)
			if err != nil {
				return nil, fmt.Errorf("decrypt event: %w", err)
			}
			data = decrypted
		}
		events = append(events, data)
	}
}
