package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CurrentSchemaVersion is the only record layout this build writes.
//
//	version(1) | idLen(1) | identityID | createdAt(8) | lastActivityAt(8) | expiresAt(8)
//
// lastActivityAt and expiresAt are deliberately the trailing 16 bytes so the
// touch script can rewrite them without parsing the record.
const CurrentSchemaVersion = 1

const trailerSize = 16

var ErrCorruptRecord = errors.New("corrupt session record")

func Encode(s *Session) ([]byte, error) {
	if len(s.IdentityID) == 0 || len(s.IdentityID) > 255 {
		return nil, errors.New("identityID length out of range")
	}

	var buf bytes.Buffer
	buf.Grow(2 + len(s.IdentityID) + 24)

	buf.WriteByte(CurrentSchemaVersion)
	buf.WriteByte(byte(len(s.IdentityID)))
	buf.WriteString(s.IdentityID)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	buf.Write(encodeTrailer(s.LastActivityAt, s.ExpiresAt))

	return buf.Bytes(), nil
}

func encodeTrailer(lastActivityAt, expiresAt int64) []byte {
	out := make([]byte, trailerSize)
	binary.BigEndian.PutUint64(out[:8], uint64(lastActivityAt))
	binary.BigEndian.PutUint64(out[8:], uint64(expiresAt))
	return out
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported session schema version %d", ErrCorruptRecord, version)
	}

	idLen, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if idLen == 0 {
		return nil, fmt.Errorf("%w: empty identity id", ErrCorruptRecord)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	s := &Session{IdentityID: string(id)}
	for _, field := range []*int64{&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
	}
	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptRecord)
	}

	return s, nil
}
