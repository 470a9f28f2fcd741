package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// CurrentSchemaVersion is the leading byte of every encoded snapshot.
const CurrentSchemaVersion = 1

const flagActive byte = 1 << 0

// Encode serializes a snapshot: version, length-prefixed ids, flags, then
// unix-millisecond timestamps.
func Encode(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if len(s.SessionID) > 255 {
		return nil, errors.New("sessionID too long")
	}
	buf.WriteByte(byte(len(s.SessionID)))
	buf.WriteString(s.SessionID)

	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	var flags byte
	if s.Active {
		flags |= flagActive
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.LastActivityAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses Encode output. Trailing bytes are rejected.
func Decode(data []byte) (*Snapshot, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, errors.New("unsupported session schema version")
	}

	s := &Snapshot{}

	if s.SessionID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.UserID, err = readString(reader); err != nil {
		return nil, err
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Active = flags&flagActive != 0

	var last, expires int64
	if err := binary.Read(reader, binary.BigEndian, &last); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, err
	}
	s.LastActivityAt = time.UnixMilli(last).UTC()
	s.ExpiresAt = time.UnixMilli(expires).UTC()

	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}
	return s, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
