package push

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record layout, version 1. Integers are big endian; str and bytes fields are
// a uvarint length followed by the raw bytes.
//
//	magic "RPAS" | version u8 | state tag u8 | error
//	| device id str | token bytes | update token str | secret str
//
//	error = present u8 [kind u8 | code u32 | status u16 | message str]
//
// Events use magic "RPAE", the event tag, then the error block, the token
// bytes and the update token str.
const (
	CodecVersion uint8 = 1

	recordMagic = "RPAS"
	eventMagic  = "RPAE"
)

// Codec errors.
var (
	ErrBadMagic           = errors.New("codec: bad magic")
	ErrUnsupportedVersion = errors.New("codec: unsupported version")
	ErrUnknownTag         = errors.New("codec: unknown tag")
	ErrTruncated          = errors.New("codec: truncated input")
)

// MarshalRecord encodes a record in the current layout.
func MarshalRecord(rec PersistedRecord) ([]byte, error) {
	if rec.State == nil {
		return nil, fmt.Errorf("marshal record: %w", ErrUnknownTag)
	}
	if _, ok := stateNames[rec.State.Tag()]; !ok {
		return nil, fmt.Errorf("marshal record: %w: %d", ErrUnknownTag, rec.State.Tag())
	}

	buf := make([]byte, 0, 64+len(rec.Device.Token)+len(rec.Device.UpdateToken))
	buf = append(buf, recordMagic...)
	buf = append(buf, CodecVersion, byte(rec.State.Tag()))
	buf = appendError(buf, stateError(rec.State))
	buf = appendBytes(buf, []byte(rec.Device.DeviceID))
	buf = appendBytes(buf, rec.Device.Token)
	buf = appendBytes(buf, []byte(rec.Device.UpdateToken))
	buf = appendBytes(buf, []byte(rec.Device.Secret))
	return buf, nil
}

// UnmarshalRecord decodes a record written by MarshalRecord.
func UnmarshalRecord(data []byte) (PersistedRecord, error) {
	r := &reader{data: data}
	if err := r.header(recordMagic); err != nil {
		return PersistedRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}

	tag := StateTag(r.byte())
	errInfo := r.errorInfo()
	var rec PersistedRecord
	rec.Device.DeviceID = string(r.bytes())
	rec.Device.Token = r.bytes()
	rec.Device.UpdateToken = string(r.bytes())
	rec.Device.Secret = string(r.bytes())
	if r.err != nil {
		return PersistedRecord{}, fmt.Errorf("unmarshal record: %w", r.err)
	}

	state, err := stateFromTag(tag, errInfo)
	if err != nil {
		return PersistedRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	rec.State = state
	return rec, nil
}

// MarshalEvent encodes an event.
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("marshal event: %w", ErrUnknownTag)
	}
	var (
		errInfo     *ErrorInfo
		token       []byte
		updateToken string
	)
	switch v := ev.(type) {
	case GotPushDeviceDetails:
		token = v.Token
	case GotDeviceRegistration:
		updateToken = v.UpdateToken
	case GettingDeviceRegistrationFailed:
		errInfo = v.Err
	case UpdatingRegistrationFailed:
		errInfo = v.Err
	case DeregistrationFailed:
		errInfo = v.Err
	case CalledActivate, CalledDeactivate, RegistrationUpdated, Deregistered:
	default:
		return nil, fmt.Errorf("marshal event: %w: %T", ErrUnknownTag, ev)
	}

	buf := make([]byte, 0, 32+len(token)+len(updateToken))
	buf = append(buf, eventMagic...)
	buf = append(buf, CodecVersion, byte(ev.Tag()))
	buf = appendError(buf, errInfo)
	buf = appendBytes(buf, token)
	buf = appendBytes(buf, []byte(updateToken))
	return buf, nil
}

// UnmarshalEvent decodes an event written by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	r := &reader{data: data}
	if err := r.header(eventMagic); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	tag := EventTag(r.byte())
	errInfo := r.errorInfo()
	token := r.bytes()
	updateToken := string(r.bytes())
	if r.err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", r.err)
	}

	switch tag {
	case TagCalledActivate:
		return CalledActivate{}, nil
	case TagCalledDeactivate:
		return CalledDeactivate{}, nil
	case TagGotPushDeviceDetails:
		return GotPushDeviceDetails{Token: token}, nil
	case TagGotDeviceRegistration:
		return GotDeviceRegistration{UpdateToken: updateToken}, nil
	case TagGettingDeviceRegistrationFailed:
		return GettingDeviceRegistrationFailed{Err: errInfo}, nil
	case TagRegistrationUpdated:
		return RegistrationUpdated{}, nil
	case TagUpdatingRegistrationFailed:
		return UpdatingRegistrationFailed{Err: errInfo}, nil
	case TagDeregistered:
		return Deregistered{}, nil
	case TagDeregistrationFailed:
		return DeregistrationFailed{Err: errInfo}, nil
	default:
		return nil, fmt.Errorf("unmarshal event: %w: %d", ErrUnknownTag, tag)
	}
}

func stateFromTag(tag StateTag, errInfo *ErrorInfo) (State, error) {
	switch tag {
	case TagNotActivated:
		return NotActivated{}, nil
	case TagWaitingForPushDeviceDetails:
		return WaitingForPushDeviceDetails{}, nil
	case TagWaitingForDeviceRegistration:
		return WaitingForDeviceRegistration{}, nil
	case TagWaitingForNewPushDeviceDetails:
		return WaitingForNewPushDeviceDetails{}, nil
	case TagWaitingForRegistrationUpdate:
		return WaitingForRegistrationUpdate{}, nil
	case TagAfterRegistrationUpdateFailed:
		return AfterRegistrationUpdateFailed{Err: errInfo}, nil
	case TagWaitingForDeregistration:
		return WaitingForDeregistration{}, nil
	case TagAfterDeregistrationFailed:
		return AfterDeregistrationFailed{Err: errInfo}, nil
	case TagActivated:
		return Activated{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendError(buf []byte, e *ErrorInfo) []byte {
	if e == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1, byte(e.Kind))
	buf = binary.BigEndian.AppendUint32(buf, uint32(e.Code))       //nolint:gosec // codes are small positive ints
	buf = binary.BigEndian.AppendUint16(buf, uint16(e.StatusCode)) //nolint:gosec // HTTP status range
	return appendBytes(buf, []byte(e.Message))
}

// reader is a sticky-error cursor over an encoded blob.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) header(magic string) error {
	if len(r.data) < len(magic)+1 {
		return ErrTruncated
	}
	if string(r.data[:len(magic)]) != magic {
		return ErrBadMagic
	}
	r.off = len(magic)
	if v := r.byte(); v != CodecVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return nil
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data)-r.off {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	n, size := binary.Uvarint(r.data[r.off:])
	if size <= 0 {
		r.err = ErrTruncated
		return nil
	}
	r.off += size
	b := r.take(int(n)) //nolint:gosec // bounded by take
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) errorInfo() *ErrorInfo {
	if r.byte() == 0 {
		return nil
	}
	kind := ErrorKind(r.byte())
	code := r.take(4)
	status := r.take(2)
	msg := r.bytes()
	if r.err != nil {
		return nil
	}
	return &ErrorInfo{
		Kind:       kind,
		Code:       int(binary.BigEndian.Uint32(code)),
		StatusCode: int(binary.BigEndian.Uint16(status)),
		Message:    string(msg),
	}
}
