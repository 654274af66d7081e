package shadowrpc

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/shadow"
)

// Messages travel as google.protobuf.Struct. Field names follow the
// snake_case JSON names of the vehicle_shadow proto messages.
const (
	fieldPaths        = "paths"
	fieldSignals      = "signals"
	fieldResults      = "results"
	fieldSuccess      = "success"
	fieldErrorMessage = "error_message"
	fieldToken        = "token"
	fieldPath         = "path"
	fieldState        = "state"
	fieldValue        = "value"
	fieldTimestamp    = "timestamp"
)

type fields map[string]*structpb.Value

func fieldsOf(s *structpb.Struct) fields { return fields(s.GetFields()) }

func absent(v *structpb.Value) bool {
	if v == nil {
		return true
	}
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return null
}

func (f fields) str(key string) (string, error) {
	v := f[key]
	if absent(v) {
		return "", nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("field %q: want string", key)
	}
	return sv.StringValue, nil
}

func (f fields) boolean(key string) (bool, error) {
	v := f[key]
	if absent(v) {
		return false, nil
	}
	bv, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, fmt.Errorf("field %q: want bool", key)
	}
	return bv.BoolValue, nil
}

func (f fields) list(key string) ([]*structpb.Value, error) {
	v := f[key]
	if absent(v) {
		return nil, nil
	}
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, fmt.Errorf("field %q: want list", key)
	}
	return lv.ListValue.GetValues(), nil
}

func (f fields) object(key string) (fields, bool, error) {
	v := f[key]
	if absent(v) {
		return nil, false, nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, false, fmt.Errorf("field %q: want object", key)
	}
	return fieldsOf(sv.StructValue), true, nil
}

func list(vals []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func object(f fields) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: f})
}

func encodePaths(ps []shadow.Path) *structpb.Value {
	vals := make([]*structpb.Value, 0, len(ps))
	for _, p := range ps {
		vals = append(vals, structpb.NewStringValue(string(p)))
	}
	return list(vals)
}

func decodePaths(f fields) ([]shadow.Path, error) {
	vals, err := f.list(fieldPaths)
	if err != nil {
		return nil, err
	}
	out := make([]shadow.Path, 0, len(vals))
	for i, v := range vals {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: want string", fieldPaths, i)
		}
		out = append(out, shadow.Path(sv.StringValue))
	}
	return out, nil
}

func encodeState(st *shadow.State) *structpb.Value {
	f := fields{}
	if st.Value != nil {
		f[fieldValue] = st.Value
	}
	if !st.Timestamp.IsZero() {
		f[fieldTimestamp] = structpb.NewStringValue(st.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	return object(f)
}

func decodeState(f fields) (*shadow.State, error) {
	st := &shadow.State{}
	if v, ok := f[fieldValue]; ok {
		st.Value = v
	}
	ts, err := f.str(fieldTimestamp)
	if err != nil {
		return nil, err
	}
	if ts != "" {
		st.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fieldTimestamp, err)
		}
	}
	return st, nil
}

// encodeSignal is shared by Signal and SetSignalRequest, which have the same shape.
func encodeSignal(path shadow.Path, st *shadow.State) *structpb.Value {
	f := fields{fieldPath: structpb.NewStringValue(string(path))}
	if st != nil {
		f[fieldState] = encodeState(st)
	}
	return object(f)
}

func decodeSignal(v *structpb.Value) (shadow.Path, *shadow.State, error) {
	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return "", nil, fmt.Errorf("signal: want object")
	}
	f := fieldsOf(sv.StructValue)
	path, err := f.str(fieldPath)
	if err != nil {
		return "", nil, err
	}
	sf, ok, err := f.object(fieldState)
	if err != nil || !ok {
		return shadow.Path(path), nil, err
	}
	st, err := decodeState(sf)
	if err != nil {
		return "", nil, err
	}
	return shadow.Path(path), st, nil
}

func encodeSignals(sigs []*shadow.Signal) *structpb.Value {
	vals := make([]*structpb.Value, 0, len(sigs))
	for _, s := range sigs {
		if s == nil {
			continue
		}
		vals = append(vals, encodeSignal(s.Path, s.State))
	}
	return list(vals)
}

func decodeSignals(f fields) ([]*shadow.Signal, error) {
	vals, err := f.list(fieldSignals)
	if err != nil {
		return nil, err
	}
	out := make([]*shadow.Signal, 0, len(vals))
	for i, v := range vals {
		p, st, err := decodeSignal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q[%d]: %w", fieldSignals, i, err)
		}
		out = append(out, &shadow.Signal{Path: p, State: st})
	}
	return out, nil
}

func EncodeGetRequest(m *shadow.GetRequest) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldPaths: encodePaths(m.Paths)}}
}

func DecodeGetRequest(s *structpb.Struct) (*shadow.GetRequest, error) {
	paths, err := decodePaths(fieldsOf(s))
	if err != nil {
		return nil, err
	}
	return &shadow.GetRequest{Paths: paths}, nil
}

func EncodeGetResponse(m *shadow.GetResponse) *structpb.Struct {
	return &structpb.Struct{Fields: fields{
		fieldSignals:      encodeSignals(m.Signals),
		fieldSuccess:      structpb.NewBoolValue(m.Success),
		fieldErrorMessage: structpb.NewStringValue(m.ErrorMessage),
	}}
}

func DecodeGetResponse(s *structpb.Struct) (*shadow.GetResponse, error) {
	f := fieldsOf(s)
	sigs, err := decodeSignals(f)
	if err != nil {
		return nil, err
	}
	ok, err := f.boolean(fieldSuccess)
	if err != nil {
		return nil, err
	}
	msg, err := f.str(fieldErrorMessage)
	if err != nil {
		return nil, err
	}
	return &shadow.GetResponse{Signals: sigs, Success: ok, ErrorMessage: msg}, nil
}

func EncodeSetRequest(m *shadow.SetRequest) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(m.Signals))
	for _, s := range m.Signals {
		if s == nil {
			continue
		}
		vals = append(vals, encodeSignal(s.Path, s.State))
	}
	return &structpb.Struct{Fields: fields{
		fieldSignals: list(vals),
		fieldToken:   structpb.NewStringValue(m.Token),
	}}
}

func DecodeSetRequest(s *structpb.Struct) (*shadow.SetRequest, error) {
	f := fieldsOf(s)
	sigs, err := decodeSignals(f)
	if err != nil {
		return nil, err
	}
	token, err := f.str(fieldToken)
	if err != nil {
		return nil, err
	}
	out := &shadow.SetRequest{Signals: make([]*shadow.SetSignalRequest, 0, len(sigs)), Token: token}
	for _, sig := range sigs {
		out.Signals = append(out.Signals, &shadow.SetSignalRequest{Path: sig.Path, State: sig.State})
	}
	return out, nil
}

func EncodeSetResponse(m *shadow.SetResponse) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(m.Results))
	for _, r := range m.Results {
		if r == nil {
			continue
		}
		vals = append(vals, object(fields{
			fieldPath:         structpb.NewStringValue(string(r.Path)),
			fieldSuccess:      structpb.NewBoolValue(r.Success),
			fieldErrorMessage: structpb.NewStringValue(r.ErrorMessage),
		}))
	}
	return &structpb.Struct{Fields: fields{
		fieldResults:      list(vals),
		fieldSuccess:      structpb.NewBoolValue(m.Success),
		fieldErrorMessage: structpb.NewStringValue(m.ErrorMessage),
	}}
}

func DecodeSetResponse(s *structpb.Struct) (*shadow.SetResponse, error) {
	f := fieldsOf(s)
	vals, err := f.list(fieldResults)
	if err != nil {
		return nil, err
	}
	out := &shadow.SetResponse{Results: make([]*shadow.SetResult, 0, len(vals))}
	for i, v := range vals {
		sv, ok := v.GetKind().(*structpb.Value_StructValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: want object", fieldResults, i)
		}
		rf := fieldsOf(sv.StructValue)
		r := &shadow.SetResult{}
		path, err := rf.str(fieldPath)
		if err != nil {
			return nil, err
		}
		r.Path = shadow.Path(path)
		if r.Success, err = rf.boolean(fieldSuccess); err != nil {
			return nil, err
		}
		if r.ErrorMessage, err = rf.str(fieldErrorMessage); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, r)
	}
	if out.Success, err = f.boolean(fieldSuccess); err != nil {
		return nil, err
	}
	if out.ErrorMessage, err = f.str(fieldErrorMessage); err != nil {
		return nil, err
	}
	return out, nil
}

func EncodeSubscribeRequest(m *shadow.SubscribeRequest) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldPaths: encodePaths(m.Paths)}}
}

func DecodeSubscribeRequest(s *structpb.Struct) (*shadow.SubscribeRequest, error) {
	paths, err := decodePaths(fieldsOf(s))
	if err != nil {
		return nil, err
	}
	return &shadow.SubscribeRequest{Paths: paths}, nil
}

func EncodeSubscribeResponse(m *shadow.SubscribeResponse) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldSignals: encodeSignals(m.Signals)}}
}

func DecodeSubscribeResponse(s *structpb.Struct) (*shadow.SubscribeResponse, error) {
	sigs, err := decodeSignals(fieldsOf(s))
	if err != nil {
		return nil, err
	}
	return &shadow.SubscribeResponse{Signals: sigs}, nil
}

func EncodeUnsubscribeRequest(m *shadow.UnsubscribeRequest) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldPaths: encodePaths(m.Paths)}}
}

func DecodeUnsubscribeRequest(s *structpb.Struct) (*shadow.UnsubscribeRequest, error) {
	paths, err := decodePaths(fieldsOf(s))
	if err != nil {
		return nil, err
	}
	return &shadow.UnsubscribeRequest{Paths: paths}, nil
}

func EncodeUnsubscribeResponse(m *shadow.UnsubscribeResponse) *structpb.Struct {
	return &structpb.Struct{Fields: fields{
		fieldSuccess:      structpb.NewBoolValue(m.Success),
		fieldErrorMessage: structpb.NewStringValue(m.ErrorMessage),
	}}
}

func DecodeUnsubscribeResponse(s *structpb.Struct) (*shadow.UnsubscribeResponse, error) {
	f := fieldsOf(s)
	ok, err := f.boolean(fieldSuccess)
	if err != nil {
		return nil, err
	}
	msg, err := f.str(fieldErrorMessage)
	if err != nil {
		return nil, err
	}
	return &shadow.UnsubscribeResponse{Success: ok, ErrorMessage: msg}, nil
}

func EncodeLockRequest(m *shadow.LockRequest) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldPaths: encodePaths(m.Paths)}}
}

func DecodeLockRequest(s *structpb.Struct) (*shadow.LockRequest, error) {
	paths, err := decodePaths(fieldsOf(s))
	if err != nil {
		return nil, err
	}
	return &shadow.LockRequest{Paths: paths}, nil
}

func EncodeLockResponse(m *shadow.LockResponse) *structpb.Struct {
	f := fields{fieldSuccess: structpb.NewBoolValue(m.Success)}
	// token is optional on the wire.
	if m.Token != "" {
		f[fieldToken] = structpb.NewStringValue(m.Token)
	}
	return &structpb.Struct{Fields: f}
}

func DecodeLockResponse(s *structpb.Struct) (*shadow.LockResponse, error) {
	f := fieldsOf(s)
	token, err := f.str(fieldToken)
	if err != nil {
		return nil, err
	}
	ok, err := f.boolean(fieldSuccess)
	if err != nil {
		return nil, err
	}
	return &shadow.LockResponse{Token: token, Success: ok}, nil
}

func EncodeUnlockRequest(m *shadow.UnlockRequest) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldToken: structpb.NewStringValue(m.Token)}}
}

func DecodeUnlockRequest(s *structpb.Struct) (*shadow.UnlockRequest, error) {
	token, err := fieldsOf(s).str(fieldToken)
	if err != nil {
		return nil, err
	}
	return &shadow.UnlockRequest{Token: token}, nil
}

func EncodeUnlockResponse(m *shadow.UnlockResponse) *structpb.Struct {
	return &structpb.Struct{Fields: fields{fieldSuccess: structpb.NewBoolValue(m.Success)}}
}

func DecodeUnlockResponse(s *structpb.Struct) (*shadow.UnlockResponse, error) {
	ok, err := fieldsOf(s).boolean(fieldSuccess)
	if err != nil {
		return nil, err
	}
	return &shadow.UnlockResponse{Success: ok}, nil
}
