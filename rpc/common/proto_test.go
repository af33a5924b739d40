package common

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dWatch/lib/db"
	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/cockroachdb/errors"
)

func TestMessageErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want store.RetCode
	}{
		{"nil", nil, store.RetCSuccess},
		{"store error", store.NewError(store.RetCEpochStale, "stale"), store.RetCEpochStale},
		{"wrapped store error", errors.Wrap(store.NewError(store.RetCNotLeader, "follower"), "put"), store.RetCNotLeader},
		{"plain error", errors.New("boom"), store.RetCInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewPutResponse(0, tt.err)
			err := msg.Error()
			if tt.err == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if got := store.CodeOf(err); got != tt.want {
				t.Errorf("code = %v, want %v", got, tt.want)
			}
			if msg.Err != tt.err.Error() {
				t.Errorf("message = %q, want %q", msg.Err, tt.err.Error())
			}
		})
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for _, mt := range []MessageType{MsgTSuccess, MsgTError, MsgTKVPut, MsgTKVGet, MsgTKVWatch, MsgTKVCancel} {
		data, err := json.Marshal(mt)
		if err != nil {
			t.Fatalf("marshal %v: %v", mt, err)
		}
		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != mt {
			t.Errorf("got %v, want %v", got, mt)
		}
	}

	var mt MessageType
	if err := json.Unmarshal([]byte(`"lock"`), &mt); err == nil {
		t.Error("expected an error for an unknown message type")
	}
}

func TestRecordsConversion(t *testing.T) {
	recs := []db.Record{
		{Key: []byte("a"), Value: []byte("1"), Version: 3},
		{Key: []byte("b"), Value: []byte("2"), Version: 4},
	}
	msg := NewGetResponse(recs, nil)
	got := msg.Records()
	if len(got) != len(recs) {
		t.Fatalf("got %d records, want %d", len(got), len(recs))
	}
	for i := range recs {
		if string(got[i].Key) != string(recs[i].Key) || got[i].Version != recs[i].Version {
			t.Errorf("record %d = %+v, want %+v", i, got[i], recs[i])
		}
	}
	if NewGetResponse(nil, nil).Records() != nil {
		t.Error("expected nil records for an empty response")
	}
}
