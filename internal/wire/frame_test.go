package wire_test

import (
	"testing"

	"github.com/vaultline/ingestcore/internal/wire"
)

func TestDecodeConnected(t *testing.T) {
	f := wire.Decode("connected")
	if f.Kind != wire.KindConnected {
		t.Errorf("kind: got %v, want KindConnected", f.Kind)
	}
	if f.Payload != "" {
		t.Errorf("payload: got %q, want empty", f.Payload)
	}

	f = wire.Decode(`connected {"locale":"en"}`)
	if f.Kind != wire.KindConnected {
		t.Errorf("kind: got %v, want KindConnected", f.Kind)
	}
	if f.Payload != `{"locale":"en"}` {
		t.Errorf("payload: got %q, want raw json", f.Payload)
	}
}

func TestDecodeAddDeltaContinueError(t *testing.T) {
	cases := []struct {
		line     string
		wantKind wire.Kind
		wantID   uint64
		wantPay  string
	}{
		{`5 A {"items":[]}`, wire.KindAdd, 5, `{"items":[]}`},
		{`5 C`, wire.KindContinue, 5, ""},
		{`5 D {"id":"x"}`, wire.KindDelta, 5, `{"id":"x"}`},
		{`5 E {"code":"ERR"}`, wire.KindError, 5, `{"code":"ERR"}`},
		{`5 E plain text error`, wire.KindError, 5, "plain text error"},
	}
	for _, c := range cases {
		f := wire.Decode(c.line)
		if f.Kind != c.wantKind {
			t.Errorf("%q: kind: got %v, want %v", c.line, f.Kind, c.wantKind)
		}
		if f.SubID != c.wantID {
			t.Errorf("%q: sub id: got %d, want %d", c.line, f.SubID, c.wantID)
		}
		if f.Payload != c.wantPay {
			t.Errorf("%q: payload: got %q, want %q", c.line, f.Payload, c.wantPay)
		}
	}
}

func TestDecodeEcho(t *testing.T) {
	f := wire.Decode("echo 123")
	if f.Kind != wire.KindEcho {
		t.Errorf("kind: got %v, want KindEcho", f.Kind)
	}
}

func TestDecodeOutOfBand(t *testing.T) {
	cases := []string{
		"not-a-number A {}",
		"",
		"justoneword",
	}
	for _, line := range cases {
		f := wire.Decode(line)
		if f.Kind != wire.KindOutOfBand {
			t.Errorf("%q: kind: got %v, want KindOutOfBand", line, f.Kind)
		}
	}
}

func TestEncodeProducesWireFormat(t *testing.T) {
	if got := wire.EncodeConnect(31, `{"locale":"en"}`); got != `connect 31 {"locale":"en"}` {
		t.Errorf("EncodeConnect: got %q", got)
	}
	if got := wire.EncodeSub(7, `{"type":"timelineTransactions"}`); got != `sub 7 {"type":"timelineTransactions"}` {
		t.Errorf("EncodeSub: got %q", got)
	}
	if got := wire.EncodeUnsub(7, ""); got != "unsub 7" {
		t.Errorf("EncodeUnsub (no payload): got %q", got)
	}
	if got := wire.EncodeUnsub(7, `{"x":1}`); got != `unsub 7 {"x":1}` {
		t.Errorf("EncodeUnsub (with payload): got %q", got)
	}
}
