package message

import "testing"

func TestIsProtocolMessage(t *testing.T) {
	cases := []struct {
		env    *Envelope
		expect bool
	}{
		{NewProtocolMessage(InstallComponentTreeHook), true},
		{&Envelope{Type: "__REACT_DEVTOOLS_SOMETHING_ELSE__"}, true},
		{&Envelope{Type: MsgTypeRequest, Method: "__REACT_DEVTOOLS_x"}, false},
		{&Envelope{Type: "__VUE_DEVTOOLS_X__"}, false},
		{&Envelope{}, false},
		{nil, false},
	}

	for _, tc := range cases {
		if got := IsProtocolMessage(tc.env); got != tc.expect {
			t.Fatalf("IsProtocolMessage(%+v) = %v, expect %v", tc.env, got, tc.expect)
		}
	}
}

func TestEnvelopeKinds(t *testing.T) {
	req := &Envelope{ID: "c1", Type: MsgTypeRequest, Method: "ping"}
	if !req.IsRequest() || req.IsResponse() || req.IsEvent() {
		t.Fatalf("request misclassified: %+v", req)
	}

	resp := &Envelope{ID: "c1", Type: MsgTypeResponse, Result: "pong"}
	if !resp.IsResponse() || resp.IsRequest() {
		t.Fatalf("response misclassified: %+v", resp)
	}

	ev := &Envelope{Type: MsgTypeEvent, Method: "treeUpdated"}
	if !ev.IsEvent() || ev.IsRequest() {
		t.Fatalf("event misclassified: %+v", ev)
	}

	var none *Envelope
	if none.IsRequest() || none.IsResponse() || none.IsEvent() {
		t.Fatal("nil envelope must not match any kind")
	}
}

func TestResponseConstructors(t *testing.T) {
	ok := NewResponse("c1", "pong")
	if !ok.IsResponse() || ok.ID != "c1" || ok.Result != "pong" || ok.Error != nil {
		t.Fatalf("bad response: %+v", ok)
	}

	failed := NewErrorResponse("c2", ErrorNoSuchRemoteFunction, "no such function: nope")
	if !failed.IsResponse() || failed.Error == nil || failed.Error.Name != ErrorNoSuchRemoteFunction {
		t.Fatalf("bad error response: %+v", failed)
	}
}
