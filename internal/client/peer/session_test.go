package peer

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	offerErr, answerErr, remoteErr error
	rollbackErr                    error
	badCandidate                   string

	remoteDescs []webrtc.SessionDescription
	applied     []string
	calls       []string
	closed      int
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "offer")
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "answer")
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.calls = append(f.calls, "remote")
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remoteDescs = append(f.remoteDescs, d)
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.calls = append(f.calls, "candidate")
	if c.Candidate == f.badCandidate {
		return errors.New("bad candidate")
	}
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.calls = append(f.calls, "rollback")
	return f.rollbackErr
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []protocol.Message
	err  error
}

func (f *fakeSignaler) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func desc(t *testing.T, typ webrtc.SDPType, sdp string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(webrtc.SessionDescription{Type: typ, SDP: sdp})
	require.NoError(t, err)
	return b
}

func cand(t *testing.T, c string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(webrtc.ICECandidateInit{Candidate: c})
	require.NoError(t, err)
	return b
}

func TestCreateOffer_ThenAnswer(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("B", "r1", tr, sig)

	require.NoError(t, s.CreateOffer())
	assert.Equal(t, OfferSent, s.State())
	require.Len(t, sig.sent, 1)
	assert.Equal(t, protocol.TypeOffer, sig.sent[0].Type)
	assert.Equal(t, "B", sig.sent[0].Target)
	assert.Equal(t, "r1", sig.sent[0].RoomID)

	require.NoError(t, s.OnRemoteAnswer(desc(t, webrtc.SDPTypeAnswer, "remote-answer")))
	assert.Equal(t, Stable, s.State())
	assert.Equal(t, "remote-answer", tr.remoteDescs[0].SDP)

	// renegotiation from Stable
	require.NoError(t, s.CreateOffer())
	assert.Equal(t, OfferSent, s.State())
	assert.Len(t, sig.sent, 2)
}

func TestCreateOffer_QueuedWhileOutstanding(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("B", "r1", tr, sig)
	require.NoError(t, s.CreateOffer())

	// a track added mid-negotiation: nothing goes out yet
	require.NoError(t, s.CreateOffer())
	require.NoError(t, s.CreateOffer())
	assert.Len(t, sig.sent, 1)

	// the answer completes the first exchange and sends exactly one more offer
	require.NoError(t, s.OnRemoteAnswer(desc(t, webrtc.SDPTypeAnswer, "a1")))
	assert.Equal(t, OfferSent, s.State())
	require.Len(t, sig.sent, 2)
	assert.Equal(t, protocol.TypeOffer, sig.sent[1].Type)

	require.NoError(t, s.OnRemoteAnswer(desc(t, webrtc.SDPTypeAnswer, "a2")))
	assert.Equal(t, Stable, s.State())
	assert.Len(t, sig.sent, 2)
}

func TestOnRemoteOffer_Transitions(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	var seen []State
	s := NewSession("A", "r1", tr, sig, WithStateHook(func(_, to State) { seen = append(seen, to) }))

	require.NoError(t, s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "remote-offer")))
	assert.Equal(t, []State{OfferReceived, AnswerSent}, seen)
	require.Len(t, sig.sent, 1)
	assert.Equal(t, protocol.TypeAnswer, sig.sent[0].Type)
	assert.Equal(t, "A", sig.sent[0].Target)

	s.MarkConnected()
	assert.Equal(t, Stable, s.State())
}

func TestOnRemoteOffer_Glare(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("A", "r1", tr, sig)
	require.NoError(t, s.CreateOffer())

	err := s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "x"))
	assert.ErrorIs(t, err, ErrGlare)
	assert.Equal(t, OfferSent, s.State())
	assert.Len(t, sig.sent, 1)
}

func TestGlare_PoliteSideYields(t *testing.T) {
	trA, sigA := &fakeTransport{}, &fakeSignaler{}
	trB, sigB := &fakeTransport{}, &fakeSignaler{}
	a := NewSession("B", "r1", trA, sigA, WithPolite(true))
	b := NewSession("A", "r1", trB, sigB, WithPolite(false))

	// both ends start renegotiating at once
	require.NoError(t, a.CreateOffer())
	require.NoError(t, b.CreateOffer())

	assert.ErrorIs(t, b.OnRemoteOffer(sigA.sent[0].Description), ErrGlare)
	assert.Equal(t, OfferSent, b.State())

	require.NoError(t, a.OnRemoteOffer(sigB.sent[0].Description))
	assert.Equal(t, []string{"offer", "rollback", "remote", "answer", "offer"}, trA.calls)
	require.Len(t, sigA.sent, 3)
	assert.Equal(t, protocol.TypeAnswer, sigA.sent[1].Type)
	assert.Equal(t, protocol.TypeOffer, sigA.sent[2].Type)
	assert.Equal(t, OfferSent, a.State())

	// the impolite side finishes its offer, then answers the repeated one
	require.NoError(t, b.OnRemoteAnswer(sigA.sent[1].Description))
	assert.Equal(t, Stable, b.State())
	require.NoError(t, b.OnRemoteOffer(sigA.sent[2].Description))
	require.Len(t, sigB.sent, 2)
	assert.Equal(t, protocol.TypeAnswer, sigB.sent[1].Type)

	require.NoError(t, a.OnRemoteAnswer(sigB.sent[1].Description))
	assert.Equal(t, Stable, a.State())
	assert.Equal(t, AnswerSent, b.State())
	assert.Len(t, sigA.sent, 3)
}

func TestGlare_RollbackFailureKeepsOffer(t *testing.T) {
	tr, sig := &fakeTransport{rollbackErr: errors.New("no pending offer")}, &fakeSignaler{}
	s := NewSession("A", "r1", tr, sig, WithPolite(true))
	require.NoError(t, s.CreateOffer())

	var neg *NegotiationError
	require.ErrorAs(t, s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "x")), &neg)
	assert.Equal(t, "rollback offer", neg.Op)
	assert.Equal(t, OfferSent, s.State())
	assert.Len(t, sig.sent, 1)
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("A", "r1", tr, sig)

	err := s.OnRemoteAnswer(desc(t, webrtc.SDPTypeAnswer, "x"))
	assert.ErrorIs(t, err, ErrUnexpectedAnswer)
	assert.Equal(t, Idle, s.State())
	assert.Empty(t, tr.calls)
}

func TestNegotiationFailureKeepsPriorState(t *testing.T) {
	cases := []struct {
		name string
		tr   *fakeTransport
		run  func(*Session) error
		op   string
	}{
		{
			name: "offer generation",
			tr:   &fakeTransport{offerErr: errors.New("no local media")},
			run:  func(s *Session) error { return s.CreateOffer() },
			op:   "create offer",
		},
		{
			name: "remote description",
			tr:   &fakeTransport{remoteErr: errors.New("bad sdp")},
			run: func(s *Session) error {
				return s.OnRemoteOffer(json.RawMessage(`{"type":"offer","sdp":"garbage"}`))
			},
			op: "apply offer",
		},
		{
			name: "answer generation",
			tr:   &fakeTransport{answerErr: errors.New("boom")},
			run: func(s *Session) error {
				return s.OnRemoteOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
			},
			op: "create answer",
		},
		{
			name: "wrong description type",
			tr:   &fakeTransport{},
			run: func(s *Session) error {
				return s.OnRemoteOffer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
			},
			op: "apply offer",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := &fakeSignaler{}
			s := NewSession("X", "r1", tc.tr, sig)

			err := tc.run(s)
			var neg *NegotiationError
			require.ErrorAs(t, err, &neg)
			assert.Equal(t, tc.op, neg.Op)
			assert.Equal(t, "X", neg.Remote)
			assert.Equal(t, Idle, s.State())
			assert.Empty(t, sig.sent)
		})
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	var reports []error
	s := NewSession("X", "r1", tr, sig, WithReporter(func(err error) { reports = append(reports, err) }))

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.OnCandidate(cand(t, c)))
	}
	assert.Equal(t, 3, s.Pending())
	assert.Empty(t, tr.applied)

	require.NoError(t, s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "remote-offer")))
	assert.Equal(t, []string{"c1", "c2", "c3"}, tr.applied)
	assert.Equal(t, 0, s.Pending())
	assert.Empty(t, reports)
	// remote description lands before any buffered candidate is applied
	assert.Equal(t, []string{"remote", "candidate", "candidate", "candidate", "answer"}, tr.calls)

	require.NoError(t, s.OnCandidate(cand(t, "c4")))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, tr.applied)
}

func TestCandidatesFlushedOnAnswer(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("X", "r1", tr, sig)
	require.NoError(t, s.CreateOffer())

	require.NoError(t, s.OnCandidate(cand(t, "early")))
	assert.Empty(t, tr.applied)

	require.NoError(t, s.OnRemoteAnswer(desc(t, webrtc.SDPTypeAnswer, "a")))
	assert.Equal(t, []string{"early"}, tr.applied)
}

func TestCandidateFailureIsReported(t *testing.T) {
	tr := &fakeTransport{badCandidate: "bad"}
	var reports []error
	s := NewSession("X", "r1", tr, &fakeSignaler{}, WithReporter(func(err error) { reports = append(reports, err) }))

	require.NoError(t, s.OnCandidate(cand(t, "good1")))
	require.NoError(t, s.OnCandidate(cand(t, "bad")))
	require.NoError(t, s.OnCandidate(cand(t, "good2")))
	require.NoError(t, s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "o")))

	assert.Equal(t, []string{"good1", "good2"}, tr.applied)
	require.Len(t, reports, 1)
	var terr *TransportError
	assert.ErrorAs(t, reports[0], &terr)
	assert.Equal(t, AnswerSent, s.State())

	err := s.OnCandidate(json.RawMessage(`not json`))
	assert.ErrorAs(t, err, &terr)
	assert.Len(t, reports, 2)
}

func TestClose_Idempotent(t *testing.T) {
	tr, sig := &fakeTransport{}, &fakeSignaler{}
	s := NewSession("X", "r1", tr, sig)
	require.NoError(t, s.OnCandidate(cand(t, "c1")))

	s.Close()
	s.Close()
	assert.Equal(t, 1, tr.closed)
	assert.True(t, s.Closed())
	assert.Equal(t, 0, s.Pending())

	// stale traffic for a closed session is dropped
	assert.NoError(t, s.OnCandidate(cand(t, "late")))
	assert.ErrorIs(t, s.CreateOffer(), ErrClosed)
	assert.ErrorIs(t, s.OnRemoteOffer(desc(t, webrtc.SDPTypeOffer, "o")), ErrClosed)
	s.LocalCandidate(webrtc.ICECandidateInit{Candidate: "x"})
	assert.Empty(t, sig.sent)
}

func TestLocalCandidate(t *testing.T) {
	sig := &fakeSignaler{}
	s := NewSession("X", "r1", &fakeTransport{}, sig)
	s.LocalCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host"})

	require.Len(t, sig.sent, 1)
	m := sig.sent[0]
	assert.Equal(t, protocol.TypeCandidate, m.Type)
	assert.Equal(t, "X", m.Target)
	assert.Contains(t, string(m.Candidate), "typ host")
}

func TestSendFailureIsNegotiationError(t *testing.T) {
	sig := &fakeSignaler{err: errors.New("socket closed")}
	s := NewSession("X", "r1", &fakeTransport{}, sig)

	var neg *NegotiationError
	require.ErrorAs(t, s.CreateOffer(), &neg)
	assert.Equal(t, "send offer", neg.Op)
	assert.Equal(t, Idle, s.State())
}
