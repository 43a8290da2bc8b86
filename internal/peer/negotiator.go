package peer

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/callrelay/internal/client"
	"github.com/BioHazard786/callrelay/internal/config"
	"github.com/BioHazard786/callrelay/internal/signaling"
)

// Signaler sends signals through the relay. *client.Client satisfies it.
type Signaler interface {
	SendSignal(client.Signal) error
}

// Result reports the outcome of one negotiation. RTT is set on the offering
// side once the hello echo arrives.
type Result struct {
	UserID string
	Role   string
	RTT    time.Duration
	Err    error
}

// Negotiator runs one PeerConnection per remote user, keyed by user id.
type Negotiator struct {
	cfg      *config.ClientConfig
	signaler Signaler
	self     signaling.Member
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	results  chan Result
	closed   bool
}

type session struct {
	remote string
	pc     *pion.PeerConnection

	// Remote candidates wait for the remote description.
	remoteSet     bool
	remotePending []pion.ICECandidateInit
	// Local candidates wait until our offer or answer has been sent.
	localSent    bool
	localPending []pion.ICECandidateInit
}

func NewNegotiator(cfg *config.ClientConfig, signaler Signaler, self signaling.Member, logger *slog.Logger) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{
		cfg:      cfg,
		signaler: signaler,
		self:     self,
		logger:   logger.With("component", "negotiator"),
		sessions: make(map[string]*session),
		results:  make(chan Result, 16),
	}
}

// Results delivers negotiation outcomes. It is closed by Close.
func (n *Negotiator) Results() <-chan Result {
	return n.results
}

// Offer starts a negotiation with remote: it opens the hello data channel and
// sends a targeted offer.
func (n *Negotiator) Offer(remote string) error {
	n.Remove(remote)
	s, err := n.newSession(remote)
	if err != nil {
		return err
	}

	dc, err := s.pc.CreateDataChannel(helloLabel, nil)
	if err != nil {
		return client.NewError("create data channel", err)
	}
	n.watchHello(s, dc, true)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return client.NewError("create offer", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return client.NewError("set local description", err)
	}

	if err := n.signaler.SendSignal(client.Signal{
		Type:         signaling.TypeOffer,
		Offer:        offer,
		TargetUserID: remote,
		SenderID:     n.self.UserID,
		SenderRole:   n.self.UserRole,
	}); err != nil {
		return err
	}
	return n.flushLocal(s)
}

// HandleSignal applies an offer, answer or candidate from another member.
func (n *Negotiator) HandleSignal(msg *client.Message) error {
	if msg.SenderID == "" {
		return client.WrapError("handle signal", ErrUnknownSender, msg.Type)
	}
	if msg.SenderID == n.self.UserID {
		return nil
	}
	if msg.TargetUserID != "" && msg.TargetUserID != n.self.UserID {
		return nil
	}

	switch msg.Type {
	case signaling.TypeOffer:
		return n.answer(msg)
	case signaling.TypeAnswer:
		return n.applyAnswer(msg)
	case signaling.TypeCandidate:
		return n.addCandidate(msg)
	default:
		return client.WrapError("handle signal", ErrUnexpectedSignal, msg.Type)
	}
}

func (n *Negotiator) answer(msg *client.Message) error {
	var offer pion.SessionDescription
	if err := json.Unmarshal(msg.Offer, &offer); err != nil {
		return client.NewError("parse offer", err)
	}

	n.Remove(msg.SenderID)
	s, err := n.newSession(msg.SenderID)
	if err != nil {
		return err
	}
	s.pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() == helloLabel {
			n.watchHello(s, dc, false)
		}
	})

	if err := n.setRemote(s, offer); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return client.NewError("create answer", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return client.NewError("set local description", err)
	}

	if err := n.signaler.SendSignal(client.Signal{
		Type:         signaling.TypeAnswer,
		Answer:       answer,
		TargetUserID: msg.SenderID,
		SenderID:     n.self.UserID,
		SenderRole:   n.self.UserRole,
	}); err != nil {
		return err
	}
	return n.flushLocal(s)
}

func (n *Negotiator) applyAnswer(msg *client.Message) error {
	s := n.session(msg.SenderID)
	if s == nil {
		return client.WrapError("handle answer", ErrUnexpectedSignal, "no offer sent to "+msg.SenderID)
	}

	var answer pion.SessionDescription
	if err := json.Unmarshal(msg.Answer, &answer); err != nil {
		return client.NewError("parse answer", err)
	}
	return n.setRemote(s, answer)
}

func (n *Negotiator) addCandidate(msg *client.Message) error {
	if len(msg.Candidate) == 0 || string(msg.Candidate) == "null" {
		return nil
	}

	s := n.session(msg.SenderID)
	if s == nil {
		n.logger.Debug("candidate for unknown session", "user_id", msg.SenderID)
		return nil
	}

	var ice pion.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &ice); err != nil {
		return client.NewError("parse ICE candidate", err)
	}

	n.mu.Lock()
	if !s.remoteSet {
		s.remotePending = append(s.remotePending, ice)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := s.pc.AddICECandidate(ice); err != nil {
		return client.NewError("add ICE candidate", err)
	}
	return nil
}

func (n *Negotiator) setRemote(s *session, desc pion.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return client.NewError("set remote description", err)
	}

	n.mu.Lock()
	s.remoteSet = true
	pending := s.remotePending
	s.remotePending = nil
	n.mu.Unlock()

	for _, ice := range pending {
		if err := s.pc.AddICECandidate(ice); err != nil {
			return client.NewError("add ICE candidate", err)
		}
	}
	return nil
}

func (n *Negotiator) newSession(remote string) (*session, error) {
	pc, err := NewPeerConnection(n.cfg)
	if err != nil {
		return nil, err
	}
	s := &session{remote: remote, pc: pc}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		ice := c.ToJSON()

		n.mu.Lock()
		if !s.localSent {
			s.localPending = append(s.localPending, ice)
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()

		n.sendCandidate(s, ice)
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		n.logger.Debug("peer connection state", "user_id", remote, "state", state.String())
		if state == pion.PeerConnectionStateFailed {
			n.report(Result{UserID: remote, Err: client.WrapError("negotiate", ErrConnectionFailed, remote)})
		}
	})

	n.mu.Lock()
	n.sessions[remote] = s
	n.mu.Unlock()
	return s, nil
}

// flushLocal marks the description as sent and releases held candidates.
func (n *Negotiator) flushLocal(s *session) error {
	n.mu.Lock()
	s.localSent = true
	pending := s.localPending
	s.localPending = nil
	n.mu.Unlock()

	for _, ice := range pending {
		if err := n.sendCandidate(s, ice); err != nil {
			return err
		}
	}
	return nil
}

func (n *Negotiator) sendCandidate(s *session, ice pion.ICECandidateInit) error {
	err := n.signaler.SendSignal(client.Signal{
		Type:         signaling.TypeCandidate,
		Candidate:    ice,
		TargetUserID: s.remote,
		SenderID:     n.self.UserID,
		SenderRole:   n.self.UserRole,
	})
	if err != nil {
		n.logger.Debug("failed to send candidate", "user_id", s.remote, "error", err)
	}
	return err
}

func (n *Negotiator) watchHello(s *session, dc *pion.DataChannel, initiator bool) {
	dc.OnOpen(func() {
		if !initiator {
			return
		}
		data, err := EncodeHello(NewHello(n.self.UserID, n.self.UserRole))
		if err != nil {
			n.report(Result{UserID: s.remote, Err: client.NewError("encode hello", err)})
			return
		}
		if err := dc.Send(data); err != nil {
			n.report(Result{UserID: s.remote, Err: client.NewError("send hello", err)})
		}
	})

	dc.OnMessage(func(m pion.DataChannelMessage) {
		h, err := DecodeHello(m.Data)
		if err != nil {
			n.logger.Debug("undecodable hello", "user_id", s.remote, "error", err)
			return
		}

		if h.Echo {
			n.report(Result{UserID: s.remote, Role: h.Role, RTT: h.RTT(time.Now())})
			return
		}

		data, err := EncodeHello(h.Reply(n.self.UserID, n.self.UserRole))
		if err == nil {
			err = dc.Send(data)
		}
		if err != nil {
			n.report(Result{UserID: s.remote, Role: h.Role, Err: client.NewError("echo hello", err)})
			return
		}
		n.report(Result{UserID: s.remote, Role: h.Role})
	})
}

func (n *Negotiator) report(r Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.results <- r:
	default:
		n.logger.Warn("dropping negotiation result", "user_id", r.UserID)
	}
}

func (n *Negotiator) session(remote string) *session {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[remote]
}

// Remove closes the session with remote, if any.
func (n *Negotiator) Remove(remote string) {
	n.mu.Lock()
	s := n.sessions[remote]
	delete(n.sessions, remote)
	n.mu.Unlock()

	if s != nil {
		if err := s.pc.Close(); err != nil {
			n.logger.Debug("close peer connection", "user_id", remote, "error", err)
		}
	}
}

// Close tears down every session and closes Results.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	sessions := n.sessions
	n.sessions = make(map[string]*session)
	close(n.results)
	n.mu.Unlock()

	for _, s := range sessions {
		s.pc.Close()
	}
}
