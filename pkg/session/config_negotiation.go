package session

import (
	"sync"

	"github.com/arzzra/imscore/pkg/config"
	"github.com/arzzra/imscore/pkg/errs"
)

// pendingConfigs holds candidate configurations proposed via AddConfig
// before one of them is committed via ConfirmConfig (spec §6), the
// multi-codec/answer-negotiation handshake a host runs before settling on
// the config OpenSession/ModifySession ultimately applies.
type pendingConfigs struct {
	mu   sync.Mutex
	next int
	set  map[int]config.SessionConfig
}

func newPendingConfigs() *pendingConfigs {
	return &pendingConfigs{set: make(map[int]config.SessionConfig)}
}

func (s *Session) pending() *pendingConfigs {
	s.mu.Lock()
	if s.pendingCfgs == nil {
		s.pendingCfgs = newPendingConfigs()
	}
	p := s.pendingCfgs
	s.mu.Unlock()
	return p
}

// AddConfig proposes a candidate configuration and returns a handle the
// host later passes to ConfirmConfig or DeleteConfig.
func (s *Session) AddConfig(raw map[string]interface{}) (int, error) {
	cfg, err := config.Decode(raw)
	if err != nil {
		return 0, err
	}
	p := s.pending()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	id := p.next
	p.set[id] = cfg
	return id, nil
}

// ConfirmConfig commits a previously proposed candidate as the session's
// active configuration, applying it the same way ModifySession does.
func (s *Session) ConfirmConfig(handle int) error {
	p := s.pending()
	p.mu.Lock()
	cfg, ok := p.set[handle]
	if ok {
		delete(p.set, handle)
	}
	p.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidParam, "session.ConfirmConfig", "unknown config handle")
	}

	eq := func(a, b any) bool {
		ca, _ := a.(config.SessionConfig)
		cb, _ := b.(config.SessionConfig)
		return ca.Equal(cb)
	}
	if s.txGraph != nil {
		if err := s.txGraph.Update(cfg, eq); err != nil {
			return err
		}
	}
	if s.rxGraph != nil {
		if err := s.rxGraph.Update(cfg, eq); err != nil {
			return err
		}
	}
	if s.rtcpGraph != nil {
		if err := s.rtcpGraph.Update(cfg, eq); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.emit(Event{Kind: EventSessionChanged})
	return nil
}

// DeleteConfig discards a previously proposed candidate without applying
// it.
func (s *Session) DeleteConfig(handle int) error {
	p := s.pending()
	p.mu.Lock()
	_, ok := p.set[handle]
	delete(p.set, handle)
	p.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidParam, "session.DeleteConfig", "unknown config handle")
	}
	return nil
}

// SendRtpHeaderExtension validates a one-byte-header RTP extension
// (RFC 8285) request: the session must be open and the payload must be
// 1..16 bytes. The extension is not attached to outgoing packets, and
// extensions received on Rx are not surfaced as
// EventRtpHeaderExtensionReceived.
func (s *Session) SendRtpHeaderExtension(id uint8, payload []byte) error {
	if s.txGraph == nil {
		return errs.New(errs.NotReady, "session.SendRtpHeaderExtension", "session not open")
	}
	// Only the call shape is checked; RtpEncoder is not handed the data.
	if len(payload) == 0 || len(payload) > 16 {
		return errs.New(errs.InvalidParam, "session.SendRtpHeaderExtension", "payload must be 1..16 bytes (one-byte header form)")
	}
	return nil
}
