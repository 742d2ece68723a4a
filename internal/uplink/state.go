// Package uplink implements the uplink state of an activated session: the
// MAC-command answers and requests that are piggybacked on the next uplink,
// the pending downlink acknowledgement and the ADR acknowledgement counter.
package uplink

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/lorawan"
)

// ErrAnswerCapacity is returned when a command does not fit in the FOpts
// field. The command is dropped.
var ErrAnswerCapacity = errors.New("uplink: mac-command answer capacity exceeded")

type entry struct {
	cmd    lorawan.MACCommand
	size   int
	sticky bool
}

// State holds the uplink state. It is not safe for concurrent use.
type State struct {
	answers    []entry
	requests   []entry
	ackPending bool
	adrACKCnt  int
}

// NewState returns an empty uplink state.
func NewState() *State {
	return &State{}
}

// Size returns the encoded size of all buffered commands.
func (s *State) Size() int {
	var n int
	for _, e := range s.answers {
		n += e.size
	}
	for _, e := range s.requests {
		n += e.size
	}
	return n
}

func (s *State) newEntry(cmd lorawan.MACCommand, replaced int) (entry, error) {
	size, err := cmd.Size()
	if err != nil {
		return entry{}, errors.Wrap(err, "mac-command size error")
	}

	if s.Size()-replaced+size > lorawan.MaxFOptsLen {
		uplinkAnswerDroppedCounter(cidName(cmd.CID)).Inc()
		log.WithFields(log.Fields{
			"cid":  cmd.CID,
			"size": size,
		}).Warning("uplink: mac-command dropped, fopts capacity exceeded")
		return entry{}, ErrAnswerCapacity
	}

	return entry{cmd: cmd, size: size}, nil
}

// AddAnswer adds an answer that is removed once an uplink has been sent.
func (s *State) AddAnswer(cmd lorawan.MACCommand) error {
	e, err := s.newEntry(cmd, 0)
	if err != nil {
		return err
	}
	s.answers = append(s.answers, e)
	return nil
}

// AddSticky adds an answer that is repeated in every uplink until a
// downlink has been received. An existing sticky answer with the same CID
// is replaced.
func (s *State) AddSticky(cmd lorawan.MACCommand) error {
	return s.replaceOrAdd(cmd, true)
}

// SetLinkADRAns sets n LinkADRAns with the same status, one for each
// LinkADRReq of a block. Pending LinkADRAns that have not been sent yet are
// replaced.
func (s *State) SetLinkADRAns(pl lorawan.LinkADRAnsPayload, n int) error {
	answers := s.answers[:0]
	for _, e := range s.answers {
		if e.cmd.CID == lorawan.LinkADRAns && !e.sticky {
			continue
		}
		answers = append(answers, e)
	}
	s.answers = answers

	for i := 0; i < n; i++ {
		ans := pl
		if err := s.AddAnswer(lorawan.MACCommand{
			CID:     lorawan.LinkADRAns,
			Payload: &ans,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *State) replaceOrAdd(cmd lorawan.MACCommand, sticky bool) error {
	for i := range s.answers {
		if s.answers[i].cmd.CID != cmd.CID || s.answers[i].sticky != sticky {
			continue
		}

		e, err := s.newEntry(cmd, s.answers[i].size)
		if err != nil {
			return err
		}
		e.sticky = sticky
		s.answers[i] = e
		return nil
	}

	e, err := s.newEntry(cmd, 0)
	if err != nil {
		return err
	}
	e.sticky = sticky
	s.answers = append(s.answers, e)
	return nil
}

// AddRequest adds a device initiated request (LinkCheckReq, DeviceTimeReq).
// A request that is already pending is not added twice.
func (s *State) AddRequest(cid lorawan.CID) error {
	for _, e := range s.requests {
		if e.cmd.CID == cid {
			return nil
		}
	}

	e, err := s.newEntry(lorawan.MACCommand{CID: cid}, 0)
	if err != nil {
		return err
	}
	s.requests = append(s.requests, e)
	return nil
}

// Commands returns the buffered commands in the order they were added,
// answers before requests.
func (s *State) Commands() []lorawan.MACCommand {
	var out []lorawan.MACCommand
	for _, e := range s.answers {
		out = append(out, e.cmd)
	}
	for _, e := range s.requests {
		out = append(out, e.cmd)
	}
	return out
}

// ConfirmSent must be called after an uplink carrying the Commands and the
// pending ACK has been sent. It removes everything but the sticky answers.
func (s *State) ConfirmSent() {
	var answers []entry
	for _, e := range s.answers {
		if e.sticky {
			answers = append(answers, e)
		}
	}
	s.answers = answers
	s.requests = nil
	s.ackPending = false
}

// DownlinkReceived must be called for every valid downlink of the session,
// before its MAC-commands are handled. It removes the sticky answers.
func (s *State) DownlinkReceived() {
	var answers []entry
	for _, e := range s.answers {
		if !e.sticky {
			answers = append(answers, e)
		}
	}
	s.answers = answers
}

// SetACKPending sets the ACK bit for the next uplink (confirmed downlink
// received).
func (s *State) SetACKPending() {
	s.ackPending = true
}

// ACKPending returns true when the next uplink must set the ACK bit.
func (s *State) ACKPending() bool {
	return s.ackPending
}

// IncrementADRACKCnt increments the ADR acknowledgement counter and returns
// the new value.
func (s *State) IncrementADRACKCnt() int {
	s.adrACKCnt++
	return s.adrACKCnt
}

// ResetADRACKCnt resets the ADR acknowledgement counter (any downlink
// received).
func (s *State) ResetADRACKCnt() {
	s.adrACKCnt = 0
}

// ADRACKCnt returns the ADR acknowledgement counter.
func (s *State) ADRACKCnt() int {
	return s.adrACKCnt
}

// ADRACKReq returns true when the ADRACKReq bit must be set.
func (s *State) ADRACKReq(limit int) bool {
	return s.adrACKCnt >= limit
}

func cidName(cid lorawan.CID) string {
	switch cid {
	case lorawan.LinkCheckReq:
		return "LinkCheck"
	case lorawan.LinkADRAns:
		return "LinkADRAns"
	case lorawan.DutyCycleAns:
		return "DutyCycleAns"
	case lorawan.RXParamSetupAns:
		return "RXParamSetupAns"
	case lorawan.DevStatusAns:
		return "DevStatusAns"
	case lorawan.NewChannelAns:
		return "NewChannelAns"
	case lorawan.RXTimingSetupAns:
		return "RXTimingSetupAns"
	case lorawan.TxParamSetupAns:
		return "TxParamSetupAns"
	case lorawan.DlChannelAns:
		return "DlChannelAns"
	case lorawan.DeviceTimeReq:
		return "DeviceTime"
	default:
		return "unknown"
	}
}
