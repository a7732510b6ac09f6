package j2534

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/LoveWonYoung/ptcomm/driver"
	"github.com/LoveWonYoung/ptcomm/passthru"
)

// Filter is the value record of an installed message filter.
type Filter struct {
	ID          uint32
	Kind        passthru.FilterType
	Mask        []byte
	Pattern     []byte
	FlowControl []byte
	Channel     Channel
}

func (f Filter) String() string {
	return fmt.Sprintf("%s filter %d mask [% X] pattern [% X] fc [% X]", f.Kind, f.ID, f.Mask, f.Pattern, f.FlowControl)
}

// FilterManager installs and tracks the filters of one channel.
type FilterManager struct {
	c       *ChannelSession
	filters map[uint32]Filter
}

// maxStdID is the largest 11 bit CAN identifier.
const maxStdID = 0x7FF

// StartECUFilter installs the FLOW_CONTROL filter an ISO15765 exchange with
// one ECU needs: frames matching responsePattern under mask are received and
// flow control frames go out on requestPattern.
func (fm *FilterManager) StartECUFilter(mask, responsePattern, requestPattern uint32) (Filter, error) {
	if fm.c.ch.Protocol != passthru.ISO15765 {
		return Filter{}, localError(OpStartMsgFilter, ProtocolMismatch, "ECU filter needs an ISO15765 channel, have %s", fm.c.ch.Protocol)
	}
	var txFlags uint32
	if responsePattern > maxStdID || requestPattern > maxStdID {
		txFlags |= passthru.TxCAN29BitID
	}
	return fm.start(passthru.FlowControlFilter, txFlags,
		driver.IntToBig(mask), driver.IntToBig(responsePattern), driver.IntToBig(requestPattern))
}

// StartMessageFilter installs a filter from raw mask, pattern and flow control
// bytes. For CAN family channels the bytes include the 4 byte identifier.
func (fm *FilterManager) StartMessageFilter(kind passthru.FilterType, mask, pattern, flowControl []byte) (Filter, error) {
	switch kind {
	case passthru.PassFilter, passthru.BlockFilter:
		if flowControl != nil {
			return Filter{}, localError(OpStartMsgFilter, InvalidArgument, "%s filter takes no flow control pattern", kind)
		}
	case passthru.FlowControlFilter:
		if len(flowControl) == 0 {
			return Filter{}, localError(OpStartMsgFilter, InvalidArgument, "FLOW_CONTROL filter needs a flow control pattern")
		}
		if fm.c.ch.Protocol != passthru.ISO15765 {
			return Filter{}, localError(OpStartMsgFilter, ProtocolMismatch, "FLOW_CONTROL filter on %s channel", fm.c.ch.Protocol)
		}
	default:
		return Filter{}, localError(OpStartMsgFilter, InvalidArgument, "filter type %s", kind)
	}
	if len(mask) == 0 || len(mask) != len(pattern) {
		return Filter{}, localError(OpStartMsgFilter, InvalidArgument, "mask (%d bytes) and pattern (%d bytes) must have the same non-zero length", len(mask), len(pattern))
	}

	var txFlags uint32
	if fm.c.ch.Protocol.IsCANFamily() && len(pattern) >= canIDSize && driver.BigToInt(pattern[:canIDSize]) > maxStdID {
		txFlags |= passthru.TxCAN29BitID
	}
	return fm.start(kind, txFlags, mask, pattern, flowControl)
}

func (fm *FilterManager) start(kind passthru.FilterType, txFlags uint32, mask, pattern, flowControl []byte) (Filter, error) {
	c := fm.c
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpStartMsgFilter); err != nil {
		return Filter{}, err
	}

	maskMsg, err := passthru.NewMsg(c.ch.Protocol, txFlags, mask)
	if err != nil {
		return Filter{}, &Error{Op: OpStartMsgFilter, Kind: InvalidArgument, Err: err}
	}
	patternMsg, err := passthru.NewMsg(c.ch.Protocol, txFlags, pattern)
	if err != nil {
		return Filter{}, &Error{Op: OpStartMsgFilter, Kind: InvalidArgument, Err: err}
	}
	var fcMsg *passthru.Msg
	if flowControl != nil {
		if fcMsg, err = passthru.NewMsg(c.ch.Protocol, txFlags, flowControl); err != nil {
			return Filter{}, &Error{Op: OpStartMsgFilter, Kind: InvalidArgument, Err: err}
		}
	}

	id, st := c.dev.native.StartMsgFilter(c.ch.ID, kind, maskMsg, patternMsg, fcMsg)
	if st != passthru.StatusNoError {
		return Filter{}, c.dev.fail(OpStartMsgFilter, st)
	}
	if _, live := fm.filters[id]; live {
		return Filter{}, localError(OpStartMsgFilter, InvalidHandle, "native library returned filter %d which is still installed", id)
	}
	f := Filter{
		ID:          id,
		Kind:        kind,
		Mask:        append([]byte{}, mask...),
		Pattern:     append([]byte{}, pattern...),
		FlowControl: append([]byte(nil), flowControl...),
		Channel:     c.ch,
	}
	fm.filters[id] = f
	c.log.Info("filter started", "filter", f.String())
	return f, nil
}

// StopFilter removes f from the channel.
func (fm *FilterManager) StopFilter(f Filter) error {
	c := fm.c
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpStopMsgFilter); err != nil {
		return err
	}
	if _, ok := fm.filters[f.ID]; !ok {
		return localError(OpStopMsgFilter, InvalidHandle, "filter %d not installed on channel %d", f.ID, c.ch.ID)
	}
	if st := c.dev.native.StopMsgFilter(c.ch.ID, f.ID); st != passthru.StatusNoError {
		return c.dev.fail(OpStopMsgFilter, st)
	}
	delete(fm.filters, f.ID)
	c.log.Info("filter stopped", "filter", f.ID)
	return nil
}

// ClearAll removes every filter of the channel with CLEAR_MSG_FILTERS.
func (fm *FilterManager) ClearAll() error {
	c := fm.c
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if err := c.checkOpen(OpIoctl); err != nil {
		return err
	}
	if err := c.ioctlLocked(passthru.ClearMsgFilters, nil, nil); err != nil {
		return err
	}
	fm.filters = make(map[uint32]Filter)
	return nil
}

func (fm *FilterManager) sorted() []Filter {
	out := make([]Filter, 0, len(fm.filters))
	for _, f := range fm.filters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Filters returns the installed filters ordered by id.
func (fm *FilterManager) Filters() []Filter {
	fm.c.dev.mu.Lock()
	defer fm.c.dev.mu.Unlock()
	return fm.sorted()
}

// HasFlowControl reports whether at least one FLOW_CONTROL filter is installed.
func (fm *FilterManager) HasFlowControl() bool {
	fm.c.dev.mu.Lock()
	defer fm.c.dev.mu.Unlock()
	for _, f := range fm.filters {
		if f.Kind == passthru.FlowControlFilter {
			return true
		}
	}
	return false
}

// Find returns the installed filter whose pattern equals pattern.
func (fm *FilterManager) Find(pattern []byte) (Filter, bool) {
	fm.c.dev.mu.Lock()
	defer fm.c.dev.mu.Unlock()
	for _, f := range fm.sorted() {
		if bytes.Equal(f.Pattern, pattern) {
			return f, true
		}
	}
	return Filter{}, false
}
