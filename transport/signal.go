// Signal subsystem, spec §4.5: control-plane parcels carried on
// SignalChannel. The subtype travels in the low 16 bits of the parcel's
// sequence-number field; the payload is a big-endian int32 "info" field
// followed by an optional UTF-8 text tail.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import "encoding/binary"

type SignalType uint16

const (
	SigAlive SignalType = iota
	SigAliveRequest
	SigAliveConfirm
	SigTempo
	SigConfirm
	SigFail
	SigBreak
	SigPing
	SigEcho
	SigShutdown
	SigClosed
)

func (s SignalType) String() string {
	switch s {
	case SigAlive:
		return "ALIVE"
	case SigAliveRequest:
		return "ALIVE_REQUEST"
	case SigAliveConfirm:
		return "ALIVE_CONFIRM"
	case SigTempo:
		return "TEMPO"
	case SigConfirm:
		return "CONFIRM"
	case SigFail:
		return "FAIL"
	case SigBreak:
		return "BREAK"
	case SigPing:
		return "PING"
	case SigEcho:
		return "ECHO"
	case SigShutdown:
		return "SHUTDOWN"
	case SigClosed:
		return "CLOSED"
	default:
		return "UNKNOWN_SIGNAL"
	}
}

// signal is the decoded, in-memory form of a signal parcel.
type signal struct {
	Type     SignalType
	ObjectID uint64 // FAIL/BREAK/CONFIRM target; 0 otherwise
	Info     int32
	Text     string
}

// buildSignalParcel encodes sig as a SIGNAL-channel parcel ready for the
// send scheduler/pqueue. Priority follows spec §4.2: PING/ECHO run at
// TOP, BREAK at HIGH (so it never starves other signals), everything
// else at TOP as well since signals are meant to win against data.
func buildSignalParcel(sig signal) *parcel {
	prio := Top
	if sig.Type == SigBreak {
		prio = High
	}

	payload := make([]byte, 4, 4+len(sig.Text))
	binary.BigEndian.PutUint32(payload, uint32(sig.Info))
	if sig.Text != "" {
		payload = append(payload, []byte(sig.Text)...)
	}

	return &parcel{
		Channel:  SignalChannel,
		Priority: prio,
		ObjectID: sig.ObjectID,
		SeqNo:    uint32(sig.Type) & signalMask,
		Payload:  payload,
	}
}

func decodeSignal(p *parcel) (signal, error) {
	if len(p.Payload) < 4 {
		return signal{}, newProtoErr("signal parcel payload too short (%d bytes)", len(p.Payload))
	}
	sig := signal{
		Type:     SignalType(p.SeqNo & signalMask),
		ObjectID: p.ObjectID,
		Info:     int32(binary.BigEndian.Uint32(p.Payload)),
	}
	if len(p.Payload) > 4 {
		sig.Text = string(p.Payload[4:])
	}
	return sig, nil
}

//
// convenience constructors matching the table in spec §4.5
//

func sigAlive() signal { return signal{Type: SigAlive} }

func sigAliveRequest(periodMS int32) signal {
	return signal{Type: SigAliveRequest, Info: periodMS}
}

func sigAliveConfirm(periodMS int32) signal {
	return signal{Type: SigAliveConfirm, Info: periodMS}
}

func sigTempo(baud int32) signal { return signal{Type: SigTempo, Info: baud} }

func sigConfirm(objectID uint64) signal {
	return signal{Type: SigConfirm, ObjectID: objectID}
}

func sigFail(objectID uint64, info int32, text string) signal {
	return signal{Type: SigFail, ObjectID: objectID, Info: info, Text: text}
}

func sigBreak(objectID uint64, info int32, text string) signal {
	return signal{Type: SigBreak, ObjectID: objectID, Info: info, Text: text}
}

func sigPing(pingID int32) signal { return signal{Type: SigPing, Info: pingID} }
func sigEcho(pingID int32) signal { return signal{Type: SigEcho, Info: pingID} }

func sigShutdown(info int32, text string) signal {
	return signal{Type: SigShutdown, Info: info, Text: text}
}

func sigClosed(info int32, text string) signal {
	return signal{Type: SigClosed, Info: info, Text: text}
}
