/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package packet

// This file mirrors PacketCreator: one builder per wire shape in the
// protocol table, rather than building packets inline at every call
// site.

func NewInitialize(version string) Packet {
	p := New(Initialize)
	p.AddString(version)
	p.Finalize()
	return p
}

func NewJoin(name string) Packet {
	p := New(Join)
	p.AddString(name)
	p.Finalize()
	return p
}

func NewAvailable() Packet {
	p := New(Available)
	p.Finalize()
	return p
}

func NewInform(to, file, dir string, allowDirect bool) Packet {
	p := New(Inform)
	p.AddString(to)
	p.AddString(file)
	p.AddString(dir)
	p.AddBool(allowDirect)
	p.Finalize()
	return p
}

func NewInformResult(accept bool, id int32, port int32, addresses []string) Packet {
	p := New(InformResult)
	p.AddBool(accept)
	p.AddInt(id)
	p.AddInt(int32(len(addresses)))
	p.AddInt(port)
	for _, a := range addresses {
		p.AddString(a)
	}
	p.Finalize()
	return p
}

// NewSendRelay builds the sender->server->receiver SEND shape, whose
// addressee field is the target's server-registered name.
func NewSendRelay(to, file, dir string, chunk []byte, first bool) Packet {
	p := New(Send)
	p.AddString(to)
	p.AddString(file)
	p.AddString(dir)
	p.AddBytes(chunk)
	p.AddBool(first)
	p.Finalize()
	return p
}

// NewSendDirect builds the sender->receiver direct SEND shape, whose
// addressee field is the receiver's own server-assigned id.
func NewSendDirect(toID int32, file, dir string, chunk []byte, first bool) Packet {
	p := New(Send)
	p.AddInt(toID)
	p.AddString(file)
	p.AddString(dir)
	p.AddBytes(chunk)
	p.AddBool(first)
	p.Finalize()
	return p
}

func NewSendResult(id int32, ok bool) Packet {
	p := New(SendResult)
	p.AddInt(id)
	p.AddBool(ok)
	p.Finalize()
	return p
}

func NewClientDisconnect(id int32) Packet {
	p := New(ClientDisconnect)
	p.AddInt(id)
	p.Finalize()
	return p
}
