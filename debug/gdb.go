package debug

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/emu"
)

const (
	// maxPacketSize is advertised in qSupported and bounds m replies.
	maxPacketSize = 0x1000
	interruptByte = 0x03
	maxRetransmit = 3
)

// ErrKilled is returned by Stub.Serve when the client sent k.
var ErrKilled = errors.New("target killed by debugger")

type eventKind uint8

const (
	evPacket eventKind = iota
	evBadPacket
	evAck
	evNak
	evInterrupt
	evClosed
)

type event struct {
	kind eventKind
	data string
	err  error
}

// Stub speaks the GDB Remote Serial Protocol for one client.
type Stub struct {
	sess *Session
	conn io.ReadWriter

	events  chan event
	quit    chan struct{}
	pending []event
	noAck   bool
}

// NewStub creates a stub that serves sess over conn.
func NewStub(sess *Session, conn io.ReadWriter) *Stub {
	return &Stub{sess: sess, conn: conn, events: make(chan event, 16), quit: make(chan struct{})}
}

// Serve handles packets until the client detaches, kills the target,
// closes the connection or ctx is done. It returns nil on detach and
// end of stream, and ErrKilled on k.
func (st *Stub) Serve(ctx context.Context) error {
	defer close(st.quit)
	go st.readLoop()

	for {
		ev, err := st.next(ctx)
		if err != nil {
			return err
		}
		switch ev.kind {
		case evClosed:
			if ev.err == nil || ev.err == io.EOF {
				glog.Infof("gdb client disconnected")
				return nil
			}
			return errors.Trace(ev.err)
		case evBadPacket:
			glog.Warningf("gdb packet with bad checksum: %q", ev.data)
			if !st.noAck {
				if err := st.write("-"); err != nil {
					return err
				}
			}
			continue
		case evAck, evNak:
			continue
		case evInterrupt:
			// Nothing is running; report the current stop.
			if err := st.send(stopReply(StopEvent{Kind: StopInterrupt})); err != nil {
				return err
			}
			continue
		}

		if !st.noAck {
			if err := st.write("+"); err != nil {
				return err
			}
		}
		glog.V(2).Infof("gdb <- %s", ev.data)

		out, done, err := st.handle(ctx, ev.data)
		if err != nil {
			return err
		}
		if out != nil {
			if err := st.send(*out); err != nil {
				return err
			}
		}
		if ev.data == "QStartNoAckMode" {
			st.noAck = true
		}
		if done == io.EOF {
			return nil
		}
		if done != nil {
			return done
		}
	}
}

// next returns a queued event or waits for the reader.
func (st *Stub) next(ctx context.Context) (event, error) {
	if len(st.pending) > 0 {
		ev := st.pending[0]
		st.pending = st.pending[1:]
		return ev, nil
	}
	select {
	case ev, ok := <-st.events:
		if !ok {
			return event{kind: evClosed}, nil
		}
		return ev, nil
	case <-ctx.Done():
		return event{}, errors.Trace(ctx.Err())
	}
}

// readLoop turns the byte stream into events. It stops at the first read
// error or when Serve returns.
func (st *Stub) readLoop() {
	defer close(st.events)
	r := bufio.NewReader(st.conn)
	for {
		ev, err := readEvent(r)
		if err != nil {
			ev = event{kind: evClosed, err: err}
		}
		select {
		case st.events <- ev:
		case <-st.quit:
			return
		}
		if err != nil {
			return
		}
	}
}

// readEvent reads one ack, interrupt or packet, skipping noise.
func readEvent(r *bufio.Reader) (event, error) {
	for {
		c, err := r.ReadByte()
		if err != nil {
			return event{}, err
		}
		switch c {
		case '+':
			return event{kind: evAck}, nil
		case '-':
			return event{kind: evNak}, nil
		case interruptByte:
			return event{kind: evInterrupt}, nil
		case '$':
			body, err := r.ReadString('#')
			if err != nil {
				return event{}, err
			}
			body = body[:len(body)-1]
			var sum [2]byte
			if _, err := io.ReadFull(r, sum[:]); err != nil {
				return event{}, err
			}
			want, perr := strconv.ParseUint(string(sum[:]), 16, 8)
			if perr != nil || byte(want) != checksum(body) {
				return event{kind: evBadPacket, data: body}, nil
			}
			return event{kind: evPacket, data: unescape(body)}, nil
		default:
			glog.V(3).Infof("gdb: ignoring byte 0x%02x", c)
		}
	}
}

func checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

func escape(s string) string {
	if !strings.ContainsAny(s, "#$}*") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '#', '$', '}', '*':
			sb.WriteByte('}')
			sb.WriteByte(c ^ 0x20)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func unescape(s string) string {
	if !strings.Contains(s, "}") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '}' && i+1 < len(s) {
			i++
			sb.WriteByte(s[i] ^ 0x20)
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func (st *Stub) write(s string) error {
	_, err := io.WriteString(st.conn, s)
	return errors.Trace(err)
}

// send frames payload and, unless acknowledgements are off, waits for
// the client's ack, retransmitting on a nak.
func (st *Stub) send(payload string) error {
	body := escape(payload)
	frame := fmt.Sprintf("$%s#%02x", body, checksum(body))
	glog.V(2).Infof("gdb -> %s", payload)

	for attempt := 0; ; attempt++ {
		if err := st.write(frame); err != nil {
			return err
		}
		if st.noAck {
			return nil
		}
		acked, err := st.waitAck()
		if err != nil || acked {
			return err
		}
		if attempt+1 >= maxRetransmit {
			return errors.Errorf("gdb client rejected %q %d times", payload, maxRetransmit)
		}
		glog.V(1).Infof("gdb nak, retransmitting")
	}
}

// waitAck reads events until an ack or nak. Packets that arrive first
// count as an ack and are queued.
func (st *Stub) waitAck() (bool, error) {
	for ev := range st.events {
		switch ev.kind {
		case evAck:
			return true, nil
		case evNak:
			return false, nil
		case evClosed:
			st.pending = append(st.pending, ev)
			return false, errors.Trace(io.ErrUnexpectedEOF)
		default:
			st.pending = append(st.pending, ev)
			return true, nil
		}
	}
	return false, errors.Trace(io.ErrUnexpectedEOF)
}

func reply(s string) *string { return &s }

const errReply = "E01"

// handle answers one packet. done is non-nil when the session ends.
func (st *Stub) handle(ctx context.Context, pkt string) (r *string, done error, err error) {
	if pkt == "" {
		return reply(""), nil, nil
	}
	args := pkt[1:]
	switch pkt[0] {
	case '?':
		return reply(stopReply(StopEvent{Kind: StopStep})), nil, nil
	case 'g':
		return reply(encodeRegisters(st.sess.ReadRegisters())), nil, nil
	case 'G':
		regs, ok := decodeRegisters(args, st.sess.NumRegisters())
		if !ok || st.sess.WriteRegisters(regs) != nil {
			return reply(errReply), nil, nil
		}
		return reply("OK"), nil, nil
	case 'p':
		n, perr := strconv.ParseUint(args, 16, 16)
		if perr != nil {
			return reply(errReply), nil, nil
		}
		v, rerr := st.sess.ReadRegister(int(n))
		if rerr != nil {
			return reply(errReply), nil, nil
		}
		return reply(encodeRegisters([]uint32{v})), nil, nil
	case 'P':
		return reply(st.writeRegister(args)), nil, nil
	case 'm':
		return reply(st.readMemory(args)), nil, nil
	case 'M':
		return reply(st.writeMemory(args)), nil, nil
	case 'Z', 'z':
		return reply(st.breakpoint(pkt[0] == 'Z', args)), nil, nil
	case 's':
		if !st.resumeAt(args) {
			return reply(errReply), nil, nil
		}
		return reply(stopReply(st.sess.Step())), nil, nil
	case 'c':
		if !st.resumeAt(args) {
			return reply(errReply), nil, nil
		}
		ev, cerr := st.cont(ctx)
		if cerr != nil {
			return nil, nil, cerr
		}
		return reply(stopReply(ev)), nil, nil
	case 'H':
		return reply("OK"), nil, nil
	case 'k':
		glog.Infof("gdb: kill")
		return nil, ErrKilled, nil
	case 'D':
		glog.Infof("gdb: detach")
		return reply("OK"), io.EOF, nil
	case 'q', 'Q':
		return reply(st.query(pkt)), nil, nil
	}
	return reply(""), nil, nil
}

func (st *Stub) query(pkt string) string {
	switch {
	case strings.HasPrefix(pkt, "qSupported"):
		return fmt.Sprintf("PacketSize=%x;QStartNoAckMode+;qXfer:features:read+", maxPacketSize)
	case pkt == "QStartNoAckMode":
		return "OK"
	case pkt == "qAttached":
		return "1"
	case pkt == "qC":
		return "QC1"
	case pkt == "qfThreadInfo":
		return "m1"
	case pkt == "qsThreadInfo":
		return "l"
	case strings.HasPrefix(pkt, "qXfer:features:read:"):
		return st.readFeatures(strings.TrimPrefix(pkt, "qXfer:features:read:"))
	}
	return ""
}

// cont runs Continue while watching the connection for Ctrl-C.
func (st *Stub) cont(ctx context.Context) (StopEvent, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan StopEvent, 1)
	go func() { done <- st.sess.Continue(runCtx) }()

	for {
		select {
		case ev := <-done:
			return ev, nil
		case ev, ok := <-st.events:
			if !ok {
				cancel()
				<-done
				return StopEvent{}, errors.Trace(io.ErrUnexpectedEOF)
			}
			switch ev.kind {
			case evInterrupt:
				glog.V(1).Infof("gdb: interrupt")
				cancel()
			case evAck, evNak:
			default:
				st.pending = append(st.pending, ev)
				if ev.kind == evClosed {
					cancel()
				}
			}
		}
	}
}

func (st *Stub) resumeAt(args string) bool {
	if args == "" {
		return true
	}
	addr, err := strconv.ParseUint(args, 16, 32)
	if err != nil {
		return false
	}
	pcReg := st.sess.NumRegisters() - 1
	if st.sess.ISA() == emu.ISACortexM {
		pcReg = 15
	}
	return st.sess.WriteRegister(pcReg, uint32(addr)) == nil
}

func (st *Stub) writeRegister(args string) string {
	parts := strings.SplitN(args, "=", 2)
	if len(parts) != 2 {
		return errReply
	}
	n, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return errReply
	}
	regs, ok := decodeRegisters(parts[1], 1)
	if !ok {
		return errReply
	}
	if err := st.sess.WriteRegister(int(n), regs[0]); err != nil {
		return errReply
	}
	return "OK"
}

func parseAddrLen(s string) (uint32, int, bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	addr, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(addr), int(n), true
}

func (st *Stub) readMemory(args string) string {
	addr, n, ok := parseAddrLen(args)
	if !ok {
		return errReply
	}
	if n > maxPacketSize/2 {
		n = maxPacketSize / 2
	}
	data, err := st.sess.ReadMemory(addr, n)
	if err != nil {
		return errReply
	}
	return hex.EncodeToString(data)
}

func (st *Stub) writeMemory(args string) string {
	parts := strings.SplitN(args, ":", 2)
	if len(parts) != 2 {
		return errReply
	}
	addr, n, ok := parseAddrLen(parts[0])
	if !ok {
		return errReply
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) != n {
		return errReply
	}
	if err := st.sess.WriteMemory(addr, data); err != nil {
		return errReply
	}
	return "OK"
}

// breakpoint handles Z0/z0 and Z1/z1; watchpoints are not supported.
func (st *Stub) breakpoint(insert bool, args string) string {
	parts := strings.Split(args, ",")
	if len(parts) < 2 {
		return errReply
	}
	if parts[0] != "0" && parts[0] != "1" {
		return ""
	}
	addr, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return errReply
	}
	if insert {
		st.sess.AddBreakpoint(uint32(addr))
	} else {
		st.sess.RemoveBreakpoint(uint32(addr))
	}
	return "OK"
}

func (st *Stub) readFeatures(args string) string {
	parts := strings.SplitN(args, ":", 2)
	if len(parts) != 2 || parts[0] != "target.xml" {
		return errReply
	}
	off, n, ok := parseAddrLen(parts[1])
	if !ok {
		return errReply
	}
	doc := TargetXML(st.sess.ISA(), st.sess.RegisterNames())
	if int(off) >= len(doc) {
		return "l"
	}
	end := int(off) + n
	if end >= len(doc) {
		return "l" + doc[off:]
	}
	return "m" + doc[off:end]
}

// TargetXML describes the register file to GDB.
func TargetXML(isa emu.ISA, names []string) string {
	arch, feature := "arm", "org.gnu.gdb.arm.m-profile"
	if isa == emu.ISARV32 {
		arch, feature = "riscv:rv32", "org.gnu.gdb.riscv.cpu"
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?>` + "\n")
	sb.WriteString(`<!DOCTYPE target SYSTEM "gdb-target.dtd">` + "\n")
	sb.WriteString(`<target version="1.0">` + "\n")
	fmt.Fprintf(&sb, "<architecture>%s</architecture>\n", arch)
	fmt.Fprintf(&sb, "<feature name=%q>\n", feature)
	for i, name := range names {
		typ := "int"
		switch name {
		case "sp":
			typ = "data_ptr"
		case "pc":
			typ = "code_ptr"
		}
		fmt.Fprintf(&sb, "<reg name=%q bitsize=\"32\" regnum=\"%d\" type=%q/>\n", name, i, typ)
	}
	sb.WriteString("</feature>\n</target>\n")
	return sb.String()
}

func encodeRegisters(regs []uint32) string {
	buf := make([]byte, 4*len(regs))
	for i, v := range regs {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return hex.EncodeToString(buf)
}

func decodeRegisters(s string, n int) ([]uint32, bool) {
	buf, err := hex.DecodeString(s)
	if err != nil || len(buf) != 4*n {
		return nil, false
	}
	regs := make([]uint32, n)
	for i := range regs {
		regs[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	return regs, true
}

func stopReply(ev StopEvent) string {
	return fmt.Sprintf("S%02x", ev.Signal())
}
