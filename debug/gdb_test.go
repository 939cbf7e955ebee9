package debug_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mcusim/debug"
	"github.com/sarchlab/mcusim/emu"
)

// gdbClient is the client half of a remote protocol connection.
type gdbClient struct {
	conn  net.Conn
	r     *bufio.Reader
	noAck bool
}

func newGDBClient(conn net.Conn) *gdbClient {
	Expect(conn.SetDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	return &gdbClient{conn: conn, r: bufio.NewReader(conn)}
}

func frame(pkt string) string {
	var sum byte
	for i := 0; i < len(pkt); i++ {
		sum += pkt[i]
	}
	return fmt.Sprintf("$%s#%02x", pkt, sum)
}

func (c *gdbClient) write(s string) {
	_, err := io.WriteString(c.conn, s)
	Expect(err).NotTo(HaveOccurred())
}

func (c *gdbClient) readByte() byte {
	b, err := c.r.ReadByte()
	Expect(err).NotTo(HaveOccurred())
	return b
}

// send writes a packet and waits for its acknowledgement.
func (c *gdbClient) send(pkt string) {
	c.write(frame(pkt))
	if !c.noAck {
		Expect(c.readByte()).To(Equal(byte('+')))
	}
}

// reply reads one packet and acknowledges it.
func (c *gdbClient) reply() string {
	Expect(c.readByte()).To(Equal(byte('$')))
	body, err := c.r.ReadString('#')
	Expect(err).NotTo(HaveOccurred())
	sum := make([]byte, 2)
	_, err = io.ReadFull(c.r, sum)
	Expect(err).NotTo(HaveOccurred())
	if !c.noAck {
		c.write("+")
	}
	body = body[:len(body)-1]
	Expect(frame(body)).To(HaveSuffix(string(sum)))
	return body
}

func (c *gdbClient) exchange(pkt string) string {
	c.send(pkt)
	return c.reply()
}

var _ = Describe("Stub", func() {
	var (
		sess   *debug.Session
		client *gdbClient
		served chan error
	)

	start := func(code ...uint16) {
		sess = newSession(code...)
		server, conn := net.Pipe()
		DeferCleanup(conn.Close)
		DeferCleanup(server.Close)
		client = newGDBClient(conn)

		served = make(chan error, 1)
		go func() {
			served <- debug.NewStub(sess, server).Serve(context.Background())
		}()
	}

	BeforeEach(func() {
		start(counting...)
	})

	It("should advertise its features", func() {
		Expect(client.exchange("qSupported:multiprocess+;swbreak+")).To(
			Equal("PacketSize=1000;QStartNoAckMode+;qXfer:features:read+"))
		Expect(client.exchange("qAttached")).To(Equal("1"))
		Expect(client.exchange("qC")).To(Equal("QC1"))
		Expect(client.exchange("qfThreadInfo")).To(Equal("m1"))
		Expect(client.exchange("qsThreadInfo")).To(Equal("l"))
		Expect(client.exchange("Hg0")).To(Equal("OK"))
		Expect(client.exchange("vMustReplyEmpty")).To(BeEmpty())
	})

	It("should report the halt reason", func() {
		Expect(client.exchange("?")).To(Equal("S05"))
	})

	It("should read all registers little-endian", func() {
		regs := client.exchange("g")
		Expect(regs).To(HaveLen(17 * 8))
		Expect(regs[13*8 : 14*8]).To(Equal("00500020"))
		Expect(regs[15*8 : 16*8]).To(Equal("08000008"))
	})

	It("should write all registers", func() {
		regs := []byte(client.exchange("g"))
		copy(regs[0:8], "2a000000")
		Expect(client.exchange("G" + string(regs))).To(Equal("OK"))
		Expect(client.exchange("p0")).To(Equal("2a000000"))

		Expect(client.exchange("G00")).To(Equal("E01"))
	})

	It("should read and write single registers", func() {
		Expect(client.exchange("pf")).To(Equal("08000008"))
		Expect(client.exchange("P3=78563412")).To(Equal("OK"))
		Expect(client.exchange("p3")).To(Equal("78563412"))
		Expect(client.exchange("p63")).To(Equal("E01"))
		Expect(client.exchange("P3")).To(Equal("E01"))
	})

	It("should read and write memory", func() {
		Expect(client.exchange("m8000000,4")).To(Equal("00500020"))
		Expect(client.exchange("M20000000,2:abcd")).To(Equal("OK"))
		Expect(client.exchange("m20000000,2")).To(Equal("abcd"))
	})

	It("should answer memory errors with E01", func() {
		Expect(client.exchange("m30000000,4")).To(Equal("E01"))
		Expect(client.exchange("M20000000,2:ab")).To(Equal("E01"))
		Expect(client.exchange("mzz")).To(Equal("E01"))
	})

	It("should step and continue to breakpoints", func() {
		Expect(client.exchange("s")).To(Equal("S05"))
		Expect(client.exchange("pf")).To(Equal("0a000008"))

		Expect(client.exchange("Z0,800000e,2")).To(Equal("OK"))
		Expect(client.exchange("c")).To(Equal("S05"))
		Expect(client.exchange("pf")).To(Equal("0e000008"))
		Expect(client.exchange("p2")).To(Equal("03000000"))

		Expect(client.exchange("z0,800000e,2")).To(Equal("OK"))
		Expect(sess.Breakpoints()).To(BeEmpty())
	})

	It("should resume at an explicit address", func() {
		Expect(client.exchange("s800000a")).To(Equal("S05"))
		Expect(client.exchange("p0")).To(Equal("00000000"))
		Expect(client.exchange("p1")).To(Equal("02000000"))
	})

	It("should not support watchpoints", func() {
		Expect(client.exchange("Z2,20000000,4")).To(BeEmpty())
	})

	It("should interrupt a running target on Ctrl-C", func() {
		client.send("c")
		client.write("\x03")
		Expect(client.reply()).To(Equal("S02"))
		Expect(client.exchange("?")).To(Equal("S05"))
	})

	It("should nak a corrupted packet and accept the retransmission", func() {
		client.write("$g#00")
		Expect(client.readByte()).To(Equal(byte('-')))
		Expect(client.exchange("?")).To(Equal("S05"))
	})

	It("should retransmit a reply the client rejects", func() {
		client.send("?")
		Expect(client.readByte()).To(Equal(byte('$')))
		_, err := client.r.ReadString('#')
		Expect(err).NotTo(HaveOccurred())
		_, err = io.ReadFull(client.r, make([]byte, 2))
		Expect(err).NotTo(HaveOccurred())
		client.write("-")

		Expect(client.reply()).To(Equal("S05"))
	})

	It("should stop acknowledging in no-ack mode", func() {
		Expect(client.exchange("QStartNoAckMode")).To(Equal("OK"))
		client.noAck = true
		Expect(client.exchange("pf")).To(Equal("08000008"))
		Expect(client.exchange("s")).To(Equal("S05"))
	})

	It("should serve the target description", func() {
		doc := client.exchange("qXfer:features:read:target.xml:0,fff")
		Expect(doc).To(HavePrefix("l<?xml"))
		Expect(doc).To(ContainSubstring("org.gnu.gdb.arm.m-profile"))
		Expect(doc).To(ContainSubstring(`<reg name="xpsr" bitsize="32" regnum="16"`))

		part := client.exchange("qXfer:features:read:target.xml:0,10")
		Expect(part).To(Equal("m" + doc[1:17]))
		Expect(client.exchange("qXfer:features:read:other.xml:0,10")).To(Equal("E01"))
	})

	It("should end the session on detach", func() {
		Expect(client.exchange("D")).To(Equal("OK"))
		Eventually(served).Should(Receive(BeNil()))
	})

	It("should end the session with ErrKilled on kill", func() {
		client.send("k")
		Eventually(served).Should(Receive(Equal(debug.ErrKilled)))
	})

	It("should end the session when the client hangs up", func() {
		Expect(client.conn.Close()).To(Succeed())
		Eventually(served).Should(Receive(BeNil()))
	})
})

var _ = Describe("TargetXML", func() {
	It("should describe the RV32 register file", func() {
		names := make([]string, 33)
		for i := range names {
			names[i] = fmt.Sprintf("x%d", i)
		}
		names[2] = "sp"
		names[32] = "pc"

		doc := debug.TargetXML(emu.ISARV32, names)
		Expect(doc).To(ContainSubstring("<architecture>riscv:rv32</architecture>"))
		Expect(doc).To(ContainSubstring(`<reg name="pc" bitsize="32" regnum="32" type="code_ptr"/>`))
		Expect(doc).To(ContainSubstring(`<reg name="sp" bitsize="32" regnum="2" type="data_ptr"/>`))
		Expect(strings.Count(doc, "<reg ")).To(Equal(33))
	})
})
